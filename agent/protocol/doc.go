// Package protocol defines the closed set of messages exchanged over the bus.
//
// Every payload is decoded exactly once at ingress by [Decode] into one of the
// variants below. Business logic switches over the concrete type; payloads that
// match no known shape become an explicit [Unknown] or [Text] variant instead of
// falling through an implicit else-branch.
//
// Optional fields that senders spell inconsistently (a natural-conversation
// reply carrying its text under "message" or "response") are normalised here so
// that handlers only ever see the canonical field.
package protocol
