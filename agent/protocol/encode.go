package protocol

import (
	"encoding/json"
	"fmt"
)

// Encode renders a Message as a bus payload. Text is sent verbatim; every
// other variant is JSON with its collaboration_type filled in.
func Encode(m Message) ([]byte, error) {
	switch v := m.(type) {
	case *Text:
		return []byte(v.Body), nil
	case *Unknown:
		return json.Marshal(v.Raw)
	case *NaturalMessage:
		v.CollaborationType = TypeNaturalConversation
		if v.Timestamp == 0 {
			v.Timestamp = Now()
		}
	case *NaturalResponse:
		v.CollaborationType = TypeNaturalConversationResponse
		if v.Timestamp == 0 {
			v.Timestamp = Now()
		}
	case *PeerRequest:
		if !peerRequestTypes[v.CollaborationType] {
			return nil, fmt.Errorf("protocol: unknown peer request type %q", v.CollaborationType)
		}
		if v.Timestamp == 0 {
			v.Timestamp = Now()
		}
	case *PeerReply:
		if !peerReplyTypes[v.CollaborationType] {
			return nil, fmt.Errorf("protocol: unknown peer reply type %q", v.CollaborationType)
		}
		if v.Timestamp == 0 {
			v.Timestamp = Now()
		}
	case *Delegation:
		if v.Timestamp == 0 {
			v.Timestamp = Now()
		}
	case *UserEvent:
		if v.Timestamp == 0 {
			v.Timestamp = Now()
		}
	case nil:
		return nil, fmt.Errorf("protocol: nil message")
	}
	return json.Marshal(m)
}
