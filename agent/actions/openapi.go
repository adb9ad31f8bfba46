package actions

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/BaSui01/agentmesh/types"
)

// Spec is the subset of an OpenAPI 3 document used to derive actions.
type Spec struct {
	OpenAPI    string              `json:"openapi,omitempty"`
	Swagger    string              `json:"swagger,omitempty"`
	Info       Info                `json:"info"`
	Paths      map[string]PathItem `json:"paths"`
	Components Components          `json:"components"`
}

// Info contains API metadata.
type Info struct {
	Title   string `json:"title"`
	Version string `json:"version"`
}

// Components holds reusable schemas referenced by $ref.
type Components struct {
	Schemas map[string]JSONSchema `json:"schemas,omitempty"`
}

// PathItem represents operations on a path.
type PathItem struct {
	Get    *Operation `json:"get,omitempty"`
	Post   *Operation `json:"post,omitempty"`
	Put    *Operation `json:"put,omitempty"`
	Delete *Operation `json:"delete,omitempty"`
	Patch  *Operation `json:"patch,omitempty"`
}

// Operation represents an API operation.
type Operation struct {
	OperationID string                 `json:"operationId,omitempty"`
	Summary     string                 `json:"summary,omitempty"`
	Description string                 `json:"description,omitempty"`
	RequestBody *RequestBody           `json:"requestBody,omitempty"`
	Responses   map[string]ResponseObj `json:"responses,omitempty"`
}

// RequestBody represents a request body.
type RequestBody struct {
	Content map[string]MediaType `json:"content,omitempty"`
}

// ResponseObj represents a response.
type ResponseObj struct {
	Content map[string]RawMediaType `json:"content,omitempty"`
}

// MediaType represents a media type with a decoded schema.
type MediaType struct {
	Schema *JSONSchema `json:"schema,omitempty"`
}

// RawMediaType keeps the schema as free-form JSON.
type RawMediaType struct {
	Schema map[string]any `json:"schema,omitempty"`
}

// JSONSchema represents the JSON Schema fields actions care about.
type JSONSchema struct {
	Ref         string                `json:"$ref,omitempty"`
	Type        string                `json:"type,omitempty"`
	Description string                `json:"description,omitempty"`
	Properties  map[string]JSONSchema `json:"properties,omitempty"`
	Required    []string              `json:"required,omitempty"`
	AnyOf       []JSONSchema          `json:"anyOf,omitempty"`
	Default     any                   `json:"default,omitempty"`
}

// skippedPaths are meta endpoints that never become actions.
var skippedPaths = map[string]bool{"/": true, "/health": true, "/tools": true}

// isSpec reports whether a decoded JSON object looks like an OpenAPI document.
func isSpec(raw map[string]json.RawMessage) bool {
	_, openapi := raw["openapi"]
	_, swagger := raw["swagger"]
	return openapi || swagger
}

// ParseActions turns every operation of spec into an Action. Paths are
// visited in sorted order so the result is stable.
func ParseActions(spec *Spec) []types.Action {
	paths := make([]string, 0, len(spec.Paths))
	for p := range spec.Paths {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	actions := make([]types.Action, 0, len(paths))
	for _, path := range paths {
		if skippedPaths[path] {
			continue
		}
		item := spec.Paths[path]
		for _, m := range []struct {
			method string
			op     *Operation
		}{
			{"GET", item.Get}, {"POST", item.Post}, {"PUT", item.Put},
			{"DELETE", item.Delete}, {"PATCH", item.Patch},
		} {
			if m.op == nil {
				continue
			}
			actions = append(actions, operationToAction(spec, path, m.method, m.op))
		}
	}
	return actions
}

func operationToAction(spec *Spec, path, method string, op *Operation) types.Action {
	name := op.Summary
	if name == "" {
		name = titleFromPath(path)
	}
	action := types.Action{
		ID:          op.OperationID,
		Name:        name,
		Description: op.Description,
		Endpoint:    path,
		Method:      method,
		Parameters:  []types.ActionParameter{},
		Enabled:     true,
	}

	if op.RequestBody != nil {
		if media, ok := op.RequestBody.Content["application/json"]; ok && media.Schema != nil {
			schema := spec.resolve(*media.Schema)
			required := make(map[string]bool, len(schema.Required))
			for _, r := range schema.Required {
				required[r] = true
			}
			names := make([]string, 0, len(schema.Properties))
			for n := range schema.Properties {
				names = append(names, n)
			}
			sort.Strings(names)
			for _, n := range names {
				prop := schema.Properties[n]
				action.Parameters = append(action.Parameters, types.ActionParameter{
					Name:        n,
					Type:        propertyType(prop),
					Description: prop.Description,
					Required:    required[n],
					Default:     prop.Default,
				})
			}
		}
	}

	if resp, found := op.Responses["200"]; found {
		if media, ok := resp.Content["application/json"]; ok {
			action.ResponseSchema = media.Schema
		}
	}
	return action
}

// resolve follows a local #/components/schemas/X reference.
func (s *Spec) resolve(schema JSONSchema) JSONSchema {
	if schema.Ref == "" {
		return schema
	}
	parts := strings.Split(schema.Ref, "/")
	if len(parts) < 4 || parts[0] != "#" {
		return schema
	}
	if resolved, ok := s.Components.Schemas[parts[len(parts)-1]]; ok {
		return resolved
	}
	return JSONSchema{}
}

// propertyType picks the first non-null anyOf type, else the declared type,
// defaulting to string.
func propertyType(p JSONSchema) string {
	if len(p.AnyOf) > 0 {
		for _, opt := range p.AnyOf {
			if opt.Type != "null" {
				if opt.Type == "" {
					return "string"
				}
				return opt.Type
			}
		}
		return "string"
	}
	if p.Type == "" {
		return "string"
	}
	return p.Type
}

// titleFromPath turns "/send-email" into "Send Email".
func titleFromPath(path string) string {
	s := strings.ReplaceAll(strings.ReplaceAll(path, "/", ""), "-", " ")
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}
