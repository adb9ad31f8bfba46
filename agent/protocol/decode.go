package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/BaSui01/agentmesh/types"
)

// Decode turns a raw bus payload into exactly one Message variant.
// It never fails: payloads that are not JSON objects become *Text, and JSON
// objects of no known shape become *Unknown.
func Decode(payload []byte) Message {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return decodeScalar(payload)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return &Text{Body: string(payload)}
	}

	if ct, ok := stringField(fields, "collaboration_type"); ok {
		return decodeCollaboration(ct, trimmed, fields)
	}

	switch {
	case has(fields, "from_agent") && has(fields, "task_result"):
		var m TaskResult
		if json.Unmarshal(trimmed, &m) == nil {
			normalizeTask(&m.OriginalTask)
			return &m
		}
	case has(fields, "from_agent") && isObject(fields["task"]):
		var m Delegation
		if json.Unmarshal(trimmed, &m) == nil {
			normalizeTask(&m.Task)
			return &m
		}
	case has(fields, "from_agent") && isString(fields["task"]):
		var m LegacyTask
		if json.Unmarshal(trimmed, &m) == nil {
			return &m
		}
	case isArray(fields["messages"]):
		return decodeChat(fields)
	case has(fields, "sender") && has(fields, "content"):
		return decodeUserEvent(fields)
	}

	return unknown(trimmed)
}

// DecodeString is Decode for string payloads.
func DecodeString(payload string) Message {
	return Decode([]byte(payload))
}

func decodeCollaboration(ct string, raw []byte, fields map[string]json.RawMessage) Message {
	switch {
	case ct == TypeNaturalConversation:
		var m NaturalMessage
		if json.Unmarshal(raw, &m) == nil {
			return &m
		}
	case ct == TypeNaturalConversationResponse:
		var m NaturalResponse
		if json.Unmarshal(raw, &m) == nil {
			if m.Response == "" {
				m.Response, _ = stringField(fields, "message")
			}
			return &m
		}
	case peerRequestTypes[ct]:
		var m PeerRequest
		if json.Unmarshal(raw, &m) == nil {
			return &m
		}
	case peerReplyTypes[ct]:
		var m PeerReply
		if json.Unmarshal(raw, &m) == nil {
			return &m
		}
	}
	return unknown(raw)
}

// decodeChat handles {messages: [...]} payloads. When the first message's
// content is itself a JSON object carrying a collaboration_type, that inner
// object is the real message.
func decodeChat(fields map[string]json.RawMessage) Message {
	var rawMsgs []struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(fields["messages"], &rawMsgs); err != nil {
		return &Unknown{Raw: rawMap(fields)}
	}

	chat := &ChatRequest{}
	chat.ReplyTo, _ = stringField(fields, "reply_to")
	chat.Agent, _ = stringField(fields, "agent")
	for _, rm := range rawMsgs {
		chat.Messages = append(chat.Messages, types.Message{
			Role:    types.Role(rm.Role),
			Content: contentString(rm.Content),
		})
	}

	if len(chat.Messages) > 0 {
		inner := strings.TrimSpace(chat.Messages[0].Content)
		if strings.HasPrefix(inner, "{") && strings.Contains(inner, "collaboration_type") {
			if m := Decode([]byte(inner)); m.Kind() != KindUnknown && m.Kind() != KindText {
				return m
			}
		}
	}
	return chat
}

func decodeUserEvent(fields map[string]json.RawMessage) Message {
	ev := &UserEvent{}
	ev.Sender, _ = stringField(fields, "sender")
	ev.Content = contentString(fields["content"])
	if ts, ok := fields["timestamp"]; ok {
		_ = json.Unmarshal(ts, &ev.Timestamp)
	}
	return ev
}

func decodeScalar(payload []byte) Message {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if json.Unmarshal(trimmed, &s) == nil {
			return &Text{Body: s}
		}
	}
	return &Text{Body: string(payload)}
}

func normalizeTask(t *TaskPayload) {
	if t.TotalSubtasks <= 0 {
		t.TotalSubtasks = 1
	}
	if t.Dependencies == nil {
		t.Dependencies = []int{}
	}
}

func unknown(raw []byte) Message {
	var m map[string]any
	_ = json.Unmarshal(raw, &m)
	return &Unknown{Raw: m}
}

func rawMap(fields map[string]json.RawMessage) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		var val any
		_ = json.Unmarshal(v, &val)
		out[k] = val
	}
	return out
}

func has(fields map[string]json.RawMessage, key string) bool {
	v, ok := fields[key]
	return ok && !bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

func stringField(fields map[string]json.RawMessage, key string) (string, bool) {
	v, ok := fields[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", false
	}
	return s, true
}

func contentString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return ""
	}
	return string(raw)
}

func firstByte(raw json.RawMessage) byte {
	t := bytes.TrimSpace(raw)
	if len(t) == 0 {
		return 0
	}
	return t[0]
}

func isObject(raw json.RawMessage) bool { return firstByte(raw) == '{' }
func isArray(raw json.RawMessage) bool  { return firstByte(raw) == '[' }
func isString(raw json.RawMessage) bool { return firstByte(raw) == '"' }

// String renders an Unknown payload for prompts and logs.
func (u *Unknown) String() string {
	if u == nil || u.Raw == nil {
		return "{}"
	}
	b, err := json.Marshal(u.Raw)
	if err != nil {
		return fmt.Sprintf("%v", u.Raw)
	}
	return string(b)
}
