package protocol

import (
	"time"

	"github.com/BaSui01/agentmesh/types"
)

// Kind names a message variant.
type Kind string

const (
	KindDelegation      Kind = "delegation"
	KindTaskResult      Kind = "task_result"
	KindLegacyTask      Kind = "legacy_task"
	KindNaturalMessage  Kind = "natural_conversation"
	KindNaturalResponse Kind = "natural_conversation_response"
	KindPeerRequest     Kind = "peer_request"
	KindPeerReply       Kind = "peer_reply"
	KindChatRequest     Kind = "chat_request"
	KindUserEvent       Kind = "user_event"
	KindText            Kind = "text"
	KindUnknown         Kind = "unknown"
)

// Message is implemented by every bus variant.
type Message interface {
	Kind() Kind
	isMessage()
}

// Collaboration types carried in the collaboration_type field.
const (
	TypeNaturalConversation         = "natural_conversation"
	TypeNaturalConversationResponse = "natural_conversation_response"

	TypeRequest              = "request"
	TypeOffer                = "offer"
	TypeContextShare         = "context_share"
	TypeNegotiation          = "negotiation"
	TypeStatusQuery          = "status_query"
	TypeWorkflowCoordination = "workflow_coordination"

	TypeRequestResponse        = "request_response"
	TypeOfferResponse          = "offer_response"
	TypeCollaborationResult    = "collaboration_result"
	TypeNegotiationResponse    = "negotiation_response"
	TypeContextAcknowledgment  = "context_acknowledgment"
	TypeStatusResponse         = "status_response"
	TypeWorkflowAcknowledgment = "workflow_acknowledgment"
)

var peerRequestTypes = map[string]bool{
	TypeRequest:              true,
	TypeOffer:                true,
	TypeContextShare:         true,
	TypeNegotiation:          true,
	TypeStatusQuery:          true,
	TypeWorkflowCoordination: true,
}

var peerReplyTypes = map[string]bool{
	TypeRequestResponse:        true,
	TypeOfferResponse:          true,
	TypeCollaborationResult:    true,
	TypeNegotiationResponse:    true,
	TypeContextAcknowledgment:  true,
	TypeStatusResponse:         true,
	TypeWorkflowAcknowledgment: true,
}

// Context values used by natural conversations.
const (
	ContextUserMention       = "user_mention"
	ContextAgentMention      = "agent_mention"
	ContextAgentConversation = "agent_conversation"
	ContextCollaboration     = "collaboration"
	ContextCoordination      = "assistant_coordination"
	ContextLegacyTask        = "converted_legacy_task"
	ContextUnknownFormat     = "unknown_format"
)

// TaskPayload is one delegated subtask.
type TaskPayload struct {
	Task          string `json:"task"`
	AgentType     string `json:"agent_type,omitempty"`
	Priority      int    `json:"priority,omitempty"`
	Dependencies  []int  `json:"dependencies"`
	SubtaskIndex  int    `json:"subtask_index"`
	TotalSubtasks int    `json:"total_subtasks"`
	OriginalQuery string `json:"original_query,omitempty"`
}

// Delegation asks an agent to perform a subtask and reply to ReplyTo.
type Delegation struct {
	FromAgent string      `json:"from_agent"`
	Task      TaskPayload `json:"task"`
	ReplyTo   string      `json:"reply_to"`
	UserTopic string      `json:"user_topic,omitempty"`
	Timestamp float64     `json:"timestamp"`
}

// TaskResult answers a Delegation.
type TaskResult struct {
	FromAgent    string      `json:"from_agent"`
	TaskResult   string      `json:"task_result"`
	OriginalTask TaskPayload `json:"original_task"`
	UserTopic    string      `json:"user_topic,omitempty"`
}

// LegacyTask is the older {from_agent, task: "text"} request shape.
type LegacyTask struct {
	FromAgent string `json:"from_agent"`
	Task      string `json:"task"`
}

// NaturalMessage is a free-form message between agents, or from a user.
type NaturalMessage struct {
	CollaborationType string          `json:"collaboration_type"`
	FromAgent         string          `json:"from_agent"`
	Message           string          `json:"message,omitempty"`
	Messages          []types.Message `json:"messages,omitempty"`
	Context           string          `json:"context,omitempty"`
	Timestamp         float64         `json:"timestamp"`
	ReplyTo           string          `json:"reply_to,omitempty"`
	OriginalUserTopic string          `json:"original_user_topic,omitempty"`
}

// Text returns the message body, or the last user turn when only a
// conversation history was sent.
func (m *NaturalMessage) Text() string {
	if m.Message != "" {
		return m.Message
	}
	for i := len(m.Messages) - 1; i >= 0; i-- {
		if m.Messages[i].Role == types.RoleUser {
			return m.Messages[i].Content
		}
	}
	return ""
}

// NaturalResponse replies to a NaturalMessage.
type NaturalResponse struct {
	CollaborationType string  `json:"collaboration_type"`
	FromAgent         string  `json:"from_agent"`
	OriginalFrom      string  `json:"original_from,omitempty"`
	Response          string  `json:"response"`
	Context           string  `json:"context,omitempty"`
	Timestamp         float64 `json:"timestamp"`
	ReplyTo           string  `json:"reply_to,omitempty"`
	OriginalUserTopic string  `json:"original_user_topic,omitempty"`
}

// HasRouting reports whether the response carries enough routing data to be
// forwarded to a user session.
func (r *NaturalResponse) HasRouting() bool {
	return r.OriginalUserTopic != "" || r.ReplyTo != ""
}

// PeerRequest covers the structured agent-to-agent collaboration requests.
type PeerRequest struct {
	CollaborationType string         `json:"collaboration_type"`
	FromAgent         string         `json:"from_agent"`
	CollaborationID   string         `json:"collaboration_id,omitempty"`
	NegotiationID     string         `json:"negotiation_id,omitempty"`
	WorkflowID        string         `json:"workflow_id,omitempty"`
	Task              string         `json:"task,omitempty"`
	Offer             string         `json:"offer,omitempty"`
	Proposal          string         `json:"proposal,omitempty"`
	ContextType       string         `json:"context_type,omitempty"`
	ContextData       map[string]any `json:"context_data,omitempty"`
	Workflow          map[string]any `json:"workflow,omitempty"`
	Participants      []string       `json:"participants,omitempty"`
	Timestamp         float64        `json:"timestamp"`
}

// PeerReply covers the replies to PeerRequest.
type PeerReply struct {
	CollaborationType string         `json:"collaboration_type"`
	FromAgent         string         `json:"from_agent"`
	CollaborationID   string         `json:"collaboration_id,omitempty"`
	NegotiationID     string         `json:"negotiation_id,omitempty"`
	WorkflowID        string         `json:"workflow_id,omitempty"`
	OriginalFrom      string         `json:"original_from,omitempty"`
	QueryFrom         string         `json:"query_from,omitempty"`
	Response          string         `json:"response,omitempty"`
	Message           string         `json:"message,omitempty"`
	Reason            string         `json:"reason,omitempty"`
	Result            string         `json:"result,omitempty"`
	Status            string         `json:"status,omitempty"`
	ContextType       string         `json:"context_type,omitempty"`
	StatusInfo        map[string]any `json:"status_info,omitempty"`
	Timestamp         float64        `json:"timestamp"`
}

// ChatRequest carries a conversation history addressed to one agent.
type ChatRequest struct {
	Messages []types.Message `json:"messages"`
	ReplyTo  string          `json:"reply_to,omitempty"`
	Agent    string          `json:"agent,omitempty"`
}

// LastUserMessage returns the content of the final user turn.
func (c *ChatRequest) LastUserMessage() string {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == types.RoleUser {
			return c.Messages[i].Content
		}
	}
	return ""
}

// UserEvent is what agents publish to user_session topics.
type UserEvent struct {
	Sender    string  `json:"sender"`
	Content   string  `json:"content"`
	Timestamp float64 `json:"timestamp"`
}

// Text is a payload that was not a JSON object.
type Text struct {
	Body string
}

// Unknown is a JSON object that matches no known shape.
type Unknown struct {
	Raw map[string]any
}

func (*Delegation) Kind() Kind      { return KindDelegation }
func (*TaskResult) Kind() Kind      { return KindTaskResult }
func (*LegacyTask) Kind() Kind      { return KindLegacyTask }
func (*NaturalMessage) Kind() Kind  { return KindNaturalMessage }
func (*NaturalResponse) Kind() Kind { return KindNaturalResponse }
func (*PeerRequest) Kind() Kind     { return KindPeerRequest }
func (*PeerReply) Kind() Kind       { return KindPeerReply }
func (*ChatRequest) Kind() Kind     { return KindChatRequest }
func (*UserEvent) Kind() Kind       { return KindUserEvent }
func (*Text) Kind() Kind            { return KindText }
func (*Unknown) Kind() Kind         { return KindUnknown }

func (*Delegation) isMessage()      {}
func (*TaskResult) isMessage()      {}
func (*LegacyTask) isMessage()      {}
func (*NaturalMessage) isMessage()  {}
func (*NaturalResponse) isMessage() {}
func (*PeerRequest) isMessage()     {}
func (*PeerReply) isMessage()       {}
func (*ChatRequest) isMessage()     {}
func (*UserEvent) isMessage()       {}
func (*Text) isMessage()            {}
func (*Unknown) isMessage()         {}

// Now returns the current time as fractional unix seconds, the timestamp unit
// used on the wire.
func Now() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// ToTime converts a wire timestamp to time.Time.
func ToTime(ts float64) time.Time {
	sec := int64(ts)
	return time.Unix(sec, int64((ts-float64(sec))*1e9))
}

// FromTime converts t to a wire timestamp.
func FromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
