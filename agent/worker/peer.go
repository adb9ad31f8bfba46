package worker

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/agent/protocol"
	"github.com/BaSui01/agentmesh/llm"
	"github.com/BaSui01/agentmesh/types"
)

// Peer reply statuses.
const (
	StatusAccepted  = "accepted"
	StatusDeclined  = "declined"
	StatusCompleted = "completed"
	StatusJoined    = "joined"
	StatusActive    = "active"
)

func (w *Worker) handlePeerRequest(ctx context.Context, r *protocol.PeerRequest) {
	w.logger.Info("peer request",
		zap.String("type", r.CollaborationType),
		zap.String("from", r.FromAgent),
		zap.String("collaboration_id", r.CollaborationID))

	switch r.CollaborationType {
	case protocol.TypeRequest:
		w.answerRequest(ctx, r)
	case protocol.TypeOffer:
		w.answerOffer(ctx, r)
	case protocol.TypeContextShare:
		w.storeContext(ctx, r)
	case protocol.TypeNegotiation:
		w.answerNegotiation(ctx, r)
	case protocol.TypeStatusQuery:
		w.answerStatus(ctx, r)
	case protocol.TypeWorkflowCoordination:
		w.joinWorkflow(ctx, r)
	default:
		w.logger.Warn("unknown peer request", zap.String("type", r.CollaborationType))
	}
}

func (w *Worker) handlePeerReply(r *protocol.PeerReply) {
	w.logger.Info("peer reply",
		zap.String("type", r.CollaborationType),
		zap.String("from", r.FromAgent),
		zap.String("status", r.Status))

	if r.CollaborationType != protocol.TypeCollaborationResult {
		return
	}
	key := r.CollaborationID
	if key == "" {
		key = r.FromAgent
	}
	w.mu.Lock()
	w.results[key] = r.Result
	w.finished++
	w.mu.Unlock()
}

func (w *Worker) reply(ctx context.Context, to string, r *protocol.PeerReply) {
	r.FromAgent = w.Name()
	if err := w.rt.Messenger().SendToAgent(ctx, to, r); err != nil {
		w.logger.Warn("peer reply not delivered", zap.String("to", to), zap.String("type", r.CollaborationType), zap.Error(err))
	}
}

// decide asks the completion service for an ACCEPT or DECLINE verdict and
// returns the verdict with the rest of the reply as the reason.
func (w *Worker) decide(ctx context.Context, question string) (bool, string) {
	rb := w.rt.Runbook()
	prompt := fmt.Sprintf("You are %s, %s.\n\nCapabilities:\n%s\n\n%s\n\nRespond with ACCEPT or DECLINE followed by a brief reason.",
		w.Name(), rb.Role, rb.CapabilityText(), question)
	out, ok := w.complete(ctx, []types.Message{types.NewUserMessage(prompt)}, llm.WithTemperature(0.3))
	if !ok {
		return false, "Unable to evaluate the request right now"
	}
	out = strings.TrimSpace(out)
	upper := strings.ToUpper(out)
	accept := strings.HasPrefix(upper, "ACCEPT") || (strings.Contains(upper, "ACCEPT") && !strings.Contains(upper, "DECLINE"))
	reason := strings.TrimSpace(strings.TrimLeft(out[len(leadingVerdict(upper)):], " :-.,"))
	return accept, reason
}

func leadingVerdict(upper string) string {
	for _, v := range []string{"ACCEPT", "DECLINE"} {
		if strings.HasPrefix(upper, v) {
			return v
		}
	}
	return ""
}

func (w *Worker) answerRequest(ctx context.Context, r *protocol.PeerRequest) {
	accept, reason := w.decide(ctx, fmt.Sprintf("Agent %s requests your help with: %s", r.FromAgent, r.Task))
	if !accept {
		if reason == "" {
			reason = "Outside my current capabilities"
		}
		w.reply(ctx, r.FromAgent, &protocol.PeerReply{
			CollaborationType: protocol.TypeRequestResponse,
			CollaborationID:   r.CollaborationID,
			Status:            StatusDeclined,
			Reason:            reason,
		})
		return
	}

	w.reply(ctx, r.FromAgent, &protocol.PeerReply{
		CollaborationType: protocol.TypeRequestResponse,
		CollaborationID:   r.CollaborationID,
		Status:            StatusAccepted,
		Message:           "I'll help with: " + r.Task,
	})
	result := w.executeTask(ctx, r.Task)
	w.mu.Lock()
	w.finished++
	w.mu.Unlock()
	w.reply(ctx, r.FromAgent, &protocol.PeerReply{
		CollaborationType: protocol.TypeCollaborationResult,
		CollaborationID:   r.CollaborationID,
		Status:            StatusCompleted,
		Result:            result,
	})
}

func (w *Worker) answerOffer(ctx context.Context, r *protocol.PeerRequest) {
	accept, reason := w.decide(ctx, fmt.Sprintf("Agent %s offers to help with: %s", r.FromAgent, r.Offer))
	reply := &protocol.PeerReply{
		CollaborationType: protocol.TypeOfferResponse,
		CollaborationID:   r.CollaborationID,
	}
	if accept {
		reply.Status = StatusAccepted
		reply.Message = "I would appreciate your help"
	} else {
		reply.Status = StatusDeclined
		reply.Message = "Thank you, but I don't need help with that right now"
		reply.Reason = reason
	}
	w.reply(ctx, r.FromAgent, reply)
}

func (w *Worker) storeContext(ctx context.Context, r *protocol.PeerRequest) {
	id := r.CollaborationID
	if id == "" {
		id = "general"
	}
	key := r.FromAgent + "_" + id
	w.mu.Lock()
	w.contexts[key] = r.ContextData
	w.mu.Unlock()

	w.reply(ctx, r.FromAgent, &protocol.PeerReply{
		CollaborationType: protocol.TypeContextAcknowledgment,
		CollaborationID:   r.CollaborationID,
		ContextType:       r.ContextType,
		Message:           fmt.Sprintf("Received and stored %s context", r.ContextType),
	})
}

func (w *Worker) answerNegotiation(ctx context.Context, r *protocol.PeerRequest) {
	rb := w.rt.Runbook()
	prompt := fmt.Sprintf("You are %s, %s.\n\nAgent %s proposes: %s\n\nReply with your position on the proposal: agree, counter-propose, or decline, with a short justification.",
		w.Name(), rb.Role, r.FromAgent, r.Proposal)
	response, ok := w.complete(ctx, []types.Message{types.NewUserMessage(prompt)})
	if !ok || strings.TrimSpace(response) == "" {
		response = "Evaluating proposal..."
	}
	w.reply(ctx, r.FromAgent, &protocol.PeerReply{
		CollaborationType: protocol.TypeNegotiationResponse,
		NegotiationID:     r.NegotiationID,
		CollaborationID:   r.CollaborationID,
		Response:          strings.TrimSpace(response),
	})
}

func (w *Worker) answerStatus(ctx context.Context, r *protocol.PeerRequest) {
	w.mu.Lock()
	info := map[string]any{
		"agent_name":            w.Name(),
		"status":                StatusActive,
		"capabilities":          w.rt.Runbook().CapabilityNames(),
		"current_tasks":         w.active,
		"collaboration_history": w.finished,
	}
	w.mu.Unlock()

	w.reply(ctx, r.FromAgent, &protocol.PeerReply{
		CollaborationType: protocol.TypeStatusResponse,
		CollaborationID:   r.CollaborationID,
		QueryFrom:         r.FromAgent,
		StatusInfo:        info,
	})
}

func (w *Worker) joinWorkflow(ctx context.Context, r *protocol.PeerRequest) {
	id := r.WorkflowID
	if id == "" {
		id = r.CollaborationID
	}
	w.mu.Lock()
	w.workflows[id] = r.Workflow
	w.mu.Unlock()

	w.reply(ctx, r.FromAgent, &protocol.PeerReply{
		CollaborationType: protocol.TypeWorkflowAcknowledgment,
		WorkflowID:        r.WorkflowID,
		CollaborationID:   r.CollaborationID,
		Status:            StatusJoined,
		Message:           "Ready to participate in workflow as " + w.Name(),
	})
}

// SharedContext returns context data another agent shared for a
// collaboration ("general" when none was named).
func (w *Worker) SharedContext(from, collaborationID string) (map[string]any, bool) {
	if collaborationID == "" {
		collaborationID = "general"
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	v, ok := w.contexts[from+"_"+collaborationID]
	return v, ok
}

// Workflow returns a joined workflow definition.
func (w *Worker) Workflow(id string) (map[string]any, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	v, ok := w.workflows[id]
	return v, ok
}

// CollaborationResult returns a result a peer delivered.
func (w *Worker) CollaborationResult(key string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	v, ok := w.results[key]
	return v, ok
}
