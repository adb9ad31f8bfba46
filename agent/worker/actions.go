package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/agent/protocol"
	"github.com/BaSui01/agentmesh/llm"
	"github.com/BaSui01/agentmesh/types"
)

const noAction = "NONE"

// selectAction asks the completion service whether one of actions fits the
// request. The reply must be an action id or NONE.
func (w *Worker) selectAction(ctx context.Context, request string, actions []types.Action) (types.Action, bool) {
	var b strings.Builder
	b.WriteString("Decide whether one of these actions should be executed to answer the user's request.\n\nActions:\n")
	for _, a := range actions {
		fmt.Fprintf(&b, "- %s: %s - %s\n", a.ID, a.Name, a.Description)
	}
	fmt.Fprintf(&b, "\nUser request: %s\n\nRespond with only the action ID, or %s if no action applies.", request, noAction)

	out, ok := w.complete(ctx, []types.Message{types.NewUserMessage(b.String())},
		llm.WithTemperature(0.1), llm.WithMaxTokens(50))
	if !ok {
		return types.Action{}, false
	}
	choice := strings.Trim(strings.TrimSpace(out), "`\"'.")
	if choice == "" || strings.EqualFold(choice, noAction) {
		return types.Action{}, false
	}
	for _, a := range actions {
		if strings.EqualFold(a.ID, choice) {
			return a, true
		}
	}
	w.logger.Debug("completion chose an unknown action", zap.String("choice", choice))
	return types.Action{}, false
}

// extractParams fills the action's parameters from the request. Missing
// values take the declared default, else the empty string.
func (w *Worker) extractParams(ctx context.Context, request string, action types.Action) map[string]any {
	params := make(map[string]any, len(action.Parameters))
	if len(action.Parameters) == 0 {
		return params
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Extract the parameters for the action %q from the user's request.\n\nParameters:\n", action.Name)
	for _, p := range action.Parameters {
		req := "optional"
		if p.Required {
			req = "required"
		}
		fmt.Fprintf(&b, "- %s (%s, %s): %s\n", p.Name, p.Type, req, p.Description)
	}
	fmt.Fprintf(&b, "\nUser request: %s\n\nRespond with a JSON object only.", request)

	extracted := map[string]any{}
	if out, ok := w.complete(ctx, []types.Message{types.NewUserMessage(b.String())}, llm.WithTemperature(0.1)); ok {
		if raw := llm.ExtractJSON(out); raw != "" {
			if err := json.Unmarshal([]byte(raw), &extracted); err != nil {
				w.logger.Debug("parameter extraction returned invalid JSON", zap.Error(err))
			}
		}
	}
	for _, p := range action.Parameters {
		v, ok := extracted[p.Name]
		switch {
		case ok && v != nil:
			params[p.Name] = v
		case p.Default != nil:
			params[p.Name] = p.Default
		default:
			params[p.Name] = ""
		}
	}
	return params
}

// runAction executes action and renders the outcome as the reply text. A
// progress notice goes to replyTo first when it is a user session.
func (w *Worker) runAction(ctx context.Context, replyTo, request string, action types.Action) string {
	params := w.extractParams(ctx, request, action)
	if protocol.IsUserTopic(replyTo) {
		if err := w.rt.Messenger().SendText(ctx, replyTo, fmt.Sprintf("🔧 Executing: %s...", action.Name)); err != nil {
			w.logger.Debug("progress notice not delivered", zap.Error(err))
		}
	}

	w.logger.Info("executing action", zap.String("action", action.ID))
	res, err := w.rt.ExecuteAction(ctx, action.ID, params)
	if err == nil {
		if msg, failed := res["error"]; failed {
			err = fmt.Errorf("%v", msg)
		}
	}
	if err != nil {
		w.logger.Warn("action failed", zap.String("action", action.ID), zap.Error(err))
		return fmt.Sprintf("❌ Error executing %s: %v", action.Name, err)
	}
	return fmt.Sprintf("✅ %s completed:\n\n%s", action.Name, formatResult(res["result"]))
}

func formatResult(v any) string {
	switch r := v.(type) {
	case nil:
		return "(no output)"
	case string:
		return r
	default:
		data, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return fmt.Sprint(r)
		}
		return string(data)
	}
}
