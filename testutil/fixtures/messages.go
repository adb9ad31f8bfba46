package fixtures

import (
	"github.com/BaSui01/agentmesh/agent/protocol"
)

// Subtask 构造第 index 个子任务
func Subtask(task, query string, index, total int) protocol.TaskPayload {
	return protocol.TaskPayload{
		Task:          task,
		AgentType:     "general",
		Priority:      3,
		Dependencies:  []int{},
		SubtaskIndex:  index,
		TotalSubtasks: total,
		OriginalQuery: query,
	}
}

// Result 构造 agent 对子任务的回复
func Result(from, result string, task protocol.TaskPayload, userTopic string) *protocol.TaskResult {
	return &protocol.TaskResult{
		FromAgent:    from,
		TaskResult:   result,
		OriginalTask: task,
		UserTopic:    userTopic,
	}
}

// Delegation 构造委派消息
func Delegation(from string, task protocol.TaskPayload, userTopic string) *protocol.Delegation {
	return &protocol.Delegation{
		FromAgent: from,
		Task:      task,
		ReplyTo:   protocol.InboxTopic(from),
		UserTopic: userTopic,
		Timestamp: protocol.Now(),
	}
}

// Natural 构造自然对话消息
func Natural(from, text, context, replyTo string) *protocol.NaturalMessage {
	return &protocol.NaturalMessage{
		FromAgent: from,
		Message:   text,
		Context:   context,
		Timestamp: protocol.Now(),
		ReplyTo:   replyTo,
	}
}
