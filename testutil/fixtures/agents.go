// =============================================================================
// 📦 测试数据工厂 - Agent 与 runbook
// =============================================================================
// 提供预置的 runbook、peer 与对话样例
// =============================================================================
package fixtures

import (
	"github.com/BaSui01/agentmesh/agent/discovery"
	"github.com/BaSui01/agentmesh/agent/runbook"
	"github.com/BaSui01/agentmesh/types"
)

// =============================================================================
// 📖 Runbook 样例
// =============================================================================

// WriterMarkdown 项目符号风格的 runbook
const WriterMarkdown = `# Writer Agent Runbook

## Job Title
Content Writer

## Role
Writes clear, engaging copy.

## Core Capabilities
- Copy Writing
  - Short and long form articles
- Editing
  - Tightens existing drafts

## Collaboration Patterns
- Asks the researcher for sources

## System Prompt Instructions
Keep answers under 300 words.
`

// ResearcherMarkdown 标题块风格的 runbook
const ResearcherMarkdown = `## Job Title
Research Analyst

## Role
Finds and summarises sources.

## Capabilities

### Web Research
- **Description**: Searches and summarises public sources
- **Tags**: research, sources
`

// WriterRunbook 解析后的 writer runbook
func WriterRunbook() *runbook.Runbook {
	return runbook.Parse("writer", WriterMarkdown)
}

// ResearcherRunbook 解析后的 researcher runbook
func ResearcherRunbook() *runbook.Runbook {
	return runbook.Parse("researcher", ResearcherMarkdown)
}

// =============================================================================
// 🤖 Peer 与注册记录
// =============================================================================

// Peer 构造一个 peer，caps 为能力名
func Peer(name string, running bool, caps ...string) discovery.Peer {
	p := discovery.Peer{Name: name, Role: types.DisplayName(name), JobTitle: types.DisplayName(name), Running: running}
	for _, c := range caps {
		p.Capabilities = append(p.Capabilities, types.Capability{Name: c, Description: c})
	}
	return p
}

// TwoWorkers researcher 与 writer 都在运行
func TwoWorkers() []discovery.Peer {
	return []discovery.Peer{
		Peer("researcher", true, "Web Research"),
		Peer("writer", true, "Copy Writing"),
	}
}

// AgentRecord 构造注册记录
func AgentRecord(name string, status types.AgentStatus) types.AgentInfo {
	return types.AgentInfo{
		ID:         "agent_" + name,
		Name:       name,
		Role:       types.DisplayName(name),
		InboxTopic: "agent:" + name + ":inbox",
		Status:     status,
	}
}

// =============================================================================
// 💬 对话样例
// =============================================================================

// SimpleConversation 一问一答
func SimpleConversation() []types.Message {
	return []types.Message{
		types.NewUserMessage("Hello"),
		types.NewAssistantMessage("Hi! How can I help?"),
	}
}

// LongConversation 生成 turns 轮对话
func LongConversation(turns int) []types.Message {
	out := make([]types.Message, 0, turns*2)
	for i := 0; i < turns; i++ {
		out = append(out,
			types.NewUserMessage("question "+string(rune('a'+i%26))),
			types.NewAssistantMessage("answer "+string(rune('a'+i%26))),
		)
	}
	return out
}
