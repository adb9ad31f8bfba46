// MockCompleter 补全服务的测试模拟实现。
//
// 支持固定响应、按顺序编排的响应、工具调用与故障注入。
package mocks

import (
	"context"
	"sync"

	"github.com/BaSui01/agentmesh/llm"
	"github.com/BaSui01/agentmesh/types"
)

// MockCompleter 是 llm.ToolCompleter 的模拟实现
type MockCompleter struct {
	mu sync.Mutex

	// 响应配置
	response  string
	script    []string
	toolCalls []types.ToolCall
	fail      bool
	failAfter int
	fn        func(messages []types.Message, opts llm.CallOptions) (string, bool)

	// 调用记录
	calls []MockCompleterCall
}

// MockCompleterCall 记录单次调用
type MockCompleterCall struct {
	Messages []types.Message
	Options  llm.CallOptions
	Tools    []types.ToolSchema
}

var (
	_ llm.Completer     = (*MockCompleter)(nil)
	_ llm.ToolCompleter = (*MockCompleter)(nil)
)

// --- 构造函数和 Builder 方法 ---

// NewMockCompleter 创建返回 "Mock response" 的模拟补全服务
func NewMockCompleter() *MockCompleter {
	return &MockCompleter{response: "Mock response"}
}

// WithResponse 设置固定响应
func (m *MockCompleter) WithResponse(response string) *MockCompleter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.response = response
	return m
}

// WithResponses 按调用顺序依次返回，用完后回落到固定响应
func (m *MockCompleter) WithResponses(responses ...string) *MockCompleter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, responses...)
	return m
}

// WithToolCalls 让 CompleteWithTools 返回工具调用
func (m *MockCompleter) WithToolCalls(calls ...types.ToolCall) *MockCompleter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toolCalls = calls
	return m
}

// WithFailure 模拟后端不可用
func (m *MockCompleter) WithFailure() *MockCompleter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = true
	return m
}

// WithFailAfter 在前 n 次调用成功后开始失败
func (m *MockCompleter) WithFailAfter(n int) *MockCompleter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAfter = n
	return m
}

// WithFunc 用自定义函数生成响应
func (m *MockCompleter) WithFunc(fn func(messages []types.Message, opts llm.CallOptions) (string, bool)) *MockCompleter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fn = fn
	return m
}

// --- llm.ToolCompleter 实现 ---

// Complete 实现 llm.Completer
func (m *MockCompleter) Complete(_ context.Context, messages []types.Message, opts ...llm.Option) (string, bool) {
	return m.next(messages, llm.ApplyOptions(opts...), nil)
}

// CompleteWithTools 实现 llm.ToolCompleter；工具调用只在第一次返回
func (m *MockCompleter) CompleteWithTools(_ context.Context, messages []types.Message, tools []types.ToolSchema, opts ...llm.Option) (*llm.Reply, bool) {
	content, ok := m.next(messages, llm.ApplyOptions(opts...), tools)
	if !ok {
		return nil, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	reply := &llm.Reply{Content: content, ToolCalls: m.toolCalls}
	m.toolCalls = nil
	return reply, true
}

func (m *MockCompleter) next(messages []types.Message, opts llm.CallOptions, tools []types.ToolSchema) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, MockCompleterCall{
		Messages: append([]types.Message(nil), messages...),
		Options:  opts,
		Tools:    tools,
	})

	if m.fail {
		return "", false
	}
	if m.failAfter > 0 && len(m.calls) > m.failAfter {
		return "", false
	}
	if m.fn != nil {
		return m.fn(messages, opts)
	}
	if len(m.script) > 0 {
		out := m.script[0]
		m.script = m.script[1:]
		return out, true
	}
	return m.response, true
}

// --- 调用记录 ---

// Calls 返回所有调用记录的副本
func (m *MockCompleter) Calls() []MockCompleterCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCompleterCall(nil), m.calls...)
}

// CallCount 返回调用次数
func (m *MockCompleter) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// LastCall 返回最后一次调用
func (m *MockCompleter) LastCall() (MockCompleterCall, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return MockCompleterCall{}, false
	}
	return m.calls[len(m.calls)-1], true
}
