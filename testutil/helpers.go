// =============================================================================
// 🧪 测试辅助函数
// =============================================================================
// 总线投递、协作超时等都是异步的，这里集中放等待与断言工具
//
// 使用方法:
//
//	ctx := testutil.TestContext(t)
//	testutil.AssertEventuallyTrue(t, func() bool { return rec.Count() == 2 }, time.Second)
// =============================================================================
package testutil

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/BaSui01/agentmesh/types"
)

// DefaultWait 异步断言的默认等待时长
const DefaultWait = 2 * time.Second

// =============================================================================
// 🎯 上下文辅助
// =============================================================================

// TestContext 返回带超时的测试上下文，测试结束时自动取消
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// CancelledContext 返回已取消的上下文
func CancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// =============================================================================
// ⏱️ 异步等待
// =============================================================================

// WaitFor 轮询直到条件满足或超时
func WaitFor(condition func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if condition() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// AssertEventuallyTrue 断言条件在超时前变为真
func AssertEventuallyTrue(t *testing.T, condition func() bool, timeout time.Duration) {
	t.Helper()
	if !WaitFor(condition, timeout) {
		t.Errorf("condition did not become true within %v", timeout)
	}
}

// =============================================================================
// 🔍 断言辅助
// =============================================================================

// AssertMessagesEqual 按角色和内容比较两段对话
func AssertMessagesEqual(t *testing.T, expected, actual []types.Message) {
	t.Helper()
	if len(expected) != len(actual) {
		t.Errorf("message count mismatch: expected %d, got %d", len(expected), len(actual))
		return
	}
	for i := range expected {
		if expected[i].Role != actual[i].Role || expected[i].Content != actual[i].Content {
			t.Errorf("message[%d] mismatch: expected %s:%q, got %s:%q",
				i, expected[i].Role, expected[i].Content, actual[i].Role, actual[i].Content)
		}
	}
}

// AssertAnyContains 断言至少一条文本包含子串
func AssertAnyContains(t *testing.T, texts []string, substr string) {
	t.Helper()
	for _, s := range texts {
		if strings.Contains(s, substr) {
			return
		}
	}
	t.Errorf("no message contains %q; got %q", substr, texts)
}

// =============================================================================
// 🔧 测试数据辅助
// =============================================================================

// MustJSON 将值编码为 JSON 字符串，失败时 panic
func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}
