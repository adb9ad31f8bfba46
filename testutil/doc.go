/*
Package testutil 提供 agentmesh 测试共享的辅助工具。

# 核心能力

  - 上下文辅助: TestContext / CancelledContext
  - 异步等待: WaitFor / AssertEventuallyTrue，总线投递是异步的
  - 断言工具: AssertMessagesEqual / AssertAnyContains
  - 数据工具: MustJSON

# 子包

  - testutil/mocks: MockCompleter（可编排的补全服务）与 RecordingBus
    （记录每次发布的总线包装）
  - testutil/fixtures: runbook、peer 与协议消息样例

# 使用示例

	rec := mocks.NewRecordingBus(bus.NewMemoryBus(nil))
	llm := mocks.NewMockCompleter().WithResponses("draft", "final")
	coord := collaboration.NewCoordinator("assistant", cfg, bus.NewMessenger(rec, "assistant", nil), dir, llm, nil)
*/
package testutil
