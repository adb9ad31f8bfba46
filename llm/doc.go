// 版权所有 2024 AgentMesh Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 llm 提供 Agent 使用的补全服务接入层。

# 概述

补全服务被视为不透明的文本生成服务：[Completer.Complete] 返回文本，
或以 ok=false 表示后端不可达或响应异常。调用方必须在每个调用点
把 ok=false 当作可恢复失败处理（分解回退、合成跳过、单结果直通），
而不是向上传播错误。

# 核心接口

  - [Completer]：complete(messages, system?, temperature?) -> text | null
  - [ToolCompleter]：在 Completer 基础上支持函数调用，供 assistant 管理工具使用
  - [OpenAICompleter]：基于 openai-go 的实现，兼容任意 OpenAI 协议服务

# 辅助函数

  - [ExtractJSON]：从模型输出中剥离 Markdown 代码块并提取首个 JSON 片段
*/
package llm
