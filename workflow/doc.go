/*
Package workflow 提供基于有向图的工作流编排与执行引擎。

# 概述

工作流由节点（NodeFunc）和边组成。调度器（Scheduler）从入口节点开始逐个
执行节点，将节点结果合并进共享的 State，再根据条件边或静态边决定下一个
节点，直到到达 End 或 State.IsCompleted 为真。

# 核心接口与类型

  - State / Message     : 运行状态，消息只追加，shared_context 按键覆盖
  - NodeResult / Delta  : 节点返回值 Unchanged / Replace / Merge
  - Graph               : 节点、静态边、条件边的注册与 Validate 拓扑校验
  - Scheduler           : Step / Run，支持 Checkpointer、指标、追踪与最大步数
  - SubGraph            : 将子图作为单个节点在同一 State 上运行
  - RunWithTimeout      : 带整体超时的运行，超时后写入单条错误并标记完成
  - RuleEngine / Rule   : 治理规则，GovernanceNode 将违规写入 State
  - Invoker / RoleNode  : 模型调用边界与角色节点
  - ContextWindow       : 按 token 预算裁剪传给 Invoker 的历史，可配合 Summarizer
  - RetryCounter        : Track 在节点内计数，Router 只读路由
  - Breaker / Breakers  : 按角色熔断 Invoker 调用
  - History             : 记录最近运行的步骤、耗时与结果
  - ToolNode            : 执行最新消息中的工具调用

# 错误语义

节点错误或 panic 写入 State.Errors 并结束运行，不向上抛出；检查点失败作为
错误返回并中止运行；路由标签缺失视为正常结束。
*/
package workflow
