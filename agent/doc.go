/*
Package agent 提供基于 actor 模型的多 Agent 运行时。

每个 Agent 拥有私有的无界邮箱，在独立 goroutine 中顺序处理消息；
Agent 之间只通过 Registry 按名称寻址并投递消息，不共享其他状态
（需要共享的数据放在 agent/sharedstate 中）。

# 消息关联

请求/响应通过 CorrelationID 关联：响应的 CorrelationID 等于请求的 ID。
Coordinator 转发请求时在 metadata 中记录 reply_to，收到响应后据此
把结果送回最初的发送方，CorrelationID 在整个链路上保持不变。

# 生命周期

Harness 在 errgroup 上启动全部 Agent，等待目标函数返回后取消所有
Agent 并等待其退出。邮箱中尚未处理的消息直接丢弃。
*/
package agent
