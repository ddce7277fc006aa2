/*
Package types 提供 rheo 运行时的全局共享错误类型。

types 是最底层的公共包，不依赖任何内部包。workflow、checkpoint、agent、
tools 等上层模块通过 Error / ErrorCode 共享统一的错误契约。

# 错误码

  - TOPOLOGY_INVALID   - 图拓扑校验失败
  - NODE_FAILED        - 节点执行失败（写入 State.Errors，不向上抛出）
  - CHECKPOINT_FAILED  - 检查点 I/O 失败，运行中止
  - CHECKPOINT_CORRUPT - 检查点数据损坏
  - NOT_FOUND          - 线程或记录不存在
  - PERMISSION_DENIED  - 工具越权访问
  - TIMEOUT            - 运行超时
  - UNROUTABLE         - 消息无法投递
  - CIRCUIT_OPEN       - 调用器熔断中，请求被拒绝
  - RATE_LIMITED       - 调用器限流等待无法在截止时间前完成

# 工具函数

  - WrapError / AsError / IsCode / GetErrorCode / IsRetryable
*/
package types
