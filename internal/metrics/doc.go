/*
包 metrics 提供基于 Prometheus 的运行时指标采集。

# 概述

Collector 通过 promauto.With 注册到调用方传入的 Registerer
（为 nil 时使用默认 Registerer），所有指标按 namespace 隔离。
nil *Collector 上的记录方法为空操作，调度器与 Agent 无需判空。

# 指标

  - node_executions_total{node,status} / node_duration_seconds{node}
  - runs_total{status} / run_hops
  - checkpoint_saves_total{status} / checkpoint_duration_seconds{status}
  - agent_messages_total{agent,type,outcome}
*/
package metrics
