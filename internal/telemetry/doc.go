/*
Package telemetry 封装 OpenTelemetry SDK 初始化，为工作流调度器提供 Tracer。

启用时通过 OTLP gRPC 导出 span 与指标；禁用时返回空 Providers，Tracer 回退到
全局（默认 noop）实现，不连接任何外部服务。根 span 按 sample_rate 采样，
带父 span 的请求沿用上游决定。测试可用 WithSpanExporter 注入内存导出器。
*/
package telemetry
