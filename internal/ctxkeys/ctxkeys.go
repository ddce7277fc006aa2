// Package ctxkeys 提供显式的 context 传播键，用于在调用链中携带线程、追踪与运行标识。
package ctxkeys

import "context"

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	traceIDKey  contextKey = "trace_id"
	runIDKey    contextKey = "run_id"
	threadIDKey contextKey = "thread_id"
	nodeKey     contextKey = "node"
)

// WithTraceID 设置 TraceID
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID 获取 TraceID
func TraceID(ctx context.Context) (string, bool) {
	return stringValue(ctx, traceIDKey)
}

// WithRunID 设置 RunID
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// RunID 获取 RunID
func RunID(ctx context.Context) (string, bool) {
	return stringValue(ctx, runIDKey)
}

// WithThreadID 设置当前工作流线程 ID
func WithThreadID(ctx context.Context, threadID string) context.Context {
	return context.WithValue(ctx, threadIDKey, threadID)
}

// ThreadID 获取当前工作流线程 ID
func ThreadID(ctx context.Context) (string, bool) {
	return stringValue(ctx, threadIDKey)
}

// WithNode 设置正在执行的节点名
func WithNode(ctx context.Context, node string) context.Context {
	return context.WithValue(ctx, nodeKey, node)
}

// Node 获取正在执行的节点名
func Node(ctx context.Context) (string, bool) {
	return stringValue(ctx, nodeKey)
}

func stringValue(ctx context.Context, key contextKey) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(key).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
