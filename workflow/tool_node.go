package workflow

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/rheo/tools"
	"github.com/BaSui01/rheo/types"
)

// ToolNode executes the tool calls of the latest message and appends one
// tool message per call. Unknown tools, bad arguments and tool failures
// become error text in the tool message so the model can react. A
// PERMISSION_DENIED failure fails the node instead.
func ToolNode(registry *tools.Registry, logger *zap.Logger) NodeFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "tool_node"))

	return func(ctx context.Context, s *State) (NodeResult, error) {
		last, ok := s.LastMessage()
		if !ok || len(last.ToolCalls) == 0 {
			return Unchanged(), nil
		}

		results := make([]Message, 0, len(last.ToolCalls))
		for _, call := range last.ToolCalls {
			content, err := runToolCall(ctx, registry, call, logger)
			if err != nil {
				return Unchanged(), err
			}
			results = append(results, Message{Role: RoleTool, Content: content, ToolCallID: call.ID})
		}
		return Merge(Delta{KeyMessages: results}), nil
	}
}

func runToolCall(ctx context.Context, registry *tools.Registry, call ToolCall, logger *zap.Logger) (string, error) {
	tool, ok := registry.Get(call.Name)
	if !ok {
		return fmt.Sprintf("Error: Tool '%s' not found.", call.Name), nil
	}
	args, err := tools.SanitizeArgs(call.Name, call.Args, logger)
	if err != nil {
		logger.Warn("tool arg validation failed", zap.String("tool", call.Name), zap.Error(err))
		return fmt.Sprintf("Error: Invalid arguments for '%s': %v", call.Name, err), nil
	}
	out, err := tool.Run(ctx, args)
	if err != nil {
		if types.IsCode(err, types.ErrPermissionDenied) {
			return "", fmt.Errorf("tool %s: %w", call.Name, err)
		}
		logger.Debug("tool failed", zap.String("tool", call.Name), zap.Error(err))
		return fmt.Sprintf("Error executing '%s': %v", call.Name, err), nil
	}
	return out, nil
}
