// Package tools defines the tool boundary used by workflow tool nodes: the
// Tool interface, a name-keyed Registry, argument sanitizing, and the
// sandboxed FileOps tool.
package tools

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/BaSui01/rheo/types"
)

// Tool is an external capability an agent may call with JSON-safe args.
type Tool interface {
	Name() string
	Description() string
	Run(ctx context.Context, args map[string]any) (string, error)
}

// RunFunc is the body of a Func tool.
type RunFunc func(ctx context.Context, args map[string]any) (string, error)

// Func is a Tool backed by a function.
type Func struct {
	name        string
	description string
	run         RunFunc
}

// NewFunc creates a function tool.
func NewFunc(name, description string, run RunFunc) *Func {
	return &Func{name: name, description: description, run: run}
}

func (f *Func) Name() string        { return f.name }
func (f *Func) Description() string { return f.description }

func (f *Func) Run(ctx context.Context, args map[string]any) (string, error) {
	return f.run(ctx, args)
}

// Limits applied by SanitizeArgs.
const (
	MaxArgStringLen = 4096
	MaxArgDepth     = 4
)

// SanitizeArgs validates model-supplied arguments for tool and returns a
// cleaned copy. Keys must be non-empty; values must be JSON-safe scalars,
// lists or objects nested at most MaxArgDepth levels. Over-long strings are
// truncated to MaxArgStringLen characters.
func SanitizeArgs(tool string, args map[string]any, logger *zap.Logger) (map[string]any, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	clean := make(map[string]any, len(args))
	for k, v := range args {
		if strings.TrimSpace(k) == "" {
			return nil, types.Errorf(types.ErrInvalidInput, "tool '%s': invalid arg key %q", tool, k)
		}
		sv, err := sanitizeValue(tool, k, v, 0, logger)
		if err != nil {
			return nil, err
		}
		clean[k] = sv
	}
	return clean, nil
}

func sanitizeValue(tool, key string, v any, depth int, logger *zap.Logger) (any, error) {
	if depth > MaxArgDepth {
		return nil, types.Errorf(types.ErrInvalidInput, "tool '%s': arg '%s' is nested too deeply", tool, key)
	}
	switch t := v.(type) {
	case nil, bool, int, int32, int64, float32, float64:
		return t, nil
	case string:
		if len(t) <= MaxArgStringLen {
			return t, nil
		}
		n := utf8.RuneCountInString(t)
		if n <= MaxArgStringLen {
			return t, nil
		}
		logger.Warn("tool arg truncated",
			zap.String("tool", tool),
			zap.String("key", key),
			zap.Int("original_len", n),
		)
		return truncateRunes(t, MaxArgStringLen), nil
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			sv, err := sanitizeValue(tool, key, e, depth+1, logger)
			if err != nil {
				return nil, err
			}
			out[i] = sv
		}
		return out, nil
	case []string:
		out := make([]any, len(t))
		for i, e := range t {
			sv, err := sanitizeValue(tool, key, e, depth+1, logger)
			if err != nil {
				return nil, err
			}
			out[i] = sv
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			sv, err := sanitizeValue(tool, k, e, depth+1, logger)
			if err != nil {
				return nil, err
			}
			out[k] = sv
		}
		return out, nil
	}
	return nil, types.Errorf(types.ErrInvalidInput, "tool '%s': arg '%s' has unsupported type %s", tool, key, fmt.Sprintf("%T", v))
}

// truncateRunes keeps the first n characters of s.
func truncateRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
