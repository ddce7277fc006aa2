package checkpoint

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BaSui01/rheo/workflow"
)

// =============================================================================
// JSON-safe codec
// =============================================================================

// Encode serializes s as a JSON object using the canonical state keys.
//
// Every value is first normalized into nil, bool, numbers, string, []any or
// map[string]any. Floats always carry a fraction or exponent so that Decode
// tells them apart from integers. time.Time becomes an RFC3339Nano string; errors and
// fmt.Stringers become their string form; anything else unknown is formatted
// with fmt.Sprint. Loading never reconstructs the original Go types.
func Encode(s *workflow.State) (json.RawMessage, error) {
	tree := normalize(s.ToMap())
	data, err := json.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return data, nil
}

// Decode rebuilds a state from Encode output. Any malformed payload yields
// an error wrapping ErrCorrupt.
func Decode(data []byte) (*workflow.State, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after state object", ErrCorrupt)
	}
	if m == nil {
		return nil, fmt.Errorf("%w: payload is not an object", ErrCorrupt)
	}
	s, err := workflow.StateFromMap(numbers(m).(map[string]any))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return s, nil
}

// NewRecord encodes s into a Record stamped with now.
func NewRecord(s *workflow.State, now time.Time) (*Record, error) {
	if s == nil || s.ThreadID == "" {
		return nil, ErrMissingThreadID
	}
	data, err := Encode(s)
	if err != nil {
		return nil, err
	}
	return &Record{
		ThreadID:  s.ThreadID,
		Data:      data,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}, nil
}

func normalize(v any) any {
	switch t := v.(type) {
	case nil, bool, string,
		int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return t
	case float64:
		return floatNumber(t, 64)
	case float32:
		return floatNumber(float64(t), 32)
	case json.Number:
		return t
	case time.Time:
		return t.Format(time.RFC3339Nano)
	case time.Duration:
		return t.String()
	case []byte:
		return string(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalize(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = e
		}
		return out
	case []workflow.Message:
		out := make([]any, len(t))
		for i, m := range t {
			out[i] = normalizeMessage(m)
		}
		return out
	case workflow.Message:
		return normalizeMessage(t)
	case error:
		return t.Error()
	case fmt.Stringer:
		return t.String()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		return normalize(rv.Elem().Interface())
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = normalize(iter.Value().Interface())
		}
		return out
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = normalize(rv.Index(i).Interface())
		}
		return out
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint()
	case reflect.Float32, reflect.Float64:
		return floatNumber(rv.Float(), rv.Type().Bits())
	case reflect.Struct:
		// 按 json 标签展开，没有导出字段时退回 fmt.Sprint
		if data, err := json.Marshal(v); err == nil {
			var out map[string]any
			if json.Unmarshal(data, &out) == nil && len(out) > 0 {
				return out
			}
		}
	}
	return fmt.Sprint(v)
}

func normalizeMessage(m workflow.Message) map[string]any {
	out := map[string]any{
		"role":    m.Role,
		"content": m.Content,
	}
	if m.Agent != "" {
		out["agent"] = m.Agent
	}
	if m.ToolCallID != "" {
		out["tool_call_id"] = m.ToolCallID
	}
	if len(m.ToolCalls) > 0 {
		calls := make([]any, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			call := map[string]any{"name": tc.Name}
			if tc.ID != "" {
				call["id"] = tc.ID
			}
			if tc.Args != nil {
				call["args"] = normalize(tc.Args)
			}
			calls[i] = call
		}
		out["tool_calls"] = calls
	}
	if m.Metadata != nil {
		out["metadata"] = normalize(m.Metadata)
	}
	return out
}

// floatNumber formats f so that it survives a round trip as a float, e.g. 2
// is written as 2.0. NaN and infinities are left for json.Marshal to reject.
func floatNumber(f float64, bits int) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return f
	}
	str := strconv.FormatFloat(f, 'g', -1, bits)
	if !strings.ContainsAny(str, ".eE") {
		str += ".0"
	}
	return json.Number(str)
}

// numbers replaces json.Number with int when it is written as an integer,
// float64 otherwise.
func numbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := strconv.ParseInt(string(t), 10, 0); err == nil {
			return int(i)
		}
		f, err := t.Float64()
		if err != nil && !errors.Is(err, strconv.ErrRange) {
			return string(t)
		}
		return f
	case map[string]any:
		for k, e := range t {
			t[k] = numbers(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = numbers(e)
		}
		return t
	}
	return v
}
