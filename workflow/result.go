package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ResultKind tags what a node returned.
type ResultKind uint8

const (
	// ResultUnchanged means the node mutated the state in place, or not at all.
	ResultUnchanged ResultKind = iota
	// ResultReplace carries a full state whose fields overwrite the current one.
	ResultReplace
	// ResultMerge carries a partial update applied with the merge rules.
	ResultMerge
)

func (k ResultKind) String() string {
	switch k {
	case ResultReplace:
		return "replace"
	case ResultMerge:
		return "merge"
	default:
		return "unchanged"
	}
}

// Delta is a partial state update keyed by canonical state keys.
// Unknown keys are stored in State.Extra.
type Delta map[string]any

// NodeResult is the tagged outcome of a node.
type NodeResult struct {
	kind  ResultKind
	state *State
	delta Delta
}

// Unchanged reports that no merge is needed.
func Unchanged() NodeResult { return NodeResult{kind: ResultUnchanged} }

// Replace overwrites the current state with s. The thread id is kept.
func Replace(s *State) NodeResult {
	if s == nil {
		return Unchanged()
	}
	return NodeResult{kind: ResultReplace, state: s}
}

// Merge applies d to the current state.
func Merge(d Delta) NodeResult {
	if len(d) == 0 {
		return Unchanged()
	}
	return NodeResult{kind: ResultMerge, delta: d}
}

// Kind returns the result tag.
func (r NodeResult) Kind() ResultKind { return r.kind }

// Delta returns the merge payload, nil unless Kind is ResultMerge.
func (r NodeResult) Delta() Delta { return r.delta }

// State returns the replacement state, nil unless Kind is ResultReplace.
func (r NodeResult) State() *State { return r.state }

func (r NodeResult) applyTo(s *State) error {
	switch r.kind {
	case ResultReplace:
		s.replaceWith(r.state)
		return nil
	case ResultMerge:
		return s.Apply(r.delta)
	default:
		return nil
	}
}

// Apply merges d into s. Messages are appended, every other key overwrites.
// Every key is checked before any is applied, so a value of the wrong shape
// for a core key is an error that leaves s untouched.
func (s *State) Apply(d Delta) error {
	var (
		p    patch
		errs []error
	)
	for _, k := range sortedKeys(d) {
		if err := p.stage(k, d[k]); err != nil {
			errs = append(errs, fmt.Errorf("delta %q: %w", k, err))
		}
	}
	if p.threadID != nil && s.ThreadID != "" && s.ThreadID != *p.threadID {
		errs = append(errs, fmt.Errorf("%w: %q -> %q", ErrThreadIDImmutable, s.ThreadID, *p.threadID))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	p.apply(s)
	return nil
}

// patch holds a decoded delta until every key has been checked.
type patch struct {
	messages      []Message
	sharedContext map[string]any
	nextStep      *string
	isCompleted   *bool
	errors        []string
	setErrors     bool
	threadID      *string
	extra         map[string]any
}

func (p *patch) stage(k string, v any) error {
	switch k {
	case KeyMessages:
		msgs, err := decodeMessages(v)
		if err != nil {
			return err
		}
		p.messages = msgs
	case KeySharedContext:
		ctx, err := decodeObject(v)
		if err != nil {
			return err
		}
		p.sharedContext = ctx
	case KeyNextStep, KeyThreadID:
		str, ok := v.(string)
		if !ok {
			return fmt.Errorf("want string, got %T", v)
		}
		if k == KeyNextStep {
			p.nextStep = &str
		} else {
			p.threadID = &str
		}
	case KeyIsCompleted:
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("want bool, got %T", v)
		}
		p.isCompleted = &b
	case KeyErrors:
		errs, err := decodeStrings(v)
		if err != nil {
			return err
		}
		p.errors, p.setErrors = errs, true
	default:
		if p.extra == nil {
			p.extra = make(map[string]any)
		}
		p.extra[k] = v
	}
	return nil
}

func (p *patch) apply(s *State) {
	s.AppendMessage(p.messages...)
	if p.sharedContext != nil {
		s.SharedContext = p.sharedContext
	}
	if p.nextStep != nil {
		s.NextStep = *p.nextStep
	}
	if p.isCompleted != nil {
		s.IsCompleted = *p.isCompleted
	}
	if p.setErrors {
		s.Errors = p.errors
	}
	if p.threadID != nil {
		s.ThreadID = *p.threadID
	}
	if len(p.extra) > 0 && s.Extra == nil {
		s.Extra = make(map[string]any, len(p.extra))
	}
	for k, v := range p.extra {
		s.Extra[k] = v
	}
}

func sortedKeys(d Delta) []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// StateFromMap rebuilds a state from the flattened form produced by ToMap.
func StateFromMap(m map[string]any) (*State, error) {
	s := &State{
		Messages:      []Message{},
		SharedContext: map[string]any{},
		Errors:        []string{},
	}
	if err := s.Apply(Delta(m)); err != nil {
		return nil, err
	}
	return s, nil
}

func decodeMessages(v any) ([]Message, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []Message:
		return t, nil
	case Message:
		return []Message{t}, nil
	}
	// generic JSON shapes, e.g. []any of map[string]any from a checkpoint
	var msgs []Message
	if err := reshape(v, &msgs); err != nil {
		return nil, fmt.Errorf("want messages, got %T", v)
	}
	return msgs, nil
}

func decodeObject(v any) (map[string]any, error) {
	switch t := v.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return t, nil
	}
	var m map[string]any
	if err := reshape(v, &m); err != nil {
		return nil, fmt.Errorf("want object, got %T", v)
	}
	return m, nil
}

func decodeStrings(v any) ([]string, error) {
	switch t := v.(type) {
	case nil:
		return []string{}, nil
	case []string:
		return t, nil
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			str, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("want []string, found %T element", e)
			}
			out = append(out, str)
		}
		return out, nil
	}
	return nil, fmt.Errorf("want []string, got %T", v)
}

func reshape(in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
