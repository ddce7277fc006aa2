package dsl

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/BaSui01/rheo/workflow"
)

// Expr is a compiled routing expression.
//
// Supported operators: ==, !=, >, <, >=, <=, &&, ||, !
// Literals: numbers, double-quoted strings, true, false.
// Identifiers use dot paths into the variables, e.g. review.score.
type Expr struct {
	src  string
	root exprNode
}

// Compile parses src once so it can be evaluated on every routing decision.
func Compile(src string) (*Expr, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, fmt.Errorf("empty expression")
	}
	toks, err := lex(src)
	if err != nil {
		return nil, fmt.Errorf("expression %q: %w", src, err)
	}
	p := &exprParser{toks: toks}
	root, err := p.parseOr()
	if err != nil {
		return nil, fmt.Errorf("expression %q: %w", src, err)
	}
	if p.pos < len(p.toks) {
		return nil, fmt.Errorf("expression %q: unexpected token %q", src, p.toks[p.pos].text)
	}
	return &Expr{src: src, root: root}, nil
}

// MustCompile is Compile that panics on error.
func MustCompile(src string) *Expr {
	e, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return e
}

// String returns the source text.
func (e *Expr) String() string { return e.src }

// Value evaluates the expression and returns its raw result.
func (e *Expr) Value(vars map[string]any) any { return e.root.eval(vars) }

// Eval evaluates the expression as a condition.
func (e *Expr) Eval(vars map[string]any) bool { return truthy(e.root.eval(vars)) }

// StateVars exposes a state to expressions. Every shared_context entry is
// a top-level variable; next_step, is_completed, thread_id, error_count,
// message_count, last_message and extra are added on top and win on clash.
func StateVars(s *workflow.State) map[string]any {
	vars := make(map[string]any, len(s.SharedContext)+7)
	for k, v := range s.SharedContext {
		vars[k] = v
	}
	last := ""
	if m, ok := s.LastMessage(); ok {
		last = m.Content
	}
	extra := s.Extra
	if extra == nil {
		extra = map[string]any{}
	}
	vars["next_step"] = s.NextStep
	vars["is_completed"] = s.IsCompleted
	vars["thread_id"] = s.ThreadID
	vars["error_count"] = len(s.Errors)
	vars["message_count"] = len(s.Messages)
	vars["last_message"] = last
	vars["extra"] = extra
	return vars
}

// =============================================================================
// AST
// =============================================================================

type exprNode interface {
	eval(vars map[string]any) any
}

type literal struct{ v any }

func (l literal) eval(map[string]any) any { return l.v }

type varRef struct{ path []string }

func (r varRef) eval(vars map[string]any) any { return lookup(vars, r.path) }

type notNode struct{ x exprNode }

func (n notNode) eval(vars map[string]any) any { return !truthy(n.x.eval(vars)) }

type logicNode struct {
	and  bool
	l, r exprNode
}

func (n logicNode) eval(vars map[string]any) any {
	left := truthy(n.l.eval(vars))
	if n.and {
		return left && truthy(n.r.eval(vars))
	}
	return left || truthy(n.r.eval(vars))
}

type compareNode struct {
	op   string
	l, r exprNode
}

func (n compareNode) eval(vars map[string]any) any {
	return compare(n.l.eval(vars), n.op, n.r.eval(vars))
}

// =============================================================================
// Lexer
// =============================================================================

type tokKind int

const (
	tokNumber tokKind = iota
	tokString
	tokIdent
	tokOp
	tokLParen
	tokRParen
)

type tok struct {
	kind tokKind
	text string
}

func lex(src string) ([]tok, error) {
	var toks []tok
	rs := []rune(src)
	for i := 0; i < len(rs); {
		ch := rs[i]
		switch {
		case unicode.IsSpace(ch):
			i++
		case ch == '(':
			toks = append(toks, tok{tokLParen, "("})
			i++
		case ch == ')':
			toks = append(toks, tok{tokRParen, ")"})
			i++
		case ch == '"':
			s, next, err := lexString(rs, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, tok{tokString, s})
			i = next
		case i+1 < len(rs) && isTwoCharOp(string(rs[i:i+2])):
			toks = append(toks, tok{tokOp, string(rs[i : i+2])})
			i += 2
		case ch == '>' || ch == '<' || ch == '!':
			toks = append(toks, tok{tokOp, string(ch)})
			i++
		case isDigit(ch) || (ch == '-' && i+1 < len(rs) && isDigit(rs[i+1]) && signAllowed(toks)):
			j := i + 1
			for j < len(rs) && (isDigit(rs[j]) || rs[j] == '.') {
				j++
			}
			toks = append(toks, tok{tokNumber, string(rs[i:j])})
			i = j
		case unicode.IsLetter(ch) || ch == '_':
			j := i + 1
			for j < len(rs) && (unicode.IsLetter(rs[j]) || unicode.IsDigit(rs[j]) || rs[j] == '_' || rs[j] == '.') {
				j++
			}
			toks = append(toks, tok{tokIdent, string(rs[i:j])})
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q at position %d", string(ch), i)
		}
	}
	return toks, nil
}

func lexString(rs []rune, start int) (string, int, error) {
	var sb strings.Builder
	for i := start + 1; i < len(rs); i++ {
		switch rs[i] {
		case '\\':
			if i+1 < len(rs) {
				i++
				sb.WriteRune(rs[i])
			}
		case '"':
			return sb.String(), i + 1, nil
		default:
			sb.WriteRune(rs[i])
		}
	}
	return "", 0, fmt.Errorf("unterminated string starting at position %d", start)
}

func isTwoCharOp(s string) bool {
	switch s {
	case "==", "!=", ">=", "<=", "&&", "||":
		return true
	}
	return false
}

func isDigit(ch rune) bool { return ch >= '0' && ch <= '9' }

// signAllowed reports whether a '-' starts a negative number literal.
func signAllowed(prev []tok) bool {
	if len(prev) == 0 {
		return true
	}
	k := prev[len(prev)-1].kind
	return k == tokOp || k == tokLParen
}

// =============================================================================
// Parser (recursive descent)
// =============================================================================

type exprParser struct {
	toks []tok
	pos  int
}

func (p *exprParser) peekOp(ops ...string) (string, bool) {
	if p.pos >= len(p.toks) || p.toks[p.pos].kind != tokOp {
		return "", false
	}
	for _, op := range ops {
		if p.toks[p.pos].text == op {
			return op, true
		}
	}
	return "", false
}

func (p *exprParser) parseOr() (exprNode, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.peekOp("||"); !ok {
			return left, nil
		}
		p.pos++
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = logicNode{l: left, r: right}
	}
}

func (p *exprParser) parseAnd() (exprNode, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.peekOp("&&"); !ok {
			return left, nil
		}
		p.pos++
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = logicNode{and: true, l: left, r: right}
	}
}

func (p *exprParser) parseComparison() (exprNode, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	op, ok := p.peekOp("==", "!=", ">", "<", ">=", "<=")
	if !ok {
		return left, nil
	}
	p.pos++
	right, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	return compareNode{op: op, l: left, r: right}, nil
}

func (p *exprParser) parseUnary() (exprNode, error) {
	if _, ok := p.peekOp("!"); ok {
		p.pos++
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return notNode{x: x}, nil
	}
	return p.parsePrimary()
}

func (p *exprParser) parsePrimary() (exprNode, error) {
	if p.pos >= len(p.toks) {
		return nil, fmt.Errorf("unexpected end of expression")
	}
	t := p.toks[p.pos]
	p.pos++
	switch t.kind {
	case tokNumber:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", t.text)
		}
		return literal{f}, nil
	case tokString:
		return literal{t.text}, nil
	case tokIdent:
		switch t.text {
		case "true":
			return literal{true}, nil
		case "false":
			return literal{false}, nil
		case "nil", "null":
			return literal{nil}, nil
		}
		return varRef{path: strings.Split(t.text, ".")}, nil
	case tokLParen:
		x, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.pos >= len(p.toks) || p.toks[p.pos].kind != tokRParen {
			return nil, fmt.Errorf("expected closing parenthesis")
		}
		p.pos++
		return x, nil
	}
	return nil, fmt.Errorf("unexpected token %q", t.text)
}

// =============================================================================
// Evaluation helpers
// =============================================================================

// lookup walks a dot path through nested maps. Missing keys yield nil.
func lookup(vars map[string]any, path []string) any {
	var cur any = vars
	for _, part := range path {
		switch m := cur.(type) {
		case map[string]any:
			cur = m[part]
		case map[string]string:
			v, ok := m[part]
			if !ok {
				return nil
			}
			cur = v
		default:
			return nil
		}
		if cur == nil {
			return nil
		}
	}
	return cur
}

// compare orders nil below every value; two nils are equal. Numbers compare
// numerically, everything else by its string form.
func compare(l any, op string, r any) bool {
	if l == nil || r == nil {
		var c int
		switch {
		case l == nil && r == nil:
			c = 0
		case l == nil:
			c = -1
		default:
			c = 1
		}
		return ordered(c, op)
	}
	if lf, ok := number(l); ok {
		if rf, ok := number(r); ok {
			switch {
			case lf < rf:
				return ordered(-1, op)
			case lf > rf:
				return ordered(1, op)
			default:
				return ordered(0, op)
			}
		}
	}
	return ordered(strings.Compare(fmt.Sprint(l), fmt.Sprint(r)), op)
}

func ordered(c int, op string) bool {
	switch op {
	case "==":
		return c == 0
	case "!=":
		return c != 0
	case ">":
		return c > 0
	case "<":
		return c < 0
	case ">=":
		return c >= 0
	case "<=":
		return c <= 0
	}
	return false
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != "" && t != "false" && t != "0"
	}
	if f, ok := number(v); ok {
		return f != 0
	}
	return true
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}
