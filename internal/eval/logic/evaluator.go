package logic

import (
	"fmt"
	"regexp"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aescanero/dago-chat-router/internal/eval/cel"
)

// operator evaluates a call with unevaluated arguments so that and/or/if and
// the array operators can short-circuit or rebind the scope
type operator func(s *scope, args []Node) (any, error)

// Evaluator evaluates compiled expressions against a Context
type Evaluator struct {
	ops     map[string]operator
	cel     *cel.Evaluator
	regexps *lru.Cache[string, *regexp.Regexp]
}

// Option configures an Evaluator
type Option func(*Evaluator)

// WithCEL registers the "cel" operator backed by evaluator
func WithCEL(evaluator *cel.Evaluator) Option {
	return func(e *Evaluator) {
		e.cel = evaluator
	}
}

// NewEvaluator creates an evaluator with the standard and domain operators
func NewEvaluator(opts ...Option) *Evaluator {
	regexps, err := lru.New[string, *regexp.Regexp](256)
	if err != nil {
		panic(fmt.Sprintf("failed to create regex cache: %v", err))
	}

	e := &Evaluator{
		ops:     make(map[string]operator),
		regexps: regexps,
	}
	for _, opt := range opts {
		opt(e)
	}

	registerStandard(e.ops)
	registerDomain(e.ops)
	if e.cel != nil {
		e.ops["cel"] = e.opCEL
	}

	return e
}

// Evaluate reports whether logic holds for ctx. It never fails: malformed
// expressions, unknown operators and runtime errors all yield false. A bare
// boolean true, or the string "true", is accepted as a whole rule body.
func (e *Evaluator) Evaluate(logic any, ctx *Context) bool {
	ok, _ := e.Matches(logic, ctx)
	return ok
}

// Matches is Evaluate with the underlying error exposed for logging
func (e *Evaluator) Matches(logic any, ctx *Context) (matched bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			matched = false
			err = fmt.Errorf("evaluation panic: %v", r)
		}
	}()

	switch v := logic.(type) {
	case bool:
		return v, nil
	case string:
		return v == "true", nil
	case Node:
		result, err := e.eval(v, ctx)
		if err != nil {
			return false, err
		}
		return truthy(result), nil
	case map[string]any:
		node, err := e.Compile(v)
		if err != nil {
			return false, err
		}
		result, err := e.eval(node, ctx)
		if err != nil {
			return false, err
		}
		return truthy(result), nil
	default:
		return false, fmt.Errorf("expression must be an object, got %T", logic)
	}
}

// Apply evaluates logic and returns the raw result value
func (e *Evaluator) Apply(logic any, ctx *Context) (any, error) {
	node, err := e.Compile(logic)
	if err != nil {
		return nil, err
	}
	return e.eval(node, ctx)
}

func (e *Evaluator) eval(node Node, ctx *Context) (any, error) {
	s := &scope{ev: e, root: ctx, data: ctx.Data(), isRoot: true}
	return s.eval(node)
}

// scope is the data an expression currently resolves "var" against. The
// root scope is the Context; array operators rebind it to each element.
type scope struct {
	ev     *Evaluator
	root   *Context
	data   any
	isRoot bool
}

func (s *scope) with(data any) *scope {
	return &scope{ev: s.ev, root: s.root, data: data}
}

func (s *scope) eval(n Node) (any, error) {
	switch v := n.(type) {
	case literal:
		return v.value, nil
	case list:
		out := make([]any, len(v.items))
		for i, item := range v.items {
			val, err := s.eval(item)
			if err != nil {
				return nil, err
			}
			out[i] = val
		}
		return out, nil
	case call:
		op, ok := s.ev.ops[v.op]
		if !ok {
			return nil, fmt.Errorf("unknown operator %q", v.op)
		}
		return op(s, v.args)
	}
	return nil, fmt.Errorf("unsupported node %T", n)
}

// evalArgs evaluates every argument eagerly
func (s *scope) evalArgs(args []Node) ([]any, error) {
	out := make([]any, len(args))
	for i, a := range args {
		v, err := s.eval(a)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// lookup resolves a dotted path against the current scope
func (s *scope) lookup(path string) (any, bool) {
	if s.isRoot {
		return s.root.Get(path)
	}
	return walk(s.data, path)
}

func (e *Evaluator) opCEL(s *scope, args []Node) (any, error) {
	values, err := s.evalArgs(args)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("cel requires an expression")
	}
	expr, ok := values[0].(string)
	if !ok {
		return nil, fmt.Errorf("cel expression must be a string, got %T", values[0])
	}
	return e.cel.EvaluateBool(expr, s.root.Data())
}

func (e *Evaluator) compileRegex(pattern, flags string) (*regexp.Regexp, error) {
	prefix := ""
	for _, f := range flags {
		switch f {
		case 'i', 'm', 's':
			prefix += string(f)
		}
	}
	if prefix != "" {
		pattern = "(?" + prefix + ")" + pattern
	}
	if re, ok := e.regexps.Get(pattern); ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	e.regexps.Add(pattern, re)
	return re, nil
}
