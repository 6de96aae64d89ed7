package cel

import (
	"fmt"

	"github.com/google/cel-go/cel"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultProgramCacheSize bounds the number of compiled programs kept
const DefaultProgramCacheSize = 512

// Variables are the top-level names visible to expressions
var Variables = []string{
	"id", "correlationId", "traceId", "eventType", "source", "channel",
	"ingress", "identity", "message", "annotations", "candidates",
	"egress", "metadata", "routingSlip", "payload",
	"now", "ts", "config",
}

// aliases maps variables whose context key is a reserved CEL identifier
var aliases = map[string]string{
	"eventType": "type",
}

// Evaluator compiles and runs CEL expressions over the routing context
type Evaluator struct {
	env      *cel.Env
	programs *lru.Cache[string, cel.Program]
}

// Option configures an Evaluator
type Option func(*config)

type config struct {
	cacheSize int
}

// WithProgramCacheSize overrides DefaultProgramCacheSize
func WithProgramCacheSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.cacheSize = n
		}
	}
}

// NewEvaluator creates an evaluator declaring every context key as a dynamic
// variable
func NewEvaluator(opts ...Option) *Evaluator {
	cfg := config{cacheSize: DefaultProgramCacheSize}
	for _, opt := range opts {
		opt(&cfg)
	}

	envOpts := make([]cel.EnvOption, 0, len(Variables))
	for _, name := range Variables {
		envOpts = append(envOpts, cel.Variable(name, cel.DynType))
	}
	env, err := cel.NewEnv(envOpts...)
	if err != nil {
		panic(fmt.Sprintf("failed to create CEL environment: %v", err))
	}

	programs, err := lru.New[string, cel.Program](cfg.cacheSize)
	if err != nil {
		panic(fmt.Sprintf("failed to create program cache: %v", err))
	}

	return &Evaluator{env: env, programs: programs}
}

// Evaluate runs expression against vars. Variables missing from vars are
// bound to null. The context key "type" is read as eventType.
func (e *Evaluator) Evaluate(expression string, vars map[string]any) (any, error) {
	program, err := e.program(expression)
	if err != nil {
		return nil, err
	}

	activation := make(map[string]any, len(Variables))
	for _, name := range Variables {
		key := name
		if alias, ok := aliases[name]; ok {
			key = alias
		}
		activation[name] = vars[key]
	}

	out, _, err := program.Eval(activation)
	if err != nil {
		return nil, fmt.Errorf("evaluation failed: %w", err)
	}
	return out.Value(), nil
}

// EvaluateBool evaluates expression and requires a boolean result
func (e *Evaluator) EvaluateBool(expression string, vars map[string]any) (bool, error) {
	result, err := e.Evaluate(expression, vars)
	if err != nil {
		return false, err
	}
	matched, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("expression returned %T, want bool", result)
	}
	return matched, nil
}

// Check compiles expression and caches the program. Rules call it at load
// time so that syntax errors surface before the first event.
func (e *Evaluator) Check(expression string) error {
	_, err := e.program(expression)
	return err
}

// Cached reports how many compiled programs are held
func (e *Evaluator) Cached() int {
	return e.programs.Len()
}

func (e *Evaluator) program(expression string) (cel.Program, error) {
	if program, ok := e.programs.Get(expression); ok {
		return program, nil
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile expression: %w", issues.Err())
	}
	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program generation error: %w", err)
	}

	// concurrent compiles of one expression are harmless, the last Add wins
	e.programs.Add(expression, program)
	return program, nil
}
