package delegation

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
)

// ConstraintEvaluator runs a grant's optional CEL constraint at
// authorization time. Programs are compiled once per expression and
// cached; evaluation is bounded so a hostile expression cannot stall an
// operation.
type ConstraintEvaluator struct {
	env   *cel.Env
	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewConstraintEvaluator builds the environment constraints evaluate in:
// the operation ID, the resource under access, and the operation clock as
// a unix timestamp.
func NewConstraintEvaluator() (*ConstraintEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("operation", cel.StringType),
		cel.Variable("resource", cel.DynType),
		cel.Variable("now", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("delegation: cel environment: %w", err)
	}
	return &ConstraintEvaluator{env: env, cache: make(map[string]cel.Program)}, nil
}

// Allow evaluates expr for one operation. A compile failure, an eval
// failure, or a non-bool result all report an error; callers treat error
// and false alike as a failed constraint.
func (e *ConstraintEvaluator) Allow(expr, operation string, resource map[string]any, now time.Time) (bool, error) {
	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}
	if resource == nil {
		resource = map[string]any{}
	}
	out, _, err := prg.Eval(map[string]any{
		"operation": operation,
		"resource":  resource,
		"now":       now.Unix(),
	})
	if err != nil {
		return false, fmt.Errorf("delegation: constraint eval: %w", err)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("delegation: constraint result is %T, not bool", out.Value())
	}
	return allowed, nil
}

func (e *ConstraintEvaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, hit := e.cache[expr]
	e.mu.RUnlock()
	if hit {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, hit = e.cache[expr]; hit {
		return prg, nil
	}
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("delegation: constraint compile: %w", issues.Err())
	}
	prg, err := e.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("delegation: constraint program: %w", err)
	}
	e.cache[expr] = prg
	return prg, nil
}
