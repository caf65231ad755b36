// Package rules provides the CEL-Go based severity classifier engine.
//
// A classifier is a CEL expression over a single double variable, value,
// that returns a short severity label such as "very high" or "multiple failed".
package rules

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/fraudlens/internal/domain"
)

// Engine compiles and evaluates severity classifiers keyed by feature.
// It is safe for concurrent use.
type Engine struct {
	mu          sync.RWMutex
	env         *cel.Env
	classifiers map[domain.Feature]*CompiledClassifier
}

// CompiledClassifier holds a pre-compiled CEL program.
type CompiledClassifier struct {
	Feature    domain.Feature
	Expression string
	Program    cel.Program
}

// NewEngine creates an engine with no classifiers loaded.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("value", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:         env,
		classifiers: make(map[domain.Feature]*CompiledClassifier),
	}, nil
}

// NewDefaultEngine creates an engine with the built-in classifiers, then
// applies overrides keyed by canonical feature name. An empty override
// expression removes the classifier for that feature.
func NewDefaultEngine(overrides map[string]string) (*Engine, error) {
	e, err := NewEngine()
	if err != nil {
		return nil, err
	}

	set := DefaultClassifiers()
	for name, expr := range overrides {
		f, err := domain.ParseFeature(name)
		if err != nil {
			return nil, fmt.Errorf("classifier override: %w", err)
		}
		if expr == "" {
			delete(set, f)
			continue
		}
		set[f] = expr
	}

	if err := e.Reload(set); err != nil {
		return nil, err
	}
	return e, nil
}

// Validate compiles an expression without changing the loaded classifiers.
func (e *Engine) Validate(f domain.Feature, expr string) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compile(f, expr)
	return err
}

// Load compiles and installs a classifier for one feature.
func (e *Engine) Load(f domain.Feature, expr string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compile(f, expr)
	if err != nil {
		return err
	}
	e.classifiers[f] = compiled
	return nil
}

// Reload replaces every classifier atomically. On error nothing changes.
func (e *Engine) Reload(set map[domain.Feature]string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := make(map[domain.Feature]*CompiledClassifier, len(set))
	for f, expr := range set {
		compiled, err := e.compile(f, expr)
		if err != nil {
			return err
		}
		next[f] = compiled
	}
	e.classifiers = next
	return nil
}

// Classify returns the severity label for a raw feature value.
// ok is false when no classifier is loaded or evaluation fails.
func (e *Engine) Classify(f domain.Feature, value float64) (string, bool) {
	e.mu.RLock()
	c, found := e.classifiers[f]
	e.mu.RUnlock()
	if !found {
		return "", false
	}

	out, _, err := c.Program.Eval(map[string]any{"value": value})
	if err != nil {
		return "", false
	}
	label, ok := out.(types.String)
	if !ok {
		return "", false
	}
	return string(label), true
}

// Count returns the number of loaded classifiers.
func (e *Engine) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.classifiers)
}

// Expressions returns the loaded expressions keyed by feature.
func (e *Engine) Expressions() map[domain.Feature]string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[domain.Feature]string, len(e.classifiers))
	for f, c := range e.classifiers {
		out[f] = c.Expression
	}
	return out
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.classifiers = make(map[domain.Feature]*CompiledClassifier)
	return nil
}

func (e *Engine) compile(f domain.Feature, expr string) (*CompiledClassifier, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("classifier for unknown feature %d", int(f))
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile classifier %s: %w", f, issues.Err())
	}

	if ast.OutputType() != cel.StringType {
		return nil, fmt.Errorf("classifier %s: expression must return string, got %s", f, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for classifier %s: %w", f, err)
	}

	return &CompiledClassifier{
		Feature:    f,
		Expression: expr,
		Program:    program,
	}, nil
}
