package expr

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/interpreter"
)

var (
	// ErrNotBool is returned when a filter does not evaluate to bool.
	ErrNotBool = errors.New("filter must return bool")
	// ErrCompile wraps CEL parse and type-check failures.
	ErrCompile = errors.New("compile filter")
)

// Subject carries the variables a filter sees for one discovered subject.
type Subject struct {
	Dataset     string
	ID          string
	Signal      string
	Annotation  string
	SignalBytes int64
	// Index is the position in discovery order.
	Index int
}

// Filter is a compiled boolean subject predicate. It is safe for concurrent
// use.
type Filter struct {
	source  string
	program cel.Program
	pool    *activationPool
}

// Compile parses and type-checks src against SubjectEnv. An empty or blank
// source yields a nil Filter, which matches everything.
func Compile(src string) (*Filter, error) {
	if strings.TrimSpace(src) == "" {
		return nil, nil
	}
	env, err := SubjectEnv()
	if err != nil {
		return nil, fmt.Errorf("subject env: %w", err)
	}

	ast, issues := env.Compile(src)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompile, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("%w, got %s", ErrNotBool, ast.OutputType())
	}

	prog, err := env.Program(ast, cel.EvalOptions(cel.OptOptimize))
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	return &Filter{source: src, program: prog, pool: newActivationPool()}, nil
}

// Source returns the expression text.
func (f *Filter) Source() string {
	if f == nil {
		return ""
	}
	return f.source
}

// Match evaluates the filter for s. A nil Filter matches.
func (f *Filter) Match(s Subject) (bool, error) {
	if f == nil {
		return true, nil
	}
	act := f.pool.get(s)
	defer f.pool.put(act)

	out, _, err := f.program.Eval(act)
	if err != nil {
		return false, fmt.Errorf("eval %q for %s: %w", f.source, s.ID, err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("%w, got %T", ErrNotBool, out.Value())
	}
	return b, nil
}

type activationPool struct {
	pool sync.Pool
}

func newActivationPool() *activationPool {
	return &activationPool{
		pool: sync.Pool{
			New: func() any {
				return &subjectActivation{vars: make(map[string]any, 6)}
			},
		},
	}
}

func (p *activationPool) get(s Subject) *subjectActivation {
	a := p.pool.Get().(*subjectActivation)
	a.reset(s)
	return a
}

func (p *activationPool) put(a *subjectActivation) {
	clear(a.vars)
	p.pool.Put(a)
}

type subjectActivation struct {
	vars map[string]any
}

func (a *subjectActivation) ResolveName(name string) (any, bool) {
	v, ok := a.vars[name]
	return v, ok
}

func (a *subjectActivation) Parent() interpreter.Activation {
	return nil
}

func (a *subjectActivation) reset(s Subject) {
	clear(a.vars)
	a.vars[VarDataset] = s.Dataset
	a.vars[VarSubject] = s.ID
	a.vars[VarSignal] = s.Signal
	a.vars[VarAnnotation] = s.Annotation
	a.vars[VarSignalBytes] = s.SignalBytes
	a.vars[VarIndex] = int64(s.Index)
}

var _ interpreter.Activation = (*subjectActivation)(nil)
