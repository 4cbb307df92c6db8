// Package expr compiles CEL expressions that select which discovered
// subjects a run processes.
package expr

import (
	"github.com/google/cel-go/cel"
)

// Variables visible to subject filters.
const (
	VarDataset     = "dataset"
	VarSubject     = "subject"
	VarSignal      = "signal"
	VarAnnotation  = "annotation"
	VarSignalBytes = "signal_bytes"
	VarIndex       = "index"
)

type EnvBuilder struct {
	opts []cel.EnvOption
	err  error
}

func NewEnvBuilder() *EnvBuilder {
	return &EnvBuilder{}
}

func (b *EnvBuilder) WithVariable(name string, t *cel.Type) *EnvBuilder {
	if b.err != nil {
		return b
	}
	b.opts = append(b.opts, cel.Variable(name, t))
	return b
}

// WithSubject declares the per-subject variables.
func (b *EnvBuilder) WithSubject() *EnvBuilder {
	if b.err != nil {
		return b
	}
	b.opts = append(b.opts,
		cel.Variable(VarDataset, cel.StringType),
		cel.Variable(VarSubject, cel.StringType),
		cel.Variable(VarSignal, cel.StringType),
		cel.Variable(VarAnnotation, cel.StringType),
		cel.Variable(VarSignalBytes, cel.IntType),
		cel.Variable(VarIndex, cel.IntType),
	)
	return b
}

func (b *EnvBuilder) WithOption(opt cel.EnvOption) *EnvBuilder {
	if b.err != nil {
		return b
	}
	b.opts = append(b.opts, opt)
	return b
}

func (b *EnvBuilder) Build() (*cel.Env, error) {
	if b.err != nil {
		return nil, b.err
	}
	return cel.NewEnv(b.opts...)
}

// SubjectEnv returns the environment subject filters compile against.
func SubjectEnv() (*cel.Env, error) {
	return NewEnvBuilder().
		WithSubject().
		WithOption(SubjectFuncs()).
		WithOption(StringFuncs()).
		Build()
}
