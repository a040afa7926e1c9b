package cipher

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnknownOperation reports a name missing from the registry.
	ErrUnknownOperation = errors.New("unknown operation")
	// ErrNotReversible reports a pipeline step without an inverse.
	ErrNotReversible = errors.New("operation is not reversible")
)

// OperationConfig names one pipeline step and its parameters.
type OperationConfig struct {
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// Pipeline applies registered operations left to right. Nesting encodings
// with a pipeline and feeding the result to AutoDecode recovers the input
// whenever every step has a matching layer.
type Pipeline struct {
	Operations []OperationConfig `json:"operations"`
	Reversible bool              `json:"reversible"`
}

// ParsePipeline builds a pipeline from operation names.
func ParsePipeline(names []string) (*Pipeline, error) {
	if len(names) == 0 {
		return nil, errors.New("pipeline needs at least one operation")
	}
	p := &Pipeline{Operations: make([]OperationConfig, 0, len(names)), Reversible: true}
	for _, name := range names {
		op, ok := GetOperation(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, name)
		}
		if _, ok := op.Reverse(); !ok {
			p.Reversible = false
		}
		p.Operations = append(p.Operations, OperationConfig{Name: name})
	}
	return p, nil
}

// resolve looks up every step so a pipeline fails before touching the input.
func (p *Pipeline) resolve() ([]Operation, error) {
	ops := make([]Operation, len(p.Operations))
	for i, cfg := range p.Operations {
		op, ok := GetOperation(cfg.Name)
		if !ok {
			return nil, fmt.Errorf("step %d: %w: %s", i, ErrUnknownOperation, cfg.Name)
		}
		ops[i] = op
	}
	return ops, nil
}

// Execute runs each step on the output of the previous one. ctx is checked
// between steps.
func (p *Pipeline) Execute(ctx context.Context, input []byte) ([]byte, error) {
	ops, err := p.resolve()
	if err != nil {
		return nil, err
	}
	data := input
	for i, op := range ops {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if data, err = op.Execute(ctx, data, p.Operations[i].Parameters); err != nil {
			return nil, fmt.Errorf("operation %s failed at step %d: %w", op.Name(), i, err)
		}
	}
	return data, nil
}

// Reverse returns the pipeline that undoes p: the inverse of each step, last
// step first.
func (p *Pipeline) Reverse() (*Pipeline, error) {
	if !p.Reversible {
		return nil, fmt.Errorf("pipeline: %w", ErrNotReversible)
	}
	ops, err := p.resolve()
	if err != nil {
		return nil, err
	}
	n := len(ops)
	reversed := &Pipeline{Operations: make([]OperationConfig, n), Reversible: true}
	for i, op := range ops {
		inverse, ok := op.Reverse()
		if !ok {
			return nil, fmt.Errorf("%s: %w", op.Name(), ErrNotReversible)
		}
		reversed.Operations[n-1-i] = OperationConfig{
			Name:       inverse.Name(),
			Parameters: p.Operations[i].Parameters,
		}
	}
	return reversed, nil
}
