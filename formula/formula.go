// Package formula evaluates expressions over stored tensors.
//
// A formula names tensors by path between backticks:
//
//	`prices` * `weights` + 1
//
// Expressions use gval's syntax with array-aware arithmetic, comparison and
// logic operators plus the functions abs, sqrt, log, exp, round, where,
// fillna, isnan, min and max. Comparisons yield 1 or 0.
//
// Statement programs assign names line by line and return new_data:
//
//	spread = `ask` - `bid`
//	new_data = where(spread > 0, spread, nan)
//
// Statement programs run caller-supplied text and are disabled unless the
// evaluator is built with WithStatements(true). They are a trust boundary,
// not a sandbox: only enable them for formulas from trusted sources.
package formula

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strconv"
	"strings"

	"github.com/PaesslerAG/gval"

	"github.com/hupe1980/tensordb/array"
)

var (
	// ErrMalformedFormula is returned for unbalanced backticks or invalid syntax.
	ErrMalformedFormula = errors.New("formula: malformed formula")
	// ErrStatementsDisabled is returned when a statement program is evaluated
	// by an evaluator without statement support.
	ErrStatementsDisabled = errors.New("formula: statement programs are disabled")
)

const (
	delimiter = '`'
	// OutputBinding is the name a statement program assigns its result to.
	OutputBinding = "new_data"
)

// Refs returns the distinct tensor paths referenced by formula, in order of
// first appearance.
func Refs(formula string) ([]string, error) {
	var (
		refs  []string
		seen  = map[string]bool{}
		start = -1
	)

	for i, r := range formula {
		if r != delimiter {
			continue
		}

		if start < 0 {
			start = i
			continue
		}

		ref := formula[start+1 : i]
		start = -1

		if ref == "" {
			return nil, fmt.Errorf("%w: empty reference", ErrMalformedFormula)
		}

		if !seen[ref] {
			seen[ref] = true
			refs = append(refs, ref)
		}
	}

	if start >= 0 {
		return nil, fmt.Errorf("%w: unbalanced %q at offset %d", ErrMalformedFormula, delimiter, start)
	}

	return refs, nil
}

// rewrite replaces every reference with an identifier and returns the
// identifier of every path.
func rewrite(formula string, refs []string) (string, map[string]string) {
	names := make(map[string]string, len(refs))
	pairs := make([]string, 0, 2*len(refs))

	for i, ref := range refs {
		name := "__ref_" + strconv.Itoa(i)
		names[ref] = name
		pairs = append(pairs, string(delimiter)+ref+string(delimiter), name)
	}

	return strings.NewReplacer(pairs...).Replace(formula), names
}

// Resolver returns the lazily read content of a tensor path.
type Resolver func(ctx context.Context, path string) (array.Source, error)

// Options configure one evaluation.
type Options struct {
	// Statements evaluates the formula as a statement program.
	Statements bool
	// Bindings are extra scalar names visible to the formula.
	Bindings map[string]float64
	// Arrays are extra tensor-valued names, computed with the references.
	Arrays map[string]array.Source
	// NewData is bound to new_data before a statement program runs.
	NewData array.Source
}

// Evaluator evaluates formulas.
type Evaluator struct {
	lang       gval.Language
	statements bool
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithStatements enables statement programs.
func WithStatements(enabled bool) Option {
	return func(e *Evaluator) {
		e.statements = enabled
	}
}

// New creates an Evaluator.
func New(optFns ...Option) *Evaluator {
	e := &Evaluator{lang: language}

	for _, fn := range optFns {
		fn(e)
	}

	return e
}

// Eval parses formula and resolves its references right away, so syntax
// errors and missing tensors surface here. The returned array is computed
// on first use; referenced tensors are not read before that.
func (e *Evaluator) Eval(ctx context.Context, formula string, opts Options, resolve Resolver) (*array.Lazy, error) {
	if opts.Statements && !e.statements {
		return nil, ErrStatementsDisabled
	}

	refs, err := Refs(formula)
	if err != nil {
		return nil, err
	}

	text, names := rewrite(formula, refs)

	var run func(ctx context.Context, env map[string]any) (any, error)

	if opts.Statements {
		prog, err := e.compileProgram(text)
		if err != nil {
			return nil, err
		}

		run = prog.run
	} else {
		eval, err := e.lang.NewEvaluable(text)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedFormula, err)
		}

		run = func(ctx context.Context, env map[string]any) (any, error) {
			return eval(ctx, env)
		}
	}

	sources := make(map[string]array.Source, len(refs))

	for _, ref := range refs {
		src, err := resolve(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("formula: reference %q: %w", ref, err)
		}

		sources[names[ref]] = src
	}

	for name, src := range opts.Arrays {
		if src != nil {
			sources[name] = src
		}
	}

	bindings := maps.Clone(opts.Bindings)
	newData := opts.NewData
	statements := opts.Statements

	return array.NewLazy(func(ctx context.Context) (*array.Array, error) {
		env := make(map[string]any, len(sources)+len(bindings)+1)

		for name, v := range bindings {
			env[name] = v
		}

		for name, src := range sources {
			a, err := src.Compute(ctx)
			if err != nil {
				return nil, err
			}

			env[name] = a
		}

		if statements {
			nd, err := array.Materialize(ctx, newData)
			if err != nil {
				return nil, err
			}

			if nd != nil {
				env[OutputBinding] = nd
			}
		}

		v, err := run(ctx, env)
		if err != nil {
			return nil, err
		}

		return toResult(v)
	}), nil
}

func toResult(v any) (*array.Array, error) {
	if v == nil {
		return nil, nil
	}

	return toArray(v)
}
