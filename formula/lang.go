package formula

import (
	"context"
	"fmt"
	"math"

	"github.com/PaesslerAG/gval"

	"github.com/hupe1980/tensordb/array"
)

// language is gval's full language with array-aware operators and functions.
// Array infix operators come first so they take the generic operand slot
// before gval's own; prefix operators come last so they replace gval's.
var language = gval.NewLanguage(
	arrayInfix("+", func(x, y float64) float64 { return x + y }),
	arrayInfix("-", func(x, y float64) float64 { return x - y }),
	arrayInfix("*", func(x, y float64) float64 { return x * y }),
	arrayInfix("/", func(x, y float64) float64 { return x / y }),
	arrayInfix("%", math.Mod),
	arrayInfix("**", math.Pow),
	arrayInfix(">", compare(func(x, y float64) bool { return x > y })),
	arrayInfix(">=", compare(func(x, y float64) bool { return x >= y })),
	arrayInfix("<", compare(func(x, y float64) bool { return x < y })),
	arrayInfix("<=", compare(func(x, y float64) bool { return x <= y })),
	arrayInfix("==", compare(func(x, y float64) bool { return x == y })),
	arrayInfix("!=", compare(func(x, y float64) bool { return x != y })),
	arrayInfix("&&", compare(func(x, y float64) bool { return truthy(x) && truthy(y) })),
	arrayInfix("||", compare(func(x, y float64) bool { return truthy(x) || truthy(y) })),
	gval.Full(),
	gval.Constant("nan", math.NaN()),
	gval.Constant("inf", math.Inf(1)),
	gval.Function("abs", unary(math.Abs)),
	gval.Function("sqrt", unary(math.Sqrt)),
	gval.Function("log", unary(math.Log)),
	gval.Function("exp", unary(math.Exp)),
	gval.Function("isnan", unary(func(x float64) float64 { return boolf(math.IsNaN(x)) })),
	gval.Function("round", round),
	gval.Function("min", binary(math.Min)),
	gval.Function("max", binary(math.Max)),
	gval.Function("fillna", binary(func(x, v float64) float64 {
		if math.IsNaN(x) {
			return v
		}

		return x
	})),
	gval.Function("where", where),
	gval.PrefixOperator("-", negate),
	gval.PrefixOperator("!", not),
)

func truthy(v float64) bool { return v != 0 && !math.IsNaN(v) }

func boolf(b bool) float64 {
	if b {
		return 1
	}

	return 0
}

func compare(fn func(x, y float64) bool) func(x, y float64) float64 {
	return func(x, y float64) float64 { return boolf(fn(x, y)) }
}

// toArray turns an operand into an array. Numbers and booleans become 0-d arrays.
func toArray(v any) (*array.Array, error) {
	switch x := v.(type) {
	case *array.Array:
		return x, nil
	case float64:
		return array.Scalar(x), nil
	case int:
		return array.Scalar(float64(x)), nil
	case int64:
		return array.Scalar(float64(x)), nil
	case bool:
		return array.Scalar(boolf(x)), nil
	default:
		return nil, fmt.Errorf("formula: unsupported operand %T", v)
	}
}

func arrayInfix(op string, fn func(x, y float64) float64) gval.Language {
	return gval.InfixOperator(op, func(a, b any) (any, error) {
		x, err := toArray(a)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		y, err := toArray(b)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		return array.Binary(x, y, fn), nil
	})
}

func unary(fn func(float64) float64) func(any) (any, error) {
	return func(v any) (any, error) {
		if f, ok := v.(float64); ok {
			return fn(f), nil
		}

		a, err := toArray(v)
		if err != nil {
			return nil, err
		}

		return a.Map(fn), nil
	}
}

func binary(fn func(x, y float64) float64) func(any, any) (any, error) {
	return func(a, b any) (any, error) {
		if x, ok := a.(float64); ok {
			if y, ok := b.(float64); ok {
				return fn(x, y), nil
			}
		}

		x, err := toArray(a)
		if err != nil {
			return nil, err
		}

		y, err := toArray(b)
		if err != nil {
			return nil, err
		}

		return array.Binary(x, y, fn), nil
	}
}

func round(args ...any) (any, error) {
	if len(args) == 0 || len(args) > 2 {
		return nil, fmt.Errorf("formula: round takes 1 or 2 arguments, got %d", len(args))
	}

	scale := 1.0

	if len(args) == 2 {
		digits, ok := args[1].(float64)
		if !ok {
			return nil, fmt.Errorf("formula: round digits must be a number, got %T", args[1])
		}

		scale = math.Pow(10, digits)
	}

	return unary(func(x float64) float64 { return math.Round(x*scale) / scale })(args[0])
}

// where picks x where cond holds and y elsewhere.
func where(cond, x, y any) (any, error) {
	c, err := toArray(cond)
	if err != nil {
		return nil, err
	}

	a, err := toArray(x)
	if err != nil {
		return nil, err
	}

	b, err := toArray(y)
	if err != nil {
		return nil, err
	}

	nan := math.NaN()

	kept := array.Binary(c, a, func(m, v float64) float64 {
		if truthy(m) {
			return v
		}

		return nan
	})
	others := array.Binary(c, b, func(m, v float64) float64 {
		if truthy(m) {
			return nan
		}

		return v
	})

	return array.Binary(kept, others, func(k, o float64) float64 {
		if math.IsNaN(k) {
			return o
		}

		return k
	}), nil
}

func negate(_ context.Context, v any) (any, error) {
	if f, ok := v.(float64); ok {
		return -f, nil
	}

	a, err := toArray(v)
	if err != nil {
		return nil, err
	}

	return a.Map(func(x float64) float64 { return -x }), nil
}

func not(_ context.Context, v any) (any, error) {
	if b, ok := v.(bool); ok {
		return !b, nil
	}

	a, err := toArray(v)
	if err != nil {
		return nil, err
	}

	return a.Map(func(x float64) float64 { return boolf(!truthy(x)) }), nil
}
