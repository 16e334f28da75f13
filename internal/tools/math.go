package tools

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/expr-lang/expr"

	"github.com/stockripper/agentd/internal/llm"
)

var ErrDivideByZero = errors.New("division by zero")

// RegisterMath adds the arithmetic tools.
func RegisterMath(r *Registry) {
	binary := func(name, description string, op func(a, b float64) (float64, error)) {
		r.Register(llm.ToolDefinition{
			Name:        name,
			Description: description,
			InputSchema: objectSchema(map[string]any{
				"a": numberProperty("First operand."),
				"b": numberProperty("Second operand."),
			}, "a", "b"),
		}, ExecutorFunc(func(_ context.Context, input map[string]any) (string, error) {
			a, err := numberArg(input, "a")
			if err != nil {
				return "", err
			}
			b, err := numberArg(input, "b")
			if err != nil {
				return "", err
			}
			v, err := op(a, b)
			if err != nil {
				return "", err
			}
			return formatNumber(v), nil
		}))
	}

	binary("add", "Add two numbers.", func(a, b float64) (float64, error) { return a + b, nil })
	binary("subtract", "Subtract b from a.", func(a, b float64) (float64, error) { return a - b, nil })
	binary("multiply", "Multiply two numbers.", func(a, b float64) (float64, error) { return a * b, nil })
	binary("divide", "Divide a by b.", func(a, b float64) (float64, error) {
		if b == 0 {
			return 0, ErrDivideByZero
		}
		return a / b, nil
	})

	r.Register(llm.ToolDefinition{
		Name:        "calculate",
		Description: "Evaluate an arithmetic expression such as (2 + 3) * 4 / 5.",
		InputSchema: objectSchema(map[string]any{
			"expression": stringProperty("Arithmetic expression."),
		}, "expression"),
	}, ExecutorFunc(calculate))

	r.Register(llm.ToolDefinition{
		Name:        "generate_random_number",
		Description: "Generate a random integer between min and max inclusive.",
		InputSchema: objectSchema(map[string]any{
			"min": integerProperty("Lower bound."),
			"max": integerProperty("Upper bound."),
		}, "min", "max"),
	}, ExecutorFunc(randomNumber))
}

func calculate(_ context.Context, input map[string]any) (string, error) {
	source := stringArg(input, "expression")
	if source == "" {
		return "", fmt.Errorf("argument %q is required", "expression")
	}
	program, err := expr.Compile(source, expr.AsFloat64())
	if err != nil {
		return "", fmt.Errorf("invalid expression: %w", err)
	}
	out, err := expr.Run(program, nil)
	if err != nil {
		return "", fmt.Errorf("evaluate expression: %w", err)
	}
	v, ok := out.(float64)
	if !ok {
		return "", fmt.Errorf("expression returned %T, expected a number", out)
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return "", ErrDivideByZero
	}
	return formatNumber(v), nil
}

func randomNumber(_ context.Context, input map[string]any) (string, error) {
	lo, err := numberArg(input, "min")
	if err != nil {
		return "", err
	}
	hi, err := numberArg(input, "max")
	if err != nil {
		return "", err
	}
	low, high := int64(math.Ceil(lo)), int64(math.Floor(hi))
	if low > high {
		return "", fmt.Errorf("min %d is greater than max %d", low, high)
	}
	return fmt.Sprintf("%d", low+rand.Int64N(high-low+1)), nil
}
