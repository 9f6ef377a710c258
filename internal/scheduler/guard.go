package scheduler

import (
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
)

// Signals is one sample of the host state
type Signals struct {
	Idle            time.Duration `json:"idle"`
	DiskFreePercent float64       `json:"disk_free_percent"`
	OnACPower       bool          `json:"on_ac_power"`
	At              time.Time     `json:"at"`
}

type guard struct {
	program cel.Program
}

func compileGuard(expr string) (*guard, error) {
	env, err := cel.NewEnv(
		cel.Variable("idle_seconds", cel.IntType),
		cel.Variable("disk_free_percent", cel.DoubleType),
		cel.Variable("on_ac_power", cel.BoolType),
		cel.Variable("hour", cel.IntType),
		cel.Variable("weekday", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile guard expression: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("guard expression must return a boolean, got %v", ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}
	return &guard{program: program}, nil
}

// allows evaluates the guard. weekday counts from Sunday = 0.
func (g *guard) allows(s Signals) (bool, error) {
	out, _, err := g.program.Eval(map[string]interface{}{
		"idle_seconds":      int64(s.Idle / time.Second),
		"disk_free_percent": s.DiskFreePercent,
		"on_ac_power":       s.OnACPower,
		"hour":              int64(s.At.Hour()),
		"weekday":           int64(s.At.Weekday()),
	})
	if err != nil {
		return false, err
	}
	ok, isBool := out.Value().(bool)
	if !isBool {
		return false, fmt.Errorf("guard returned %T", out.Value())
	}
	return ok, nil
}
