package flow

import (
	"context"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// When creates a condition from an expression evaluated against the state values.
//
//	flow.IfTrue(flow.When[*CreateUser](`params.admin && len(roles) > 0`), ...)
//
// The expression is compiled once, a syntax error panics. It must evaluate to a bool.
func When[O any](expression string) Callable[O] {
	program, err := expr.Compile(expression, expr.AsBool(), expr.AllowUndefinedVariables())
	if err != nil {
		panic(fmt.Sprintf("flow: compile condition %q: %v", expression, err))
	}
	return &exprCallable[O]{source: expression, program: program}
}

type exprCallable[O any] struct {
	source  string
	program *vm.Program
}

func (e *exprCallable[O]) invoke(_ *Execution[O], st *State, _ []any) (any, error) {
	ok, err := Eval(e.program, st)
	if err != nil {
		return nil, fmt.Errorf("condition %q: %w", e.source, err)
	}
	return ok, nil
}

func (e *exprCallable[O]) takesArgs() bool { return false }
func (e *exprCallable[O]) String() string  { return e.source }

// Eval runs a compiled boolean expression against the state values
func Eval(program *vm.Program, st *State) (bool, error) {
	out, err := expr.Run(program, st.ToMap())
	if err != nil {
		return false, err
	}
	ok, isBool := out.(bool)
	if !isBool {
		return false, fmt.Errorf("did not return bool (got %T)", out)
	}
	return ok, nil
}

// Predicate adapts a plain function over the context and state into a condition
func Predicate[O any](fn func(context.Context, *State) bool) Callable[O] {
	if fn == nil {
		panic("flow: next step not provided")
	}
	return &predicateCallable[O]{fn: fn, name: funcName(fn)}
}

type predicateCallable[O any] struct {
	fn   func(context.Context, *State) bool
	name string
}

func (p *predicateCallable[O]) invoke(x *Execution[O], st *State, _ []any) (any, error) {
	return p.fn(x.ctx, st), nil
}

func (p *predicateCallable[O]) takesArgs() bool { return false }
func (p *predicateCallable[O]) String() string  { return p.name }
