// Package authorization fails a call with kind forbidden unless a policy accepts the
// subjects read from the state.
package authorization

import (
	"context"
	"fmt"

	"github.com/casualjim/railway"
	"github.com/casualjim/railway/fault"
	"github.com/casualjim/railway/flow"
	"github.com/casualjim/railway/result"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// An Authorizer decides whether the subjects may go through.
// Operations implement it to authorize with Authorize.
type Authorizer interface {
	Authorized(ctx context.Context, subjects ...any) bool
}

// Policy is a function that implements Authorizer
type Policy func(ctx context.Context, subjects ...any) bool

// Authorized implements Authorizer
func (p Policy) Authorized(ctx context.Context, subjects ...any) bool {
	return p(ctx, subjects...)
}

// Allow authorizes everything, it is used for operations that don't implement Authorizer
var Allow = Policy(func(context.Context, ...any) bool { return true })

// Expr compiles an expression into a policy. The expression sees the first subject as
// `subject`, all of them as `subjects` and the values of the env.
//
//	authorization.Expr(`subject.Role == "root"`, nil)
//
// A syntax error panics. An expression that fails to evaluate denies.
func Expr(expression string, env map[string]any) Policy {
	program, err := expr.Compile(expression, expr.AsBool(), expr.AllowUndefinedVariables())
	if err != nil {
		panic(fmt.Sprintf("authorization: compile policy %q: %v", expression, err))
	}
	return func(ctx context.Context, subjects ...any) bool {
		ok, err := evaluate(program, env, subjects)
		if err != nil {
			railway.ContextLogger(ctx).WithField("policy", expression).Warnf("policy failed to evaluate: %v", err)
			return false
		}
		return ok
	}
}

func evaluate(program *vm.Program, env map[string]any, subjects []any) (bool, error) {
	vars := make(map[string]any, len(env)+2)
	for k, v := range env {
		vars[k] = v
	}
	if len(subjects) > 0 {
		vars["subject"] = subjects[0]
	}
	vars["subjects"] = subjects

	out, err := expr.Run(program, vars)
	if err != nil {
		return false, err
	}
	ok, isBool := out.(bool)
	if !isBool {
		return false, fmt.Errorf("policy did not return bool (got %T)", out)
	}
	return ok, nil
}

// AuthorizeWith is a success holding the subjects when the authorizer accepts them, a
// single subject is unwrapped. Otherwise it fails with kind forbidden.
func AuthorizeWith(ctx context.Context, auth Authorizer, subjects ...any) result.Result[any] {
	if auth == nil {
		auth = Allow
	}
	if !auth.Authorized(ctx, subjects...) {
		return result.Failure[any](fault.New(fault.Forbidden))
	}
	if len(subjects) == 1 {
		return result.Success(subjects[0])
	}
	return result.Success[any](subjects)
}

// Authorize creates a step that authorizes with the operation itself. Operations that
// don't implement Authorizer authorize everything.
//
// The subjects are the state values at the using keys, the result key when none is given.
func Authorize[O any](using ...string) flow.Step[O] {
	return authorizeStep[O](nil, using)
}

// AuthorizeBy creates a step that authorizes with the given authorizer
func AuthorizeBy[O any](auth Authorizer, using ...string) flow.Step[O] {
	if auth == nil {
		panic("authorization: authorizer not provided")
	}
	return authorizeStep[O](auth, using)
}

func authorizeStep[O any](auth Authorizer, using []string) flow.Step[O] {
	return flow.Do(flow.Named("authorize", flow.Fn(func(op O, ctx context.Context, st *flow.State) (any, error) {
		a := auth
		if a == nil {
			a, _ = any(op).(Authorizer)
		}
		var subjects []any
		if len(using) == 0 {
			subjects = []any{st.Result()}
		} else {
			subjects = st.ValuesAt(using...)
		}
		return AuthorizeWith(ctx, a, subjects...), nil
	})))
}
