package authorization_test

import (
	"context"
	"testing"

	"github.com/casualjim/railway/fault"
	"github.com/casualjim/railway/flow"
	"github.com/casualjim/railway/plugins/authorization"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type user struct {
	Name string
	Role string
}

type guarded struct{ owner string }

func (g *guarded) Authorized(_ context.Context, subjects ...any) bool {
	u, ok := subjects[0].(*user)
	return ok && (u.Role == "root" || u.Name == g.owner)
}

type open struct{}

func run[O any](op O, values map[string]any, steps ...flow.Step[O]) *flowResult {
	st := flow.NewState(values, nil, flow.ResultKey("current_user"))
	res := flow.NewExecution(context.Background(), op, st).Run(steps...)
	return &flowResult{ok: res.IsSuccess(), err: res.Err()}
}

type flowResult struct {
	ok  bool
	err error
}

func TestAuthorize_WithOperation(t *testing.T) {
	op := &guarded{owner: "ana"}

	assert.True(t, run(op, map[string]any{"current_user": &user{Name: "paul", Role: "root"}},
		authorization.Authorize[*guarded]()).ok)
	assert.True(t, run(op, map[string]any{"current_user": &user{Name: "ana"}},
		authorization.Authorize[*guarded]()).ok)

	denied := run(op, map[string]any{"current_user": &user{Name: "paul"}},
		authorization.Authorize[*guarded]())
	assert.False(t, denied.ok)
	assert.True(t, fault.IsKind(denied.err, fault.Forbidden))
}

func TestAuthorize_UsingKeys(t *testing.T) {
	var seen []any
	policy := authorization.Policy(func(_ context.Context, subjects ...any) bool {
		seen = subjects
		return true
	})

	res := run(&open{}, map[string]any{"a": 1, "b": "two"}, authorization.AuthorizeBy[*open](policy, "a", "b"))
	require.True(t, res.ok)
	assert.Equal(t, []any{1, "two"}, seen)
}

func TestAuthorize_NotAnAuthorizer(t *testing.T) {
	assert.True(t, run(&open{}, nil, authorization.Authorize[*open]()).ok)
}

func TestAuthorizeWith(t *testing.T) {
	ctx := context.Background()

	res := authorization.AuthorizeWith(ctx, authorization.Allow, "one")
	assert.Equal(t, "one", res.Value())

	res = authorization.AuthorizeWith(ctx, nil, 1, 2)
	assert.Equal(t, []any{1, 2}, res.Value())

	deny := authorization.Policy(func(context.Context, ...any) bool { return false })
	res = authorization.AuthorizeWith(ctx, deny, "one")
	fe, ok := fault.From(res.Err())
	require.True(t, ok)
	assert.Equal(t, fault.Forbidden, fe.Kind)
	assert.Equal(t, "Forbidden", fe.Message)
}

func TestExpr(t *testing.T) {
	ctx := context.Background()
	policy := authorization.Expr(`subject.Role in roles || subject.Name == owner`, map[string]any{
		"roles": []string{"root", "admin"},
		"owner": "ana",
	})

	assert.True(t, policy.Authorized(ctx, &user{Name: "paul", Role: "admin"}))
	assert.True(t, policy.Authorized(ctx, &user{Name: "ana"}))
	assert.False(t, policy.Authorized(ctx, &user{Name: "paul", Role: "user"}))

	res := run(&open{}, map[string]any{"current_user": &user{Name: "zed"}}, authorization.AuthorizeBy[*open](policy))
	assert.True(t, fault.IsKind(res.err, fault.Forbidden))
}

func TestExpr_Failures(t *testing.T) {
	assert.Panics(t, func() { authorization.Expr(`subject.Role ==`, nil) })

	policy := authorization.Expr(`subject.Missing.Field == "x"`, nil)
	assert.False(t, policy.Authorized(context.Background(), map[string]any{}))

	assert.Panics(t, func() { authorization.AuthorizeBy[*open](nil) })
}
