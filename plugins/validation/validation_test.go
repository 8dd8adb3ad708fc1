package validation_test

import (
	"context"
	"testing"

	"github.com/casualjim/railway/fault"
	"github.com/casualjim/railway/flow"
	"github.com/casualjim/railway/plugins/validation"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var signupRules = validation.Rules{
	"name":  "required",
	"email": "omitempty,email",
}

func TestValidateWith_Map(t *testing.T) {
	res := validation.ValidateWith(context.Background(), validation.Map(signupRules),
		map[string]any{"name": "Paul Smith", "email": "paul@example.com", "extra": true}, nil)
	require.True(t, res.IsSuccess(), res.String())
	assert.Equal(t, map[string]any{"name": "Paul Smith", "email": "paul@example.com"}, res.Value())
}

func TestValidateWith_MapFailure(t *testing.T) {
	res := validation.ValidateWith(context.Background(), validation.Map(signupRules),
		map[string]any{"email": "nope"}, nil)
	require.True(t, res.IsFailure())

	fe, ok := fault.From(res.Err())
	require.True(t, ok)
	assert.Equal(t, fault.Validation, fe.Kind)
	details, ok := fe.FieldErrors()
	require.True(t, ok)
	assert.Equal(t, map[string][]string{
		"name":  {"is missing"},
		"email": {"must be a valid email"},
	}, details)
}

type signup struct {
	Name string `json:"name" validate:"required"`
	Age  int    `json:"age" validate:"gte=18"`
	Role string `json:"role" validate:"omitempty,oneof=user root"`
}

func TestValidateWith_Struct(t *testing.T) {
	res := validation.ValidateWith(context.Background(), validation.Struct[signup](),
		map[string]any{"name": "Paul", "age": "40"}, nil)
	require.True(t, res.IsSuccess(), res.String())
	assert.Equal(t, signup{Name: "Paul", Age: 40}, res.Value())

	res = validation.ValidateWith(context.Background(), validation.Struct[signup](), signup{Age: 12, Role: "admin"}, nil)
	fe, ok := fault.From(res.Err())
	require.True(t, ok)
	details, _ := fe.FieldErrors()
	assert.Equal(t, map[string][]string{
		"name": {"is missing"},
		"age":  {"must be greater than or equal to 18"},
		"role": {"must be one of: user, root"},
	}, details)
}

func TestValidateWith_UndecodableInput(t *testing.T) {
	res := validation.ValidateWith(context.Background(), validation.Struct[signup](), "not a map", nil)
	assert.Equal(t, fault.Validation, fault.KindOf(res.Err()))
}

func TestValidate_Step(t *testing.T) {
	type op struct{}
	st := flow.NewState(nil, map[string]any{flow.InputKey: map[string]any{"name": "Paul"}})
	res := flow.NewExecution(context.Background(), &op{}, st).Run(
		validation.Validate[*op](validation.Map(signupRules)),
	)
	require.True(t, res.IsSuccess(), res.String())
	assert.Equal(t, map[string]any{"name": "Paul"}, res.Value().Get(flow.ParamsKey))
}

func TestValidate_AutoWire(t *testing.T) {
	v := validator.New()
	require.NoError(t, v.RegisterValidationCtx("is_owner", func(ctx context.Context, fl validator.FieldLevel) bool {
		return validation.Options(ctx)["owner"] == fl.Field().String()
	}))
	contract := validation.MapWith(v, validation.Rules{"owner": "required,is_owner"})

	type op struct{}
	run := func(owner string, opts ...validation.StepOption) bool {
		st := flow.NewState(map[string]any{"owner": "paul", "current": "paul"}, map[string]any{flow.InputKey: map[string]any{"owner": owner}})
		return flow.NewExecution(context.Background(), &op{}, st).Run(validation.Validate[*op](contract, opts...)).IsSuccess()
	}

	assert.True(t, run("paul", validation.AutoWire("owner")))
	assert.False(t, run("ana", validation.AutoWire("owner")))
	assert.True(t, run("paul", validation.With(map[string]string{"owner": "current"})))
	assert.False(t, run("paul"))
}

func TestValidate_NeedsContract(t *testing.T) {
	assert.Panics(t, func() { validation.Validate[any](nil) })
}
