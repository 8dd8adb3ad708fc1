// Package validation validates the input of an operation and stores the validated
// params on the state.
//
//	flow.Do(...),
//	validation.Validate[*CreateUser](validation.Map(validation.Rules{
//		"name":  "required",
//		"email": "omitempty,email",
//	})),
//
// A failing validation is a *fault.Error of kind validation, its details map every
// invalid field to its messages.
package validation

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/casualjim/railway/fault"
	"github.com/casualjim/railway/flow"
	"github.com/casualjim/railway/result"
	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
)

// Rules maps field names to validator tags
type Rules map[string]any

// A Contract checks an input and returns the params to keep, or the messages per field
// when the input is invalid.
type Contract interface {
	Check(ctx context.Context, input any) (params any, errs map[string][]string, err error)
}

var (
	defaultValidator     *validator.Validate
	defaultValidatorOnce sync.Once
)

// Validator used by contracts created without one, custom validations can be registered on it
func Validator() *validator.Validate {
	defaultValidatorOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name == "" {
				return fld.Name
			}
			return name
		})
		defaultValidator = v
	})
	return defaultValidator
}

// Map creates a contract for map inputs. The params only hold the keys the rules name.
func Map(rules Rules) Contract {
	return &mapContract{rules: rules, validate: Validator()}
}

// MapWith is Map using the given validator
func MapWith(v *validator.Validate, rules Rules) Contract {
	return &mapContract{rules: rules, validate: v}
}

type mapContract struct {
	rules    Rules
	validate *validator.Validate
}

func (m *mapContract) Check(ctx context.Context, input any) (any, map[string][]string, error) {
	data, err := toMap(input)
	if err != nil {
		return nil, map[string][]string{"input": {err.Error()}}, nil
	}

	invalid := m.validate.ValidateMapCtx(ctx, data, m.rules)
	if len(invalid) > 0 {
		errs := make(map[string][]string, len(invalid))
		collect(errs, "", invalid)
		return nil, errs, nil
	}

	params := make(map[string]any, len(m.rules))
	for k := range m.rules {
		if v, ok := data[k]; ok {
			params[k] = v
		}
	}
	return params, nil, nil
}

func collect(errs map[string][]string, prefix string, invalid map[string]any) {
	for field, e := range invalid {
		name := field
		if prefix != "" {
			name = prefix + "." + field
		}
		switch ve := e.(type) {
		case validator.ValidationErrors:
			for _, fe := range ve {
				errs[name] = append(errs[name], Message(fe))
			}
		case map[string]any:
			collect(errs, name, ve)
		case error:
			errs[name] = append(errs[name], ve.Error())
		}
	}
}

// Struct creates a contract that decodes the input into a T and validates its fields.
// The params are the decoded T.
func Struct[T any]() Contract {
	return &structContract[T]{validate: Validator()}
}

type structContract[T any] struct {
	validate *validator.Validate
}

func (s *structContract[T]) Check(ctx context.Context, input any) (any, map[string][]string, error) {
	var params T
	if typed, ok := input.(T); ok {
		params = typed
	} else {
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			TagName:          "json",
			Result:           &params,
			WeaklyTypedInput: true,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := dec.Decode(input); err != nil {
			return nil, map[string][]string{"input": {err.Error()}}, nil
		}
	}

	err := s.validate.StructCtx(ctx, params)
	if err == nil {
		return params, nil, nil
	}
	ve, ok := err.(validator.ValidationErrors)
	if !ok {
		return nil, nil, err
	}
	errs := make(map[string][]string)
	for _, fe := range ve {
		field := strings.SplitN(fe.Namespace(), ".", 2)
		name := field[len(field)-1]
		errs[name] = append(errs[name], Message(fe))
	}
	return nil, errs, nil
}

// Message renders a field error the way it is reported in the failure details
func Message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if", "required_unless", "required_with", "required_without":
		return "is missing"
	case "email":
		return "must be a valid email"
	case "min", "gte":
		if isSized(fe.Kind()) {
			return fmt.Sprintf("size cannot be less than %s", fe.Param())
		}
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "max", "lte":
		if isSized(fe.Kind()) {
			return fmt.Sprintf("size cannot be greater than %s", fe.Param())
		}
		return fmt.Sprintf("must be less than or equal to %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", strings.Join(strings.Fields(fe.Param()), ", "))
	}
	if fe.Param() != "" {
		return fmt.Sprintf("must satisfy %s=%s", fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("must satisfy %s", fe.Tag())
}

func isSized(k reflect.Kind) bool {
	switch k {
	case reflect.String, reflect.Slice, reflect.Map, reflect.Array:
		return true
	}
	return false
}

func toMap(input any) (map[string]any, error) {
	switch in := input.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return in, nil
	}
	var out map[string]any
	if err := mapstructure.Decode(input, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type optionsKey struct{}

// Options the step was wired with, custom validations registered with
// RegisterValidationCtx can read them from their context.
func Options(ctx context.Context) map[string]any {
	opts, _ := ctx.Value(optionsKey{}).(map[string]any)
	return opts
}

// ValidateWith checks the input against the contract, the options are made available to
// the validations through Options.
func ValidateWith(ctx context.Context, contract Contract, input any, opts map[string]any) result.Result[any] {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(opts) > 0 {
		ctx = context.WithValue(ctx, optionsKey{}, opts)
	}
	params, errs, err := contract.Check(ctx, input)
	if err != nil {
		return result.Failure[any](err)
	}
	if len(errs) > 0 {
		for _, msgs := range errs {
			sort.Strings(msgs)
		}
		return result.Failure[any](fault.New(fault.Validation, fault.Details(errs)))
	}
	return result.Success(params)
}

// StepOption configures the validation step
type StepOption func(*stepConfig)

type stepConfig struct {
	with map[string]string
}

// With passes state values to the validations: option name to state key
func With(mapping map[string]string) StepOption {
	return func(c *stepConfig) {
		for k, v := range mapping {
			c.with[k] = v
		}
	}
}

// AutoWire passes the state values for the keys under their own name
func AutoWire(keys ...string) StepOption {
	return func(c *stepConfig) {
		for _, k := range keys {
			c.with[k] = k
		}
	}
}

// Validate creates a step that validates the input of the call and stores the params
func Validate[O any](contract Contract, opts ...StepOption) flow.Step[O] {
	if contract == nil {
		panic("validation: contract not provided")
	}
	cfg := &stepConfig{with: make(map[string]string)}
	for _, o := range opts {
		o(cfg)
	}
	return flow.SetTo(flow.ParamsKey, flow.Named("validate", flow.Raw[O](func(ctx context.Context, st *flow.State, _ ...any) (any, error) {
		var wired map[string]any
		if len(cfg.with) > 0 {
			wired = make(map[string]any, len(cfg.with))
			for to, from := range cfg.with {
				wired[to] = st.Get(from)
			}
		}
		return ValidateWith(ctx, contract, st.Input(), wired), nil
	})))
}
