package operation

import (
	"fmt"
	"maps"

	"github.com/go-viper/mapstructure/v2"
)

const contextTag = "context"

// Operation is what a Class builds and runs steps for.
// Its context is merged into the initial state of every call.
type Operation interface {
	Context() map[string]any
}

// MissingKeyError is returned when a required context key was not provided
type MissingKeyError struct {
	Key string
}

func (m *MissingKeyError) Error() string {
	return fmt.Sprintf("%s was not found in scope", m.Key)
}

// A Declaration describes a context key an operation accepts
type Declaration struct {
	keys     []string
	required bool
	dflt     any
}

// Require declares context keys that must be given a non nil value
func Require(keys ...string) Declaration {
	return Declaration{keys: keys, required: true}
}

// Optional declares a context key with the value used when it's missing or nil
func Optional(key string, dflt any) Declaration {
	return Declaration{keys: []string{key}, dflt: dflt}
}

// Base carries the context of an operation, embed it to implement Operation.
//
//	type CreateUser struct {
//		operation.Base
//		Repo Repository `context:"repo"`
//	}
//
//	func NewCreateUser(ctx map[string]any) (*CreateUser, error) {
//		op := new(CreateUser)
//		if err := op.Init(ctx, operation.Require("repo"), operation.Optional("notify", false)); err != nil {
//			return nil, err
//		}
//		return op, op.Bind(op)
//	}
type Base struct {
	context map[string]any
}

// Init stores the context. Without declarations the whole map is kept, otherwise only
// the declared keys are.
func (b *Base) Init(ctx map[string]any, decls ...Declaration) error {
	if len(decls) == 0 {
		b.context = maps.Clone(ctx)
		if b.context == nil {
			b.context = make(map[string]any)
		}
		return nil
	}

	local := make(map[string]any)
	for _, d := range decls {
		for _, k := range d.keys {
			v := ctx[k]
			if v == nil {
				v = d.dflt
			}
			if v == nil && d.required {
				return &MissingKeyError{Key: k}
			}
			local[k] = v
		}
	}
	b.context = local
	return nil
}

// Context is a copy of the context of this operation
func (b *Base) Context() map[string]any {
	return maps.Clone(b.context)
}

// Get a value from the context
func (b *Base) Get(key string) any {
	return b.context[key]
}

// Bind decodes the context into the fields of target tagged with `context:"key"`.
// Interface fields receive the value as is, struct and pointer fields get a copy.
func (b *Base) Bind(target any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: contextTag,
		Result:  target,
		Squash:  true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(b.context)
}
