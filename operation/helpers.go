package operation

import (
	"reflect"

	"github.com/casualjim/railway/fault"
	"github.com/casualjim/railway/result"
)

// FailWith creates a failure holding a *fault.Error of the kind
func FailWith(kind fault.Kind, opts ...fault.Option) result.Result[any] {
	return result.Failure[any](fault.New(kind, opts...))
}

// WrapIfPresent is a success with the value unless it's absent, then it fails with
// kind not_found. Nil pointers, maps, slices and interfaces count as absent.
func WrapIfPresent(value any, opts ...fault.Option) result.Result[any] {
	return WrapIfPresentAs(fault.NotFound, value, opts...)
}

// WrapIfPresentAs is WrapIfPresent failing with the given kind
func WrapIfPresentAs(kind fault.Kind, value any, opts ...fault.Option) result.Result[any] {
	if IsAbsent(value) {
		return FailWith(kind, opts...)
	}
	return result.Success(value)
}

// IsAbsent is true for nil and typed nil values
func IsAbsent(value any) bool {
	if value == nil {
		return true
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
