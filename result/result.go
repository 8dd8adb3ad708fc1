// Package result provides the two variant Success/Failure type the step engine threads
// through a pipeline.
//
// A Result short-circuits: once it is a Failure, Then and Tee return it unchanged and
// never invoke the continuation.
//
//	r := result.Success(2).
//		Then(func(v int) result.Result[int] { return result.Success(v * 21) })
//	v, err := r.Unwrap() // 42, nil
package result

import (
	"errors"
	"fmt"
	"reflect"
)

// ErrNilFailure is the error carried by a Failure that was constructed without one
var ErrNilFailure = errors.New("result: failure without an error")

// Result is either a Success holding a value or a Failure holding an error.
// The zero value is a Failure carrying ErrNilFailure, use Success or Failure to
// construct one.
type Result[T any] struct {
	value T
	err   error
	ok    bool
}

// Success wraps a value
func Success[T any](value T) Result[T] {
	return Result[T]{value: value, ok: true}
}

// Failure wraps an error
func Failure[T any](err error) Result[T] {
	if err == nil {
		err = ErrNilFailure
	}
	return Result[T]{err: err}
}

// Of normalizes a value into a result: results are passed along unchanged (converted to
// Result[any]), anything else becomes a Success.
func Of(x any) Result[any] {
	if l, ok := x.(lifter); ok {
		return l.lift()
	}
	return Success(x)
}

// From converts a conventional (value, error) pair. A non-nil error wins, otherwise the
// value is normalized with Of.
func From(value any, err error) Result[any] {
	if err != nil {
		return Failure[any](err)
	}
	return Of(value)
}

type lifter interface {
	lift() Result[any]
}

func (r Result[T]) lift() Result[any] {
	if r.ok {
		return Success[any](r.value)
	}
	return Failure[any](r.Err())
}

// IsSuccess is true for a Success
func (r Result[T]) IsSuccess() bool { return r.ok }

// IsFailure is true for a Failure
func (r Result[T]) IsFailure() bool { return !r.ok }

// Value of a Success, the zero value for a Failure
func (r Result[T]) Value() T { return r.value }

// Err of a Failure, nil for a Success
func (r Result[T]) Err() error {
	if !r.ok && r.err == nil {
		return ErrNilFailure
	}
	return r.err
}

// Unwrap to the conventional (value, error) pair
func (r Result[T]) Unwrap() (T, error) {
	if r.ok {
		return r.value, nil
	}
	var zero T
	return zero, r.Err()
}

// Then applies fn to the value of a Success and returns what it produced.
// A Failure is returned as is and fn is never called.
func (r Result[T]) Then(fn func(T) Result[T]) Result[T] {
	if !r.ok {
		return r
	}
	return fn(r.value)
}

// Tee runs fn for its side effects. When fn fails that failure is returned, otherwise the
// original result is, whatever fn returned.
func (r Result[T]) Tee(fn func(T) Result[T]) Result[T] {
	return Tap(r, fn)
}

// Equal is true when both results are the same variant with deeply equal contents
func (r Result[T]) Equal(other Result[T]) bool {
	if r.ok != other.ok {
		return false
	}
	if r.ok {
		return reflect.DeepEqual(r.value, other.value)
	}
	return reflect.DeepEqual(r.Err(), other.Err())
}

func (r Result[T]) String() string {
	if r.ok {
		return fmt.Sprintf("Success(%v)", r.value)
	}
	return fmt.Sprintf("Failure(%v)", r.Err())
}

// FlatMap is Then across value types
func FlatMap[T, U any](r Result[T], fn func(T) Result[U]) Result[U] {
	if !r.ok {
		return Failure[U](r.Err())
	}
	return fn(r.value)
}

// Map transforms the value of a Success with a function that can't fail
func Map[T, U any](r Result[T], fn func(T) U) Result[U] {
	if !r.ok {
		return Failure[U](r.Err())
	}
	return Success(fn(r.value))
}

// Tap is Tee across value types: the value fn produces is dropped, its failure is not.
func Tap[T, U any](r Result[T], fn func(T) Result[U]) Result[T] {
	if !r.ok {
		return r
	}
	if follow := fn(r.value); !follow.ok {
		return Failure[T](follow.err)
	}
	return r
}

// Match folds a result into a single value
func Match[T, U any](r Result[T], onSuccess func(T) U, onFailure func(error) U) U {
	if r.ok {
		return onSuccess(r.value)
	}
	return onFailure(r.Err())
}
