package operation

import (
	"fmt"

	"github.com/casualjim/railway/fault"
	"github.com/casualjim/railway/result"
)

// Responder dispatches a result to the handler for its outcome.
// Failures holding a *fault.Error go to the handler registered for their kind, other
// failures and kinds without a handler go to the Otherwise handler.
//
//	status := operation.Respond[any, int](res).
//		Success(func(any) int { return http.StatusCreated }).
//		Failure(fault.Validation, func(*fault.Error) int { return http.StatusUnprocessableEntity }).
//		Otherwise(func(error) int { return http.StatusInternalServerError }).
//		Do()
type Responder[T, U any] struct {
	res       result.Result[T]
	ok        func(T) U
	fails     map[fault.Kind]func(*fault.Error) U
	otherwise func(error) U
}

// Respond starts a responder for the result
func Respond[T, U any](res result.Result[T]) *Responder[T, U] {
	return &Responder[T, U]{res: res, fails: make(map[fault.Kind]func(*fault.Error) U)}
}

// Success handles the value of a success
func (r *Responder[T, U]) Success(fn func(T) U) *Responder[T, U] {
	r.ok = fn
	return r
}

// Failure handles failures of the kind
func (r *Responder[T, U]) Failure(kind fault.Kind, fn func(*fault.Error) U) *Responder[T, U] {
	r.fails[kind] = fn
	return r
}

// Otherwise handles the failures no kind handler matched
func (r *Responder[T, U]) Otherwise(fn func(error) U) *Responder[T, U] {
	r.otherwise = fn
	return r
}

// Do runs the matching handler and returns what it produced.
// A missing handler for the outcome panics.
func (r *Responder[T, U]) Do() U {
	if r.res.IsSuccess() {
		if r.ok == nil {
			panic("operation: responder has no success handler")
		}
		return r.ok(r.res.Value())
	}

	err := r.res.Err()
	if fe, ok := fault.From(err); ok {
		if fn, found := r.fails[fe.Kind]; found {
			return fn(fe)
		}
	}
	if r.otherwise == nil {
		panic(fmt.Sprintf("operation: responder has no handler for failure %v", err))
	}
	return r.otherwise(err)
}
