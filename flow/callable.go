package flow

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"strings"

	"github.com/casualjim/railway/result"
)

// Func is an inline step evaluated with the operation as receiver.
// Method expressions fit it too: flow.Fn((*CreateUser).validate)
type Func[O any] func(op O, ctx context.Context, st *State) (any, error)

// MethodFunc is the shape of steps resolved by name or used verbatim.
// The extra arguments are the ones given when the step was declared.
type MethodFunc func(ctx context.Context, st *State, args ...any) (any, error)

// Dispatcher is implemented by operations that expose steps by name
type Dispatcher interface {
	Method(name string) (MethodFunc, bool)
}

// Callable is the unit of logic a step invokes.
//
// There are three variants: Fn (a closure bound to the operation), Method (a name looked up
// on the operation when the step runs) and Raw (a function used as is).
type Callable[O any] interface {
	fmt.Stringer
	invoke(x *Execution[O], st *State, args []any) (any, error)
	takesArgs() bool
}

// Fn creates a callable from a closure or method expression bound to the operation
func Fn[O any](fn Func[O]) Callable[O] {
	if fn == nil {
		panic("flow: next step not provided")
	}
	return &fnCallable[O]{fn: fn, name: funcName(fn)}
}

type fnCallable[O any] struct {
	fn   Func[O]
	name string
}

func (f *fnCallable[O]) invoke(x *Execution[O], st *State, _ []any) (any, error) {
	return f.fn(x.op, x.ctx, st)
}

func (f *fnCallable[O]) takesArgs() bool { return false }
func (f *fnCallable[O]) String() string  { return f.name }

// Method creates a callable resolved by name on the operation each time the step runs.
// The operation must implement Dispatcher, an unknown name panics.
func Method[O any](name string) Callable[O] {
	if name == "" {
		panic("flow: next step not provided")
	}
	return methodCallable[O](name)
}

type methodCallable[O any] string

func (m methodCallable[O]) invoke(x *Execution[O], st *State, args []any) (any, error) {
	return m.resolve(x.op)(x.ctx, st, args...)
}

func (m methodCallable[O]) resolve(op O) MethodFunc {
	d, ok := any(op).(Dispatcher)
	if !ok {
		panic(fmt.Sprintf("flow: %T can't resolve step %q, it doesn't implement flow.Dispatcher", op, string(m)))
	}
	fn, ok := d.Method(string(m))
	if !ok || fn == nil {
		panic(fmt.Sprintf("flow: undefined step method %q for %T", string(m), op))
	}
	return fn
}

func (m methodCallable[O]) takesArgs() bool { return true }
func (m methodCallable[O]) String() string  { return string(m) }

// Raw uses a function verbatim, it doesn't see the operation
func Raw[O any](fn MethodFunc) Callable[O] {
	if fn == nil {
		panic("flow: next step not provided")
	}
	return &rawCallable[O]{fn: fn, name: funcName(fn)}
}

type rawCallable[O any] struct {
	fn   MethodFunc
	name string
}

func (r *rawCallable[O]) invoke(x *Execution[O], st *State, args []any) (any, error) {
	return r.fn(x.ctx, st, args...)
}

func (r *rawCallable[O]) takesArgs() bool { return true }
func (r *rawCallable[O]) String() string  { return r.name }

// Uses creates a callable that projects state keys into fn, see State.Use.
// The shape of fn is checked here so a malformed projection panics on declaration.
func Uses[O any](fn any, names ...string) Callable[O] {
	p, err := projectionFor(fn, names)
	if err != nil {
		panic(err)
	}
	return &useCallable[O]{p: p, name: funcName(fn)}
}

type useCallable[O any] struct {
	p    *projection
	name string
}

func (u *useCallable[O]) invoke(_ *Execution[O], st *State, _ []any) (any, error) {
	return u.p.call(st)
}

func (u *useCallable[O]) takesArgs() bool { return false }
func (u *useCallable[O]) String() string  { return u.name }

// Named gives the callable the name used in logs and lifecycle events
func Named[O any](name string, c Callable[O]) Callable[O] {
	checkArgs(c, nil)
	return &namedCallable[O]{Callable: c, name: name}
}

type namedCallable[O any] struct {
	Callable[O]
	name string
}

func (n *namedCallable[O]) String() string { return n.name }

// Not negates the truthiness of what the callable returns, it is invoked once.
// A returned result is unwrapped first and its failure is passed along.
func Not[O any](c Callable[O]) Callable[O] {
	return &notCallable[O]{c: c}
}

type notCallable[O any] struct {
	c Callable[O]
}

func (n *notCallable[O]) invoke(x *Execution[O], st *State, args []any) (any, error) {
	v, err := result.From(n.c.invoke(x, st, args)).Unwrap()
	if err != nil {
		return nil, err
	}
	return !Truthy(v), nil
}

func (n *notCallable[O]) takesArgs() bool { return n.c.takesArgs() }
func (n *notCallable[O]) String() string  { return "!" + n.c.String() }

// Truthy is false for nil and false, true for anything else
func Truthy(v any) bool {
	switch b := v.(type) {
	case nil:
		return false
	case bool:
		return b
	}
	return true
}

func checkArgs[O any](c Callable[O], args []any) {
	if c == nil {
		panic("flow: next step not provided")
	}
	if len(args) > 0 && !c.takesArgs() {
		panic(fmt.Sprintf("flow: step %s doesn't take extra arguments, bind them in the closure", c))
	}
}

func funcName(fn any) string {
	rf := runtime.FuncForPC(reflect.ValueOf(fn).Pointer())
	if rf == nil {
		return "<func>"
	}
	name := rf.Name()
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.Index(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return strings.TrimSuffix(name, "-fm")
}
