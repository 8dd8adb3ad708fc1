package flow

import (
	"context"
	"fmt"

	"github.com/casualjim/railway"
	"github.com/casualjim/railway/fault"
	"github.com/casualjim/railway/result"
	"github.com/sirupsen/logrus"
)

// A Step consumes the accumulated result of the pipeline and produces the next one.
// Steps are only applied to a successful accumulator, the execution skips them once it
// holds a failure.
type Step[O any] interface {
	Name() string
	Apply(x *Execution[O], acc result.Result[*State]) result.Result[*State]
}

// Execution drives a result accumulator through a list of steps for one operation call.
//
// An execution is owned by a single call, it is not safe for concurrent use.
type Execution[O any] struct {
	ctx    context.Context
	op     O
	acc    result.Result[*State]
	path   string
	action Action
	log    logrus.FieldLogger
}

// NewExecution creates an execution for the operation starting from a successful state
func NewExecution[O any](ctx context.Context, op O, st *State) *Execution[O] {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Execution[O]{
		ctx:    ctx,
		op:     op,
		acc:    result.Success(st),
		action: ActionRun,
		log:    railway.ContextLogger(ctx),
	}
}

// Run the steps in order, once the accumulator is a failure the remaining steps are
// skipped. It returns the final accumulator.
func (x *Execution[O]) Run(steps ...Step[O]) result.Result[*State] {
	for _, step := range steps {
		name := step.Name()
		if x.acc.IsFailure() {
			publishLifecycle(x.ctx, x.action, x.path, name, StatusSkipped, nil)
			continue
		}

		publishLifecycle(x.ctx, x.action, x.path, name, StatusProcessing, nil)
		x.acc = step.Apply(x, x.acc)
		if x.acc.IsFailure() {
			x.log.WithFields(logrus.Fields{"step": joinPath(x.path, name), "kind": fault.KindOf(x.acc.Err())}).
				Debugf("step failed: %v", x.acc.Err())
			publishLifecycle(x.ctx, x.action, x.path, name, StatusFailed, x.acc.Err())
			continue
		}
		x.log.WithField("step", joinPath(x.path, name)).Debug("step completed")
		publishLifecycle(x.ctx, x.action, x.path, name, StatusCompleted, nil)
	}
	return x.acc
}

// Result is the current accumulator
func (x *Execution[O]) Result() result.Result[*State] { return x.acc }

// Operation this execution runs for
func (x *Execution[O]) Operation() O { return x.op }

// Context of this execution
func (x *Execution[O]) Context() context.Context { return x.ctx }

// Logger of this execution
func (x *Execution[O]) Logger() logrus.FieldLogger { return x.log }

func (x *Execution[O]) fork(ctx context.Context, st *State, name string, action Action) *Execution[O] {
	if ctx == nil {
		ctx = x.ctx
	}
	return &Execution[O]{
		ctx:    ctx,
		op:     x.op,
		acc:    result.Success(st),
		path:   joinPath(x.path, name),
		action: action,
		log:    railway.ContextLogger(ctx),
	}
}

func (x *Execution[O]) call(c Callable[O], st *State, args []any) result.Result[any] {
	return result.From(c.invoke(x, st, args))
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}

// Do runs the callable for its side effects: a failure stops the pipeline, any other
// value is dropped and the state stays as it was.
func Do[O any](c Callable[O], args ...any) Step[O] {
	checkArgs(c, args)
	return &doStep[O]{c: c, args: args}
}

type doStep[O any] struct {
	c    Callable[O]
	args []any
}

func (d *doStep[O]) Name() string { return d.c.String() }

func (d *doStep[O]) Apply(x *Execution[O], acc result.Result[*State]) result.Result[*State] {
	return result.Tap(acc, func(st *State) result.Result[any] {
		return x.call(d.c, st, d.args)
	})
}

// Set stores the value the callable returns at the result key of the state
func Set[O any](c Callable[O], args ...any) Step[O] {
	return SetTo("", c, args...)
}

// SetTo stores the value the callable returns at the given key of the state
func SetTo[O any](key string, c Callable[O], args ...any) Step[O] {
	checkArgs(c, args)
	return &setStep[O]{to: key, c: c, args: args}
}

type setStep[O any] struct {
	to   string
	c    Callable[O]
	args []any
}

func (s *setStep[O]) Name() string { return s.c.String() }

func (s *setStep[O]) Apply(x *Execution[O], acc result.Result[*State]) result.Result[*State] {
	return result.FlatMap(acc, func(st *State) result.Result[*State] {
		return result.Map(x.call(s.c, st, s.args), func(v any) *State {
			to := s.to
			if to == "" {
				to = st.ResultKey()
			}
			return st.Set(to, v)
		})
	})
}

// Map replaces the whole state with the one the callable returns
func Map[O any](c Callable[O], args ...any) Step[O] {
	checkArgs(c, args)
	return &mapStep[O]{c: c, args: args}
}

type mapStep[O any] struct {
	c    Callable[O]
	args []any
}

func (m *mapStep[O]) Name() string { return m.c.String() }

func (m *mapStep[O]) Apply(x *Execution[O], acc result.Result[*State]) result.Result[*State] {
	return result.FlatMap(acc, func(st *State) result.Result[*State] {
		return result.Map(x.call(m.c, st, m.args), func(v any) *State {
			next, ok := v.(*State)
			if !ok || next == nil {
				panic(fmt.Sprintf("flow: map step %s must return a *flow.State, got %T", m.c, v))
			}
			return next
		})
	})
}

// Strategy decides whether and when the nested steps of Around run.
// What it returns becomes the accumulator of the enclosing pipeline.
type Strategy[O any] func(ctx context.Context, run *Runner[O], st *State) result.Result[*State]

// StrategyMethod resolves a strategy by name on the operation when the step runs.
// The method gets the runner as its only extra argument and may return nil (state
// unchanged), a *State or a result.
func StrategyMethod[O any](name string) Strategy[O] {
	m := Method[O](name).(methodCallable[O])
	return func(ctx context.Context, run *Runner[O], st *State) result.Result[*State] {
		v, err := m.resolve(run.Operation())(ctx, st, run)
		return asState(st, result.From(v, err))
	}
}

func asState(current *State, r result.Result[any]) result.Result[*State] {
	return result.FlatMap(r, func(v any) result.Result[*State] {
		switch s := v.(type) {
		case nil:
			return result.Success(current)
		case *State:
			return result.Success(s)
		}
		panic(fmt.Sprintf("flow: strategy must return a *flow.State or nothing, got %T", v))
	})
}

// Around wraps the nested steps in an execution strategy. The strategy gets a runner for
// the steps and the current state, it is not invoked when the accumulator is a failure.
func Around[O any](strategy Strategy[O], steps ...Step[O]) Step[O] {
	return AroundNamed("around", strategy, steps...)
}

// Sequence is an alias of Around
func Sequence[O any](strategy Strategy[O], steps ...Step[O]) Step[O] {
	return Around(strategy, steps...)
}

// AroundNamed is Around with a name used in events and logs
func AroundNamed[O any](name string, strategy Strategy[O], steps ...Step[O]) Step[O] {
	if strategy == nil {
		panic("flow: execution strategy not provided")
	}
	return &aroundStep[O]{name: name, strategy: strategy, steps: steps}
}

type aroundStep[O any] struct {
	name     string
	strategy Strategy[O]
	steps    []Step[O]
}

func (a *aroundStep[O]) Name() string { return a.name }

func (a *aroundStep[O]) Apply(x *Execution[O], acc result.Result[*State]) result.Result[*State] {
	return result.FlatMap(acc, func(st *State) result.Result[*State] {
		run := &Runner[O]{parent: x, name: a.name, steps: a.steps, state: st}
		return a.strategy(x.ctx, run, st)
	})
}

// IfTrue runs the nested steps only when the condition is truthy for the current state
func IfTrue[O any](cond Callable[O], steps ...Step[O]) Step[O] {
	checkArgs(cond, nil)
	return AroundNamed("if("+cond.String()+")", conditional(cond), steps...)
}

// Guard is an alias of IfTrue
func Guard[O any](cond Callable[O], steps ...Step[O]) Step[O] {
	return IfTrue(cond, steps...)
}

// IfFalse runs the nested steps only when the condition is falsy for the current state
func IfFalse[O any](cond Callable[O], steps ...Step[O]) Step[O] {
	checkArgs(cond, nil)
	return IfTrue(Not(cond), steps...)
}

func conditional[O any](cond Callable[O]) Strategy[O] {
	return func(ctx context.Context, run *Runner[O], st *State) result.Result[*State] {
		return result.FlatMap(run.parent.call(cond, st, nil), func(v any) result.Result[*State] {
			if Truthy(v) {
				return run.Run(ctx)
			}
			return result.Success(st)
		})
	}
}

// Runner replays the nested steps of an Around. It stays valid after the enclosing
// pipeline finished, so strategies can defer it, run it more than once or not at all.
type Runner[O any] struct {
	parent *Execution[O]
	name   string
	steps  []Step[O]
	state  *State
}

// Run the nested steps against the state the runner was created with
func (r *Runner[O]) Run(ctx context.Context) result.Result[*State] {
	return r.parent.fork(ctx, r.state, r.name, r.parent.action).Run(r.steps...)
}

// RunWith runs the nested steps as a fresh evaluation against the given state
func (r *Runner[O]) RunWith(ctx context.Context, st *State) result.Result[*State] {
	return r.parent.fork(ctx, st, r.name, ActionReplay).Run(r.steps...)
}

// State the runner was created with
func (r *Runner[O]) State() *State { return r.state }

// Snapshot is a private copy of the state the runner was created with
func (r *Runner[O]) Snapshot() *State { return r.state.Clone() }

// Operation the runner executes steps for
func (r *Runner[O]) Operation() O { return r.parent.op }

// Logger of the execution that created the runner
func (r *Runner[O]) Logger() logrus.FieldLogger { return r.parent.log }
