package operation

import (
	"context"
	"fmt"
	"time"

	"github.com/casualjim/railway"
	"github.com/casualjim/railway/fault"
	"github.com/casualjim/railway/flow"
	"github.com/casualjim/railway/result"
	"github.com/rcrowley/go-metrics"
	"github.com/segmentio/ksuid"
	"github.com/sirupsen/logrus"
)

// Constructor builds an operation from its context
type Constructor[O Operation] func(ctx map[string]any) (O, error)

// Option represents a configuration option for an operation class
type Option func(*settings)

type settings struct {
	resultKey string
	log       logrus.FieldLogger
	pub       flow.Publisher
	registry  metrics.Registry
}

// ResultAt sets the state key read at the end of the pipeline
func ResultAt(key string) Option {
	return func(s *settings) {
		if key != "" {
			s.resultKey = key
		}
	}
}

// LogWith uses the logger for calls that don't carry one on their context
func LogWith(log logrus.FieldLogger) Option {
	return func(s *settings) { s.log = log }
}

// PublishTo sends the lifecycle events of every call to the publisher, an eventbus.EventBus
// for example
func PublishTo(pub flow.Publisher) Option {
	return func(s *settings) { s.pub = pub }
}

// Instrument records call timings and outcomes in the registry
func Instrument(registry metrics.Registry) Option {
	return func(s *settings) { s.registry = registry }
}

// Class is an operation type: how to build it, the steps it runs and where its result is.
//
// A class is configured once and then used read only, concurrent calls are safe.
type Class[O Operation] struct {
	name     string
	ctor     Constructor[O]
	steps    []flow.Step[O]
	declared bool
	settings
}

// New creates an operation class
func New[O Operation](name string, ctor Constructor[O], opts ...Option) *Class[O] {
	if ctor == nil {
		panic(fmt.Sprintf("operation %s: constructor not provided", name))
	}
	c := &Class[O]{
		name: name,
		ctor: ctor,
		settings: settings{
			resultKey: flow.DefaultResultKey,
			registry:  metrics.DefaultRegistry,
		},
	}
	for _, o := range opts {
		o(&c.settings)
	}
	return c
}

// Process declares the steps a call runs
func (c *Class[O]) Process(steps ...flow.Step[O]) *Class[O] {
	c.steps = steps
	c.declared = true
	return c
}

// Extend creates a class that inherits the constructor, the steps and the configuration
// of this one. Options given here override the inherited ones.
func (c *Class[O]) Extend(name string, opts ...Option) *Class[O] {
	child := &Class[O]{
		name:     name,
		ctor:     c.ctor,
		steps:    append([]flow.Step[O](nil), c.steps...),
		declared: c.declared,
		settings: c.settings,
	}
	for _, o := range opts {
		o(&child.settings)
	}
	return child
}

// Name of the class
func (c *Class[O]) Name() string { return c.name }

// ResultKey is the state key read at the end of the pipeline
func (c *Class[O]) ResultKey() string { return c.resultKey }

// Build an instance with the context
func (c *Class[O]) Build(opCtx map[string]any) (*Instance[O], error) {
	op, err := c.ctor(opCtx)
	if err != nil {
		return nil, err
	}
	return &Instance[O]{class: c, op: op}, nil
}

// Call builds an instance with the context and calls it with the input.
// A failure to build the operation is returned as the failure of the call.
func (c *Class[O]) Call(ctx context.Context, opCtx map[string]any, input any) result.Result[any] {
	inst, err := c.Build(opCtx)
	if err != nil {
		return result.Failure[any](err)
	}
	return inst.Call(ctx, input)
}

// Invoke runs the steps of this class for an operation built elsewhere
func (c *Class[O]) Invoke(ctx context.Context, op O, input any) result.Result[any] {
	if !c.declared {
		panic(fmt.Sprintf("operation %s: steps not declared, use Process", c.name))
	}
	if ctx == nil {
		ctx = context.Background()
	}

	callID := ksuid.New().String()
	log := c.logger(ctx).WithFields(logrus.Fields{"operation": c.name, "call_id": callID})
	ctx = railway.SetLogger(flow.SetCallID(ctx, callID), log)
	if c.pub != nil {
		ctx = flow.SetPublisher(ctx, c.pub)
	}

	st := flow.NewState(op.Context(), map[string]any{flow.InputKey: input}, flow.ResultKey(c.resultKey))

	log.Debug("call started")
	start := time.Now()
	res := result.Map(flow.NewExecution(ctx, op, st).Run(c.steps...), (*flow.State).Result)
	c.record(start, res)

	if res.IsFailure() {
		log.WithField("kind", fault.KindOf(res.Err())).Debugf("call failed: %v", res.Err())
	} else {
		log.Debug("call succeeded")
	}
	return res
}

func (c *Class[O]) logger(ctx context.Context) logrus.FieldLogger {
	if l := railway.ContextLogger(ctx); l != railway.NopLogger || c.log == nil {
		return l
	}
	return c.log
}

func (c *Class[O]) record(start time.Time, res result.Result[any]) {
	if c.registry == nil {
		return
	}
	metrics.GetOrRegisterTimer("operation."+c.name+".call", c.registry).UpdateSince(start)
	if res.IsSuccess() {
		metrics.GetOrRegisterCounter("operation."+c.name+".success", c.registry).Inc(1)
		return
	}
	kind := fault.KindOf(res.Err())
	if kind == "" {
		kind = "error"
	}
	metrics.GetOrRegisterCounter("operation."+c.name+".failure."+string(kind), c.registry).Inc(1)
}

// Instance is an operation bound to the class that runs it
type Instance[O Operation] struct {
	class *Class[O]
	op    O
}

// Bind an existing operation to a class
func Bind[O Operation](class *Class[O], op O) *Instance[O] {
	return &Instance[O]{class: class, op: op}
}

// Call runs the steps of the class with the input and returns the value at the result key
func (i *Instance[O]) Call(ctx context.Context, input any) result.Result[any] {
	return i.class.Invoke(ctx, i.op, input)
}

// Operation this instance runs steps for
func (i *Instance[O]) Operation() O { return i.op }

// Context of the operation
func (i *Instance[O]) Context() map[string]any { return i.op.Context() }

// ResultKey of the class
func (i *Instance[O]) ResultKey() string { return i.class.resultKey }
