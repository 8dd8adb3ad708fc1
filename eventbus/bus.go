package eventbus

import (
	"sync"
	"time"

	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"
)

// DefaultTimeout is how long the bus waits for a listener to accept an event
const DefaultTimeout = 100 * time.Millisecond

// Event you can subscribe to
type Event struct {
	Name string
	At   time.Time
	Args interface{}
}

// NOOPHandler drops events on the floor without taking action
var NOOPHandler = Handler(func(_ Event) error { return nil })

// Handler wraps a function that will be called when an event is received
// In this mode the handler is quiet when an error is produced by the handler
// so the user of the eventbus needs to handle that error
func Handler(on func(Event) error) EventHandler {
	return &defaultHandler{
		on: on,
	}
}

type defaultHandler struct {
	on func(Event) error
}

// On event trigger
func (h *defaultHandler) On(event Event) error {
	return h.on(event)
}

func newSubscription(handler EventHandler, errorHandler func(error)) *eventSubscription {
	return &eventSubscription{
		handler: handler,
		onError: errorHandler,
		done:    make(chan struct{}),
	}
}

type eventSubscription struct {
	listener chan Event
	handler  EventHandler
	onError  func(error)
	done     chan struct{}
}

func (e *eventSubscription) Listen() {
	e.listener = make(chan Event)
	go func() {
		defer close(e.done)
		for evt := range e.listener {
			if err := e.handler.On(evt); err != nil {
				e.onError(err)
			}
		}
	}()
}

// Stop the listener and wait for the event in flight
func (e *eventSubscription) Stop() {
	close(e.listener)
	<-e.done
}

func (e *eventSubscription) Matches(handler EventHandler) bool {
	return e.handler == handler
}

// EventHandler deals with handling events
type EventHandler interface {
	On(Event) error
}

type filteredHandler struct {
	Next    EventHandler
	Matches EventPredicate
}

func (f *filteredHandler) On(evt Event) error {
	if !f.Matches(evt) {
		return nil
	}
	return f.Next.On(evt)
}

// EventPredicate for filtering events
type EventPredicate func(Event) bool

// Filtered composes an event handler with a filter
func Filtered(matches EventPredicate, next EventHandler) EventHandler {
	return &filteredHandler{
		Matches: matches,
		Next:    next,
	}
}

// EventBus does fanout to registered handlers.
// Every handler sees the events in the order they were published.
type EventBus interface {
	Close() error
	Publish(Event)
	Subscribe(...EventHandler)
	Unsubscribe(...EventHandler)
	Len() int
}

// Option to configure an event bus
type Option func(*defaultEventBus)

// Timeout after which an event is dropped for a listener that doesn't accept it
func Timeout(timeout time.Duration) Option {
	return func(e *defaultEventBus) {
		if timeout > 0 {
			e.timeout = timeout
		}
	}
}

// Instrument records the dispatch timings in the registry
func Instrument(registry metrics.Registry) Option {
	return func(e *defaultEventBus) {
		if registry != nil {
			e.registry = registry
		}
	}
}

// OnError replaces the default error handler, which logs handler errors
func OnError(handler func(error)) Option {
	return func(e *defaultEventBus) {
		if handler != nil {
			e.errorHandler = handler
		}
	}
}

// BufferSize of the publish queue
func BufferSize(size int) Option {
	return func(e *defaultEventBus) {
		if size >= 0 {
			e.buffer = size
		}
	}
}

type defaultEventBus struct {
	lock  *sync.RWMutex
	state sync.RWMutex

	channel      chan Event
	handlers     []*eventSubscription
	closing      chan chan struct{}
	closed       bool
	log          logrus.FieldLogger
	errorHandler func(error)
	timeout      time.Duration
	buffer       int
	registry     metrics.Registry
}

// New event bus with specified logger
func New(log logrus.FieldLogger, opts ...Option) EventBus {
	if log == nil {
		log = logrus.New().WithFields(nil)
	}
	e := &defaultEventBus{
		closing:  make(chan chan struct{}),
		log:      log,
		lock:     new(sync.RWMutex),
		timeout:  DefaultTimeout,
		buffer:   100,
		registry: metrics.DefaultRegistry,
	}
	e.errorHandler = func(err error) { e.log.Errorln(err) }
	for _, o := range opts {
		o(e)
	}
	e.channel = make(chan Event, e.buffer)
	go e.dispatcherLoop()
	return e
}

// NewWithTimeout creates a new eventbus with a timeout after which an event handler gets skipped
func NewWithTimeout(log logrus.FieldLogger, timeout time.Duration) EventBus {
	return New(log, Timeout(timeout))
}

func (e *defaultEventBus) dispatcherLoop() {
	timer := metrics.GetOrRegisterTimer("events.notify", e.registry)
	for {
		select {
		case evt := <-e.channel:
			timer.Time(func() { e.dispatch(evt) })
		case closed := <-e.closing:
		drain:
			for {
				select {
				case evt := <-e.channel:
					timer.Time(func() { e.dispatch(evt) })
				default:
					break drain
				}
			}
			e.lock.Lock()
			for _, h := range e.handlers {
				h.Stop()
			}
			e.handlers = nil
			e.lock.Unlock()

			close(closed)
			e.log.Debug("event bus closed")
			return
		}
	}
}

func (e *defaultEventBus) dispatch(evt Event) {
	e.lock.RLock()
	defer e.lock.RUnlock()

	noh := len(e.handlers)
	if noh == 0 {
		return
	}

	var wg sync.WaitGroup
	wg.Add(noh)
	for _, handler := range e.handlers {
		go func(listener chan<- Event) {
			defer wg.Done()
			timer := time.NewTimer(e.timeout)
			defer timer.Stop()
			select {
			case listener <- evt:
			case <-timer.C:
				e.log.Warnf("failed to send event %q to listener within %v", evt.Name, e.timeout)
			}
		}(handler.listener)
	}
	wg.Wait()
}

// Publish an event to all interested subscribers, events published after close are dropped
func (e *defaultEventBus) Publish(evt Event) {
	e.state.RLock()
	defer e.state.RUnlock()
	if e.closed {
		e.log.Warnf("dropping event %q, the event bus is closed", evt.Name)
		return
	}
	e.channel <- evt
}

// Subscribe to events published in the bus
func (e *defaultEventBus) Subscribe(handlers ...EventHandler) {
	e.lock.Lock()
	e.log.Debugf("adding %d listeners", len(handlers))
	for _, handler := range handlers {
		sub := newSubscription(handler, e.errorHandler)
		e.handlers = append(e.handlers, sub)
		sub.Listen()
	}
	e.lock.Unlock()
}

func (e *defaultEventBus) Unsubscribe(handlers ...EventHandler) {
	e.lock.Lock()
	defer e.lock.Unlock()
	if len(e.handlers) == 0 {
		return
	}
	e.log.Debugf("removing %d listeners", len(handlers))
	for _, h := range handlers {
		for i, handler := range e.handlers {
			if handler.Matches(h) {
				handler.Stop()
				e.handlers = append(e.handlers[:i], e.handlers[i+1:]...)
				break
			}
		}
	}
}

// Close delivers the queued events, then stops the listeners
func (e *defaultEventBus) Close() error {
	e.state.Lock()
	if e.closed {
		e.state.Unlock()
		return nil
	}
	e.closed = true
	e.state.Unlock()

	e.log.Debugf("closing eventbus")
	ch := make(chan struct{})
	e.closing <- ch
	<-ch
	return nil
}

func (e *defaultEventBus) Len() int {
	e.lock.RLock()
	sz := len(e.handlers)
	e.lock.RUnlock()
	return sz
}
