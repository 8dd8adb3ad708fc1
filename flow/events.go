package flow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/casualjim/railway/eventbus"
	"github.com/casualjim/railway/internal"
)

var statusKeyNames map[Status]string
var namedStatusKeys map[string]Status

func init() {
	statusKeyNames = map[Status]string{
		StatusUnknown:    "unknown",
		StatusSkipped:    "skipped",
		StatusProcessing: "processing",
		StatusCompleted:  "completed",
		StatusFailed:     "failed",
	}

	namedStatusKeys = make(map[string]Status, len(statusKeyNames))
	for k, v := range statusKeyNames {
		namedStatusKeys[v] = k
	}
}

// StatusFromString creates a step status from a string
func StatusFromString(name string) (Status, error) {
	if v, ok := namedStatusKeys[name]; ok {
		return v, nil
	}
	return StatusUnknown, fmt.Errorf("invalid step status %q", name)
}

// Status of a step in a running pipeline
type Status uint8

const (
	// StatusUnknown indicates the step is unknown
	StatusUnknown Status = iota
	// StatusSkipped indicates the step was not invoked because an earlier one failed
	StatusSkipped
	// StatusProcessing indicates the step is currently executing
	StatusProcessing
	// StatusCompleted indicates the step succeeded
	StatusCompleted
	// StatusFailed indicates the step produced a failure
	StatusFailed
)

func (s Status) String() string {
	return statusKeyNames[s]
}

// MarshalText renders this status to text
func (s Status) MarshalText() ([]byte, error) {
	return []byte(statusKeyNames[s]), nil
}

// UnmarshalText parses this status from text
func (s *Status) UnmarshalText(text []byte) error {
	st, err := StatusFromString(string(text))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

var actionKeyNames = map[Action]string{
	ActionRun:    "run",
	ActionReplay: "replay",
}

// Action tells whether a step ran inline or was replayed later by a runner
type Action uint8

const (
	// ActionRun is emitted for steps running as part of the pipeline
	ActionRun Action = iota
	// ActionReplay is emitted for steps a runner replays against a snapshot
	ActionReplay
)

func (a Action) String() string {
	return actionKeyNames[a]
}

// MarshalText renders this action to text
func (a Action) MarshalText() ([]byte, error) {
	return []byte(actionKeyNames[a]), nil
}

const (
	// TopicLifecycle is the event topic for step lifecycle events
	TopicLifecycle = "lifecycle"
	// TopicApplication is the event topic for application specific events
	TopicApplication = "application"
)

// A LifecycleEvent is emitted for every status change of a step
type LifecycleEvent struct {
	CallID string
	Action Action
	Status Status
	Name   string
	Parent string
	Reason error
}

// Path of the step: the parent path and the name joined by a dot
func (l LifecycleEvent) Path() string {
	if l.Parent == "" {
		return l.Name
	}
	return l.Parent + "." + l.Name
}

// A Publisher knows how to publish events, an eventbus.EventBus is one
type Publisher interface {
	Publish(eventbus.Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(eventbus.Event) {}

// SetPublisher on the context
func SetPublisher(ctx context.Context, pub Publisher) context.Context {
	return context.WithValue(ctx, internal.PublisherKey, pub)
}

// GetPublisher from the context, events are dropped when there is none
func GetPublisher(ctx context.Context) Publisher {
	pub, ok := ctx.Value(internal.PublisherKey).(Publisher)
	if !ok || pub == nil {
		return nopPublisher{}
	}
	return pub
}

// SetCallID on the context
func SetCallID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, internal.CallIDKey, id)
}

// CallID of the running operation call
func CallID(ctx context.Context) string {
	id, _ := ctx.Value(internal.CallIDKey).(string)
	return id
}

// PublishEvent publishes application specific events
func PublishEvent(ctx context.Context, args interface{}) {
	publish(ctx, TopicApplication, args)
}

func publishLifecycle(ctx context.Context, action Action, parent, name string, status Status, reason error) {
	publish(ctx, TopicLifecycle, LifecycleEvent{
		CallID: CallID(ctx),
		Action: action,
		Status: status,
		Name:   name,
		Parent: parent,
		Reason: reason,
	})
}

func publish(ctx context.Context, topic string, args interface{}) {
	GetPublisher(ctx).Publish(eventbus.Event{
		Name: topic,
		At:   time.Now(),
		Args: args,
	})
}

// IsLifecycleEvent returns true if this is a lifecycle event with the given status
func IsLifecycleEvent(evt eventbus.Event, status Status) bool {
	return LifecycleEventFilter(status)(evt)
}

// LifecycleEventFilter is an event filter that matches lifecycle events with a given status
func LifecycleEventFilter(status Status) eventbus.EventPredicate {
	return func(evt eventbus.Event) bool {
		if evt.Name != TopicLifecycle {
			return false
		}
		lce, ok := evt.Args.(LifecycleEvent)
		return ok && lce.Status == status
	}
}

// Recorder collects lifecycle events in the order they were published.
// It can be used directly as a Publisher or subscribed to an event bus.
type Recorder struct {
	m      sync.RWMutex
	events []LifecycleEvent
	status map[string]Status
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{status: make(map[string]Status)}
}

// Publish records lifecycle events and ignores everything else
func (r *Recorder) Publish(evt eventbus.Event) {
	_ = r.On(evt)
}

// On implements eventbus.EventHandler
func (r *Recorder) On(evt eventbus.Event) error {
	lce, ok := evt.Args.(LifecycleEvent)
	if !ok || evt.Name != TopicLifecycle {
		return nil
	}
	r.m.Lock()
	r.events = append(r.events, lce)
	r.status[lce.Path()] = lce.Status
	r.m.Unlock()
	return nil
}

// Events recorded so far
func (r *Recorder) Events() []LifecycleEvent {
	r.m.RLock()
	defer r.m.RUnlock()
	return append([]LifecycleEvent(nil), r.events...)
}

// Status is the last status seen for the step path
func (r *Recorder) Status(path string) (Status, bool) {
	r.m.RLock()
	st, ok := r.status[path]
	r.m.RUnlock()
	return st, ok
}

// Paths of the steps in the order they were first seen
func (r *Recorder) Paths() []string {
	r.m.RLock()
	defer r.m.RUnlock()
	seen := make(map[string]bool, len(r.status))
	var paths []string
	for _, e := range r.events {
		p := e.Path()
		if !seen[p] {
			seen[p] = true
			paths = append(paths, p)
		}
	}
	return paths
}
