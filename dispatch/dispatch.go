// Package dispatch routes in-process commands to their single handler and
// notifications to every subscriber.
//
// Handlers are keyed by the Go type of the message. They are registered
// explicitly through Registration lists during assembly; once the dispatcher
// is sealed the handler set is fixed for the lifetime of the process.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"snap/metrics"
	"snap/util/goroutine"

	"go.uber.org/zap"
)

var (
	ErrNoHandler        = errors.New("no handler registered")
	ErrDuplicateHandler = errors.New("handler already registered")
	ErrSealed           = errors.New("dispatcher is sealed")
	ErrResponseType     = errors.New("handler returned unexpected response type")
)

// HandlerFunc handles a request and produces a response
type HandlerFunc[Req, Resp any] func(ctx context.Context, req Req) (Resp, error)

// NotificationFunc reacts to a published notification
type NotificationFunc[N any] func(ctx context.Context, n N) error

// Registration adds one or more handlers to a dispatcher
type Registration func(d *Dispatcher) error

type requestHandler func(ctx context.Context, req any) (any, error)

type subscriber struct {
	name string
	fn   func(ctx context.Context, n any) error
}

// Dispatcher holds the handler tables
type Dispatcher struct {
	mu          sync.RWMutex
	handlers    map[reflect.Type]requestHandler
	subscribers map[reflect.Type][]subscriber
	sealed      bool

	inflight sync.WaitGroup
	logger   *zap.SugaredLogger
}

// New creates an empty dispatcher
func New(logger *zap.SugaredLogger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Dispatcher{
		handlers:    make(map[reflect.Type]requestHandler),
		subscribers: make(map[reflect.Type][]subscriber),
		logger:      logger,
	}
}

// Apply runs registrations in order and stops at the first error
func (d *Dispatcher) Apply(regs ...Registration) error {
	for _, reg := range regs {
		if err := reg(d); err != nil {
			return err
		}
	}
	return nil
}

// Seal rejects further registrations
func (d *Dispatcher) Seal() {
	d.mu.Lock()
	d.sealed = true
	d.mu.Unlock()
}

// Handle registers the handler for requests of type Req
func Handle[Req, Resp any](d *Dispatcher, h HandlerFunc[Req, Resp]) error {
	key := reflect.TypeFor[Req]()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.sealed {
		return fmt.Errorf("handle %s: %w", key, ErrSealed)
	}
	if _, exists := d.handlers[key]; exists {
		return fmt.Errorf("handle %s: %w", key, ErrDuplicateHandler)
	}
	d.handlers[key] = func(ctx context.Context, req any) (any, error) {
		return h(ctx, req.(Req))
	}
	d.logger.Debugw("Registered request handler", "request", key.String())
	return nil
}

// Subscribe adds a handler for notifications of type N. A notification may have any number of subscribers.
func Subscribe[N any](d *Dispatcher, name string, fn NotificationFunc[N]) error {
	key := reflect.TypeFor[N]()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.sealed {
		return fmt.Errorf("subscribe %s to %s: %w", name, key, ErrSealed)
	}
	d.subscribers[key] = append(d.subscribers[key], subscriber{
		name: name,
		fn: func(ctx context.Context, n any) error {
			return fn(ctx, n.(N))
		},
	})
	d.logger.Debugw("Registered notification handler", "notification", key.String(), "handler", name)
	return nil
}

// Send delivers req to its handler and returns the handler's response
func Send[Resp, Req any](ctx context.Context, d *Dispatcher, req Req) (Resp, error) {
	var zero Resp
	key := reflect.TypeFor[Req]()
	command := key.String()

	d.mu.RLock()
	h, ok := d.handlers[key]
	d.mu.RUnlock()
	if !ok {
		metrics.CommandsDispatched.WithLabelValues(command, "unhandled").Inc()
		return zero, fmt.Errorf("send %s: %w", command, ErrNoHandler)
	}

	start := time.Now()
	out, err := h(ctx, req)
	if err != nil {
		metrics.CommandsDispatched.WithLabelValues(command, "error").Inc()
		d.logger.Debugw("Command failed", "command", command, "duration", time.Since(start), "error", err)
		return zero, err
	}

	resp, ok := out.(Resp)
	if !ok {
		metrics.CommandsDispatched.WithLabelValues(command, "error").Inc()
		return zero, fmt.Errorf("send %s: %w: %T", command, ErrResponseType, out)
	}

	metrics.CommandsDispatched.WithLabelValues(command, "ok").Inc()
	d.logger.Debugw("Command handled", "command", command, "duration", time.Since(start))
	return resp, nil
}

// Publish hands n to every subscriber of its type, each on its own goroutine.
// Subscriber errors and panics are logged and never reach the caller.
// The subscribers outlive ctx's cancellation but keep its values.
func (d *Dispatcher) Publish(ctx context.Context, n any) {
	key := reflect.TypeOf(n)
	notification := fmt.Sprint(key)

	d.mu.RLock()
	subs := d.subscribers[key]
	d.mu.RUnlock()

	if len(subs) == 0 {
		d.logger.Debugw("Notification has no subscribers", "notification", notification)
		return
	}

	detached := context.WithoutCancel(ctx)
	for _, sub := range subs {
		name := sub.name
		fn := sub.fn
		goroutine.Go(&d.inflight, "dispatch:"+name, d.logger, func() {
			if err := fn(detached, n); err != nil {
				metrics.CommandsDispatched.WithLabelValues(notification, "error").Inc()
				d.logger.Errorw("Notification handler failed",
					"notification", notification,
					"handler", name,
					"error", err)
				return
			}
			metrics.CommandsDispatched.WithLabelValues(notification, "ok").Inc()
		}, func(any) {
			metrics.CommandsDispatched.WithLabelValues(notification, "panic").Inc()
		})
	}
}

// Wait blocks until every published notification has been handled
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}

// Drain waits for in-flight notifications or until ctx is done
func (d *Dispatcher) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		defer goroutine.Recover("dispatch:drain", d.logger)
		d.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatcher drain: %w", ctx.Err())
	}
}

// Handlers lists the registered request types, for diagnostics
func (d *Dispatcher) Handlers() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.handlers))
	for t := range d.handlers {
		out = append(out, t.String())
	}
	sort.Strings(out)
	return out
}
