package thermostat

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/sweeney/smart-thermostat/internal/control"
)

// ErrQueueFull is returned when a request cannot be queued without blocking.
var ErrQueueFull = errors.New("thermostat: request queue full")

// RequestKind selects the Host handler a Request is applied with.
type RequestKind int

const (
	RequestTemperature RequestKind = iota
	RequestTarget
	RequestHVACMode
	RequestActuatorState
	RequestGains
)

func (k RequestKind) String() string {
	switch k {
	case RequestTemperature:
		return "temperature"
	case RequestTarget:
		return "target"
	case RequestHVACMode:
		return "hvac_mode"
	case RequestActuatorState:
		return "actuator_state"
	case RequestGains:
		return "pid_params"
	}
	return fmt.Sprintf("RequestKind(%d)", int(k))
}

// Request is an event raised outside the run loop.
type Request struct {
	Kind       RequestKind
	Value      float64 // temperature or target
	Mode       control.HVACMode
	Actuator   string
	State      control.ActuatorState
	Controller string
	Gains      *control.Gains

	reply chan error
}

// Done delivers the result to a waiting Submit, if any.
func (r Request) Done(err error) {
	if r.reply != nil {
		r.reply <- err
	}
}

// Apply runs the handler matching req.Kind.
func (h *Host) Apply(ctx context.Context, req Request) error {
	switch req.Kind {
	case RequestTemperature:
		return h.HandleTemperature(ctx, req.Value)
	case RequestTarget:
		return h.HandleTarget(ctx, req.Value)
	case RequestHVACMode:
		return h.HandleHVACMode(ctx, req.Mode)
	case RequestActuatorState:
		return h.HandleActuatorState(ctx, req.Actuator, req.State)
	case RequestGains:
		return h.SetGains(ctx, req.Controller, req.Gains)
	}
	return fmt.Errorf("thermostat: unknown request %s", req.Kind)
}

// Queue carries requests from web and MQTT goroutines to the run loop.
type Queue struct {
	ch chan Request
}

// NewQueue creates a queue holding up to size pending requests.
func NewQueue(size int) *Queue {
	return &Queue{ch: make(chan Request, size)}
}

// C is read by the run loop.
func (q *Queue) C() <-chan Request {
	return q.ch
}

// Submit queues req and waits for the run loop to apply it.
func (q *Queue) Submit(ctx context.Context, req Request) error {
	req.reply = make(chan error, 1)
	select {
	case q.ch <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Post queues req without waiting for the result. It never blocks; when the
// queue is full the request is dropped.
func (q *Queue) Post(req Request) error {
	select {
	case q.ch <- req:
		return nil
	default:
		log.WithField("request", req.Kind).Warn("Request queue full, dropping")
		return ErrQueueFull
	}
}
