// Package dispatcher implements the dispatcher loop: two cooperating tasks
// sharing the bounded action queue. One polls external event sources
// (inbound transport messages, watcher-detected local changes) and pushes
// synthesized actions; the other drains the queue and runs each action
// through the handler. Neither task blocks on the other.
package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/fsyio/fsy/pkg/fsy/action"
	"github.com/fsyio/fsy/pkg/fsy/definition"
	"github.com/fsyio/fsy/pkg/fsy/queue"
	"github.com/fsyio/fsy/pkg/fsy/registry"
	"github.com/fsyio/fsy/pkg/fsy/transport"
	"github.com/fsyio/fsy/pkg/fsy/watcher"
)

// Transport is the subset the dispatcher's event-poll task needs.
type Transport interface {
	PollInbound() (transport.Inbound, bool)
}

// Watcher is the subset of the path watcher the dispatcher polls.
type Watcher interface {
	Poll() []watcher.ChangedTarget
}

// Handler runs one action to completion.
type Handler interface {
	Handle(ctx context.Context, a action.CommAction)
}

// Dispatcher owns the two cooperating loops and the queue between them. Its
// zero value is not usable; build one with New.
type Dispatcher struct {
	localNodeID string
	registry    *registry.Registry
	transport   Transport
	watcher     Watcher
	handler     Handler
	queue       *queue.Queue[action.CommAction]
	log         definition.Logger

	cadence time.Duration

	stop   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// New builds a Dispatcher. cadence is the poll interval shared by both
// loops, the single configured loop cadence for this node.
func New(
	localNodeID string,
	reg *registry.Registry,
	t Transport,
	w Watcher,
	h Handler,
	q *queue.Queue[action.CommAction],
	cadence time.Duration,
	log definition.Logger,
) *Dispatcher {
	if cadence <= 0 {
		cadence = 250 * time.Millisecond
	}
	return &Dispatcher{
		localNodeID: localNodeID,
		registry:    reg,
		transport:   t,
		watcher:     w,
		handler:     h,
		queue:       q,
		log:         log,
		cadence:     cadence,
		stop:        make(chan struct{}),
	}
}

// Run starts both loops and blocks until ctx is cancelled or Stop is called.
func (d *Dispatcher) Run(ctx context.Context) {
	d.wg.Add(2)
	go d.eventPollLoop(ctx)
	go d.queueDrainLoop(ctx)
	d.wg.Wait()
}

// Stop signals both loops to exit; safe to call more than once or
// concurrently with Run.
func (d *Dispatcher) Stop() {
	d.once.Do(func() {
		close(d.stop)
	})
}

func (d *Dispatcher) eventPollLoop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cadence)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stop:
			return
		case <-ticker.C:
			d.drainInbound(ctx)
			d.drainWatcher(ctx)
		}
	}
}

func (d *Dispatcher) drainInbound(ctx context.Context) {
	for {
		in, ok := d.transport.PollInbound()
		if !ok {
			return
		}
		a := action.Decode(in.FromNodeID, in.Payload)
		if a.Kind == action.KindUnknown {
			d.log.WithField("peer", in.FromNodeID).Warn("dispatcher: discarding malformed action")
			continue
		}
		d.queue.Push(a)
	}
}

// drainWatcher maps every locally-changed push path onto a TargetHasChanged
// notification for each push-side (Push or PushPull) peer of that group: the watcher
// only ever observes local state, the dispatcher is responsible for turning
// that into outbound wire traffic.
func (d *Dispatcher) drainWatcher(ctx context.Context) {
	for _, changed := range d.watcher.Poll() {
		groups := d.registry.GroupsForPath(changed.BasePath, registry.SidePush)
		for _, g := range groups {
			for nodeID := range d.registry.TargetNodeIDs(g, registry.SidePush) {
				a := action.TargetHasChanged(nodeID, g.Name, changed.RelativePath).EncodeAsSend()
				d.queue.Push(a)
			}
		}
	}
}

func (d *Dispatcher) queueDrainLoop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cadence)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stop:
			return
		case <-ticker.C:
			for {
				a, ok := d.queue.Pop()
				if !ok {
					break
				}
				d.handler.Handle(ctx, a)
			}
		}
	}
}
