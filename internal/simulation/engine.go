package simulation

import (
	"container/heap"
	"context"
	"hash/fnv"
	"strconv"
	"time"
)

// timedEvent is one entry in the scheduler's priority queue: module slot m
// wants to run OneIteration at time fireAt. Ties on fireAt are broken by a
// stable hash of the module slot so replays of the same topology are
// deterministic regardless of push order.
type timedEvent struct {
	fireAt time.Time
	module ModuleID
	tie    uint64
}

func tieBreakHash(id ModuleID) uint64 {
	h := fnv.New64a()
	h.Write([]byte(strconv.Itoa(id.slot)))
	return h.Sum64()
}

type eventQueue []timedEvent

func (q eventQueue) Len() int { return len(q) }

func (q eventQueue) Less(i, j int) bool {
	if q[i].fireAt.Equal(q[j].fireAt) {
		return q[i].tie < q[j].tie
	}
	return q[i].fireAt.Before(q[j].fireAt)
}

func (q eventQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *eventQueue) Push(x any) { *q = append(*q, x.(timedEvent)) }

func (q *eventQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// registeredModule bundles a running Module with its comms handle and last
// sync state, so the engine can decide when wake-on-message fires.
type registeredModule struct {
	id               ModuleID
	name             string
	module           Module
	comms            ModuleComms
	wakeOnMessage    bool
	subscribedTopics []TopicID
	lastSeenUpdate   map[int]time.Time // topic slot -> last update observed at this module's last sync
}

// Engine wires a comms fabric to a fixed set of modules and drives the
// virtual clock forward one event at a time.
type Engine struct {
	clock   *Clock
	fabric  *System
	modules []*registeredModule
}

// EngineBuilder accumulates modules before freezing the topology.
type EngineBuilder struct {
	clock   *Clock
	fabric  *System
	modules []ModuleBuilder
}

// NewEngineBuilder returns an empty builder backed by a fresh clock and
// comms fabric.
func NewEngineBuilder() *EngineBuilder {
	clock := NewClock()
	return &EngineBuilder{clock: clock, fabric: NewSystem(clock)}
}

// AddModule registers a module builder. Order of registration determines
// ModuleID slot assignment, which in turn seeds the scheduler tie-break.
func (b *EngineBuilder) AddModule(mb ModuleBuilder) *EngineBuilder {
	b.modules = append(b.modules, mb)
	return b
}

// Build freezes the comms topology and constructs every module.
func (b *EngineBuilder) Build() *Engine {
	registered := make([]*registeredModule, 0, len(b.modules))
	for _, mb := range b.modules {
		builder := b.fabric.NewBuilder(mb.Name())
		mb.InitComms(builder)
		module := mb.Build()
		comms := builder.Build()
		rm := &registeredModule{
			id:             builder.ModuleID(),
			name:           mb.Name(),
			module:         module,
			comms:          comms,
			wakeOnMessage:  module.WakeOnMessage(),
			lastSeenUpdate: make(map[int]time.Time),
		}
		registered = append(registered, rm)
	}

	subs := b.fabric.moduleSubscribedTopics()
	for _, rm := range registered {
		rm.subscribedTopics = subs[rm.id.slot]
	}

	return &Engine{clock: b.clock, fabric: b.fabric, modules: registered}
}

// Run drives the simulation to completion: every module starts, the
// scheduler pushes each module's next requested wakeup onto a priority
// queue, and the loop pops the earliest event, advances the clock to it,
// syncs and iterates that module, and fans out a wake-on-message nudge to
// every other wake-on-message module whose subscribed topics advanced.
// Run returns once no module has further work or any module calls
// RequestTerminate.
func (e *Engine) Run() {
	e.RunContext(context.Background())
}

// RunContext is Run, but also stops the dispatch loop as soon as ctx is
// cancelled, between dispatches, so every module still gets a Terminate()
// call and can produce a clean partial-run report instead of being killed
// mid-iteration.
func (e *Engine) RunContext(ctx context.Context) {
	for _, rm := range e.modules {
		rm.module.Start()
	}

	queue := &eventQueue{}
	heap.Init(queue)
	for _, rm := range e.modules {
		e.scheduleNext(queue, rm)
	}

	for queue.Len() > 0 && e.fabric.IsRunning() && ctx.Err() == nil {
		next := heap.Pop(queue).(timedEvent)
		rm := e.modules[next.module.slot]

		e.clock.Set(next.fireAt)

		if rm.module.Sync(rm.comms) {
			rm.module.OneIteration(rm.comms)
		}
		e.recordSeenUpdates(rm)
		e.wakeSubscribers(queue, rm)
		e.scheduleNext(queue, rm)
	}

	for _, rm := range e.modules {
		rm.module.Terminate()
	}
}

func (e *Engine) scheduleNext(queue *eventQueue, rm *registeredModule) {
	at, ok := rm.module.NextIterationStartAt()
	if !ok {
		return
	}
	heap.Push(queue, timedEvent{fireAt: at, module: rm.id, tie: tieBreakHash(rm.id)})
}

func (e *Engine) recordSeenUpdates(rm *registeredModule) {
	updates := e.fabric.topicUpdateTimes()
	for _, tid := range rm.subscribedTopics {
		rm.lastSeenUpdate[tid.slot] = *updates[tid.slot]
	}
}

// wakeSubscribers schedules an immediate wakeup, at the current virtual
// time, for every wake-on-message module (other than the one that just ran)
// whose subscribed topics carry an update it has not yet observed. The woken
// module's seen marks advance at push time, so further publishes at the same
// instant do not queue it a second time before it gets to run.
func (e *Engine) wakeSubscribers(queue *eventQueue, justRan *registeredModule) {
	updates := e.fabric.topicUpdateTimes()
	now := e.clock.Now()

	for _, rm := range e.modules {
		if rm.id == justRan.id || !rm.wakeOnMessage {
			continue
		}
		woken := false
		for _, tid := range rm.subscribedTopics {
			latest := *updates[tid.slot]
			if latest.After(rm.lastSeenUpdate[tid.slot]) {
				woken = true
				break
			}
		}
		if woken {
			heap.Push(queue, timedEvent{fireAt: now, module: rm.id, tie: tieBreakHash(rm.id)})
			for _, tid := range rm.subscribedTopics {
				rm.lastSeenUpdate[tid.slot] = now
			}
		}
	}
}
