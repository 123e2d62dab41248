package simulation

import (
	"fmt"
	"sync"
	"time"

	"github.com/alejandrodnm/backsim/internal/domain"
)

// mailbox is one subscriber's unbounded FIFO queue for a topic.
type mailbox struct {
	messages []domain.Message
	head     int
}

func (mb *mailbox) push(msg domain.Message) {
	mb.messages = append(mb.messages, msg)
}

func (mb *mailbox) pop() (domain.Message, bool) {
	if mb.head >= len(mb.messages) {
		return domain.Message{}, false
	}
	msg := mb.messages[mb.head]
	mb.messages[mb.head] = domain.Message{}
	mb.head++
	if mb.head > 256 && mb.head*2 > len(mb.messages) {
		mb.messages = append([]domain.Message(nil), mb.messages[mb.head:]...)
		mb.head = 0
	}
	return msg, true
}

// topic is the shared directory entry for one named channel: every
// subscriber mailbox, and the single last-update cell the scheduler reads
// for wake-on-message.
type topic struct {
	name        string
	mailboxes   []*mailbox
	writeModule []ModuleID
	readModule  []ModuleID
	updatedAt   time.Time
}

type moduleInfo struct {
	name        string
	readTopics  []TopicID
	writeTopics []TopicID
}

// System is the comms fabric: a topic directory plus the registered modules'
// subscriptions and publications. It has two phases: build (guarded by a
// mutex, since wiring happens before any module runs) and runtime (no
// locking, since the scheduler guarantees single-threaded execution).
type System struct {
	mu      sync.Mutex
	topics  []*topic
	modules []*moduleInfo
	clock   *Clock
	running *bool
}

// NewSystem returns an empty comms fabric driven by clock.
func NewSystem(clock *Clock) *System {
	running := true
	return &System{clock: clock, running: &running}
}

// IsRunning reports whether the fabric is still running: it turns false once
// any module calls RequestTerminate.
func (s *System) IsRunning() bool {
	return *s.running
}

// NewBuilder registers a new module by name and returns its build-phase
// handle. Module names must be unique.
func (s *System) NewBuilder(moduleName string) ModuleCommsBuilder {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.modules {
		if m.name == moduleName {
			panic(fmt.Sprintf("simulation: module %q already registered", moduleName))
		}
	}
	id := ModuleID{slot: len(s.modules)}
	s.modules = append(s.modules, &moduleInfo{name: moduleName})
	return &builder{moduleID: id, system: s}
}

// NumModules returns the number of registered modules.
func (s *System) NumModules() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.modules)
}

// NumTopics returns the number of registered topics.
func (s *System) NumTopics() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.topics)
}

func (s *System) getOrCreateTopic(name string) TopicID {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.topics {
		if t.name == name {
			return TopicID{slot: i}
		}
	}
	id := TopicID{slot: len(s.topics)}
	s.topics = append(s.topics, &topic{name: name})
	return id
}

func (s *System) subscribeTopic(moduleID ModuleID, topicID TopicID) *mailbox {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.topics[topicID.slot]
	t.readModule = append(t.readModule, moduleID)
	mb := &mailbox{}
	t.mailboxes = append(t.mailboxes, mb)

	mod := s.modules[moduleID.slot]
	mod.readTopics = append(mod.readTopics, topicID)
	return mb
}

func (s *System) publishTopic(moduleID ModuleID, topicID TopicID) *topic {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.topics[topicID.slot]
	t.writeModule = append(t.writeModule, moduleID)

	mod := s.modules[moduleID.slot]
	mod.writeTopics = append(mod.writeTopics, topicID)
	return t
}

// topicUpdateTimes returns, per topic slot, a pointer to the live
// last-updated-at cell. The scheduler polls these directly rather than
// copying, since only the currently-executing module ever mutates one.
func (s *System) topicUpdateTimes() []*time.Time {
	out := make([]*time.Time, len(s.topics))
	for i, t := range s.topics {
		out[i] = &t.updatedAt
	}
	return out
}

func (s *System) moduleSubscribedTopics() [][]TopicID {
	out := make([][]TopicID, len(s.modules))
	for i, m := range s.modules {
		out[i] = m.readTopics
	}
	return out
}

func (s *System) topicNames() []string {
	out := make([]string, len(s.topics))
	for i, t := range s.topics {
		out[i] = t.name
	}
	return out
}

func (s *System) moduleNames() []string {
	out := make([]string, len(s.modules))
	for i, m := range s.modules {
		out[i] = m.name
	}
	return out
}

// builder is the build-phase ModuleCommsBuilder implementation.
type builder struct {
	moduleID ModuleID
	system   *System

	readers []*mailbox
	writers []*topic
}

func (b *builder) ModuleID() ModuleID { return b.moduleID }

func (b *builder) GetOrCreateTopic(name string) TopicID {
	return b.system.getOrCreateTopic(name)
}

func (b *builder) SubscribeTopic(topicID TopicID) ReadTopicHandle {
	mb := b.system.subscribeTopic(b.moduleID, topicID)
	b.readers = append(b.readers, mb)
	return ReadTopicHandle{slot: len(b.readers) - 1}
}

func (b *builder) PublishTopic(topicID TopicID) WriteTopicHandle {
	t := b.system.publishTopic(b.moduleID, topicID)
	b.writers = append(b.writers, t)
	return WriteTopicHandle{slot: len(b.writers) - 1}
}

func (b *builder) Build() ModuleComms {
	return &moduleComms{
		clock:   b.system.clock,
		readers: b.readers,
		writers: b.writers,
		running: b.system.running,
	}
}

// moduleComms is the runtime ModuleComms implementation handed to one
// module. Every field is private to that module except the shared pointers
// into fabric-owned state (the clock and the termination flag).
type moduleComms struct {
	clock   *Clock
	readers []*mailbox
	writers []*topic
	running *bool
}

func (c *moduleComms) Time() time.Time {
	return c.clock.Now()
}

func (c *moduleComms) Receive(handle ReadTopicHandle) (domain.Message, bool) {
	return c.readers[handle.slot].pop()
}

func (c *moduleComms) Publish(handle WriteTopicHandle, msg domain.Message) {
	t := c.writers[handle.slot]
	for _, mb := range t.mailboxes {
		mb.push(msg)
	}
	t.updatedAt = msg.Header.CommitAt
}

func (c *moduleComms) RequestTerminate() {
	*c.running = false
}
