package simulation

import (
	"time"

	"github.com/alejandrodnm/backsim/internal/domain"
)

// TopicID addresses a topic by its dense registration slot.
type TopicID struct{ slot int }

// ModuleID addresses a module by its dense registration slot.
type ModuleID struct{ slot int }

// ReadTopicHandle is a module's private handle to one of its subscriptions.
type ReadTopicHandle struct{ slot int }

// WriteTopicHandle is a module's private handle to one of its publications.
type WriteTopicHandle struct{ slot int }

// ModuleComms is the runtime interface a module uses to interact with the
// fabric and the clock. Each module gets its own instance, built from its
// ModuleCommsBuilder once the topology is frozen.
type ModuleComms interface {
	Time() time.Time
	Receive(topic ReadTopicHandle) (domain.Message, bool)
	Publish(topic WriteTopicHandle, msg domain.Message)
	RequestTerminate()
}

// ModuleCommsBuilder is the build-phase interface used to register a
// module's topic subscriptions and publications before the fabric is frozen.
type ModuleCommsBuilder interface {
	ModuleID() ModuleID
	GetOrCreateTopic(name string) TopicID
	SubscribeTopic(topic TopicID) ReadTopicHandle
	PublishTopic(topic TopicID) WriteTopicHandle
	Build() ModuleComms
}

// CommsSystem is the build-phase entry point: one builder per registered
// module.
type CommsSystem interface {
	NewBuilder(moduleName string) ModuleCommsBuilder
	NumModules() int
	NumTopics() int
}

// Module is the capability set every simulation participant implements.
type Module interface {
	Start()
	Sync(comms ModuleComms) bool
	OneIteration(comms ModuleComms)
	NextIterationStartAt() (time.Time, bool)
	WakeOnMessage() bool
	Terminate()
}

// ModuleBuilder constructs a Module after registering its comms topology.
type ModuleBuilder interface {
	Name() string
	InitComms(builder ModuleCommsBuilder)
	Build() Module
}
