package strategy

import (
	"log/slog"
	"testing"
	"time"

	"github.com/alejandrodnm/backsim/internal/domain"
	"github.com/alejandrodnm/backsim/internal/simulation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWapPrice_WeightsTowardThinnerSide(t *testing.T) {
	// A larger resting bid quantity pulls the fair price toward the ask.
	wap := wapPrice(100, 9, 102, 1)
	assert.InDelta(t, 101.8, wap, 1e-9)

	// Equal size lands on the midpoint.
	assert.InDelta(t, 101, wapPrice(100, 1, 102, 1), 1e-9)
}

func TestTimeVolatility_SamplesAtMostOncePerInterval(t *testing.T) {
	v := NewTimeVolatility(4, 1000)
	base := time.Unix(0, 0).UTC()

	v.Next(base, 100) // primes, no diff yet
	v.Next(base.Add(500*time.Millisecond), 200)
	assert.Equal(t, 0.0, v.Peek(), "second call within the same bucket must not sample")

	v.Next(base.Add(1*time.Second), 105)
	assert.Greater(t, v.Peek(), 0.0, "a diff beyond the interval should move the estimate")
}

func TestStrategy_QuotesAroundReservationPriceAndClampsToBook(t *testing.T) {
	b := NewBuilder("BTCUSDT", "BTC", 0.1, 0.01, slog.Default())
	comms := &fakeBuilder{}
	b.InitComms(comms)
	mod := b.Build()
	strat := mod.(*Strategy)
	mod.Start()

	rc := &recordingComms{now: time.Unix(0, 0).UTC()}
	ok := mod.Sync(rc)
	require.True(t, ok)

	// Feed a book ticker and an account balance so quoting can proceed.
	strat.bestBidPrice, strat.bestAskPrice = 99, 101
	strat.haveBookTicker = true
	strat.baseBalance = 1
	strat.haveAccountInfo = true

	mod.OneIteration(rc)

	var orders []*domain.OrderRequest
	for _, msg := range rc.published {
		if msg.Payload.OrderRequest != nil {
			orders = append(orders, msg.Payload.OrderRequest)
		}
	}
	require.Len(t, orders, 2)
	for _, o := range orders {
		if o.Side == domain.Buy {
			assert.LessOrEqual(t, o.Price, 99.0, "bid must not cross the visible best bid")
		} else {
			assert.GreaterOrEqual(t, o.Price, 101.0, "ask must not cross the visible best ask")
		}
	}
}

func TestStrategy_CancelsOrdersPastTTL(t *testing.T) {
	b := NewBuilder("BTCUSDT", "BTC", 0.1, 0.01, slog.Default()).WithOrderTTL(10 * time.Millisecond)
	comms := &fakeBuilder{}
	b.InitComms(comms)
	mod := b.Build().(*Strategy)
	mod.Start()

	start := time.Unix(0, 0).UTC()
	mod.openOrders["stale-order"] = start
	mod.bestBidPrice, mod.bestAskPrice = 99, 101
	mod.haveBookTicker = true
	mod.baseBalance = 1
	mod.haveAccountInfo = true

	rc := &recordingComms{now: start.Add(50 * time.Millisecond)}
	mod.OneIteration(rc)

	var canceled []string
	for _, msg := range rc.published {
		if c := msg.Payload.CancelOrderRequest; c != nil {
			canceled = append(canceled, c.ClientOrderID)
		}
	}
	assert.Contains(t, canceled, "stale-order")
	assert.NotContains(t, mod.openOrders, "stale-order")
}

// fakeBuilder is a minimal simulation.ModuleCommsBuilder that counts its
// calls and hands out zero-value handles, enough to exercise InitComms wiring.
type fakeBuilder struct{ n int }

var _ simulation.ModuleCommsBuilder = (*fakeBuilder)(nil)

func (f *fakeBuilder) ModuleID() simulation.ModuleID { return simulation.ModuleID{} }
func (f *fakeBuilder) GetOrCreateTopic(name string) simulation.TopicID {
	f.n++
	return simulation.TopicID{}
}
func (f *fakeBuilder) SubscribeTopic(simulation.TopicID) simulation.ReadTopicHandle {
	f.n++
	return simulation.ReadTopicHandle{}
}
func (f *fakeBuilder) PublishTopic(simulation.TopicID) simulation.WriteTopicHandle {
	f.n++
	return simulation.WriteTopicHandle{}
}
func (f *fakeBuilder) Build() simulation.ModuleComms { return nil }

// recordingComms is a minimal simulation.ModuleComms stub for driving a
// Strategy in isolation.
type recordingComms struct {
	now        time.Time
	terminated bool
	published  []domain.Message
}

var _ simulation.ModuleComms = (*recordingComms)(nil)

func (c *recordingComms) Time() time.Time { return c.now }
func (c *recordingComms) Receive(simulation.ReadTopicHandle) (domain.Message, bool) {
	return domain.Message{}, false
}
func (c *recordingComms) Publish(_ simulation.WriteTopicHandle, msg domain.Message) {
	c.published = append(c.published, msg)
}
func (c *recordingComms) RequestTerminate() { c.terminated = true }
