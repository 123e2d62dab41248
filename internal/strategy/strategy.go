// Package strategy implements the sample market-making module: an
// Avellaneda-Stoikov style quoter that tracks a volatility estimate of the
// weighted-average price and publishes a symmetric pair of resting orders
// around a reservation price, skewed by inventory and clamped to the
// visible top of book.
package strategy

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alejandrodnm/backsim/internal/domain"
	"github.com/alejandrodnm/backsim/internal/simulation"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	defaultVolSamples    = 50
	defaultVolIntervalMs = 1000
	defaultRateHz        = 10
	defaultOrderTTL      = 100 * time.Millisecond
)

// Strategy is a single-symbol market maker. It subscribes to market_data for
// top-of-book and trade updates, to order_result for its own order
// lifecycle, and to account for balance updates, and publishes quotes and
// cancels to the order topic.
type Strategy struct {
	symbol    string
	baseAsset string

	marketDataTopic  simulation.ReadTopicHandle
	orderResultTopic simulation.ReadTopicHandle
	accountTopic     simulation.ReadTopicHandle
	orderTopic       simulation.WriteTopicHandle

	gamma    float64
	quantity float64
	orderTTL time.Duration

	vol *TimeVolatility

	haveBookTicker bool
	bestBidPrice   float64
	bestBidQty     float64
	bestAskPrice   float64
	bestAskQty     float64

	haveAccountInfo bool
	baseBalance     float64
	inventorySet    bool
	targetRatio     float64

	limiter *rate.Limiter

	openOrders map[string]time.Time

	round  uint64
	logger *slog.Logger
}

var _ simulation.Module = (*Strategy)(nil)

func (s *Strategy) Start() {}

func (s *Strategy) Sync(comms simulation.ModuleComms) bool {
	for {
		msg, ok := comms.Receive(s.marketDataTopic)
		if !ok {
			break
		}
		if msg.Payload.BookTicker != nil {
			t := msg.Payload.BookTicker
			if t.Symbol == s.symbol {
				s.bestBidPrice = t.BestBidPrice
				s.bestBidQty = t.BestBidQty
				s.bestAskPrice = t.BestAskPrice
				s.bestAskQty = t.BestAskQty
				s.haveBookTicker = true
			}
		}
	}
	for {
		msg, ok := comms.Receive(s.orderResultTopic)
		if !ok {
			break
		}
		r := msg.Payload.OrderResult
		if r == nil || r.Symbol != s.symbol {
			continue
		}
		switch r.Status {
		case domain.StatusFilled, domain.StatusCanceled, domain.StatusRejected,
			domain.StatusExpired, domain.StatusExpiredInMatch:
			delete(s.openOrders, r.ClientOrderID)
		}
	}
	for {
		msg, ok := comms.Receive(s.accountTopic)
		if !ok {
			break
		}
		u := msg.Payload.AccountUpdate
		if u == nil {
			continue
		}
		for _, a := range u.Updates {
			if a.Asset == s.baseAsset {
				s.baseBalance = a.Balance
				s.haveAccountInfo = true
			}
		}
	}
	return true
}

func (s *Strategy) OneIteration(comms simulation.ModuleComms) {
	if !s.haveBookTicker {
		return
	}
	now := comms.Time()
	wap := wapPrice(s.bestBidPrice, s.bestBidQty, s.bestAskPrice, s.bestAskQty)
	s.vol.Next(now, wap)

	if !s.limiter.AllowN(now, 1) {
		return
	}
	if !s.haveAccountInfo {
		return
	}
	if !s.inventorySet {
		s.targetRatio = s.baseBalance
		s.inventorySet = true
	}

	sigma := s.vol.Peek()
	q := s.baseBalance - s.targetRatio
	reservation := wap - q*s.gamma*sigma
	halfSpread := s.gamma * sigma / 2

	bidPrice := reservation - halfSpread
	if bidPrice > s.bestBidPrice {
		bidPrice = s.bestBidPrice
	}
	askPrice := reservation + halfSpread
	if askPrice < s.bestAskPrice {
		askPrice = s.bestAskPrice
	}
	if bidPrice <= 0 || askPrice <= 0 {
		return
	}

	s.round++
	buyID := fmt.Sprintf("mm-%d-b-%s", s.round, s.roundID("buy"))
	sellID := fmt.Sprintf("mm-%d-s-%s", s.round, s.roundID("sell"))

	s.publishOrder(comms, now, buyID, domain.Buy, bidPrice)
	s.publishOrder(comms, now, sellID, domain.Sell, askPrice)
	s.openOrders[buyID] = now
	s.openOrders[sellID] = now

	// Cancels go out in id order: map iteration order is randomized per run
	// and the published message sequence must be identical across replays.
	expired := make([]string, 0, len(s.openOrders))
	for id, submitAt := range s.openOrders {
		if now.Sub(submitAt) >= s.orderTTL {
			expired = append(expired, id)
		}
	}
	sort.Strings(expired)
	for _, id := range expired {
		comms.Publish(s.orderTopic, domain.Message{
			Header: domain.MessageHeader{CommitAt: now},
			Payload: domain.Payload{CancelOrderRequest: &domain.CancelOrderRequest{
				Symbol:        s.symbol,
				ClientOrderID: id,
			}},
		})
		delete(s.openOrders, id)
	}
}

// roundID derives the unique order-id suffix for the current quoting round.
// Name-based UUIDs are used rather than random ones so that replaying the
// same tape publishes an identical order sequence.
func (s *Strategy) roundID(side string) string {
	name := fmt.Sprintf("%s/%d/%s", s.symbol, s.round, side)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

func (s *Strategy) publishOrder(comms simulation.ModuleComms, now time.Time, id string, side domain.TradeSide, price float64) {
	comms.Publish(s.orderTopic, domain.Message{
		Header: domain.MessageHeader{CommitAt: now},
		Payload: domain.Payload{OrderRequest: &domain.OrderRequest{
			Symbol:        s.symbol,
			Side:          side,
			Price:         price,
			Quantity:      s.quantity,
			ClientOrderID: id,
			TradeType:     domain.LimitMaker,
			TimeInForce:   domain.GoodTilCancelled,
		}},
	})
}

func (s *Strategy) NextIterationStartAt() (time.Time, bool) { return time.Time{}, false }

func (s *Strategy) WakeOnMessage() bool { return true }

func (s *Strategy) Terminate() {
	s.logger.Info("strategy stopped", "symbol", s.symbol, "rounds", s.round)
}

// wapPrice is the size-weighted average of bid and ask: a larger resting
// quantity on one side pulls the fair price toward the other side, since it
// would take more aggressive flow to move through it.
func wapPrice(bidPrice, bidQty, askPrice, askQty float64) float64 {
	denom := bidQty + askQty
	if denom == 0 {
		return (bidPrice + askPrice) / 2
	}
	return (askPrice*bidQty + bidPrice*askQty) / denom
}

// Builder constructs a Strategy after registering its comms topology.
type Builder struct {
	symbol    string
	baseAsset string
	gamma     float64
	quantity  float64
	orderTTL  time.Duration

	volSamples    int
	volIntervalMs int64
	rateHz        float64

	logger *slog.Logger

	marketDataTopic  simulation.ReadTopicHandle
	orderResultTopic simulation.ReadTopicHandle
	accountTopic     simulation.ReadTopicHandle
	orderTopic       simulation.WriteTopicHandle
}

var _ simulation.ModuleBuilder = (*Builder)(nil)

// NewBuilder returns a Builder for symbol/baseAsset quoting quantity-sized
// orders with inventory-aversion gamma, using logger for diagnostics
// (defaulting to slog.Default() if nil).
func NewBuilder(symbol, baseAsset string, gamma, quantity float64, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		symbol:        symbol,
		baseAsset:     baseAsset,
		gamma:         gamma,
		quantity:      quantity,
		orderTTL:      defaultOrderTTL,
		volSamples:    defaultVolSamples,
		volIntervalMs: defaultVolIntervalMs,
		rateHz:        defaultRateHz,
		logger:        logger,
	}
}

// WithOrderTTL overrides the default virtual-time TTL after which a resting
// quote is cancelled and replaced.
func (b *Builder) WithOrderTTL(d time.Duration) *Builder {
	b.orderTTL = d
	return b
}

// WithVolatilityWindow overrides the rolling sample count and minimum
// sampling interval (in milliseconds of virtual time) for the volatility
// estimator.
func (b *Builder) WithVolatilityWindow(samples int, intervalMs int64) *Builder {
	b.volSamples = samples
	b.volIntervalMs = intervalMs
	return b
}

// WithRequoteRateHz overrides the maximum requote frequency, expressed in
// Hertz of virtual time.
func (b *Builder) WithRequoteRateHz(hz float64) *Builder {
	b.rateHz = hz
	return b
}

func (b *Builder) Name() string { return "strategy_" + b.symbol }

func (b *Builder) InitComms(comms simulation.ModuleCommsBuilder) {
	b.marketDataTopic = comms.SubscribeTopic(comms.GetOrCreateTopic("market_data"))
	b.orderResultTopic = comms.SubscribeTopic(comms.GetOrCreateTopic("order_result"))
	b.accountTopic = comms.SubscribeTopic(comms.GetOrCreateTopic("account"))
	b.orderTopic = comms.PublishTopic(comms.GetOrCreateTopic("order"))
}

func (b *Builder) Build() simulation.Module {
	return &Strategy{
		symbol:           b.symbol,
		baseAsset:        b.baseAsset,
		marketDataTopic:  b.marketDataTopic,
		orderResultTopic: b.orderResultTopic,
		accountTopic:     b.accountTopic,
		orderTopic:       b.orderTopic,
		gamma:            b.gamma,
		quantity:         b.quantity,
		orderTTL:         b.orderTTL,
		vol:              NewTimeVolatility(b.volSamples, b.volIntervalMs),
		limiter:          rate.NewLimiter(rate.Limit(b.rateHz), 1),
		openOrders:       make(map[string]time.Time),
		logger:           b.logger,
	}
}
