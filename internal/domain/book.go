package domain

import (
	"sort"
	"time"
)

// LimitOrder is a resting order in a SimpleMarket book.
type LimitOrder struct {
	OrderID  string
	Side     TradeSide
	Price    float64
	Quantity float64
	Filled   float64
	SubmitAt time.Time
}

// Remaining is the unfilled quantity of the order.
func (o LimitOrder) Remaining() float64 {
	return o.Quantity - o.Filled
}

// MarketTrade is one buffered tape event awaiting matching.
type MarketTrade struct {
	Price        float64
	Quantity     float64
	TradeAt      time.Time
	IsBuyerMaker bool
}

// MarketEvent is one fill produced by matching a MarketTrade against the
// resting book.
type MarketEvent struct {
	OrderID         string
	Side            TradeSide
	Price           float64
	Quantity        float64
	RemainingToFill float64
	EventAt         time.Time
}

// SimpleMarket is a per-symbol limit order book plus a buffer of market
// trades awaiting matching. Resting orders are kept sorted ascending by
// (price, submit_at) at all times.
type SimpleMarket struct {
	openOrders     []LimitOrder
	tradeBuf       []MarketTrade
	LastTradePrice float64
}

// NewSimpleMarket returns an empty book.
func NewSimpleMarket() *SimpleMarket {
	return &SimpleMarket{}
}

// OpenOrders returns the resting orders in book order (price asc, submit_at
// asc on ties). The returned slice is a copy; callers must not mutate the
// book through it.
func (m *SimpleMarket) OpenOrders() []LimitOrder {
	out := make([]LimitOrder, len(m.openOrders))
	copy(out, m.openOrders)
	return out
}

// AddOrder inserts a resting order, re-sorting the book. It returns false
// without mutating the book if the quantity is non-positive or the order id
// already rests in the book (duplicate submissions are silently ignored per
// the book invariants).
func (m *SimpleMarket) AddOrder(order LimitOrder) bool {
	if order.Quantity <= 0 {
		return false
	}
	for _, o := range m.openOrders {
		if o.OrderID == order.OrderID {
			return false
		}
	}
	m.openOrders = append(m.openOrders, order)
	sort.SliceStable(m.openOrders, func(i, j int) bool {
		a, b := m.openOrders[i], m.openOrders[j]
		if a.Price == b.Price {
			return a.SubmitAt.Before(b.SubmitAt)
		}
		return a.Price < b.Price
	})
	return true
}

// GetOrder looks up a resting order by id.
func (m *SimpleMarket) GetOrder(orderID string) (LimitOrder, bool) {
	for _, o := range m.openOrders {
		if o.OrderID == orderID {
			return o, true
		}
	}
	return LimitOrder{}, false
}

// CancelOrder removes a resting order by id. It is a no-op if the id is not
// present.
func (m *SimpleMarket) CancelOrder(orderID string) {
	out := m.openOrders[:0]
	for _, o := range m.openOrders {
		if o.OrderID != orderID {
			out = append(out, o)
		}
	}
	m.openOrders = out
}

// AddMarketTrade buffers a tape event for the next TryMatchMarket call and
// updates the book's last traded price.
func (m *SimpleMarket) AddMarketTrade(trade MarketTrade) {
	m.LastTradePrice = trade.Price
	m.tradeBuf = append(m.tradeBuf, trade)
}

// TryMatchMarket drains the buffered trades, filling resting orders
// consistent with each trade's aggressor side, and returns the fills in the
// order they occurred. Fully-filled orders are removed from the book after
// each trade is processed.
func (m *SimpleMarket) TryMatchMarket() []MarketEvent {
	var events []MarketEvent

	for _, trade := range m.tradeBuf {
		remaining := trade.Quantity

		if trade.IsBuyerMaker {
			// Aggressive sell: walk resting buys highest price to lowest,
			// earliest submit_at first within a price level. The book itself
			// is sorted (price asc, submit_at asc), so a plain reverse walk
			// would visit same-price orders in descending submit_at order;
			// instead, collect matching indices (already submit_at-ascending
			// within each price) and stable-sort them by price descending,
			// which preserves that ascending order within each price level.
			candidates := make([]int, 0, len(m.openOrders))
			for i, o := range m.openOrders {
				if o.Side == Buy && o.Price >= trade.Price {
					candidates = append(candidates, i)
				}
			}
			sort.SliceStable(candidates, func(a, b int) bool {
				return m.openOrders[candidates[a]].Price > m.openOrders[candidates[b]].Price
			})
			for _, i := range candidates {
				if remaining <= 0 {
					break
				}
				order := &m.openOrders[i]
				fillQty := minFloat(order.Remaining(), remaining)
				order.Filled += fillQty
				remaining -= fillQty
				events = append(events, MarketEvent{
					OrderID:         order.OrderID,
					Side:            order.Side,
					Price:           order.Price,
					Quantity:        fillQty,
					RemainingToFill: order.Remaining(),
					EventAt:         trade.TradeAt,
				})
			}
		} else {
			// Aggressive buy: walk resting sells lowest price to highest.
			for i := 0; i < len(m.openOrders) && remaining > 0; i++ {
				order := &m.openOrders[i]
				if order.Side != Sell || order.Price > trade.Price {
					continue
				}
				fillQty := minFloat(order.Remaining(), remaining)
				order.Filled += fillQty
				remaining -= fillQty
				events = append(events, MarketEvent{
					OrderID:         order.OrderID,
					Side:            order.Side,
					Price:           order.Price,
					Quantity:        fillQty,
					RemainingToFill: order.Remaining(),
					EventAt:         trade.TradeAt,
				})
			}
		}

		m.removeFilled()
	}

	m.tradeBuf = m.tradeBuf[:0]
	return events
}

func (m *SimpleMarket) removeFilled() {
	out := m.openOrders[:0]
	for _, o := range m.openOrders {
		if o.Filled < o.Quantity {
			out = append(out, o)
		}
	}
	m.openOrders = out
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
