// Package domain holds the wire types exchanged between simulation modules:
// trade ticks, book tickers, order requests/results, account updates, and the
// envelope that carries them.
package domain

import "time"

// TradeSide identifies the side of an order or fill.
type TradeSide int

const (
	Buy TradeSide = iota
	Sell
)

func (s TradeSide) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

// TradeType mirrors the exchange order types a strategy may request.
type TradeType int

const (
	Limit TradeType = iota
	LimitMaker
	Market
)

// TimeInForce controls how long a resting order remains eligible to match.
type TimeInForce int

const (
	GoodTilCancelled TimeInForce = iota
	ImmediateOrCancelled
	FillOrKill
)

// OrderStatus is the lifecycle state reported back to the order's submitter.
type OrderStatus int

const (
	StatusNew OrderStatus = iota
	StatusPartiallyFilled
	StatusFilled
	StatusCanceled
	StatusRejected
	StatusExpired
	StatusExpiredInMatch
)

func (s OrderStatus) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusPartiallyFilled:
		return "partially_filled"
	case StatusFilled:
		return "filled"
	case StatusCanceled:
		return "canceled"
	case StatusRejected:
		return "rejected"
	case StatusExpired:
		return "expired"
	case StatusExpiredInMatch:
		return "expired_in_match"
	default:
		return "unknown"
	}
}

// TradeTick is one row of a replayed trade tape.
//
// IsBuyerMaker=true means the trade was an aggressive sell: the buyer was
// resting (the maker) and the seller crossed the book.
type TradeTick struct {
	ID           int64
	Symbol       string
	Price        float64
	Qty          float64
	BaseQty      float64
	TimeMs       int64
	IsBuyerMaker bool
}

// BookTicker is a top-of-book snapshot.
type BookTicker struct {
	Symbol          string
	UpdateID        int64
	BestBidPrice    float64
	BestBidQty      float64
	BestAskPrice    float64
	BestAskQty      float64
	TransactionTime int64
	EventTime       int64
}

// OrderRequest asks the matching engine to place a new resting order.
type OrderRequest struct {
	Symbol        string
	Side          TradeSide
	Price         float64
	Quantity      float64
	ClientOrderID string
	TradeType     TradeType
	TimeInForce   TimeInForce
}

// CancelOrderRequest asks the matching engine to remove a resting order.
type CancelOrderRequest struct {
	Symbol        string
	ClientOrderID string
}

// OrderResult reports the outcome of an order request or a fill.
type OrderResult struct {
	Symbol          string
	At              time.Time
	ClientOrderID   string
	FilledQuantity  float64
	Price           float64
	IsBuy           bool
	Status          OrderStatus
}

// AssetUpdate is the post-event state of one asset.
type AssetUpdate struct {
	Asset   string
	Balance float64
	Locked  float64
}

// AccountUpdate carries the touched assets after an event, or every asset
// held during a periodic summary.
type AccountUpdate struct {
	Updates []AssetUpdate
}

// Payload is the set of message bodies a topic may carry. Exactly one field
// is populated per message; consumers switch on which.
type Payload struct {
	TradeTick          *TradeTick
	BookTicker         *BookTicker
	OrderRequest       *OrderRequest
	CancelOrderRequest *CancelOrderRequest
	OrderResult        *OrderResult
	AccountUpdate      *AccountUpdate
}

// MessageHeader carries the metadata common to every message.
type MessageHeader struct {
	CommitAt time.Time
}

// Message is the envelope cloned into every subscriber mailbox at publish
// time.
type Message struct {
	Header  MessageHeader
	Payload Payload
}
