package domain

import "fmt"

// SymbolInfo is the immutable metadata for one tradeable symbol.
type SymbolInfo struct {
	Symbol     string
	BaseAsset  string
	QuoteAsset string
	FeeRate    float64
}

// SymbolInfoManager resolves a symbol to its metadata. It is built once at
// wiring time and never mutated afterward.
type SymbolInfoManager struct {
	bySymbol map[string]SymbolInfo
}

// NewSymbolInfoManager returns a manager with no symbols configured.
func NewSymbolInfoManager() *SymbolInfoManager {
	return &SymbolInfoManager{bySymbol: make(map[string]SymbolInfo)}
}

// WithSymbol registers a symbol's metadata and returns the manager, so
// construction can be chained the way the rest of this package's builders
// are.
func (m *SymbolInfoManager) WithSymbol(symbol, baseAsset, quoteAsset string, feeRate float64) *SymbolInfoManager {
	m.bySymbol[symbol] = SymbolInfo{
		Symbol:     symbol,
		BaseAsset:  baseAsset,
		QuoteAsset: quoteAsset,
		FeeRate:    feeRate,
	}
	return m
}

// Get returns the metadata for symbol, or false if it was never configured.
func (m *SymbolInfoManager) Get(symbol string) (SymbolInfo, bool) {
	info, ok := m.bySymbol[symbol]
	return info, ok
}

// TradeResult is the settlement of a single fill: what was paid, what was
// received, and the fee deducted from the received asset.
type TradeResult struct {
	PayAsset  string
	RecvAsset string
	FeeAsset  string
	PayQty    float64
	RecvQty   float64
	FeeQty    float64
}

// CalcTradeResult computes the settlement for a fill of qty at price on the
// given symbol. Fees are always deducted from the received asset.
func CalcTradeResult(info SymbolInfo, price, qty float64, isBuy bool) TradeResult {
	var payAsset, recvAsset string
	var payQty, recvQty float64
	if isBuy {
		payAsset, payQty = info.QuoteAsset, qty*price
		recvAsset, recvQty = info.BaseAsset, qty
	} else {
		payAsset, payQty = info.BaseAsset, qty
		recvAsset, recvQty = info.QuoteAsset, qty*price
	}

	feeAsset := recvAsset
	feeQty := recvQty * info.FeeRate
	recvQty -= feeQty

	return TradeResult{
		PayAsset:  payAsset,
		RecvAsset: recvAsset,
		FeeAsset:  feeAsset,
		PayQty:    payQty,
		RecvQty:   recvQty,
		FeeQty:    feeQty,
	}
}

// ErrUnknownSymbol is returned when an order or cancel references a symbol
// the manager was never configured with.
func ErrUnknownSymbol(symbol string) error {
	return fmt.Errorf("domain: symbol %q is not supported", symbol)
}
