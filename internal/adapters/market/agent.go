package market

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alejandrodnm/backsim/internal/domain"
	"github.com/alejandrodnm/backsim/internal/simulation"
)

// RunSummary is the run report computed once at Terminate(): everything the
// console reporter and run store need to describe the outcome of one
// backtest.
type RunSummary struct {
	StatsText          string
	MarketLastPrice    map[string]float64
	InitialBalances    map[string]float64
	InitialEquityQuote float64
	FinalBalances      map[string]domain.AssetBalance
	FinalEquityQuote   float64
	FeeBalances        map[string]float64
	FeeEquityQuote     float64
	ProfitByAsset      map[string]float64
	ProfitEquityQuote  float64
	ProfitRatePct      float64
	ProfitPerVolumeBps float64
}

// Reporter receives the run summary once the simulation terminates.
type Reporter interface {
	Report(summary RunSummary)
}

const quoteAsset = "USDT"

// Agent is the matching-engine module: it maintains one order book per
// symbol, ingests the trade tape to produce fills, and ingests order/cancel
// requests from strategy modules.
type Agent struct {
	marketDataTopic  simulation.ReadTopicHandle
	orderTopic       simulation.ReadTopicHandle
	orderResultTopic simulation.WriteTopicHandle
	accountTopic     simulation.WriteTopicHandle

	marketBySymbol map[string]*domain.SimpleMarket

	account           *domain.Account
	feeAccount        *domain.Account
	symbolInfoManager *domain.SymbolInfoManager

	stats *stats

	initialBalance map[string]float64

	summaryInterval          time.Duration
	lastAccountSummarySentAt time.Time

	reporter Reporter
	logger   *slog.Logger
}

var _ simulation.Module = (*Agent)(nil)

func (a *Agent) Start() {
	for asset, balance := range a.initialBalance {
		a.account.GetOrCreate(asset).AddBalance(balance)
	}
}

func (a *Agent) Sync(comms simulation.ModuleComms) bool {
	for {
		msg, ok := comms.Receive(a.marketDataTopic)
		if !ok {
			break
		}
		a.ingestMarketTradeData(msg)
	}
	for {
		msg, ok := comms.Receive(a.orderTopic)
		if !ok {
			break
		}
		a.ingestOrderMessage(msg, comms)
	}
	return true
}

func (a *Agent) OneIteration(comms simulation.ModuleComms) {
	// Symbols are matched in name order: map iteration order is randomized
	// per run, and replaying the same tape must publish the same message
	// sequence.
	symbols := make([]string, 0, len(a.marketBySymbol))
	for symbol := range a.marketBySymbol {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	for _, symbol := range symbols {
		m := a.marketBySymbol[symbol]
		for _, e := range m.TryMatchMarket() {
			isBuy := e.Side == domain.Buy
			a.stats.onOrderFilled(e.Quantity, e.Quantity*e.Price, isBuy)

			info, ok := a.symbolInfoManager.Get(symbol)
			if !ok {
				panic(fmt.Sprintf("market: symbol %q is not supported", symbol))
			}
			r := domain.CalcTradeResult(info, e.Price, e.Quantity, isBuy)

			a.feeAccount.GetOrCreate(r.FeeAsset).AddBalance(r.FeeQty)
			a.account.GetOrCreate(r.PayAsset).ConsumeLocked(r.PayQty)
			a.account.GetOrCreate(r.RecvAsset).AddBalance(r.RecvQty)

			a.logger.Debug("fill",
				"side", e.Side.String(), "order_id", e.OrderID,
				"price", e.Price, "qty", e.Quantity)

			status := domain.StatusPartiallyFilled
			if e.RemainingToFill <= 0 {
				status = domain.StatusFilled
			}
			now := comms.Time()
			comms.Publish(a.orderResultTopic, domain.Message{
				Header: domain.MessageHeader{CommitAt: now},
				Payload: domain.Payload{OrderResult: &domain.OrderResult{
					Symbol:         symbol,
					At:             now,
					ClientOrderID:  e.OrderID,
					FilledQuantity: e.Quantity,
					Price:          e.Price,
					IsBuy:          isBuy,
					Status:         status,
				}},
			})
			comms.Publish(a.accountTopic, domain.Message{
				Header:  domain.MessageHeader{CommitAt: now},
				Payload: domain.Payload{AccountUpdate: ptr(a.account.SnapshotAssets(r.PayAsset, r.RecvAsset))},
			})
		}
	}

	now := comms.Time()
	if a.summaryInterval > 0 && now.Sub(a.lastAccountSummarySentAt) > a.summaryInterval {
		a.lastAccountSummarySentAt = now
		comms.Publish(a.accountTopic, domain.Message{
			Header:  domain.MessageHeader{CommitAt: now},
			Payload: domain.Payload{AccountUpdate: ptr(a.account.Snapshot())},
		})
	}
}

func (a *Agent) NextIterationStartAt() (time.Time, bool) { return time.Time{}, false }

func (a *Agent) WakeOnMessage() bool { return true }

func (a *Agent) Terminate() {
	summary := a.buildSummary()
	a.logger.Info("run complete", "orders", a.stats.totalOrderNum, "fills",
		a.stats.totalFilledBuyQuantity+a.stats.totalFilledSellQuantity)
	if a.reporter != nil {
		a.reporter.Report(summary)
	}
}

func ptr[T any](v T) *T { return &v }

func (a *Agent) ingestMarketTradeData(msg domain.Message) {
	switch {
	case msg.Payload.TradeTick != nil:
		tick := msg.Payload.TradeTick
		m, ok := a.marketBySymbol[tick.Symbol]
		if !ok {
			m = domain.NewSimpleMarket()
			a.marketBySymbol[tick.Symbol] = m
		}
		m.AddMarketTrade(domain.MarketTrade{
			Price:        tick.Price,
			Quantity:     tick.Qty,
			TradeAt:      time.UnixMilli(tick.TimeMs),
			IsBuyerMaker: tick.IsBuyerMaker,
		})
	case msg.Payload.BookTicker != nil:
		// book tickers do not drive fills in the matching engine.
	default:
		a.logger.Error("ingestMarketTradeData: unexpected payload")
	}
}

func (a *Agent) ingestOrderMessage(msg domain.Message, comms simulation.ModuleComms) {
	switch {
	case msg.Payload.OrderRequest != nil:
		a.ingestOrderRequest(*msg.Payload.OrderRequest, msg.Header, comms)
	case msg.Payload.CancelOrderRequest != nil:
		a.ingestCancelOrderRequest(*msg.Payload.CancelOrderRequest, comms)
	default:
		a.logger.Error("ingestOrderMessage: unexpected payload")
	}
}

func (a *Agent) ingestOrderRequest(req domain.OrderRequest, header domain.MessageHeader, comms simulation.ModuleComms) {
	if a.isDuplicateOrder(req.Symbol, req.ClientOrderID) {
		a.stats.onEvent("order_duplicate_ignored")
		a.logger.Debug("duplicate client_order_id ignored", "symbol", req.Symbol, "client_order_id", req.ClientOrderID)
		return
	}
	now := comms.Time()
	status := domain.StatusNew
	if err := a.processOrderRequest(req, header); err != nil {
		status = domain.StatusRejected
		a.stats.onEvent(fmt.Sprintf("order_fail_%s_%s", req.Side, req.Symbol))
		a.logger.Debug("order rejected", "symbol", req.Symbol, "err", err)
	}
	comms.Publish(a.orderResultTopic, domain.Message{
		Header: domain.MessageHeader{CommitAt: now},
		Payload: domain.Payload{OrderResult: &domain.OrderResult{
			Symbol:        req.Symbol,
			At:            now,
			ClientOrderID: req.ClientOrderID,
			Price:         req.Price,
			IsBuy:         req.Side == domain.Buy,
			Status:        status,
		}},
	})
}

func (a *Agent) ingestCancelOrderRequest(req domain.CancelOrderRequest, comms simulation.ModuleComms) {
	now := comms.Time()
	if err := a.processCancelOrderRequest(req); err != nil {
		a.stats.onEvent("cancel_order_fail")
		a.logger.Debug("cancel rejected", "symbol", req.Symbol, "err", err)
		return
	}
	comms.Publish(a.orderResultTopic, domain.Message{
		Header: domain.MessageHeader{CommitAt: now},
		Payload: domain.Payload{OrderResult: &domain.OrderResult{
			Symbol:        req.Symbol,
			At:            now,
			ClientOrderID: req.ClientOrderID,
			Status:        domain.StatusCanceled,
		}},
	})
}

// isDuplicateOrder reports whether a resting order with this id already
// rests in symbol's book. Checked before locking any funds, so a duplicate
// submission never mutates balances (book invariant: no two resting orders
// share a client_order_id).
func (a *Agent) isDuplicateOrder(symbol, clientOrderID string) bool {
	m, ok := a.marketBySymbol[symbol]
	if !ok {
		return false
	}
	_, exists := m.GetOrder(clientOrderID)
	return exists
}

func (a *Agent) processOrderRequest(req domain.OrderRequest, header domain.MessageHeader) error {
	a.stats.onOrderSubmitted(req.Quantity, req.Side == domain.Buy)

	if req.Price <= 0 || req.Quantity <= 0 {
		return fmt.Errorf("market: order %s price and quantity must be positive", req.ClientOrderID)
	}
	info, ok := a.symbolInfoManager.Get(req.Symbol)
	if !ok {
		return domain.ErrUnknownSymbol(req.Symbol)
	}

	var payAsset string
	var payAmt float64
	if req.Side == domain.Buy {
		payAsset, payAmt = info.QuoteAsset, req.Price*req.Quantity
	} else {
		payAsset, payAmt = info.BaseAsset, req.Quantity
	}
	if !a.account.GetOrCreate(payAsset).TryLock(payAmt) {
		return fmt.Errorf("market: insufficient %s balance for %s", payAsset, req.ClientOrderID)
	}

	m, ok := a.marketBySymbol[req.Symbol]
	if !ok {
		m = domain.NewSimpleMarket()
		a.marketBySymbol[req.Symbol] = m
	}
	m.AddOrder(domain.LimitOrder{
		OrderID:  req.ClientOrderID,
		Side:     req.Side,
		Price:    req.Price,
		Quantity: req.Quantity,
		SubmitAt: header.CommitAt,
	})
	return nil
}

func (a *Agent) processCancelOrderRequest(req domain.CancelOrderRequest) error {
	a.stats.onOrderCancel()

	info, ok := a.symbolInfoManager.Get(req.Symbol)
	if !ok {
		return domain.ErrUnknownSymbol(req.Symbol)
	}
	m, ok := a.marketBySymbol[req.Symbol]
	if !ok {
		return fmt.Errorf("market: symbol %s has no market", req.Symbol)
	}
	order, ok := m.GetOrder(req.ClientOrderID)
	if !ok {
		return fmt.Errorf("market: order %s not found", req.ClientOrderID)
	}

	var lockedAsset string
	var lockedAmt float64
	if order.Side == domain.Buy {
		lockedAsset, lockedAmt = info.QuoteAsset, order.Price*order.Remaining()
	} else {
		lockedAsset, lockedAmt = info.BaseAsset, order.Remaining()
	}
	a.account.GetOrCreate(lockedAsset).Unlock(lockedAmt)
	m.CancelOrder(req.ClientOrderID)
	return nil
}

func (a *Agent) buildSummary() RunSummary {
	equityFor := func(account *domain.Account) (float64, map[string]float64) {
		var total float64
		byAsset := make(map[string]float64)
		for _, asset := range account.Assets() {
			bal, _ := account.Get(asset)
			price := a.priceToQuote(asset)
			byAsset[asset] = bal.Balance
			total += bal.Balance * price
		}
		return total, byAsset
	}

	var initialEquity float64
	for asset, bal := range a.initialBalance {
		initialEquity += bal * a.priceToQuote(asset)
	}

	finalEquity, _ := equityFor(a.account)
	feeEquity, feeByAsset := equityFor(a.feeAccount)

	finalBalances := make(map[string]domain.AssetBalance)
	for _, asset := range a.account.Assets() {
		finalBalances[asset], _ = a.account.Get(asset)
	}

	profitByAsset := make(map[string]float64)
	var profitEquity float64
	for _, asset := range a.account.Assets() {
		bal, _ := a.account.Get(asset)
		profit := bal.Balance - a.initialBalance[asset]
		profitByAsset[asset] = profit
		profitEquity += profit * a.priceToQuote(asset)
	}

	prices := make(map[string]float64)
	for symbol, m := range a.marketBySymbol {
		prices[symbol] = m.LastTradePrice
	}

	var profitRatePct float64
	if initialEquity != 0 {
		profitRatePct = profitEquity / initialEquity * 100
	}
	var profitPerVolumeBps float64
	if vol := a.stats.totalFilledBuyVolume() + a.stats.totalFilledSellVolume(); vol != 0 {
		profitPerVolumeBps = profitEquity / vol * 100 * 100
	}

	return RunSummary{
		StatsText:          a.stats.summary(),
		MarketLastPrice:    prices,
		InitialBalances:    a.initialBalance,
		InitialEquityQuote: initialEquity,
		FinalBalances:      finalBalances,
		FinalEquityQuote:   finalEquity,
		FeeBalances:        feeByAsset,
		FeeEquityQuote:     feeEquity,
		ProfitByAsset:      profitByAsset,
		ProfitEquityQuote:  profitEquity,
		ProfitRatePct:      profitRatePct,
		ProfitPerVolumeBps: profitPerVolumeBps,
	}
}

// priceToQuote returns the last traded price converting asset into the
// quote asset, or 1 for the quote asset itself.
func (a *Agent) priceToQuote(asset string) float64 {
	if asset == quoteAsset {
		return 1
	}
	symbol := asset + quoteAsset
	m, ok := a.marketBySymbol[symbol]
	if !ok {
		a.logger.Error("priceToQuote: no market to value asset", "asset", asset)
		return 0
	}
	return m.LastTradePrice
}

// Builder constructs an Agent after registering its comms topology.
type Builder struct {
	symbolInfoManager *domain.SymbolInfoManager
	initialBalance    map[string]float64
	summaryInterval   time.Duration
	reporter          Reporter
	logger            *slog.Logger

	marketDataTopic  simulation.ReadTopicHandle
	orderTopic       simulation.ReadTopicHandle
	orderResultTopic simulation.WriteTopicHandle
	accountTopic     simulation.WriteTopicHandle
}

var _ simulation.ModuleBuilder = (*Builder)(nil)

// NewBuilder returns a Builder using logger for the agent's diagnostics,
// defaulting to slog.Default() if logger is nil.
func NewBuilder(symbolInfoManager *domain.SymbolInfoManager, summaryInterval time.Duration, reporter Reporter, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		symbolInfoManager: symbolInfoManager,
		initialBalance:    make(map[string]float64),
		summaryInterval:   summaryInterval,
		reporter:          reporter,
		logger:            logger,
	}
}

// WithInitialBalance seeds the account with a starting balance for asset.
func (b *Builder) WithInitialBalance(asset string, balance float64) *Builder {
	b.initialBalance[asset] = balance
	return b
}

func (b *Builder) Name() string { return "market_agent" }

func (b *Builder) InitComms(comms simulation.ModuleCommsBuilder) {
	b.marketDataTopic = comms.SubscribeTopic(comms.GetOrCreateTopic("market_data"))
	b.orderTopic = comms.SubscribeTopic(comms.GetOrCreateTopic("order"))
	b.orderResultTopic = comms.PublishTopic(comms.GetOrCreateTopic("order_result"))
	b.accountTopic = comms.PublishTopic(comms.GetOrCreateTopic("account"))
}

func (b *Builder) Build() simulation.Module {
	return &Agent{
		marketDataTopic:   b.marketDataTopic,
		orderTopic:        b.orderTopic,
		orderResultTopic:  b.orderResultTopic,
		accountTopic:      b.accountTopic,
		marketBySymbol:    make(map[string]*domain.SimpleMarket),
		account:           domain.NewAccount(),
		feeAccount:        domain.NewAccount(),
		symbolInfoManager: b.symbolInfoManager,
		stats:             newStats(),
		initialBalance:    b.initialBalance,
		summaryInterval:   b.summaryInterval,
		reporter:          b.reporter,
		logger:            b.logger,
	}
}
