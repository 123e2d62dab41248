// Package market implements the matching engine module: it ingests trade
// tape data to drive fills against a per-symbol order book, and ingests
// order/cancel requests from strategy modules.
package market

import (
	"fmt"
	"sort"
	"strings"
)

// stats accumulates the run counters reported in the terminal summary.
type stats struct {
	totalOrderNum           uint64
	totalOrderBuyQuantity   float64
	totalOrderSellQuantity  float64
	totalOrderCancelNum     uint64
	totalFilledBuyQuantity  float64
	totalFilledSellQuantity float64
	totalFilledBuyVol       float64
	totalFilledSellVol      float64

	eventCount map[string]uint64
}

func newStats() *stats {
	return &stats{eventCount: make(map[string]uint64)}
}

func (s *stats) onOrderCancel() {
	s.totalOrderCancelNum++
}

func (s *stats) onOrderSubmitted(quantity float64, isBuy bool) {
	s.totalOrderNum++
	if isBuy {
		s.totalOrderBuyQuantity += quantity
	} else {
		s.totalOrderSellQuantity += quantity
	}
}

func (s *stats) onOrderFilled(quantity, vol float64, isBuy bool) {
	if isBuy {
		s.totalFilledBuyQuantity += quantity
		s.totalFilledBuyVol += vol
	} else {
		s.totalFilledSellQuantity += quantity
		s.totalFilledSellVol += vol
	}
}

func (s *stats) onEvent(event string) {
	s.eventCount[event]++
}

func (s *stats) totalFilledBuyVolume() float64  { return s.totalFilledBuyVol }
func (s *stats) totalFilledSellVolume() float64 { return s.totalFilledSellVol }

// summary renders the run counters the way the terminal reporter prints
// them. Event names are sorted for deterministic output.
func (s *stats) summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Order Num: %d\n", s.totalOrderNum)
	fmt.Fprintf(&b, "Order Cancel Num: %d\n", s.totalOrderCancelNum)
	fmt.Fprintf(&b, "Order Buy Quantity: %.5f\n", s.totalOrderBuyQuantity)
	fmt.Fprintf(&b, "Order Sell Quantity: %.5f\n", s.totalOrderSellQuantity)
	fmt.Fprintf(&b, "Filled Buy Quantity/Vol: %.5f/%.2f\n", s.totalFilledBuyQuantity, s.totalFilledBuyVol)
	fmt.Fprintf(&b, "Filled Sell Quantity/Vol: %.5f/%.2f\n", s.totalFilledSellQuantity, s.totalFilledSellVol)

	events := make([]string, 0, len(s.eventCount))
	for e := range s.eventCount {
		events = append(events, e)
	}
	sort.Strings(events)
	for _, e := range events {
		fmt.Fprintf(&b, "%s: %d\n", e, s.eventCount[e])
	}
	return b.String()
}
