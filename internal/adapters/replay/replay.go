// Package replay implements the deterministic market replay source: a
// merging cursor that walks a trade tape and a book-ticker tape, in
// timestamp order, and republishes them as one timeline on the market_data
// topic. Background goroutines decode CSV/ZIP input files into bounded
// channels so I/O overlaps with consumption; the module itself only ever
// touches its two peeked values and the comms fabric.
package replay

import (
	"archive/zip"
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/alejandrodnm/backsim/internal/domain"
	"github.com/alejandrodnm/backsim/internal/simulation"
)

// channelCapacity bounds the producer/consumer channels feeding the merging
// cursor; background file decoding blocks once a channel fills, letting the
// consumer set the pace.
const channelCapacity = 1024

// Kind classifies an input path by the Binance-style filename convention.
type Kind int

const (
	KindUnknown Kind = iota
	KindTrades
	KindBookTicker
)

// ClassifyFile reports the Kind of path by filename convention: zip archives
// match "trades"/"bookticker" case-sensitively; plain CSVs match
// "trades"/"bookTicker".
func ClassifyFile(path string) Kind {
	if strings.HasSuffix(path, ".zip") {
		switch {
		case strings.Contains(path, "trades"):
			return KindTrades
		case strings.Contains(path, "bookticker"):
			return KindBookTicker
		default:
			return KindUnknown
		}
	}
	name := filepath.Base(path)
	switch {
	case strings.Contains(name, "trades"):
		return KindTrades
	case strings.Contains(name, "bookTicker"):
		return KindBookTicker
	default:
		return KindUnknown
	}
}

// Builder accumulates input files and validates them eagerly (so a malformed
// zip fails the run at setup, not mid-replay) before constructing the
// replay Module.
type Builder struct {
	symbol string
	logger *slog.Logger
	epoch  time.Time

	tradeFiles      []string
	bookTickerFiles []string

	writeHandle simulation.WriteTopicHandle
}

// NewBuilder returns a Builder for symbol. epoch is the virtual-clock
// instant that corresponds to tape millisecond offset zero; logger defaults
// to slog.Default() if nil.
func NewBuilder(symbol string, epoch time.Time, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{symbol: symbol, epoch: epoch, logger: logger}
}

// WithPath registers an input file, classifying it by filename and, for
// zips, validating up front that it contains exactly one member. Returns an
// error for an unrecognized filename or a malformed zip; both are fatal at
// setup.
func (b *Builder) WithPath(path string) error {
	kind := ClassifyFile(path)
	if kind == KindUnknown {
		return fmt.Errorf("replay: %q does not match a trades or book-ticker filename convention", path)
	}
	if strings.HasSuffix(path, ".zip") {
		if err := validateZipSingleMember(path); err != nil {
			return err
		}
	} else if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("replay: %q: %w", path, err)
	}

	switch kind {
	case KindTrades:
		b.tradeFiles = append(b.tradeFiles, path)
	case KindBookTicker:
		b.bookTickerFiles = append(b.bookTickerFiles, path)
	}
	return nil
}

func validateZipSingleMember(path string) error {
	r, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("replay: open zip %q: %w", path, err)
	}
	defer r.Close()
	if len(r.File) != 1 {
		return fmt.Errorf("replay: zip %q must contain exactly one member, found %d", path, len(r.File))
	}
	return nil
}

func (b *Builder) Name() string { return "replay_source" }

func (b *Builder) InitComms(comms simulation.ModuleCommsBuilder) {
	topic := comms.GetOrCreateTopic("market_data")
	b.writeHandle = comms.PublishTopic(topic)
}

func (b *Builder) Build() simulation.Module {
	tradeCh := spawnReader(b.tradeFiles, b.symbol, b.logger, parseTradeLine)
	bookCh := spawnReader(b.bookTickerFiles, b.symbol, b.logger, parseBookTickerLine)

	return &Source{
		writeHandle: b.writeHandle,
		epoch:       b.epoch,
		tradeCh:     tradeCh,
		bookCh:      bookCh,
		logger:      b.logger,
	}
}

// Source is the merging-cursor Module: it keeps one peeked element from each
// stream and publishes whichever is earliest, breaking ties toward trades.
type Source struct {
	writeHandle simulation.WriteTopicHandle
	epoch       time.Time

	tradeCh <-chan domain.TradeTick
	bookCh  <-chan domain.BookTicker

	peekTrade *domain.TradeTick
	peekBook  *domain.BookTicker
	nextAt    time.Time
	haveNext  bool

	published int
	logger    *slog.Logger
}

var _ simulation.Module = (*Source)(nil)

func (s *Source) Start() {
	s.fillTrade()
	s.fillBook()
	s.computeNext()
}

func (s *Source) Sync(simulation.ModuleComms) bool { return true }

func (s *Source) OneIteration(comms simulation.ModuleComms) {
	now := comms.Time()
	for s.haveNext && !s.nextAt.After(now) {
		msg := s.takeMessage()
		comms.Publish(s.writeHandle, msg)
		s.published++
		s.computeNext()
	}
	if !s.haveNext {
		comms.RequestTerminate()
	}
}

func (s *Source) NextIterationStartAt() (time.Time, bool) {
	if !s.haveNext {
		return time.Time{}, false
	}
	return s.nextAt, true
}

func (s *Source) WakeOnMessage() bool { return false }

func (s *Source) Terminate() {
	s.logger.Info("replay exhausted", "published", s.published)
}

func (s *Source) fillTrade() {
	if s.peekTrade != nil {
		return
	}
	if v, ok := <-s.tradeCh; ok {
		s.peekTrade = &v
	}
}

func (s *Source) fillBook() {
	if s.peekBook != nil {
		return
	}
	if v, ok := <-s.bookCh; ok {
		s.peekBook = &v
	}
}

// computeNext decides, among the currently peeked elements, which one is
// the earliest by virtual timestamp. Ties go to the trade tick.
func (s *Source) computeNext() {
	switch {
	case s.peekTrade != nil && s.peekBook != nil:
		tradeAt := s.epoch.Add(time.Duration(s.peekTrade.TimeMs) * time.Millisecond)
		bookAt := s.epoch.Add(time.Duration(s.peekBook.EventTime) * time.Millisecond)
		if !tradeAt.After(bookAt) {
			s.nextAt = tradeAt
		} else {
			s.nextAt = bookAt
		}
		s.haveNext = true
	case s.peekTrade != nil:
		s.nextAt = s.epoch.Add(time.Duration(s.peekTrade.TimeMs) * time.Millisecond)
		s.haveNext = true
	case s.peekBook != nil:
		s.nextAt = s.epoch.Add(time.Duration(s.peekBook.EventTime) * time.Millisecond)
		s.haveNext = true
	default:
		s.haveNext = false
	}
}

// takeMessage pops whichever peeked element is due at s.nextAt, builds its
// wire Message, and refills that stream's peek slot.
func (s *Source) takeMessage() domain.Message {
	chooseTrade := true
	if s.peekTrade != nil && s.peekBook != nil {
		tradeAt := s.epoch.Add(time.Duration(s.peekTrade.TimeMs) * time.Millisecond)
		bookAt := s.epoch.Add(time.Duration(s.peekBook.EventTime) * time.Millisecond)
		chooseTrade = !tradeAt.After(bookAt)
	} else if s.peekTrade == nil {
		chooseTrade = false
	}

	header := domain.MessageHeader{CommitAt: s.nextAt}
	if chooseTrade {
		tick := *s.peekTrade
		s.peekTrade = nil
		s.fillTrade()
		return domain.Message{Header: header, Payload: domain.Payload{TradeTick: &tick}}
	}
	ticker := *s.peekBook
	s.peekBook = nil
	s.fillBook()
	return domain.Message{Header: header, Payload: domain.Payload{BookTicker: &ticker}}
}

// spawnReader launches one goroutine that decodes every path in order,
// parsing each line with parse and sending successfully parsed rows on the
// returned channel. Unparsable rows are skipped with a debug log line. The
// channel is closed once every file has been fully read.
func spawnReader[T any](paths []string, symbol string, logger *slog.Logger, parse func(line, symbol string) (T, bool)) <-chan T {
	out := make(chan T, channelCapacity)
	go func() {
		defer close(out)
		for _, path := range paths {
			if err := decodeFile(path, symbol, logger, parse, out); err != nil {
				logger.Error("replay: reading file failed", "path", path, "err", err)
				return
			}
		}
	}()
	return out
}

func decodeFile[T any](path, symbol string, logger *slog.Logger, parse func(line, symbol string) (T, bool), out chan<- T) error {
	var r io.Reader
	if strings.HasSuffix(path, ".zip") {
		zr, err := zip.OpenReader(path)
		if err != nil {
			return fmt.Errorf("open zip: %w", err)
		}
		defer zr.Close()
		member, err := zr.File[0].Open()
		if err != nil {
			return fmt.Errorf("open zip member: %w", err)
		}
		defer member.Close()
		r = member
	} else {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open file: %w", err)
		}
		defer f.Close()
		r = f
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		v, ok := parse(line, symbol)
		if !ok {
			logger.Debug("replay: skipping unparsable row", "path", path)
			continue
		}
		out <- v
	}
	return scanner.Err()
}

func parseTradeLine(line, symbol string) (domain.TradeTick, bool) {
	fields := strings.Split(line, ",")
	if len(fields) < 6 {
		return domain.TradeTick{}, false
	}
	id, err := strconv.ParseInt(strings.TrimSpace(fields[0]), 10, 64)
	if err != nil {
		return domain.TradeTick{}, false
	}
	price, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
	if err != nil {
		return domain.TradeTick{}, false
	}
	qty, err := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
	if err != nil {
		return domain.TradeTick{}, false
	}
	baseQty, err := strconv.ParseFloat(strings.TrimSpace(fields[3]), 64)
	if err != nil {
		return domain.TradeTick{}, false
	}
	timeMs, err := strconv.ParseInt(strings.TrimSpace(fields[4]), 10, 64)
	if err != nil {
		return domain.TradeTick{}, false
	}
	var isBuyerMaker bool
	switch flag := strings.TrimSpace(fields[5]); {
	case strings.EqualFold(flag, "true"):
		isBuyerMaker = true
	case strings.EqualFold(flag, "false"):
	default:
		return domain.TradeTick{}, false
	}

	return domain.TradeTick{
		ID:           id,
		Symbol:       symbol,
		Price:        price,
		Qty:          qty,
		BaseQty:      baseQty,
		TimeMs:       timeMs,
		IsBuyerMaker: isBuyerMaker,
	}, true
}

func parseBookTickerLine(line, symbol string) (domain.BookTicker, bool) {
	fields := strings.Split(line, ",")
	if len(fields) < 7 {
		return domain.BookTicker{}, false
	}
	updateID, err := strconv.ParseInt(strings.TrimSpace(fields[0]), 10, 64)
	if err != nil {
		return domain.BookTicker{}, false
	}
	bidPrice, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
	if err != nil {
		return domain.BookTicker{}, false
	}
	bidQty, err := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
	if err != nil {
		return domain.BookTicker{}, false
	}
	askPrice, err := strconv.ParseFloat(strings.TrimSpace(fields[3]), 64)
	if err != nil {
		return domain.BookTicker{}, false
	}
	askQty, err := strconv.ParseFloat(strings.TrimSpace(fields[4]), 64)
	if err != nil {
		return domain.BookTicker{}, false
	}
	txTime, err := strconv.ParseInt(strings.TrimSpace(fields[5]), 10, 64)
	if err != nil {
		return domain.BookTicker{}, false
	}
	eventTime, err := strconv.ParseInt(strings.TrimSpace(fields[6]), 10, 64)
	if err != nil {
		return domain.BookTicker{}, false
	}

	return domain.BookTicker{
		Symbol:          symbol,
		UpdateID:        updateID,
		BestBidPrice:    bidPrice,
		BestBidQty:      bidQty,
		BestAskPrice:    askPrice,
		BestAskQty:      askQty,
		TransactionTime: txTime,
		EventTime:       eventTime,
	}, true
}
