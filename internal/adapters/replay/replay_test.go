package replay

import (
	"archive/zip"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alejandrodnm/backsim/internal/domain"
	"github.com/alejandrodnm/backsim/internal/simulation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyFile(t *testing.T) {
	assert.Equal(t, KindTrades, ClassifyFile("BTCUSDT-trades-2024-01-01.zip"))
	assert.Equal(t, KindBookTicker, ClassifyFile("BTCUSDT-bookticker-2024-01-01.zip"))
	assert.Equal(t, KindTrades, ClassifyFile("BTCUSDT-trades-2024-01-01.csv"))
	assert.Equal(t, KindBookTicker, ClassifyFile("BTCUSDT-bookTicker-2024-01-01.csv"))
	assert.Equal(t, KindUnknown, ClassifyFile("BTCUSDT-klines-2024-01-01.csv"))
}

func TestParseTradeLine(t *testing.T) {
	tick, ok := parseTradeLine("1,100.5,1.2,120.6,1000,True", "BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, int64(1), tick.ID)
	assert.Equal(t, 100.5, tick.Price)
	assert.True(t, tick.IsBuyerMaker)
	assert.Equal(t, "BTCUSDT", tick.Symbol)

	_, ok = parseTradeLine("1,notaprice,1.2,120.6,1000,true", "BTCUSDT")
	assert.False(t, ok)
}

func TestParseBookTickerLine(t *testing.T) {
	tick, ok := parseBookTickerLine("1,99.9,5,100.1,4,1000,1001", "BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, int64(1), tick.UpdateID)
	assert.Equal(t, 100.1, tick.BestAskPrice)
	assert.Equal(t, int64(1001), tick.EventTime)

	_, ok = parseBookTickerLine("1,99.9", "BTCUSDT")
	assert.False(t, ok)
}

func TestSource_MergesTradesAndTickersInTimestampOrder(t *testing.T) {
	tradeCh := make(chan domain.TradeTick, 2)
	bookCh := make(chan domain.BookTicker, 1)
	tradeCh <- domain.TradeTick{ID: 1, TimeMs: 10}
	tradeCh <- domain.TradeTick{ID: 2, TimeMs: 30}
	close(tradeCh)
	bookCh <- domain.BookTicker{UpdateID: 1, EventTime: 20}
	close(bookCh)

	src := &Source{
		tradeCh: tradeCh,
		bookCh:  bookCh,
		epoch:   time.Unix(0, 0).UTC(),
		logger:  slog.Default(),
	}
	src.Start()

	var order []string
	comms := &recordingComms{publish: func(msg domain.Message) {
		switch {
		case msg.Payload.TradeTick != nil:
			order = append(order, "trade")
		case msg.Payload.BookTicker != nil:
			order = append(order, "ticker")
		}
	}}

	// Run OneIteration repeatedly, advancing time as the source requests,
	// just as the scheduler would.
	for {
		at, ok := src.NextIterationStartAt()
		if !ok {
			break
		}
		comms.now = at
		src.OneIteration(comms)
	}

	assert.Equal(t, []string{"trade", "ticker", "trade"}, order)
	assert.True(t, comms.terminated)
}

func TestSource_TiesGoToTrade(t *testing.T) {
	tradeCh := make(chan domain.TradeTick, 1)
	bookCh := make(chan domain.BookTicker, 1)
	tradeCh <- domain.TradeTick{ID: 1, TimeMs: 10}
	close(tradeCh)
	bookCh <- domain.BookTicker{UpdateID: 1, EventTime: 10}
	close(bookCh)

	src := &Source{tradeCh: tradeCh, bookCh: bookCh, epoch: time.Unix(0, 0).UTC(), logger: slog.Default()}
	src.Start()

	var order []string
	comms := &recordingComms{publish: func(msg domain.Message) {
		if msg.Payload.TradeTick != nil {
			order = append(order, "trade")
		} else {
			order = append(order, "ticker")
		}
	}}
	comms.now = time.Unix(0, 0).UTC().Add(10 * time.Millisecond)
	src.OneIteration(comms)

	assert.Equal(t, []string{"trade", "ticker"}, order)
}

func TestBuilder_RejectsZipWithWrongMemberCount(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "BTCUSDT-trades-2024-01-01.zip")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w1, _ := zw.Create("a.csv")
	w1.Write([]byte("1,1,1,1,1,true\n"))
	w2, _ := zw.Create("b.csv")
	w2.Write([]byte("1,1,1,1,1,true\n"))
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	b := NewBuilder("BTCUSDT", time.Unix(0, 0).UTC(), nil)
	err = b.WithPath(path)
	assert.Error(t, err)
}

func TestBuilder_AcceptsZipWithSingleMember(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "BTCUSDT-trades-2024-01-01.zip")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w1, _ := zw.Create("a.csv")
	w1.Write([]byte("1,100,1,1,1000,true\n"))
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	b := NewBuilder("BTCUSDT", time.Unix(0, 0).UTC(), nil)
	assert.NoError(t, b.WithPath(path))
}

func TestBuilder_RejectsUnknownFilename(t *testing.T) {
	b := NewBuilder("BTCUSDT", time.Unix(0, 0).UTC(), nil)
	assert.Error(t, b.WithPath("BTCUSDT-klines-2024-01-01.csv"))
}

// recordingComms is a minimal simulation.ModuleComms stub for exercising
// Source in isolation.
type recordingComms struct {
	now        time.Time
	terminated bool
	publish    func(domain.Message)
}

var _ simulation.ModuleComms = (*recordingComms)(nil)

func (c *recordingComms) Time() time.Time { return c.now }
func (c *recordingComms) Receive(simulation.ReadTopicHandle) (domain.Message, bool) {
	return domain.Message{}, false
}
func (c *recordingComms) Publish(_ simulation.WriteTopicHandle, msg domain.Message) {
	c.publish(msg)
}
func (c *recordingComms) RequestTerminate() { c.terminated = true }
