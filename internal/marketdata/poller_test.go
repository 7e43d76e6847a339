package marketdata

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketsim/tradecore/pkg/models"
)

type captureSink struct {
	mu      sync.Mutex
	updates []models.PriceUpdate
	chains  []models.OptionChainSnapshot
}

func (s *captureSink) ApplyUpdate(u models.PriceUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, u)
}

func (s *captureSink) ApplyChain(snap models.OptionChainSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chains = append(s.chains, snap)
}

func (s *captureSink) Updates() []models.PriceUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.PriceUpdate, len(s.updates))
	copy(out, s.updates)
	return out
}

func (s *captureSink) Chains() []models.OptionChainSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.OptionChainSnapshot, len(s.chains))
	copy(out, s.chains)
	return out
}

type fixedQuoter struct {
	quotes map[string]models.PriceUpdate
	err    error
}

func (q fixedQuoter) Quote(_ context.Context, symbol string) (models.PriceUpdate, error) {
	if q.err != nil {
		return models.PriceUpdate{}, q.err
	}
	u, ok := q.quotes[symbol]
	if !ok {
		return models.PriceUpdate{}, errors.New("unknown symbol")
	}
	return u, nil
}

func fixedNow() time.Time {
	return time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC) // a Monday
}

func TestPollerDemoWalkDeterministic(t *testing.T) {
	cfg := PollerConfig{
		BasePrices: map[string]float64{"RELIANCE": 2500, "TCS": 3800},
		Seed:       42,
		Now:        fixedNow,
	}

	run := func() []models.PriceUpdate {
		reg := NewRegistry()
		reg.Subscribe("RELIANCE")
		reg.Subscribe("TCS")
		sink := &captureSink{}
		p := NewPoller(nil, reg, sink, cfg)
		for i := 0; i < 5; i++ {
			p.Poll(context.Background())
		}
		return sink.Updates()
	}

	first := run()
	second := run()
	require.Len(t, first, 10)
	assert.Equal(t, first, second)
}

func TestPollerWalkBounded(t *testing.T) {
	reg := NewRegistry()
	reg.Subscribe("RELIANCE")
	sink := &captureSink{}
	p := NewPoller(nil, reg, sink, PollerConfig{
		BasePrices: map[string]float64{"RELIANCE": 2500},
		Seed:       7,
		Now:        fixedNow,
	})

	prev := 2500.0
	for i := 0; i < 200; i++ {
		p.Poll(context.Background())
	}
	for _, u := range sink.Updates() {
		assert.Equal(t, "RELIANCE", u.Symbol)
		// Each tick stays within 2% of the previous price, with a little
		// slack for the 2-decimal rounding of the published price.
		assert.InDelta(t, prev, u.Price, prev*maxTickPct+0.01)
		assert.Less(t, u.Bid, u.Ask)
		assert.Equal(t, fixedNow(), u.Timestamp)
		prev = u.Price
	}
}

func TestPollerPriceFloor(t *testing.T) {
	reg := NewRegistry()
	reg.Subscribe("PENNY")
	sink := &captureSink{}
	p := NewPoller(nil, reg, sink, PollerConfig{
		BasePrices: map[string]float64{"PENNY": 0.01},
		Seed:       1,
		Now:        fixedNow,
	})

	for i := 0; i < 50; i++ {
		p.Poll(context.Background())
	}
	for _, u := range sink.Updates() {
		assert.GreaterOrEqual(t, u.Price, priceFloor)
	}
}

func TestPollerDerivedBaseStable(t *testing.T) {
	b1 := derivedBase("WIPRO")
	b2 := derivedBase("WIPRO")
	assert.Equal(t, b1, b2)
	assert.GreaterOrEqual(t, b1, 50.0)
	assert.Less(t, b1, 5050.0)
}

func TestPollerGeneratesChains(t *testing.T) {
	reg := NewRegistry()
	reg.Subscribe(ChainKey("NIFTY"))
	sink := &captureSink{}
	p := NewPoller(nil, reg, sink, PollerConfig{
		BasePrices: map[string]float64{"NIFTY": 24500},
		Seed:       42,
		Now:        fixedNow,
	})

	p.Poll(context.Background())

	chains := sink.Chains()
	require.Len(t, chains, 1)
	snap := chains[0]
	assert.Equal(t, "NIFTY", snap.Underlying)
	assert.Len(t, snap.Strikes, 11)
	assert.Equal(t, fixedNow(), snap.LastUpdated)

	// Weekly expiry lands on the Thursday after the fixed Monday clock.
	assert.Equal(t, time.Thursday, snap.Expiry.Weekday())
	assert.Equal(t, time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC), snap.Expiry)

	// Spot above 2000 uses 100-point strikes around the money.
	for strike, quotes := range snap.Strikes {
		assert.InDelta(t, snap.SpotPrice, strike, 5*100+100)
		assert.Contains(t, quotes.Call.Symbol, "CE")
		assert.Contains(t, quotes.Put.Symbol, "PE")
		assert.Greater(t, quotes.Call.LTP, 0.0)
		assert.Greater(t, quotes.Put.LTP, 0.0)
	}
}

func TestPollerLiveRefetch(t *testing.T) {
	reg := NewRegistry()
	reg.Subscribe("RELIANCE")
	reg.Subscribe("TCS")
	sink := &captureSink{}
	p := NewPoller(nil, reg, sink, PollerConfig{
		Now: fixedNow,
		Quoter: fixedQuoter{quotes: map[string]models.PriceUpdate{
			"RELIANCE": {Symbol: "RELIANCE", Price: 2510.25, Timestamp: fixedNow()},
		}},
	})

	p.Poll(context.Background())

	// The quoter knows RELIANCE only; the TCS fetch fails and is skipped
	// rather than falling back to synthetic data.
	updates := sink.Updates()
	require.Len(t, updates, 1)
	assert.Equal(t, "RELIANCE", updates[0].Symbol)
	assert.Equal(t, 2510.25, updates[0].Price)
}

func TestPollerStartStop(t *testing.T) {
	reg := NewRegistry()
	reg.Subscribe("INFY")
	sink := &captureSink{}
	p := NewPoller(nil, reg, sink, PollerConfig{
		Interval:   5 * time.Millisecond,
		BasePrices: map[string]float64{"INFY": 1500},
		Seed:       3,
	})

	p.Start(context.Background())
	assert.Eventually(t, func() bool {
		return len(sink.Updates()) >= 3
	}, time.Second, 2*time.Millisecond)

	p.Stop()
	n := len(sink.Updates())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, len(sink.Updates()))

	// Stop is safe to call again.
	p.Stop()
}

func TestStrikeStepTiers(t *testing.T) {
	assert.Equal(t, 5.0, strikeStep(80))
	assert.Equal(t, 10.0, strikeStep(151))
	assert.Equal(t, 50.0, strikeStep(1500))
	assert.Equal(t, 100.0, strikeStep(24500))
}
