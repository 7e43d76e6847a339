package marketdata

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/marketsim/tradecore/pkg/models"
)

// UpdateSink receives price updates and chain snapshots from a feed source.
// The provider implements it, applying updates to the cache and fanning them
// out.
type UpdateSink interface {
	ApplyUpdate(u models.PriceUpdate)
	ApplyChain(snap models.OptionChainSnapshot)
}

// Quoter re-fetches a fresh quote for one symbol. Used by the poller in
// live-degraded mode instead of the demo random walk.
type Quoter interface {
	Quote(ctx context.Context, symbol string) (models.PriceUpdate, error)
}

// maxTickPct bounds the demo random walk to +/-2% per tick.
const maxTickPct = 0.02

// priceFloor keeps walked prices strictly positive.
const priceFloor = 0.05

// PollerConfig configures the fallback generator.
type PollerConfig struct {
	Interval   time.Duration
	BasePrices map[string]float64 // per-symbol walk anchors; missing symbols get a derived base
	Seed       int64              // demo walk seed; 0 means seed from the clock
	Quoter     Quoter             // nil selects the demo random walk
	Now        func() time.Time   // nil means time.Now
}

// Poller synthesizes or re-fetches prices for every subscribed symbol on a
// fixed interval. It serves demo mode and the degraded-service fallback when
// the push feed is unavailable.
type Poller struct {
	log      *zap.Logger
	sink     UpdateSink
	registry *Registry
	quoter   Quoter
	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	rng     *rand.Rand
	lastPx  map[string]float64
	stopped chan struct{}
	cancel  context.CancelFunc
	running bool
}

// NewPoller creates a fallback generator over the given registry and sink.
func NewPoller(log *zap.Logger, registry *Registry, sink UpdateSink, cfg PollerConfig) *Poller {
	if log == nil {
		log = zap.NewNop()
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	nowFn := cfg.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	last := make(map[string]float64, len(cfg.BasePrices))
	for sym, px := range cfg.BasePrices {
		last[sym] = px
	}
	return &Poller{
		log:      log,
		sink:     sink,
		registry: registry,
		quoter:   cfg.Quoter,
		interval: interval,
		now:      nowFn,
		rng:      rand.New(rand.NewSource(seed)),
		lastPx:   last,
	}
}

// Start launches the polling loop. Stop or context cancellation ends it.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.stopped = make(chan struct{})
	p.running = true
	p.mu.Unlock()

	go p.loop(ctx)
}

// Stop cancels the polling loop and waits for it to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel, stopped := p.cancel, p.stopped
	p.running = false
	p.mu.Unlock()

	cancel()
	<-stopped
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.stopped)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// Seed the cache immediately rather than waiting a full interval.
	p.Poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll produces one update for every subscribed symbol and regenerates every
// subscribed option chain wholesale.
func (p *Poller) Poll(ctx context.Context) {
	for _, sym := range p.registry.Symbols() {
		u, err := p.quote(ctx, sym)
		if err != nil {
			p.log.Warn("poll fetch failed", zap.String("symbol", sym), zap.Error(err))
			continue
		}
		p.sink.ApplyUpdate(u)
	}
	for _, underlying := range p.registry.Underlyings() {
		p.sink.ApplyChain(p.generateChain(ctx, underlying))
	}
}

func (p *Poller) quote(ctx context.Context, symbol string) (models.PriceUpdate, error) {
	if p.quoter != nil {
		u, err := p.quoter.Quote(ctx, symbol)
		if err != nil {
			return models.PriceUpdate{}, err
		}
		p.mu.Lock()
		p.lastPx[symbol] = u.Price
		p.mu.Unlock()
		return u, nil
	}
	return p.walk(symbol), nil
}

// walk advances the demo random walk for one symbol and builds the update.
func (p *Poller) walk(symbol string) models.PriceUpdate {
	p.mu.Lock()
	defer p.mu.Unlock()

	prev, ok := p.lastPx[symbol]
	if !ok || prev <= 0 {
		prev = derivedBase(symbol)
	}
	factor := 1 + (p.rng.Float64()*2-1)*maxTickPct
	price := prev * factor
	if price < priceFloor {
		price = priceFloor
	}
	p.lastPx[symbol] = price

	spread := price * 0.0005
	change := price - prev
	pct := 0.0
	if prev > 0 {
		pct = change / prev * 100
	}
	return models.PriceUpdate{
		Symbol:        symbol,
		Price:         round2(price),
		Change:        round2(change),
		ChangePercent: round2(pct),
		Volume:        int64(1000 + p.rng.Intn(100000)),
		Bid:           round2(price - spread),
		Ask:           round2(price + spread),
		Timestamp:     p.now(),
	}
}

// generateChain builds a wholesale OptionChainSnapshot around the current
// spot: the at-the-money strike plus five steps either side.
func (p *Poller) generateChain(ctx context.Context, underlying string) models.OptionChainSnapshot {
	spot := p.spotFor(ctx, underlying)

	p.mu.Lock()
	defer p.mu.Unlock()

	step := strikeStep(spot)
	atm := float64(int64(spot/step+0.5)) * step

	strikes := make(map[float64]models.StrikeQuotes, 11)
	for i := -5; i <= 5; i++ {
		strike := atm + float64(i)*step
		if strike <= 0 {
			continue
		}
		strikes[strike] = models.StrikeQuotes{
			Call: p.optionQuote(underlying, strike, spot, models.OptionCall),
			Put:  p.optionQuote(underlying, strike, spot, models.OptionPut),
		}
	}
	return models.OptionChainSnapshot{
		Underlying:  underlying,
		SpotPrice:   round2(spot),
		Expiry:      nextExpiry(p.now()),
		LastUpdated: p.now(),
		Strikes:     strikes,
	}
}

// spotFor resolves the underlying spot: live re-fetch when a quoter is
// present, otherwise the walk price.
func (p *Poller) spotFor(ctx context.Context, underlying string) float64 {
	if p.quoter != nil {
		if u, err := p.quoter.Quote(ctx, underlying); err == nil {
			p.mu.Lock()
			p.lastPx[underlying] = u.Price
			p.mu.Unlock()
			return u.Price
		}
		p.log.Warn("chain spot fetch failed, using last price", zap.String("underlying", underlying))
		p.mu.Lock()
		defer p.mu.Unlock()
		if px, ok := p.lastPx[underlying]; ok && px > 0 {
			return px
		}
		return derivedBase(underlying)
	}
	return p.walk(underlying).Price
}

// optionQuote prices one leg as intrinsic value plus a noisy time value.
// Callers hold p.mu.
func (p *Poller) optionQuote(underlying string, strike, spot float64, kind models.OptionKind) models.OptionQuote {
	intrinsic := spot - strike
	suffix := "CE"
	if kind == models.OptionPut {
		intrinsic = strike - spot
		suffix = "PE"
	}
	if intrinsic < 0 {
		intrinsic = 0
	}
	timeValue := spot * 0.01 * (0.5 + p.rng.Float64())
	ltp := intrinsic + timeValue
	spread := ltp * 0.01

	return models.OptionQuote{
		Symbol:       fmt.Sprintf("%s%d%s", underlying, int64(strike), suffix),
		LTP:          round2(ltp),
		Bid:          round2(ltp - spread),
		Ask:          round2(ltp + spread),
		OpenInterest: int64(1000 + p.rng.Intn(500000)),
		ImpliedVol:   round2(0.12 + p.rng.Float64()*0.25),
	}
}

// derivedBase gives a stable per-symbol anchor price in [50, 5050) so demo
// paths don't depend on configuration listing every symbol.
func derivedBase(symbol string) float64 {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return 50 + float64(h.Sum32()%5000)
}

func strikeStep(spot float64) float64 {
	switch {
	case spot < 100:
		return 5
	case spot < 500:
		return 10
	case spot < 2000:
		return 50
	default:
		return 100
	}
}

// nextExpiry returns the upcoming Thursday, the weekly option expiry.
func nextExpiry(now time.Time) time.Time {
	d := now
	for d.Weekday() != time.Thursday {
		d = d.AddDate(0, 0, 1)
	}
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
}

func round2(v float64) float64 {
	if v < 0 {
		return float64(int64(v*100-0.5)) / 100
	}
	return float64(int64(v*100+0.5)) / 100
}
