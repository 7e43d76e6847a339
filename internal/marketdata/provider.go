package marketdata

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/marketsim/tradecore/pkg/models"
)

// Mode selects the market-data source.
type Mode string

const (
	ModeDemo Mode = "demo"
	ModeLive Mode = "live"
)

// ProviderConfig configures a provider for one market-data mode.
type ProviderConfig struct {
	Mode    Mode
	FeedURL string
	Backoff Backoff
	Poll    PollerConfig
	Dialer  Dialer // test hook, nil in production
}

// FeedStatus is the externally observable feed condition.
type FeedStatus struct {
	State               ConnState `json:"-"`
	StateText           string    `json:"connectionStatus"`
	Polling             bool      `json:"polling"`
	Mode                Mode      `json:"mode"`
	ActiveSubscriptions int       `json:"activeSubscriptions"`
}

// Provider owns the feed machinery for one market-data mode: registry, cache,
// connector, backoff and polling fallback. Its lifecycle is tied to
// subscription count: the feed starts when the first subscription appears and
// tears down when the last one is released.
type Provider struct {
	log       *zap.Logger
	cfg       ProviderConfig
	cache     *Cache
	registry  *Registry
	metrics   *Metrics
	publisher Publisher

	mu        sync.Mutex
	running   bool
	polling   bool
	runCtx    context.Context
	cancel    context.CancelFunc
	connector *Connector
	poller    *Poller
}

// NewProvider creates a stopped provider. metrics and publisher may be nil.
func NewProvider(log *zap.Logger, cfg ProviderConfig, metrics *Metrics, publisher Publisher) *Provider {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Backoff.MaxAttempts == 0 {
		cfg.Backoff = DefaultBackoff()
	}
	p := &Provider{
		log:       log,
		cfg:       cfg,
		cache:     NewCache(),
		registry:  NewRegistry(),
		metrics:   metrics,
		publisher: publisher,
	}
	p.registry.SetHooks(p.onFirstInterest, p.onLastRelease)
	return p
}

// Cache exposes the price cache for read-side consumers.
func (p *Provider) Cache() *Cache { return p.cache }

// Subscribe declares interest in a symbol. The returned handle's Release is
// the only way to withdraw that interest.
func (p *Provider) Subscribe(symbol string) *Subscription {
	return p.registry.Subscribe(symbol)
}

// SubscribeChain declares interest in the option chain of an underlying.
func (p *Provider) SubscribeChain(underlying string) *Subscription {
	return p.registry.Subscribe(ChainKey(underlying))
}

func (p *Provider) onFirstInterest(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metrics.setSubscriptions(p.registry.Active())
	if !p.running {
		p.startLocked()
		return
	}
	if p.connector != nil {
		go p.connector.Announce(key)
	}
}

func (p *Provider) onLastRelease(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metrics.setSubscriptions(p.registry.Active())
	if p.running && p.registry.Active() == 0 {
		p.stopLocked()
	}
}

func (p *Provider) startLocked() {
	p.runCtx, p.cancel = context.WithCancel(context.Background())
	p.running = true

	if p.cfg.Mode == ModeDemo || p.cfg.FeedURL == "" {
		p.log.Info("starting market data in demo mode")
		p.startPollingLocked()
		return
	}

	p.log.Info("starting live market data feed", zap.String("url", p.cfg.FeedURL))
	p.connector = NewConnector(p.log, p.registry, p, p.metrics, ConnectorConfig{
		URL:     p.cfg.FeedURL,
		Backoff: p.cfg.Backoff,
		Dialer:  p.cfg.Dialer,
		// The connector's run loop is about to return when this fires, so
		// the fallback switch must not run on that goroutine.
		OnExhausted: func() { go p.activateFallback() },
	})
	p.connector.Start(p.runCtx)
}

func (p *Provider) startPollingLocked() {
	if p.poller != nil {
		return
	}
	p.poller = NewPoller(p.log, p.registry, p, p.cfg.Poll)
	p.poller.Start(p.runCtx)
	p.polling = true
}

// activateFallback degrades the provider to polling after the reconnect
// budget is spent. Prices go slightly stale instead of disappearing.
func (p *Provider) activateFallback() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running || p.polling {
		return
	}
	p.log.Warn("live feed unavailable, falling back to polling")
	p.metrics.incFallbacks()
	p.startPollingLocked()
}

func (p *Provider) stopLocked() {
	p.cancel()
	if p.connector != nil {
		p.connector.Stop()
		p.connector = nil
	}
	if p.poller != nil {
		p.poller.Stop()
		p.poller = nil
	}
	p.running = false
	p.polling = false
	p.log.Info("market data feed stopped, no active subscriptions")
}

// Stop tears the provider down regardless of outstanding subscriptions.
// Intended for process shutdown.
func (p *Provider) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		p.stopLocked()
	}
}

// Status reports the feed condition. Polling counts as a connected feed:
// consumers see slightly stale prices rather than no prices.
func (p *Provider) Status() FeedStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	state := StateDisconnected
	if p.connector != nil {
		state = p.connector.State()
	}
	if p.polling {
		state = StateConnected
	}
	return FeedStatus{
		State:               state,
		StateText:           state.String(),
		Polling:             p.polling,
		Mode:                p.cfg.Mode,
		ActiveSubscriptions: p.registry.Active(),
	}
}

// ApplyUpdate implements UpdateSink: cache write with the monotonic guard,
// then fan-out.
func (p *Provider) ApplyUpdate(u models.PriceUpdate) {
	if u.Timestamp.IsZero() {
		u.Timestamp = time.Now().UTC()
	}
	if !p.cache.Put(u) {
		p.metrics.incDiscarded()
		return
	}
	p.metrics.incApplied()
	p.publish("ticker:"+u.Symbol, u)
}

// ApplyChain implements UpdateSink for wholesale chain snapshots.
func (p *Provider) ApplyChain(snap models.OptionChainSnapshot) {
	if snap.LastUpdated.IsZero() {
		snap.LastUpdated = time.Now().UTC()
	}
	if !p.cache.PutChain(snap) {
		p.metrics.incDiscarded()
		return
	}
	p.metrics.incChains()
	p.publish("chain:"+snap.Underlying, snap)
}

func (p *Provider) publish(channel string, payload interface{}) {
	if p.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.publisher.Publish(ctx, channel, payload); err != nil {
		p.log.Warn("price publish failed", zap.String("channel", channel), zap.Error(err))
	}
}
