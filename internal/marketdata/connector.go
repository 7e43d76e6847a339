package marketdata

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/marketsim/tradecore/pkg/models"
)

// ConnState is the externally observable state of the feed connection.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateError
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// subscribeMsg is the outbound interest declaration sent after every
// (re)connect, replaying the full registry set so a reconnect loses no
// interest.
type subscribeMsg struct {
	Type      string    `json:"type"`
	Symbols   []string  `json:"symbols"`
	Timestamp time.Time `json:"timestamp"`
}

// inboundMsg is the envelope for every message the feed pushes.
type inboundMsg struct {
	Type       string                      `json:"type"`
	Updates    []models.PriceUpdate        `json:"updates,omitempty"`
	Underlying string                      `json:"underlying,omitempty"`
	Chain      *models.OptionChainSnapshot `json:"optionChain,omitempty"`
	Message    string                      `json:"message,omitempty"`
}

// Dialer abstracts the websocket dial so tests can inject failures.
type Dialer interface {
	Dial(ctx context.Context, url string) (*websocket.Conn, error)
}

type wsDialer struct{}

func (wsDialer) Dial(ctx context.Context, url string) (*websocket.Conn, error) {
	c, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	return c, err
}

// ConnectorConfig configures the feed connector.
type ConnectorConfig struct {
	URL         string
	Backoff     Backoff
	Dialer      Dialer            // nil uses the gorilla default dialer
	OnState     func(ConnState)   // optional state-transition listener
	OnExhausted func()            // called once when the retry budget is spent
}

// Connector owns exactly one live feed connection at a time. It dials,
// replays the subscription set, dispatches inbound updates into the sink and
// hands failures to the backoff schedule. When retries are exhausted it
// signals OnExhausted so the provider can degrade to polling; it never
// retries synchronously.
type Connector struct {
	log      *zap.Logger
	cfg      ConnectorConfig
	registry *Registry
	sink     UpdateSink
	metrics  *Metrics

	state atomic.Int32

	connMu  sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewConnector creates a connector over the given registry and sink.
func NewConnector(log *zap.Logger, registry *Registry, sink UpdateSink, metrics *Metrics, cfg ConnectorConfig) *Connector {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Dialer == nil {
		cfg.Dialer = wsDialer{}
	}
	if cfg.Backoff.MaxAttempts == 0 {
		cfg.Backoff = DefaultBackoff()
	}
	return &Connector{
		log:      log,
		cfg:      cfg,
		registry: registry,
		sink:     sink,
		metrics:  metrics,
	}
}

// State returns the current connection state.
func (c *Connector) State() ConnState {
	return ConnState(c.state.Load())
}

func (c *Connector) setState(s ConnState) {
	c.state.Store(int32(s))
	c.metrics.setState(s)
	if c.cfg.OnState != nil {
		c.cfg.OnState(s)
	}
}

// Start launches the connect/read loop. It must only be called while the
// registry has at least one active subscription.
func (c *Connector) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.stopped = make(chan struct{})
	c.running = true
	c.mu.Unlock()

	go c.run(ctx)
}

// Stop tears the connection down. This is an explicit teardown, not an
// error: the connector ends in the disconnected state.
func (c *Connector) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	cancel, stopped := c.cancel, c.stopped
	c.running = false
	c.mu.Unlock()

	cancel()
	c.closeConn()
	<-stopped
}

func (c *Connector) setConn(conn *websocket.Conn) {
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
}

func (c *Connector) closeConn() {
	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.connMu.Unlock()
}

func (c *Connector) run(ctx context.Context) {
	defer close(c.stopped)

	attempt := 0
	for {
		if ctx.Err() != nil {
			c.setState(StateDisconnected)
			return
		}
		c.setState(StateConnecting)
		if attempt > 0 {
			c.metrics.incReconnects()
		}

		conn, err := c.cfg.Dialer.Dial(ctx, c.cfg.URL)
		if err != nil {
			c.log.Warn("feed dial failed", zap.String("url", c.cfg.URL), zap.Error(err))
			if !c.fail(ctx, &attempt) {
				return
			}
			continue
		}

		c.setConn(conn)
		attempt = 0
		c.setState(StateConnected)

		if err := c.sendSubscribe(c.registry.Keys()); err != nil {
			c.log.Warn("subscription replay failed", zap.Error(err))
		}

		err = c.readLoop(conn)
		conn.Close()
		c.setConn(nil)

		if ctx.Err() != nil {
			c.setState(StateDisconnected)
			return
		}
		c.log.Warn("feed connection lost", zap.Error(err))
		if !c.fail(ctx, &attempt) {
			return
		}
	}
}

// fail records one failed attempt and waits out the backoff delay. It
// returns false when the loop should stop, either because the retry budget
// is spent (fallback takes over) or the context was cancelled.
func (c *Connector) fail(ctx context.Context, attempt *int) bool {
	c.setState(StateError)
	*attempt++
	if c.cfg.Backoff.Exhausted(*attempt) {
		c.log.Warn("reconnect attempts exhausted, degrading to polling",
			zap.Int("attempts", *attempt-1))
		if c.cfg.OnExhausted != nil {
			c.cfg.OnExhausted()
		}
		return false
	}

	delay := c.cfg.Backoff.NextDelay(*attempt - 1)
	select {
	case <-ctx.Done():
		c.setState(StateDisconnected)
		return false
	case <-time.After(delay):
		return true
	}
}

// Announce sends an incremental subscribe for keys added while connected.
// A no-op when not connected; the next connect replays the full set anyway.
func (c *Connector) Announce(keys ...string) {
	if c.State() != StateConnected {
		return
	}
	if err := c.sendSubscribe(keys); err != nil {
		c.log.Warn("subscribe announce failed", zap.Error(err))
	}
}

func (c *Connector) sendSubscribe(keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(subscribeMsg{
		Type:      "subscribe",
		Symbols:   keys,
		Timestamp: time.Now().UTC(),
	})
}

func (c *Connector) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.dispatch(data)
	}
}

// dispatch routes one inbound message. Malformed messages are logged and
// dropped without a state transition.
func (c *Connector) dispatch(data []byte) {
	var msg inboundMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		c.log.Warn("malformed feed message dropped", zap.Error(err))
		return
	}
	switch msg.Type {
	case "price_update":
		for _, u := range msg.Updates {
			c.sink.ApplyUpdate(u)
		}
	case "option_chain_update":
		if msg.Chain == nil {
			c.log.Warn("option_chain_update without chain dropped")
			return
		}
		snap := *msg.Chain
		if snap.Underlying == "" {
			snap.Underlying = msg.Underlying
		}
		c.sink.ApplyChain(snap)
	case "error":
		c.log.Warn("feed error message", zap.String("message", msg.Message))
	default:
		c.log.Warn("unknown feed message dropped", zap.String("type", msg.Type))
	}
}
