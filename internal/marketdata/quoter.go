package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/marketsim/tradecore/pkg/models"
)

// HTTPQuoter re-fetches quotes over a REST ticker endpoint. It backs the
// poller in live-degraded mode when the push feed is down.
type HTTPQuoter struct {
	base   string
	client *http.Client
}

// NewHTTPQuoter creates a quoter for a REST base URL. The endpoint is
// expected to serve GET {base}/quote?symbol=X with a PriceUpdate body.
func NewHTTPQuoter(base string) *HTTPQuoter {
	return &HTTPQuoter{
		base:   base,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

// Quote fetches the latest quote for one symbol.
func (q *HTTPQuoter) Quote(ctx context.Context, symbol string) (models.PriceUpdate, error) {
	endpoint := fmt.Sprintf("%s/quote?symbol=%s", q.base, url.QueryEscape(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return models.PriceUpdate{}, err
	}
	resp, err := q.client.Do(req)
	if err != nil {
		return models.PriceUpdate{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.PriceUpdate{}, fmt.Errorf("quote fetch for %s: status %d", symbol, resp.StatusCode)
	}
	var u models.PriceUpdate
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return models.PriceUpdate{}, fmt.Errorf("decode quote for %s: %w", symbol, err)
	}
	if u.Symbol == "" {
		u.Symbol = symbol
	}
	if u.Timestamp.IsZero() {
		u.Timestamp = time.Now().UTC()
	}
	return u, nil
}
