package marketdata

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketsim/tradecore/pkg/models"
)

func TestRedisPublisherFansOutUpdates(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	ctx := context.Background()
	sub := rdb.Subscribe(ctx, "ticker:RELIANCE")
	t.Cleanup(func() { sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	pub := NewRedisPublisher(rdb)
	update := models.PriceUpdate{
		Symbol:    "RELIANCE",
		Price:     2500.5,
		Timestamp: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, pub.Publish(ctx, "ticker:RELIANCE", update))

	select {
	case msg := <-sub.Channel():
		var got models.PriceUpdate
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, update.Symbol, got.Symbol)
		assert.Equal(t, update.Price, got.Price)
	case <-time.After(2 * time.Second):
		t.Fatal("published update never arrived")
	}
}

func TestProviderPublishesAppliedUpdates(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	ctx := context.Background()
	sub := rdb.Subscribe(ctx, "ticker:TCS")
	t.Cleanup(func() { sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	p := NewProvider(nil, ProviderConfig{Mode: ModeDemo}, nil, NewRedisPublisher(rdb))
	t.Cleanup(p.Stop)

	t0 := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	p.ApplyUpdate(models.PriceUpdate{Symbol: "TCS", Price: 3800, Timestamp: t0})
	// A stale update is discarded by the cache and must not be published.
	p.ApplyUpdate(models.PriceUpdate{Symbol: "TCS", Price: 3500, Timestamp: t0.Add(-time.Minute)})

	select {
	case msg := <-sub.Channel():
		var got models.PriceUpdate
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, 3800.0, got.Price)
	case <-time.After(2 * time.Second):
		t.Fatal("applied update never published")
	}

	select {
	case msg := <-sub.Channel():
		t.Fatalf("stale update published: %s", msg.Payload)
	case <-time.After(100 * time.Millisecond):
	}
}
