package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Feed streams price ticks from the oracle websocket into a Cache,
// reconnecting with backoff when the connection drops.
type Feed struct {
	url     string
	markets []string
	cache   *Cache
	log     *logrus.Entry
}

// NewFeed creates a feed for the given markets writing into cache.
func NewFeed(url string, markets []string, cache *Cache, log *logrus.Logger) *Feed {
	return &Feed{
		url:     url,
		markets: markets,
		cache:   cache,
		log:     log.WithField("component", "oracle"),
	}
}

type subscribeMessage struct {
	Op      string   `json:"op"`
	Markets []string `json:"markets"`
}

type tickMessage struct {
	Market      string `json:"market"`
	Price       string `json:"price"`
	SourceCount uint   `json:"source_count"`
	Timestamp   int64  `json:"timestamp"`
}

// Run connects and consumes ticks until ctx is cancelled. Connection errors
// trigger a reconnect with capped exponential backoff.
func (f *Feed) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		if err := f.consume(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.log.WithError(err).Warnf("feed disconnected, reconnecting in %s", backoff)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (f *Feed) consume(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial oracle feed: %w", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(subscribeMessage{Op: "subscribe", Markets: f.markets}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	f.log.WithField("markets", f.markets).Info("subscribed to oracle feed")

	// Unblock ReadMessage when ctx ends.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var tick tickMessage
		if err := json.Unmarshal(data, &tick); err != nil {
			f.log.WithError(err).Debug("skipping unparsable feed message")
			continue
		}
		if tick.Market == "" {
			continue
		}
		price, err := decimal.NewFromString(tick.Price)
		if err != nil {
			f.log.WithError(err).Debugf("skipping tick with bad price %q", tick.Price)
			continue
		}
		f.cache.Update(Quote{
			Market:      tick.Market,
			Price:       price,
			SourceCount: tick.SourceCount,
			Timestamp:   time.Unix(tick.Timestamp, 0),
		})
	}
}
