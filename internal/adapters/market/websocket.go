package market

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/selivandex/lp-advisor/pkg/logger"
	"github.com/selivandex/lp-advisor/pkg/models"
)

const (
	feedSource       = "websocket"
	priceTopic       = "pool.price"
	defaultPingEvery = 20 * time.Second
	defaultReconnect = 5 * time.Second
)

// FeedMessage is the envelope of every message on the price feed
type FeedMessage struct {
	Op    string          `json:"op,omitempty"`
	Topic string          `json:"topic,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Ts    int64           `json:"ts,omitempty"`
}

// PriceUpdate is the payload of a pool.price message
type PriceUpdate struct {
	ChainID     int64  `json:"chainId"`
	Pool        string `json:"pool"`
	Price       string `json:"price"`
	BlockNumber int64  `json:"blockNumber"`
	Timestamp   int64  `json:"ts"` // unix millis
	Liquidity   string `json:"liquidity,omitempty"`
	Finality    string `json:"finality,omitempty"`
}

// WebSocketFeed keeps the latest price of each subscribed pool from a
// streaming feed. Run owns the connection and reconnects until cancelled.
type WebSocketFeed struct {
	url            string
	pools          []models.Pool
	maxStaleness   time.Duration
	reconnectDelay time.Duration
	pingEvery      time.Duration
	dialer         *websocket.Dialer
	now            func() time.Time

	writeMu sync.Mutex
	conn    *websocket.Conn

	mu     sync.RWMutex
	latest map[string]Snapshot
}

// NewWebSocketFeed creates a feed for pools. Prices older than maxStaleness
// are reported as ErrNoPrice.
func NewWebSocketFeed(url string, pools []models.Pool, maxStaleness time.Duration) *WebSocketFeed {
	return &WebSocketFeed{
		url:            url,
		pools:          append([]models.Pool(nil), pools...),
		maxStaleness:   maxStaleness,
		reconnectDelay: defaultReconnect,
		pingEvery:      defaultPingEvery,
		dialer:         websocket.DefaultDialer,
		now:            time.Now,
		latest:         make(map[string]Snapshot),
	}
}

func feedKey(chainID int64, poolID string) string {
	return fmt.Sprintf("%d|%s", chainID, models.NormalizePoolID(poolID))
}

// Run connects, subscribes and reads until ctx is cancelled
func (f *WebSocketFeed) Run(ctx context.Context) error {
	for {
		err := f.session(ctx)
		if ctx.Err() != nil {
			return nil
		}

		logger.Warn("price feed disconnected, reconnecting",
			zap.String("url", f.url),
			zap.Duration("delay", f.reconnectDelay),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(f.reconnectDelay):
		}
	}
}

func (f *WebSocketFeed) session(ctx context.Context) error {
	conn, _, err := f.dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to price feed: %w", err)
	}

	f.writeMu.Lock()
	f.conn = conn
	f.writeMu.Unlock()

	sessCtx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		f.writeMu.Lock()
		f.conn = nil
		f.writeMu.Unlock()
		conn.Close()
	}()

	if err := f.subscribe(); err != nil {
		return err
	}

	logger.Info("price feed connected",
		zap.String("url", f.url),
		zap.Int("pools", len(f.pools)),
	)

	go f.pingLoop(sessCtx)
	// Unblock ReadMessage on cancellation
	go func() {
		<-sessCtx.Done()
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("price feed read failed: %w", err)
		}
		f.handleMessage(raw)
	}
}

func (f *WebSocketFeed) subscribe() error {
	args := make([]string, 0, len(f.pools))
	for _, p := range f.pools {
		args = append(args, fmt.Sprintf("%s.%d.%s", priceTopic, p.ChainID, p.ID()))
	}
	if len(args) == 0 {
		return fmt.Errorf("no pools to subscribe")
	}

	if err := f.writeJSON(map[string]interface{}{"op": "subscribe", "args": args}); err != nil {
		return fmt.Errorf("failed to send subscribe message: %w", err)
	}
	return nil
}

func (f *WebSocketFeed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(f.pingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeJSON(map[string]interface{}{"op": "ping"}); err != nil {
				logger.Warn("failed to send feed ping", zap.Error(err))
			}
		}
	}
}

func (f *WebSocketFeed) writeJSON(v interface{}) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	if f.conn == nil {
		return websocket.ErrCloseSent
	}
	return f.conn.WriteJSON(v)
}

func (f *WebSocketFeed) handleMessage(raw []byte) {
	var msg FeedMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		logger.Warn("failed to parse feed message", zap.Error(err))
		return
	}
	if msg.Topic != priceTopic || len(msg.Data) == 0 {
		return
	}

	var upd PriceUpdate
	if err := json.Unmarshal(msg.Data, &upd); err != nil {
		logger.Warn("failed to parse price update", zap.Error(err))
		return
	}

	snap, err := f.toSnapshot(upd)
	if err != nil {
		logger.Warn("dropping price update", zap.String("pool", upd.Pool), zap.Error(err))
		return
	}

	key := feedKey(upd.ChainID, upd.Pool)
	f.mu.Lock()
	defer f.mu.Unlock()

	// Ignore out-of-order updates
	if prev, ok := f.latest[key]; ok && snap.AsOfUTC.Before(prev.AsOfUTC) {
		return
	}
	f.latest[key] = snap
}

func (f *WebSocketFeed) toSnapshot(upd PriceUpdate) (Snapshot, error) {
	price, err := decimal.NewFromString(upd.Price)
	if err != nil {
		return Snapshot{}, fmt.Errorf("invalid price %q: %w", upd.Price, err)
	}

	var liq decimal.NullDecimal
	if upd.Liquidity != "" {
		d, err := decimal.NewFromString(upd.Liquidity)
		if err != nil {
			return Snapshot{}, fmt.Errorf("invalid liquidity %q: %w", upd.Liquidity, err)
		}
		liq = decimal.NewNullDecimal(d)
	}

	received := f.now().UTC()
	asOf := received
	var latency int64
	if upd.Timestamp > 0 {
		asOf = time.UnixMilli(upd.Timestamp).UTC()
		latency = received.Sub(asOf).Milliseconds()
	}

	p, _ := price.Float64()
	return Snapshot{
		Pool:           models.Pool{ChainID: upd.ChainID, Address: upd.Pool},
		AsOfUTC:        asOf,
		Price:          p,
		BlockNumber:    upd.BlockNumber,
		Liquidity:      liq,
		Source:         feedSource,
		LatencyMs:      latency,
		FinalityStatus: upd.Finality,
	}, nil
}

// Snapshot returns the latest price of pool if it is fresh enough
func (f *WebSocketFeed) Snapshot(_ context.Context, pool models.Pool) (Snapshot, error) {
	f.mu.RLock()
	snap, ok := f.latest[feedKey(pool.ChainID, pool.ID())]
	f.mu.RUnlock()

	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrNoPrice, pool)
	}
	if f.maxStaleness > 0 && f.now().Sub(snap.AsOfUTC) > f.maxStaleness {
		return Snapshot{}, fmt.Errorf("%w: %s last updated %s", ErrNoPrice, pool, snap.AsOfUTC.Format(time.RFC3339))
	}

	snap.Pool = pool
	return snap, nil
}
