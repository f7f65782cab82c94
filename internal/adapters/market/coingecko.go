package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/selivandex/lp-advisor/pkg/models"
)

const (
	coingeckoSource   = "coingecko"
	DefaultCoinGecko  = "https://api.coingecko.com/api/v3"
	coingeckoCacheTTL = 30 * time.Second
)

// CoinGeckoProvider prices a pool as the ratio of its tokens' USD quotes.
// It carries no block numbers or signals, so signals come from stored bars.
// Requests are rate limited and stop for a minute after three straight failures.
type CoinGeckoProvider struct {
	baseURL string
	client  *http.Client
	now     func() time.Time
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker

	mu    sync.Mutex
	cache map[string]cachedQuote
}

type cachedQuote struct {
	at  time.Time
	usd float64
}

// NewCoinGeckoProvider creates a provider against baseURL, or the public API
// when baseURL is empty, allowing rps requests per second
func NewCoinGeckoProvider(baseURL string, rps float64) *CoinGeckoProvider {
	if baseURL == "" {
		baseURL = DefaultCoinGecko
	}
	if rps <= 0 {
		rps = 0.5
	}

	st := gobreaker.Settings{Name: coingeckoSource}
	st.Timeout = time.Minute
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= 3
	}

	return &CoinGeckoProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		now:     time.Now,
		limiter: rate.NewLimiter(rate.Limit(rps), 2),
		breaker: gobreaker.NewCircuitBreaker(st),
		cache:   make(map[string]cachedQuote),
	}
}

// Snapshot quotes both tokens in one request and returns token0/token1
func (p *CoinGeckoProvider) Snapshot(ctx context.Context, pool models.Pool) (Snapshot, error) {
	started := p.now()

	quotes, err := p.quotes(ctx, pool.Token0, pool.Token1)
	if err != nil {
		return Snapshot{}, err
	}

	base, quote := quotes[strings.ToUpper(pool.Token0)], quotes[strings.ToUpper(pool.Token1)]
	if base <= 0 || quote <= 0 {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrNoPrice, pool)
	}

	now := p.now()
	return Snapshot{
		Pool:           pool,
		AsOfUTC:        now.UTC(),
		Price:          base / quote,
		Source:         coingeckoSource,
		LatencyMs:      now.Sub(started).Milliseconds(),
		FinalityStatus: "offchain",
	}, nil
}

// quotes returns USD prices keyed by upper-case symbol, serving fresh ones
// from cache
func (p *CoinGeckoProvider) quotes(ctx context.Context, symbols ...string) (map[string]float64, error) {
	out := make(map[string]float64, len(symbols))
	var missing []string

	p.mu.Lock()
	for _, s := range symbols {
		s = strings.ToUpper(s)
		if c, ok := p.cache[s]; ok && p.now().Sub(c.at) < coingeckoCacheTTL {
			out[s] = c.usd
			continue
		}
		missing = append(missing, s)
	}
	p.mu.Unlock()

	if len(missing) == 0 {
		return out, nil
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	res, err := p.breaker.Execute(func() (any, error) {
		return p.fetch(ctx, missing)
	})
	if err != nil {
		return nil, err
	}
	fetched := res.(map[string]float64)

	p.mu.Lock()
	for s, usd := range fetched {
		p.cache[s] = cachedQuote{at: p.now(), usd: usd}
		out[s] = usd
	}
	p.mu.Unlock()

	return out, nil
}

func (p *CoinGeckoProvider) fetch(ctx context.Context, symbols []string) (map[string]float64, error) {
	idToSymbol := make(map[string]string, len(symbols))
	ids := make([]string, 0, len(symbols))
	for _, s := range symbols {
		id := coinGeckoID(s)
		idToSymbol[id] = s
		ids = append(ids, id)
	}

	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	q.Set("vs_currencies", "usd")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/simple/price?"+q.Encode(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coingecko request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("coingecko API error %d: %s", resp.StatusCode, string(body))
	}

	var result map[string]struct {
		USD float64 `json:"usd"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode coingecko response: %w", err)
	}

	prices := make(map[string]float64, len(result))
	for id, v := range result {
		if s, ok := idToSymbol[id]; ok {
			prices[s] = v.USD
		}
	}
	return prices, nil
}

var coinGeckoIDs = map[string]string{
	"BTC":  "bitcoin",
	"WBTC": "wrapped-bitcoin",
	"ETH":  "ethereum",
	"WETH": "weth",
	"USDT": "tether",
	"USDC": "usd-coin",
	"DAI":  "dai",
	"BNB":  "binancecoin",
	"SOL":  "solana",
	"ARB":  "arbitrum",
	"OP":   "optimism",
}

func coinGeckoID(symbol string) string {
	if id, ok := coinGeckoIDs[strings.ToUpper(symbol)]; ok {
		return id
	}
	return strings.ToLower(symbol)
}
