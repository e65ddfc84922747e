package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stellara-labs/stellara/internal/realtime"
	"github.com/stellara-labs/stellara/pkg/stellara/core"
)

const maxAssetsPerRequest = 25

var (
	ErrUnknownAsset  = errors.New("unknown asset")
	ErrInvalidAsset  = errors.New("asset ids are lowercase letters, digits and dashes")
	ErrTooManyAssets = fmt.Errorf("at most %d assets per request", maxAssetsPerRequest)

	assetPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,63}$`)
)

type Publisher interface {
	Publish(ctx context.Context, channel, event string, data any) error
}

type cached struct {
	quote   Quote
	expires time.Time
}

// Service answers price requests from the cache and refills it from the provider.
// Quotes live in Redis when a client is configured, in process memory otherwise.
type Service struct {
	provider  Provider
	rdb       *redis.Client
	publisher Publisher
	assets    []string
	currency  string
	ttl       time.Duration
	clock     core.Clock

	mu    sync.Mutex
	local map[string]cached
}

func NewService(provider Provider, rdb *redis.Client, publisher Publisher, assets []string, currency string, ttl time.Duration, clock core.Clock) *Service {
	if clock == nil {
		clock = core.NewRealClock()
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Service{
		provider:  provider,
		rdb:       rdb,
		publisher: publisher,
		assets:    assets,
		currency:  currency,
		ttl:       ttl,
		clock:     clock,
		local:     make(map[string]cached),
	}
}

func (s *Service) Assets() []string {
	return slices.Clone(s.assets)
}

func (s *Service) cacheKey(asset string) string {
	return "market:price:" + s.currency + ":" + asset
}

// Prices returns quotes in request order. No assets means the configured ones.
func (s *Service) Prices(ctx context.Context, assets []string) ([]Quote, error) {
	if len(assets) == 0 {
		assets = s.assets
	}
	if len(assets) > maxAssetsPerRequest {
		return nil, ErrTooManyAssets
	}
	for _, a := range assets {
		if !assetPattern.MatchString(a) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidAsset, a)
		}
	}

	found := make(map[string]Quote, len(assets))
	var missing []string
	for _, a := range assets {
		if q, ok := s.getCached(ctx, a); ok {
			found[a] = q
		} else if !slices.Contains(missing, a) {
			missing = append(missing, a)
		}
	}
	if len(missing) > 0 {
		fresh, err := s.provider.Prices(ctx, missing, s.currency)
		if err != nil {
			return nil, err
		}
		for _, q := range fresh {
			s.putCached(ctx, q)
			found[q.Asset] = q
		}
	}

	quotes := make([]Quote, 0, len(assets))
	for _, a := range assets {
		if q, ok := found[a]; ok {
			quotes = append(quotes, q)
		}
	}
	return quotes, nil
}

func (s *Service) Price(ctx context.Context, asset string) (*Quote, error) {
	quotes, err := s.Prices(ctx, []string{asset})
	if err != nil {
		return nil, err
	}
	if len(quotes) == 0 {
		return nil, ErrUnknownAsset
	}
	return &quotes[0], nil
}

// Refresh reloads the configured assets and pushes the quotes to the market channel.
func (s *Service) Refresh(ctx context.Context) error {
	quotes, err := s.provider.Prices(ctx, s.assets, s.currency)
	if err != nil {
		return fmt.Errorf("refresh prices: %w", err)
	}
	for _, q := range quotes {
		s.putCached(ctx, q)
	}
	if s.publisher != nil && len(quotes) > 0 {
		if err := s.publisher.Publish(ctx, realtime.ChannelMarket, realtime.EventMarketPrice, quotes); err != nil {
			slog.WarnContext(ctx, "Failed to publish market prices", "error", err)
		}
	}
	slog.DebugContext(ctx, "Market prices refreshed", "quotes", len(quotes))
	return nil
}

func (s *Service) getCached(ctx context.Context, asset string) (Quote, bool) {
	if s.rdb == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		c, ok := s.local[asset]
		if !ok || !s.clock.Now().Before(c.expires) {
			return Quote{}, false
		}
		return c.quote, true
	}
	raw, err := s.rdb.Get(ctx, s.cacheKey(asset)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.WarnContext(ctx, "Market cache read failed", "asset", asset, "error", err)
		}
		return Quote{}, false
	}
	var q Quote
	if err := json.Unmarshal(raw, &q); err != nil {
		return Quote{}, false
	}
	return q, true
}

func (s *Service) putCached(ctx context.Context, q Quote) {
	if s.rdb == nil {
		s.mu.Lock()
		s.local[q.Asset] = cached{quote: q, expires: s.clock.Now().Add(s.ttl)}
		s.mu.Unlock()
		return
	}
	raw, _ := json.Marshal(q)
	if err := s.rdb.Set(ctx, s.cacheKey(q.Asset), raw, s.ttl).Err(); err != nil {
		slog.WarnContext(ctx, "Market cache write failed", "asset", q.Asset, "error", err)
	}
}
