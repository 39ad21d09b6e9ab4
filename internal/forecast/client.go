package forecast

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/star/driftcast/internal/geo"
	"github.com/star/driftcast/internal/wind"
)

// Client turns raw forecast responses into profiles and memoizes them.
type Client struct {
	source       RawSource
	cache        *MemoryCache
	defaultModel string
	logger       *slog.Logger
}

// NewClient wraps source. cache may be nil to disable memoization.
func NewClient(source RawSource, cache *MemoryCache, defaultModel string, logger *slog.Logger) *Client {
	if defaultModel == "" {
		defaultModel = DefaultModel
	}
	return &Client{
		source:       source,
		cache:        cache,
		defaultModel: defaultModel,
		logger:       logger,
	}
}

// DefaultModel returns the model used when a request names none.
func (c *Client) DefaultModel() string { return c.defaultModel }

// Cache returns the in-memory profile cache, or nil.
func (c *Client) Cache() *MemoryCache { return c.cache }

// Profile returns the wind profile for one hour at site.
func (c *Client) Profile(ctx context.Context, site geo.Point, hour time.Time, model string) (*wind.Profile, error) {
	if model == "" {
		model = c.defaultModel
	}
	q := Query{Site: site, Hour: hour.UTC().Truncate(time.Hour), Model: model}
	key := q.Key()

	if c.cache != nil {
		if p, ok := c.cache.Get(key); ok {
			return p, nil
		}
	}

	data, err := c.source.Fetch(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("fetching forecast %s: %w", key, err)
	}

	p, err := Parse(bytes.NewReader(data), q.Hour, model, c.logger)
	if err != nil {
		return nil, fmt.Errorf("parsing forecast %s: %w", key, err)
	}

	if c.cache != nil {
		c.cache.Add(key, p)
	}
	return p, nil
}
