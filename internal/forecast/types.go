// Package forecast fetches hourly wind forecasts, normalizes them into
// wind.Profile values and caches both the raw responses and parsed profiles.
//
// The layers compose as RawSource decorators:
//
//	Fetcher (HTTP) <- ArchiveSource (disk fallback) <- RedisCache (shared) <- Client (parse + LRU)
package forecast

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/star/driftcast/internal/geo"
)

// DefaultModel lets the provider choose its best model for the location.
const DefaultModel = "best_match"

// Query identifies one hour's forecast at one location.
type Query struct {
	Site  geo.Point
	Hour  time.Time
	Model string
}

// Key returns a stable cache key. Coordinates are rounded to ~100 m, finer
// than any forecast grid.
func (q Query) Key() string {
	model := q.Model
	if model == "" {
		model = DefaultModel
	}
	return fmt.Sprintf("%.3f:%.3f:%s:%s",
		q.Site.Lat(), q.Site.Lon(), q.Hour.UTC().Truncate(time.Hour).Format("2006010215"), model)
}

var keyReplacer = strings.NewReplacer(":", "_", "/", "-", `\`, "-")

// fileKey makes a Key safe for use in a file name.
func fileKey(key string) string {
	return keyReplacer.Replace(key)
}

// RawSource returns the provider's response body for a query.
type RawSource interface {
	Fetch(ctx context.Context, q Query) ([]byte, error)
}
