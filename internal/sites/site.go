// Package sites persists named launch sites.
package sites

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/star/driftcast/internal/geo"
)

var (
	ErrNotFound    = errors.New("site not found")
	ErrInvalidSite = errors.New("invalid site")
)

const maxNotesLen = 1024

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// Site is a named launch location.
type Site struct {
	Name      string    `json:"name"`
	Location  geo.Point `json:"location"`
	Notes     string    `json:"notes,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the name format and notes length. Location validity is
// guaranteed by geo.Point.
func (s Site) Validate() error {
	if err := ValidateName(s.Name); err != nil {
		return err
	}
	if len(s.Notes) > maxNotesLen {
		return fmt.Errorf("%w: notes longer than %d bytes", ErrInvalidSite, maxNotesLen)
	}
	return nil
}

// ValidateName checks that name is 1-64 lowercase letters, digits, '-' or
// '_', starting with a letter or digit.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: name %q", ErrInvalidSite, name)
	}
	return nil
}

// Store is a keyed site repository. Put is an upsert.
type Store interface {
	Put(ctx context.Context, s Site) (Site, error)
	Get(ctx context.Context, name string) (Site, error)
	List(ctx context.Context) ([]Site, error)
	Delete(ctx context.Context, name string) error
	Ping(ctx context.Context) error
}
