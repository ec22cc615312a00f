// Package search looks up web pages for latest-mode answers.
package search

import (
	"context"
	"errors"
	"fmt"

	"github.com/comigor/seijitalk-go/internal/logger"
)

// DefaultLimit is the number of results requested when the caller passes zero.
const DefaultLimit = 6

// ErrNoResults is returned when every backend answered without results.
var ErrNoResults = errors.New("search returned no results")

// Result is one search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Searcher runs a query against a search backend.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]Result, error)
}

// Named is implemented by searchers that can identify themselves in logs.
type Named interface {
	Name() string
}

// Fallback tries each searcher in order and returns the first non-empty result set.
type Fallback []Searcher

// Search implements Searcher.
func (f Fallback) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if len(f) == 0 {
		return nil, errors.New("no search backend configured")
	}
	var errs []error
	for i, s := range f {
		name := fmt.Sprintf("#%d", i)
		if n, ok := s.(Named); ok {
			name = n.Name()
		}
		results, err := s.Search(ctx, query, limit)
		if err != nil {
			logger.L.Warn("search backend failed, trying next", "backend", name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		if len(results) == 0 {
			logger.L.Debug("search backend returned nothing", "backend", name, "query", query)
			continue
		}
		return results, nil
	}
	if len(errs) > 0 {
		return nil, errors.Join(append([]error{ErrNoResults}, errs...)...)
	}
	return nil, ErrNoResults
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return limit
}
