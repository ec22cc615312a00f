package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/comigor/seijitalk-go/internal/config"
)

const googleEndpoint = "https://www.googleapis.com/customsearch/v1"

// Google queries the Google Custom Search JSON API.
type Google struct {
	cfg      config.GoogleConfig
	endpoint string
	client   *http.Client
}

// NewGoogle creates a new Google Custom Search client
func NewGoogle(cfg config.GoogleConfig) *Google {
	return &Google{
		cfg:      cfg,
		endpoint: googleEndpoint,
		client:   &http.Client{},
	}
}

// Name implements Named.
func (g *Google) Name() string { return "google" }

// Search implements Searcher. The API serves at most 10 results per request.
func (g *Google) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("search query is required")
	}
	limit = min(normalizeLimit(limit), 10)

	params := url.Values{}
	params.Set("key", g.cfg.APIKey)
	params.Set("cx", g.cfg.EngineID)
	params.Set("q", query)
	params.Set("num", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("unexpected status code: %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		Items []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	results := make([]Result, 0, len(payload.Items))
	for _, it := range payload.Items {
		results = append(results, Result{Title: it.Title, URL: it.Link, Snippet: it.Snippet})
	}
	return results, nil
}
