// Package icd looks up coded cause-of-death classifications from the NLM
// clinical tables ICD-11 search service. Results are opaque (code, name)
// pairs; nothing here validates that a code exists.
package icd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultBaseURL    = "https://clinicaltables.nlm.nih.gov/api/icd11_codes/v3/search"
	DefaultMaxResults = 7
	minQueryLength    = 2
)

// Result is one classification match.
type Result struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type Client struct {
	baseURL    string
	maxResults int
	http       *http.Client
	logger     zerolog.Logger
}

func NewClient(baseURL string, maxResults int, logger zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	return &Client{
		baseURL:    baseURL,
		maxResults: maxResults,
		http:       &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With().Str("component", "icd").Logger(),
	}
}

// Search returns up to maxResults matches for query. Queries shorter than
// two characters return no results without a request. maxResults <= 0 uses
// the client default.
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	query = strings.TrimSpace(query)
	if len(query) < minQueryLength {
		return []Result{}, nil
	}
	if maxResults <= 0 {
		maxResults = c.maxResults
	}

	params := url.Values{}
	params.Set("sf", "code,title")
	params.Set("df", "code,title")
	params.Set("terms", query)
	params.Set("maxList", strconv.Itoa(maxResults))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build icd request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("icd search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("icd search returned status %d", resp.StatusCode)
	}

	// [total, codes, extra, [[code, title], ...]]
	var payload []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode icd response: %w", err)
	}
	results, err := parseDisplay(payload)
	if err != nil {
		return nil, err
	}
	if len(results) > maxResults {
		results = results[:maxResults]
	}

	c.logger.Debug().Str("query", query).Int("results", len(results)).Msg("icd search")
	return results, nil
}

func parseDisplay(payload []json.RawMessage) ([]Result, error) {
	results := []Result{}
	if len(payload) < 4 {
		return results, nil
	}
	var rows [][]string
	if err := json.Unmarshal(payload[3], &rows); err != nil {
		return nil, fmt.Errorf("decode icd display rows: %w", err)
	}
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		results = append(results, Result{Code: row[0], Name: row[1]})
	}
	return results, nil
}
