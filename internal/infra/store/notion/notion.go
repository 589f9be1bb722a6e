// Package notion implements the record store over a Notion database.
package notion

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/vietddude/pollmark/internal/core/domain"
	"github.com/vietddude/pollmark/internal/engine/predicate"
	"github.com/vietddude/pollmark/internal/infra/rest"
)

const (
	DefaultBaseURL = "https://api.notion.com/v1"
	DefaultVersion = "2022-06-28"
	pageSize       = 100
)

// Config holds Notion connection settings.
type Config struct {
	Token      string        `yaml:"token"`
	DatabaseID string        `yaml:"database_id"`
	BaseURL    string        `yaml:"base_url"`
	Version    string        `yaml:"version"`
	Timeout    time.Duration `yaml:"timeout"`
	// RatePerSecond defaults to the documented average of 3 requests per second.
	RatePerSecond float64 `yaml:"rate_per_second"`
}

// Store queries and patches pages of one database.
type Store struct {
	client     *rest.Client
	databaseID string
}

// New creates a Notion-backed store.
func New(cfg Config) (*Store, error) {
	if cfg.Token == "" {
		return nil, errors.New("notion token is required")
	}
	if cfg.DatabaseID == "" {
		return nil, errors.New("notion database_id is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Version == "" {
		cfg.Version = DefaultVersion
	}
	if cfg.RatePerSecond == 0 {
		cfg.RatePerSecond = 3
	}

	client := rest.New("notion", cfg.BaseURL, rest.Options{
		Timeout: cfg.Timeout,
		Headers: map[string]string{
			"Authorization":  "Bearer " + cfg.Token,
			"Notion-Version": cfg.Version,
		},
		RatePerSecond: cfg.RatePerSecond,
		Burst:         3,
	})

	return &Store{client: client, databaseID: cfg.DatabaseID}, nil
}

type queryRequest struct {
	Filter      map[string]any `json:"filter,omitempty"`
	StartCursor string         `json:"start_cursor,omitempty"`
	PageSize    int            `json:"page_size"`
}

type queryResponse struct {
	Results    []page `json:"results"`
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor"`
}

// Query pages through every row matching expr.
func (s *Store) Query(ctx context.Context, expr predicate.Expr) ([]domain.Row, error) {
	filter, err := compileFilter(expr)
	if err != nil {
		return nil, err
	}

	req := queryRequest{Filter: filter, PageSize: pageSize}
	path := "/databases/" + s.databaseID + "/query"

	var rows []domain.Row
	for {
		var resp queryResponse
		if err := s.client.Do(ctx, http.MethodPost, path, req, &resp); err != nil {
			return nil, fmt.Errorf("notion query %s: %w", s.databaseID, err)
		}
		for _, p := range resp.Results {
			if p.Archived {
				continue
			}
			rows = append(rows, decodePage(p))
		}
		if !resp.HasMore || resp.NextCursor == "" {
			return rows, nil
		}
		req.StartCursor = resp.NextCursor
	}
}

// Patch updates properties of one page.
func (s *Store) Patch(ctx context.Context, id string, updates map[string]domain.Value) error {
	props, err := encodeUpdates(updates)
	if err != nil {
		return fmt.Errorf("notion patch %s: %w", id, err)
	}

	body := map[string]any{"properties": props}
	if err := s.client.Do(ctx, http.MethodPatch, "/pages/"+id, body, nil); err != nil {
		return fmt.Errorf("notion patch %s: %w", id, archivedAsNotFound(err))
	}
	return nil
}

// Get reads one page.
func (s *Store) Get(ctx context.Context, id string) (domain.Row, error) {
	var p page
	if err := s.client.Do(ctx, http.MethodGet, "/pages/"+id, nil, &p); err != nil {
		return domain.Row{}, fmt.Errorf("notion get %s: %w", id, err)
	}
	if p.Archived {
		return domain.Row{}, fmt.Errorf("notion get %s: archived: %w", id, domain.ErrNotFound)
	}
	return decodePage(p), nil
}

// archivedAsNotFound maps edits rejected because the page was archived
// (a 400 validation error) onto ErrNotFound.
func archivedAsNotFound(err error) error {
	var serr *rest.StatusError
	if errors.As(err, &serr) && serr.StatusCode == http.StatusBadRequest && strings.Contains(serr.Body, "archived") {
		return fmt.Errorf("%w: %w", domain.ErrNotFound, err)
	}
	return err
}
