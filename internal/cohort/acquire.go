package cohort

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Page is one bulk page as returned by the initial-data endpoint.
type Page struct {
	Data       TableBatch `json:"data"`
	TotalCount int        `json:"total_count"`
}

// Source is the remote cohort API as seen by the coordinator.
// The api package provides the HTTP implementation.
type Source interface {
	// InitialData returns one page of the unfiltered set.
	InitialData(ctx context.Context, offset, limit int) (Page, error)

	// Filter returns the complete set matching req.
	Filter(ctx context.Context, req FilterRequest) (TableBatch, error)

	// Search returns the complete set matching a sample id or a trailing-*
	// prefix.
	Search(ctx context.Context, term string) (TableBatch, error)
}

// ErrEmptySearch is returned for a blank search term. No request is made.
var ErrEmptySearch = errors.New("empty search term")

func acquireBulk(ctx context.Context, src Source, offset, limit int) (Page, error) {
	if offset < 0 || limit <= 0 {
		return Page{}, fmt.Errorf("load page: invalid window offset=%d limit=%d", offset, limit)
	}
	page, err := src.InitialData(ctx, offset, limit)
	if err != nil {
		return Page{}, fmt.Errorf("load page at offset %d: %w", offset, err)
	}
	if page.TotalCount < 0 {
		return Page{}, fmt.Errorf("load page at offset %d: unexpected response: negative total_count %d", offset, page.TotalCount)
	}
	return page, nil
}

func acquireFiltered(ctx context.Context, src Source, req FilterRequest) (TableBatch, error) {
	if len(req.Filters) == 0 {
		return TableBatch{}, ErrNoFilters
	}
	if len(req.LogicalOperators) != len(req.Filters)-1 {
		return TableBatch{}, fmt.Errorf("filter: %d connectors for %d filters", len(req.LogicalOperators), len(req.Filters))
	}
	batch, err := src.Filter(ctx, req)
	if err != nil {
		return TableBatch{}, fmt.Errorf("filter: %w", err)
	}
	return batch, nil
}

func acquireSearched(ctx context.Context, src Source, term string) (TableBatch, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return TableBatch{}, ErrEmptySearch
	}
	batch, err := src.Search(ctx, term)
	if err != nil {
		return TableBatch{}, fmt.Errorf("search %q: %w", term, err)
	}
	return batch, nil
}
