package relay

import (
	"strings"
	"time"
)

// SortOrder defines how results should be ordered when listing records.
type SortOrder int

const (
	// SortByUpdatedDesc orders records by UpdatedAt descending (most recent first).
	SortByUpdatedDesc SortOrder = iota
	// SortByUpdatedAsc orders records by UpdatedAt ascending (oldest first).
	SortByUpdatedAsc
)

// ListOptions controls how relay records are selected when querying the journal.
type ListOptions struct {
	Limit      int
	Offset     int
	Statuses   []Status
	Sender     string
	Asset      string
	UpdatedGTE int64
	UpdatedLTE int64
	Order      SortOrder
}

// ApplyDefaults sanitizes the options and fills in default values. Journal
// implementations outside this package call it before translating the options
// into their own query shapes.
func (opts *ListOptions) ApplyDefaults() {
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	if opts.Limit > 100 {
		opts.Limit = 100
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	if opts.Statuses != nil {
		opts.Statuses = normalizeStatuses(opts.Statuses)
	}
	if opts.Order != SortByUpdatedAsc {
		opts.Order = SortByUpdatedDesc
	}
	opts.Sender = strings.TrimSpace(opts.Sender)
	opts.Asset = strings.TrimSpace(opts.Asset)
}

// ListOption mutates ListOptions.
type ListOption func(*ListOptions)

// WithLimit limits the number of records returned.
func WithLimit(limit int) ListOption {
	return func(opts *ListOptions) {
		opts.Limit = limit
	}
}

// WithOffset skips the first n matching records before returning results.
func WithOffset(offset int) ListOption {
	return func(opts *ListOptions) {
		opts.Offset = offset
	}
}

// WithStatuses filters records by the provided statuses.
func WithStatuses(statuses ...Status) ListOption {
	return func(opts *ListOptions) {
		opts.Statuses = append(opts.Statuses[:0], statuses...)
	}
}

// WithSender filters records by the sender account spelled exactly as recorded.
func WithSender(sender string) ListOption {
	return func(opts *ListOptions) {
		opts.Sender = sender
	}
}

// WithAsset filters records by asset symbol or script hash.
func WithAsset(asset string) ListOption {
	return func(opts *ListOptions) {
		opts.Asset = asset
	}
}

// WithUpdatedSince filters records updated after the provided instant (inclusive).
func WithUpdatedSince(ts time.Time) ListOption {
	return func(opts *ListOptions) {
		if ts.IsZero() {
			opts.UpdatedGTE = 0
			return
		}
		opts.UpdatedGTE = ts.Unix()
	}
}

// WithUpdatedUntil filters records updated before the provided instant (inclusive).
func WithUpdatedUntil(ts time.Time) ListOption {
	return func(opts *ListOptions) {
		if ts.IsZero() {
			opts.UpdatedLTE = 0
			return
		}
		opts.UpdatedLTE = ts.Unix()
	}
}

// WithSortOrder changes the returned order of records.
func WithSortOrder(order SortOrder) ListOption {
	return func(opts *ListOptions) {
		opts.Order = order
	}
}

// buildListOptions applies option functions on top of defaults.
func buildListOptions(opts []ListOption) ListOptions {
	options := ListOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	options.ApplyDefaults()
	return options
}

func normalizeStatuses(input []Status) []Status {
	if len(input) == 0 {
		return nil
	}
	seen := make(map[Status]struct{}, len(input))
	result := make([]Status, 0, len(input))
	for _, status := range input {
		if !IsValidStatus(status) {
			continue
		}
		if _, ok := seen[status]; ok {
			continue
		}
		seen[status] = struct{}{}
		result = append(result, status)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
