package track

import "strings"

// SortOrder defines how confirmations should be ordered when listing.
type SortOrder int

const (
	// SortByUpdatedDesc orders confirmations by UpdatedAt descending.
	SortByUpdatedDesc SortOrder = iota
	// SortByUpdatedAsc orders confirmations by UpdatedAt ascending.
	SortByUpdatedAsc
)

// ListOptions controls how confirmations are selected when querying a store.
type ListOptions struct {
	Limit      int
	Offset     int
	Statuses   []Status
	IntentID   string
	TxID       string
	UpdatedGTE int64
	UpdatedLTE int64
	Order      SortOrder
}

func (opts *ListOptions) applyDefaults() {
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
	opts.IntentID = strings.TrimSpace(opts.IntentID)
	opts.TxID = strings.TrimSpace(opts.TxID)
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
