package track

// Stats summarizes confirmations grouped by status.
type Stats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Confirmed       int   `json:"confirmed"`
	Expired         int   `json:"expired"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}
