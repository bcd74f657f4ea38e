package neorelay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the relay REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// EstimateRequest asks the relay to convert an expected GAS cost into a fee
// denominated in the transferred asset.
type EstimateRequest struct {
	Asset    string `json:"asset"`
	FeeGas   string `json:"fee_gas,omitempty"`
	IntentID string `json:"intent_id,omitempty"`
}

// FeeQuote is the relay's answer to an estimate request. Amounts are integers
// in the asset's smallest unit.
type FeeQuote struct {
	FeeInAsset    int64  `json:"fee_in_asset"`
	AssetSymbol   string `json:"asset_symbol"`
	AssetDecimals int    `json:"asset_decimals"`
	BurnAmount    int64  `json:"burn_amount"`
	IntentID      string `json:"intent_id"`
	Source        string `json:"source"`
}

// TransferIntent is the user-signed transfer the relay submits on-chain.
type TransferIntent struct {
	From        string `json:"from"`
	To          string `json:"to"`
	AssetHash   string `json:"asset_hash"`
	GrossAmount int64  `json:"gross_amount"`
	FeeInAsset  int64  `json:"fee_in_asset"`
	IntentID    string `json:"intent_id"`
	Signature   string `json:"user_signature"`
}

// Receipt acknowledges a broadcast relay transaction.
type Receipt struct {
	TxID       string `json:"txid"`
	NetAmount  int64  `json:"net_amount"`
	BurnAmount int64  `json:"burn_amount"`
	Status     string `json:"status"`
	IntentID   string `json:"intent_id"`
}

// RelayRecord is the journal view of a relayed transfer.
type RelayRecord struct {
	IntentID        string `json:"intent_id"`
	TxID            string `json:"txid,omitempty"`
	Sender          string `json:"sender"`
	Recipient       string `json:"recipient"`
	AssetHash       string `json:"asset_hash"`
	AssetSymbol     string `json:"asset_symbol,omitempty"`
	GrossAmount     int64  `json:"gross_amount"`
	NetAmount       int64  `json:"net_amount"`
	BurnAmount      int64  `json:"burn_amount"`
	SystemFee       int64  `json:"system_fee,omitempty"`
	NetworkFee      int64  `json:"network_fee,omitempty"`
	ValidUntilBlock uint32 `json:"valid_until_block,omitempty"`
	ConfirmedHeight uint32 `json:"confirmed_height,omitempty"`
	Status          string `json:"status"`
	Stage           string `json:"stage,omitempty"`
	ErrorCode       string `json:"error_code,omitempty"`
	LastError       string `json:"last_error,omitempty"`
	CreatedAt       int64  `json:"created_at"`
	UpdatedAt       int64  `json:"updated_at"`
}

// JournalStats aggregates journal counters, typically for dashboards.
type JournalStats struct {
	Total           int              `json:"total"`
	Sent            int              `json:"sent"`
	Confirmed       int              `json:"confirmed"`
	Rejected        int              `json:"rejected"`
	Failed          int              `json:"failed"`
	Expired         int              `json:"expired"`
	BurnedByAsset   map[string]int64 `json:"burned_by_asset,omitempty"`
	OldestUpdatedAt int64            `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64            `json:"newest_updated_at,omitempty"`
}

// Confirmation reports the polling state of a broadcast transaction.
type Confirmation struct {
	ID          string `json:"id"`
	TxID        string `json:"txid"`
	IntentID    string `json:"intent_id,omitempty"`
	Status      string `json:"status"`
	Attempts    int    `json:"attempts"`
	MaxAttempts int    `json:"max_attempts"`
	Height      uint32 `json:"height,omitempty"`
	LastError   string `json:"last_error,omitempty"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

// ListRelaysOptions filters journal listings. Zero values are omitted from
// the query.
type ListRelaysOptions struct {
	Limit     int
	Offset    int
	Statuses  []string
	Sender    string
	Asset     string
	Since     time.Time
	Until     time.Time
	Ascending bool
}

// ListConfirmationsOptions filters confirmation listings.
type ListConfirmationsOptions struct {
	Limit     int
	Offset    int
	Statuses  []string
	IntentID  string
	Since     time.Time
	Until     time.Time
	Ascending bool
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
	Stage      string `json:"stage,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("neorelay api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("neorelay api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the relay API. When httpClient is nil,
// a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) *Client {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		panic(fmt.Sprintf("invalid base url: %v", err))
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}
}

// EstimateFee requests a fee quote for the given asset.
func (c *Client) EstimateFee(ctx context.Context, req EstimateRequest) (FeeQuote, error) {
	var quote FeeQuote
	if err := c.post(ctx, "/api/v1/fees/estimate", req, &quote); err != nil {
		return FeeQuote{}, err
	}
	return quote, nil
}

// SubmitIntent sends a signed transfer intent for sponsored execution.
func (c *Client) SubmitIntent(ctx context.Context, intent TransferIntent) (Receipt, error) {
	var receipt Receipt
	if err := c.post(ctx, "/api/v1/relays", intent, &receipt); err != nil {
		return Receipt{}, err
	}
	return receipt, nil
}

// GetRelay fetches the journal record of a single intent.
func (c *Client) GetRelay(ctx context.Context, intentID string) (RelayRecord, error) {
	var record RelayRecord
	endpoint := "/api/v1/relays?intent_id=" + url.QueryEscape(intentID)
	if err := c.get(ctx, endpoint, &record); err != nil {
		return RelayRecord{}, err
	}
	return record, nil
}

// ListRelays returns journal records matching the options, newest first
// unless Ascending is set.
func (c *Client) ListRelays(ctx context.Context, opts ListRelaysOptions) ([]RelayRecord, error) {
	values := url.Values{}
	encodePaging(values, opts.Limit, opts.Offset)
	encodeFilters(values, opts.Statuses, opts.Since, opts.Until, opts.Ascending)
	if opts.Sender != "" {
		values.Set("sender", opts.Sender)
	}
	if opts.Asset != "" {
		values.Set("asset", opts.Asset)
	}

	var records []RelayRecord
	if err := c.get(ctx, withQuery("/api/v1/relays", values), &records); err != nil {
		return nil, err
	}
	return records, nil
}

// RelayStats returns aggregated journal counters for the matching records.
func (c *Client) RelayStats(ctx context.Context, opts ListRelaysOptions) (JournalStats, error) {
	values := url.Values{}
	encodeFilters(values, opts.Statuses, opts.Since, opts.Until, opts.Ascending)
	if opts.Sender != "" {
		values.Set("sender", opts.Sender)
	}
	if opts.Asset != "" {
		values.Set("asset", opts.Asset)
	}

	var stats JournalStats
	if err := c.get(ctx, withQuery("/api/v1/relays/stats", values), &stats); err != nil {
		return JournalStats{}, err
	}
	return stats, nil
}

// GetConfirmation fetches the polling state of a broadcast transaction.
func (c *Client) GetConfirmation(ctx context.Context, txID string) (Confirmation, error) {
	var conf Confirmation
	endpoint := "/api/v1/confirmations?txid=" + url.QueryEscape(txID)
	if err := c.get(ctx, endpoint, &conf); err != nil {
		return Confirmation{}, err
	}
	return conf, nil
}

// ListConfirmations returns confirmation records matching the options.
func (c *Client) ListConfirmations(ctx context.Context, opts ListConfirmationsOptions) ([]Confirmation, error) {
	values := url.Values{}
	encodePaging(values, opts.Limit, opts.Offset)
	encodeFilters(values, opts.Statuses, opts.Since, opts.Until, opts.Ascending)
	if opts.IntentID != "" {
		values.Set("intent_id", opts.IntentID)
	}

	var records []Confirmation
	if err := c.get(ctx, withQuery("/api/v1/confirmations", values), &records); err != nil {
		return nil, err
	}
	return records, nil
}

// AccessToken returns the currently stored token string.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// SetAccessToken stores the static bearer token attached to every request.
// Leave it empty when the server runs with authentication disabled.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

func encodePaging(values url.Values, limit, offset int) {
	if limit > 0 {
		values.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		values.Set("offset", strconv.Itoa(offset))
	}
}

func encodeFilters(values url.Values, statuses []string, since, until time.Time, ascending bool) {
	if len(statuses) > 0 {
		values.Set("status", strings.Join(statuses, ","))
	}
	if !since.IsZero() {
		values.Set("since", since.UTC().Format(time.RFC3339))
	}
	if !until.IsZero() {
		values.Set("until", until.UTC().Format(time.RFC3339))
	}
	if ascending {
		values.Set("order", "asc")
	}
}

func withQuery(endpoint string, values url.Values) string {
	if encoded := values.Encode(); encoded != "" {
		return endpoint + "?" + encoded
	}
	return endpoint
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	rawPath, rawQuery, _ := strings.Cut(endpoint, "?")
	rel := &url.URL{Path: path.Join(c.baseURL.Path, rawPath), RawQuery: rawQuery}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &struct {
				Error *APIError `json:"error"`
			}{Error: &apiErr}); err != nil {
				// Fall back to a flat decode when the payload is not wrapped.
				_ = json.Unmarshal(data, &apiErr)
			}
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
