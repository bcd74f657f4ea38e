package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"NeoGas-Relay/internal/auth"
	xerrors "NeoGas-Relay/internal/errors"
	"NeoGas-Relay/internal/intent"
	"NeoGas-Relay/internal/relay"
	"NeoGas-Relay/internal/track"
)

// stubRelay 按字段预置各操作的返回值，并记录收到的参数。
type stubRelay struct {
	quote   *relay.FeeQuote
	receipt *relay.Receipt
	record  *relay.RelayRecord
	records []*relay.RelayRecord
	stats   relay.JournalStats
	err     error

	gotEstimate relay.EstimateRequest
	gotIntent   intent.TransferIntent
	gotIntentID string
	gotOpts     []relay.ListOption
}

func (s *stubRelay) Estimate(ctx context.Context, req relay.EstimateRequest) (*relay.FeeQuote, error) {
	s.gotEstimate = req
	if s.err != nil {
		return nil, s.err
	}
	return s.quote, nil
}

func (s *stubRelay) Execute(ctx context.Context, ti intent.TransferIntent) (*relay.Receipt, error) {
	s.gotIntent = ti
	if s.err != nil {
		return nil, s.err
	}
	return s.receipt, nil
}

func (s *stubRelay) Inspect(ctx context.Context, intentID string) (*relay.RelayRecord, error) {
	s.gotIntentID = intentID
	if s.err != nil {
		return nil, s.err
	}
	return s.record, nil
}

func (s *stubRelay) List(ctx context.Context, opts ...relay.ListOption) ([]*relay.RelayRecord, error) {
	s.gotOpts = opts
	if s.err != nil {
		return nil, s.err
	}
	return s.records, nil
}

func (s *stubRelay) Stats(ctx context.Context, opts ...relay.ListOption) (relay.JournalStats, error) {
	s.gotOpts = opts
	if s.err != nil {
		return relay.JournalStats{}, s.err
	}
	return s.stats, nil
}

// stubConfirmations 预置确认记录查询的返回值。
type stubConfirmations struct {
	record  *track.Confirmation
	records []*track.Confirmation
	err     error

	gotTxID string
	gotOpts track.ListOptions
}

func (s *stubConfirmations) GetByTxID(ctx context.Context, txID string) (*track.Confirmation, error) {
	s.gotTxID = txID
	if s.err != nil {
		return nil, s.err
	}
	return s.record, nil
}

func (s *stubConfirmations) List(ctx context.Context, opts track.ListOptions) ([]*track.Confirmation, error) {
	s.gotOpts = opts
	if s.err != nil {
		return nil, s.err
	}
	return s.records, nil
}

func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) errorDetail {
	t.Helper()
	var body errorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Error
}

func TestHandleEstimate(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		stub := &stubRelay{quote: &relay.FeeQuote{
			FeeInAsset:    341,
			AssetSymbol:   "NEO",
			AssetDecimals: 8,
			BurnAmount:    170,
			IntentID:      "intent-1",
			Source:        "flamingo",
		}}
		server := NewServer(":0", stub)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/fees/estimate",
			strings.NewReader(`{"asset":"NEO","fee_gas":"0.05","intent_id":"intent-1"}`))
		rec := httptest.NewRecorder()
		server.handleEstimate(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusOK)
		}
		if stub.gotEstimate.Asset != "NEO" || stub.gotEstimate.FeeGas != "0.05" {
			t.Fatalf("unexpected estimate request: %+v", stub.gotEstimate)
		}
		var quote relay.FeeQuote
		if err := json.NewDecoder(rec.Body).Decode(&quote); err != nil {
			t.Fatalf("decode quote: %v", err)
		}
		if quote.FeeInAsset != 341 || quote.BurnAmount != 170 {
			t.Fatalf("unexpected quote: %+v", quote)
		}
	})

	t.Run("rejects bad body", func(t *testing.T) {
		server := NewServer(":0", &stubRelay{})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/fees/estimate", strings.NewReader("{"))
		rec := httptest.NewRecorder()
		server.handleEstimate(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusBadRequest)
		}
		if detail := decodeErrorBody(t, rec); detail.Code != string(xerrors.CodeInvalidArgument) {
			t.Fatalf("unexpected error code: %s", detail.Code)
		}
	})

	t.Run("rejects wrong method", func(t *testing.T) {
		server := NewServer(":0", &stubRelay{})
		req := httptest.NewRequest(http.MethodGet, "/api/v1/fees/estimate", nil)
		rec := httptest.NewRecorder()
		server.handleEstimate(rec, req)

		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusMethodNotAllowed)
		}
	})

	t.Run("maps oracle outage to 503", func(t *testing.T) {
		stub := &stubRelay{err: xerrors.New(xerrors.CodeOracleUnavailable, "行情源不可用")}
		server := NewServer(":0", stub)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/fees/estimate", strings.NewReader(`{"asset":"NEO"}`))
		rec := httptest.NewRecorder()
		server.handleEstimate(rec, req)

		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusServiceUnavailable)
		}
		if detail := decodeErrorBody(t, rec); detail.Code != string(xerrors.CodeOracleUnavailable) {
			t.Fatalf("unexpected error code: %s", detail.Code)
		}
	})
}

func TestHandleExecuteRelay(t *testing.T) {
	intentJSON := `{
		"from": "NXJaKph9Mq6bg8Gu1wa8cUUrmbLDiqThW7",
		"to": "0xef4073a0f2b305a38ec4050e4d3d28bc40ea63f5",
		"asset_hash": "0xd2a4cff31913016155e38e474a2c06d08be276cf",
		"gross_amount": 400000000,
		"fee_in_asset": 341,
		"intent_id": "intent-1",
		"user_signature": "00"
	}`

	t.Run("success", func(t *testing.T) {
		stub := &stubRelay{receipt: &relay.Receipt{
			TxID:       "0xabc",
			NetAmount:  399999659,
			BurnAmount: 170,
			Status:     relay.StatusSent,
			IntentID:   "intent-1",
		}}
		server := NewServer(":0", stub)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/relays", strings.NewReader(intentJSON))
		rec := httptest.NewRecorder()
		server.handleRelays(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusOK)
		}
		if stub.gotIntent.IntentID != "intent-1" || stub.gotIntent.GrossAmount != 400000000 {
			t.Fatalf("unexpected intent: %+v", stub.gotIntent)
		}
		var receipt relay.Receipt
		if err := json.NewDecoder(rec.Body).Decode(&receipt); err != nil {
			t.Fatalf("decode receipt: %v", err)
		}
		if receipt.TxID != "0xabc" || receipt.Status != relay.StatusSent {
			t.Fatalf("unexpected receipt: %+v", receipt)
		}
	})

	t.Run("maps invalid signature with stage", func(t *testing.T) {
		stub := &stubRelay{err: intent.ErrInvalidSignature}
		server := NewServer(":0", stub)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/relays", strings.NewReader(intentJSON))
		rec := httptest.NewRecorder()
		server.handleRelays(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusBadRequest)
		}
		detail := decodeErrorBody(t, rec)
		if detail.Code != string(intent.CodeInvalidSignature) {
			t.Fatalf("unexpected error code: %s", detail.Code)
		}
		if detail.Stage != intent.StageVerify {
			t.Fatalf("unexpected stage: %s", detail.Stage)
		}
	})

	t.Run("maps duplicate intent to 409", func(t *testing.T) {
		stub := &stubRelay{err: intent.ErrDuplicateIntent}
		server := NewServer(":0", stub)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/relays", strings.NewReader(intentJSON))
		rec := httptest.NewRecorder()
		server.handleRelays(rec, req)

		if rec.Code != http.StatusConflict {
			t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusConflict)
		}
	})

	t.Run("maps broadcast fault to 502", func(t *testing.T) {
		stub := &stubRelay{err: xerrors.New(xerrors.CodeRPCFailure, "广播交易失败",
			xerrors.WithStage(relay.StageSubmit))}
		server := NewServer(":0", stub)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/relays", strings.NewReader(intentJSON))
		rec := httptest.NewRecorder()
		server.handleRelays(rec, req)

		if rec.Code != http.StatusBadGateway {
			t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusBadGateway)
		}
		if detail := decodeErrorBody(t, rec); detail.Stage != relay.StageSubmit {
			t.Fatalf("unexpected stage: %s", detail.Stage)
		}
	})
}

func TestHandleListRelays(t *testing.T) {
	t.Run("passes filters through", func(t *testing.T) {
		stub := &stubRelay{records: []*relay.RelayRecord{{IntentID: "intent-1"}}}
		server := NewServer(":0", stub)

		target := "/api/v1/relays?limit=5&offset=10&status=sent,confirmed" +
			"&sender=NXJaKph9Mq6bg8Gu1wa8cUUrmbLDiqThW7&asset=NEO" +
			"&since=2026-08-01T00:00:00Z&order=asc"
		req := httptest.NewRequest(http.MethodGet, target, nil)
		rec := httptest.NewRecorder()
		server.handleRelays(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusOK)
		}
		var opts relay.ListOptions
		for _, opt := range stub.gotOpts {
			opt(&opts)
		}
		if opts.Limit != 5 || opts.Offset != 10 {
			t.Fatalf("unexpected paging: %+v", opts)
		}
		if len(opts.Statuses) != 2 || opts.Statuses[0] != relay.StatusSent || opts.Statuses[1] != relay.StatusConfirmed {
			t.Fatalf("unexpected statuses: %v", opts.Statuses)
		}
		if opts.Sender == "" || opts.Asset != "NEO" {
			t.Fatalf("unexpected filters: %+v", opts)
		}
		want := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC).Unix()
		if opts.UpdatedGTE != want {
			t.Fatalf("unexpected since: got %d want %d", opts.UpdatedGTE, want)
		}
		if opts.Order != relay.SortByUpdatedAsc {
			t.Fatalf("unexpected order: %v", opts.Order)
		}
	})

	t.Run("rejects bad limit", func(t *testing.T) {
		server := NewServer(":0", &stubRelay{})
		req := httptest.NewRequest(http.MethodGet, "/api/v1/relays?limit=abc", nil)
		rec := httptest.NewRecorder()
		server.handleRelays(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusBadRequest)
		}
	})

	t.Run("rejects unknown status", func(t *testing.T) {
		server := NewServer(":0", &stubRelay{})
		req := httptest.NewRequest(http.MethodGet, "/api/v1/relays?status=teleported", nil)
		rec := httptest.NewRecorder()
		server.handleRelays(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusBadRequest)
		}
	})

	t.Run("inspect by intent id", func(t *testing.T) {
		stub := &stubRelay{record: &relay.RelayRecord{IntentID: "intent-1", Status: relay.StatusConfirmed}}
		server := NewServer(":0", stub)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/relays?intent_id=intent-1", nil)
		rec := httptest.NewRecorder()
		server.handleRelays(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusOK)
		}
		if stub.gotIntentID != "intent-1" {
			t.Fatalf("unexpected intent id: %s", stub.gotIntentID)
		}
	})

	t.Run("inspect missing intent returns 404", func(t *testing.T) {
		stub := &stubRelay{err: relay.ErrRecordNotFound}
		server := NewServer(":0", stub)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/relays?intent_id=absent", nil)
		rec := httptest.NewRecorder()
		server.handleRelays(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusNotFound)
		}
		if detail := decodeErrorBody(t, rec); detail.Code != string(xerrors.CodeNotFound) {
			t.Fatalf("unexpected error code: %s", detail.Code)
		}
	})
}

func TestHandleRelayStats(t *testing.T) {
	stub := &stubRelay{stats: relay.JournalStats{Total: 7, Sent: 2, Confirmed: 4, Failed: 1}}
	server := NewServer(":0", stub)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/relays/stats?status=confirmed", nil)
	rec := httptest.NewRecorder()
	server.handleRelayStats(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusOK)
	}
	var stats relay.JournalStats
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Total != 7 || stats.Confirmed != 4 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestHandleConfirmations(t *testing.T) {
	t.Run("lookup by txid", func(t *testing.T) {
		stub := &stubConfirmations{record: &track.Confirmation{
			ID:     "conf-1",
			TxID:   "0xabc",
			Status: track.StatusConfirmed,
			Height: 120,
		}}
		server := NewServer(":0", &stubRelay{}, WithTracker(stub))

		req := httptest.NewRequest(http.MethodGet, "/api/v1/confirmations?txid=0xabc", nil)
		rec := httptest.NewRecorder()
		server.handleConfirmations(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusOK)
		}
		if stub.gotTxID != "0xabc" {
			t.Fatalf("unexpected txid: %s", stub.gotTxID)
		}
		var conf track.Confirmation
		if err := json.NewDecoder(rec.Body).Decode(&conf); err != nil {
			t.Fatalf("decode confirmation: %v", err)
		}
		if conf.Height != 120 || conf.Status != track.StatusConfirmed {
			t.Fatalf("unexpected confirmation: %+v", conf)
		}
	})

	t.Run("unknown txid returns 404", func(t *testing.T) {
		stub := &stubConfirmations{err: track.ErrConfirmationNotFound}
		server := NewServer(":0", &stubRelay{}, WithTracker(stub))

		req := httptest.NewRequest(http.MethodGet, "/api/v1/confirmations?txid=0xmissing", nil)
		rec := httptest.NewRecorder()
		server.handleConfirmations(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusNotFound)
		}
	})

	t.Run("list with filters", func(t *testing.T) {
		stub := &stubConfirmations{records: []*track.Confirmation{{ID: "conf-1"}}}
		server := NewServer(":0", &stubRelay{}, WithTracker(stub))

		req := httptest.NewRequest(http.MethodGet, "/api/v1/confirmations?status=pending&limit=3&intent_id=intent-1", nil)
		rec := httptest.NewRecorder()
		server.handleConfirmations(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusOK)
		}
		if stub.gotOpts.Limit != 3 || stub.gotOpts.IntentID != "intent-1" {
			t.Fatalf("unexpected options: %+v", stub.gotOpts)
		}
		if len(stub.gotOpts.Statuses) != 1 || stub.gotOpts.Statuses[0] != track.StatusPending {
			t.Fatalf("unexpected statuses: %v", stub.gotOpts.Statuses)
		}
	})

	t.Run("tracker disabled", func(t *testing.T) {
		server := NewServer(":0", &stubRelay{})
		req := httptest.NewRequest(http.MethodGet, "/api/v1/confirmations?txid=0xabc", nil)
		rec := httptest.NewRecorder()
		server.handleConfirmations(rec, req)

		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusServiceUnavailable)
		}
	})
}

func TestHandlerAuth(t *testing.T) {
	authSvc, err := auth.NewService(auth.Config{
		Mode:   auth.ModeStatic,
		Tokens: []auth.Token{{Token: "secret", Name: "wallet"}},
	})
	if err != nil {
		t.Fatalf("new auth service: %v", err)
	}
	stub := &stubRelay{records: []*relay.RelayRecord{}}
	server := NewServer(":0", stub, WithAuth(authSvc))
	handler := server.Handler()

	t.Run("healthz skips auth", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusOK)
		}
	})

	t.Run("missing token rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/relays", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusUnauthorized)
		}
	})

	t.Run("valid token accepted", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/relays", nil)
		req.Header.Set("Authorization", "Bearer secret")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusOK)
		}
	})
}
