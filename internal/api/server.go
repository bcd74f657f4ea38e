package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"NeoGas-Relay/internal/auth"
	xerrors "NeoGas-Relay/internal/errors"
	"NeoGas-Relay/internal/intent"
	"NeoGas-Relay/internal/observability/metrics"
	"NeoGas-Relay/internal/relay"
	"NeoGas-Relay/internal/track"
)

// RelayService 是服务器依赖的中继操作集合，由 relay.Service 实现。
type RelayService interface {
	Estimate(ctx context.Context, req relay.EstimateRequest) (*relay.FeeQuote, error)
	Execute(ctx context.Context, ti intent.TransferIntent) (*relay.Receipt, error)
	Inspect(ctx context.Context, intentID string) (*relay.RelayRecord, error)
	List(ctx context.Context, opts ...relay.ListOption) ([]*relay.RelayRecord, error)
	Stats(ctx context.Context, opts ...relay.ListOption) (relay.JournalStats, error)
}

// ConfirmationService 是确认记录的查询接口，由 track.Service 实现。
type ConfirmationService interface {
	GetByTxID(ctx context.Context, txID string) (*track.Confirmation, error)
	List(ctx context.Context, opts track.ListOptions) ([]*track.Confirmation, error)
}

// Server 负责暴露 REST 接口，供钱包或网关提交代付转账请求。
type Server struct {
	addr    string
	relay   RelayService
	tracker ConfirmationService
	auth    *auth.Service
}

// Option 用于在构造 Server 时注入可选依赖。
type Option func(*Server)

// WithTracker 挂载确认轮询服务，启用 /api/v1/confirmations 查询接口。
func WithTracker(tracker ConfirmationService) Option {
	return func(s *Server) {
		s.tracker = tracker
	}
}

// WithAuth 挂载认证服务。认证模式为 disabled 时中间件自动放行。
func WithAuth(svc *auth.Service) Option {
	return func(s *Server) {
		s.auth = svc
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, relaySvc RelayService, opts ...Option) *Server {
	s := &Server{addr: addr, relay: relaySvc}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// 启动服务器并监听关闭信号。
	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Handler 组装完整的路由。/healthz 不经过认证，业务路由统一套认证与
// 指标中间件。
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("/api/v1/fees/estimate", s.handleEstimate)
	api.HandleFunc("/api/v1/relays", s.handleRelays)
	api.HandleFunc("/api/v1/relays/stats", s.handleRelayStats)
	api.HandleFunc("/api/v1/confirmations", s.handleConfirmations)

	var protected http.Handler = api
	if s.auth != nil {
		protected = s.auth.Middleware(auth.MiddlewareConfig{})(protected)
	}
	protected = observeRequests(protected)

	root := http.NewServeMux()
	root.HandleFunc("/healthz", s.handleHealthz)
	root.Handle("/api/", protected)
	return root
}

// handleEstimate 处理手续费预估请求。
func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	if s.relay == nil {
		http.Error(w, "中继服务未初始化", http.StatusServiceUnavailable)
		return
	}

	var req relay.EstimateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "请求体解析失败"))
		return
	}

	quote, err := s.relay.Estimate(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (s *Server) handleRelays(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleExecuteRelay(w, r)
	case http.MethodGet:
		s.handleListRelays(w, r)
	default:
		http.Error(w, "仅支持 GET/POST", http.StatusMethodNotAllowed)
	}
}

// handleExecuteRelay 接收签名后的转账意向并代付上链。
func (s *Server) handleExecuteRelay(w http.ResponseWriter, r *http.Request) {
	if s.relay == nil {
		http.Error(w, "中继服务未初始化", http.StatusServiceUnavailable)
		return
	}

	var ti intent.TransferIntent
	if err := json.NewDecoder(r.Body).Decode(&ti); err != nil {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "请求体解析失败"))
		return
	}

	receipt, err := s.relay.Execute(r.Context(), ti)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// handleListRelays 返回台账记录。带 intent_id 参数时返回单条记录，
// 否则按过滤条件分页列出。
func (s *Server) handleListRelays(w http.ResponseWriter, r *http.Request) {
	if s.relay == nil {
		http.Error(w, "中继服务未初始化", http.StatusServiceUnavailable)
		return
	}

	query := r.URL.Query()
	if intentID := strings.TrimSpace(query.Get("intent_id")); intentID != "" {
		record, err := s.relay.Inspect(r.Context(), intentID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, record)
		return
	}

	opts, err := relayListOptions(query, true)
	if err != nil {
		writeError(w, err)
		return
	}
	records, err := s.relay.List(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// handleRelayStats 返回台账的聚合统计。
func (s *Server) handleRelayStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.relay == nil {
		http.Error(w, "中继服务未初始化", http.StatusServiceUnavailable)
		return
	}

	opts, err := relayListOptions(r.URL.Query(), false)
	if err != nil {
		writeError(w, err)
		return
	}
	stats, err := s.relay.Stats(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleConfirmations 查询交易确认记录。带 txid 参数时返回单条记录。
func (s *Server) handleConfirmations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.tracker == nil {
		http.Error(w, "确认服务未启用", http.StatusServiceUnavailable)
		return
	}

	query := r.URL.Query()
	if txID := strings.TrimSpace(query.Get("txid")); txID != "" {
		record, err := s.tracker.GetByTxID(r.Context(), txID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, record)
		return
	}

	opts, err := trackListOptions(query)
	if err != nil {
		writeError(w, err)
		return
	}
	records, err := s.tracker.List(r.Context(), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// relayListOptions 将查询参数转换为台账查询选项。列表接口解析分页参
// 数，统计接口只取过滤条件。
func relayListOptions(query map[string][]string, paged bool) ([]relay.ListOption, error) {
	get := func(key string) string {
		if values := query[key]; len(values) > 0 {
			return strings.TrimSpace(values[0])
		}
		return ""
	}

	var opts []relay.ListOption
	if paged {
		if raw := get("limit"); raw != "" {
			limit, err := strconv.Atoi(raw)
			if err != nil || limit <= 0 {
				return nil, xerrors.New(xerrors.CodeInvalidArgument, "limit 必须是正整数")
			}
			opts = append(opts, relay.WithLimit(limit))
		}
		if raw := get("offset"); raw != "" {
			offset, err := strconv.Atoi(raw)
			if err != nil || offset < 0 {
				return nil, xerrors.New(xerrors.CodeInvalidArgument, "offset 不能为负数")
			}
			opts = append(opts, relay.WithOffset(offset))
		}
	}
	if raw := get("status"); raw != "" {
		var statuses []relay.Status
		for _, part := range strings.Split(raw, ",") {
			status := relay.Status(strings.ToLower(strings.TrimSpace(part)))
			if status == "" {
				continue
			}
			if !relay.IsValidStatus(status) {
				return nil, xerrors.New(xerrors.CodeInvalidArgument, "未知的状态值: "+string(status))
			}
			statuses = append(statuses, status)
		}
		if len(statuses) > 0 {
			opts = append(opts, relay.WithStatuses(statuses...))
		}
	}
	if sender := get("sender"); sender != "" {
		opts = append(opts, relay.WithSender(sender))
	}
	if asset := get("asset"); asset != "" {
		opts = append(opts, relay.WithAsset(asset))
	}
	if raw := get("since"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "since 必须是 RFC3339 时间")
		}
		opts = append(opts, relay.WithUpdatedSince(ts))
	}
	if raw := get("until"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "until 必须是 RFC3339 时间")
		}
		opts = append(opts, relay.WithUpdatedUntil(ts))
	}
	if raw := get("order"); raw != "" {
		switch strings.ToLower(raw) {
		case "asc":
			opts = append(opts, relay.WithSortOrder(relay.SortByUpdatedAsc))
		case "desc":
			opts = append(opts, relay.WithSortOrder(relay.SortByUpdatedDesc))
		default:
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "order 仅支持 asc/desc")
		}
	}
	return opts, nil
}

// trackListOptions 将查询参数转换为确认记录查询选项。
func trackListOptions(query map[string][]string) (track.ListOptions, error) {
	get := func(key string) string {
		if values := query[key]; len(values) > 0 {
			return strings.TrimSpace(values[0])
		}
		return ""
	}

	var opts track.ListOptions
	if raw := get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return track.ListOptions{}, xerrors.New(xerrors.CodeInvalidArgument, "limit 必须是正整数")
		}
		opts.Limit = limit
	}
	if raw := get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return track.ListOptions{}, xerrors.New(xerrors.CodeInvalidArgument, "offset 不能为负数")
		}
		opts.Offset = offset
	}
	if raw := get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			status := track.Status(strings.ToLower(strings.TrimSpace(part)))
			if status == "" {
				continue
			}
			if !track.IsValidStatus(status) {
				return track.ListOptions{}, xerrors.New(xerrors.CodeInvalidArgument, "未知的状态值: "+string(status))
			}
			opts.Statuses = append(opts.Statuses, status)
		}
	}
	if intentID := get("intent_id"); intentID != "" {
		opts.IntentID = intentID
	}
	if raw := get("since"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return track.ListOptions{}, xerrors.New(xerrors.CodeInvalidArgument, "since 必须是 RFC3339 时间")
		}
		opts.UpdatedGTE = ts.Unix()
	}
	if raw := get("until"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return track.ListOptions{}, xerrors.New(xerrors.CodeInvalidArgument, "until 必须是 RFC3339 时间")
		}
		opts.UpdatedLTE = ts.Unix()
	}
	if raw := get("order"); raw != "" {
		switch strings.ToLower(raw) {
		case "asc":
			opts.Order = track.SortByUpdatedAsc
		case "desc":
			opts.Order = track.SortByUpdatedDesc
		default:
			return track.ListOptions{}, xerrors.New(xerrors.CodeInvalidArgument, "order 仅支持 asc/desc")
		}
	}
	return opts, nil
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Stage   string `json:"stage,omitempty"`
}

// writeError 把业务错误渲染为结构化负载，HTTP 状态码由错误码决定。
// 只暴露错误摘要，底层原因留在服务端日志里。
func writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	detail := errorDetail{Code: string(code), Stage: xerrors.StageOf(err)}
	if structured, ok := xerrors.From(err); ok {
		detail.Message = structured.Message()
	} else if err != nil {
		detail.Message = err.Error()
	}
	writeJSON(w, statusForCode(code), errorBody{Error: detail})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// statusForCode 将统一错误码映射到 HTTP 状态码。
func statusForCode(code xerrors.Code) int {
	switch code {
	case xerrors.CodeInvalidArgument, intent.CodeInvalidSignature,
		relay.CodeNegativeNetAmount, track.CodeTrackValidation:
		return http.StatusBadRequest
	case xerrors.CodeNotFound, track.CodeTrackNotFound:
		return http.StatusNotFound
	case xerrors.CodeConflict, xerrors.CodeAlreadyCompleted,
		intent.CodeDuplicateIntent, track.CodeTrackConflict, track.CodeTrackSettled:
		return http.StatusConflict
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case xerrors.CodeRPCFailure, relay.CodeExecutionFault:
		return http.StatusBadGateway
	case xerrors.CodeOracleUnavailable, relay.CodeInsufficientFunding:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// observeRequests 记录每个请求的方法、状态码与耗时。路由不含路径参
// 数，直接用路径作为指标标签不会引起基数膨胀。
func observeRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		metrics.ObserveHTTPRequest(r.URL.Path, r.Method, recorder.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
