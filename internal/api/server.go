package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"R0-Agent/internal/agent"
	"R0-Agent/internal/auth"
	xerrors "R0-Agent/internal/errors"
	"R0-Agent/internal/observability/metrics"
	"R0-Agent/internal/turn"
)

// Server 负责暴露 REST 接口，供外部提交与查询智能体回合。
type Server struct {
	addr            string
	service         *turn.Service
	auth            *auth.Service
	streamInterval  time.Duration
	syncWaitTimeout time.Duration
}

// Option 配置 Server 的可选行为。
type Option func(*Server)

// WithAuthService 启用 API key 认证。
func WithAuthService(svc *auth.Service) Option {
	return func(s *Server) {
		s.auth = svc
	}
}

// WithStreamInterval 调整 SSE 流的轮询间隔，主要用于测试。
func WithStreamInterval(interval time.Duration) Option {
	return func(s *Server) {
		if interval > 0 {
			s.streamInterval = interval
		}
	}
}

// WithSyncWaitTimeout 调整 wait=1 同步提交的最长等待时间。
func WithSyncWaitTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		if timeout > 0 {
			s.syncWaitTimeout = timeout
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, service *turn.Service, opts ...Option) *Server {
	s := &Server{
		addr:            addr,
		service:         service,
		streamInterval:  500 * time.Millisecond,
		syncWaitTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 组装全部路由，带上认证与指标埋点。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	readWrite := s.guard(auth.MiddlewareConfig{
		RequiredPermissions: map[string][]string{
			http.MethodGet:  {auth.PermTurnsRead},
			http.MethodPost: {auth.PermTurnsWrite},
		},
	})
	readOnly := s.guard(auth.MiddlewareConfig{
		RequiredPermissions: map[string][]string{
			http.MethodGet: {auth.PermTurnsRead},
		},
	})

	mux.Handle("/api/v1/turns", readWrite(s.instrument("turns", s.handleTurns)))
	mux.Handle("/api/v1/turns/", readOnly(s.instrument("turn_detail", s.handleTurnSubroutes)))
	mux.Handle("/api/v1/stats", readOnly(s.instrument("stats", s.handleStats)))
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

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

func (s *Server) guard(cfg auth.MiddlewareConfig) func(http.Handler) http.Handler {
	if s.auth == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return s.auth.Middleware(cfg)
}

// statusWriter 捕获响应状态码供指标埋点使用。
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (s *Server) instrument(name string, handler http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		handler(sw, r)
		metrics.ObserveHTTPRequest(name, r.Method, sw.status, time.Since(started))
	})
}

func (s *Server) handleTurns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleSubmitTurn(w, r)
	case http.MethodGet:
		s.handleListTurns(w, r)
	default:
		http.Error(w, "仅支持 GET/POST", http.StatusMethodNotAllowed)
	}
}

// submitTurnRequest 是提交回合的请求体。
type submitTurnRequest struct {
	ID        string         `json:"id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Prompt    string         `json:"prompt"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func (s *Server) handleSubmitTurn(w http.ResponseWriter, r *http.Request) {
	if s.service == nil {
		http.Error(w, "服务未初始化", http.StatusServiceUnavailable)
		return
	}

	var req submitTurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}

	created, err := s.service.Submit(r.Context(), agent.TurnRequest{
		ID:        req.ID,
		SessionID: req.SessionID,
		Prompt:    req.Prompt,
		Metadata:  req.Metadata,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	// wait=1 时同步等待回合终结，超时则按当前状态返回。
	if shouldWait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); shouldWait {
		waitCtx, cancel := context.WithTimeout(r.Context(), s.syncWaitTimeout)
		defer cancel()
		if finished, waitErr := s.service.WaitUntilCompleted(waitCtx, created.ID, s.streamInterval); waitErr == nil {
			writeJSON(w, http.StatusOK, finished)
			return
		}
		if current, getErr := s.service.Get(r.Context(), created.ID); getErr == nil {
			created = current
		}
	}

	writeJSON(w, http.StatusAccepted, created)
}

func (s *Server) handleListTurns(w http.ResponseWriter, r *http.Request) {
	if s.service == nil {
		http.Error(w, "服务未初始化", http.StatusServiceUnavailable)
		return
	}

	opts, err := listOptionsFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	turns, err := s.service.List(r.Context(), opts...)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if turns == nil {
		turns = []*turn.Turn{}
	}
	writeJSON(w, http.StatusOK, turns)
}

func (s *Server) handleTurnSubroutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/turns/")
	if rest == "" {
		http.Error(w, "缺少回合 ID", http.StatusBadRequest)
		return
	}
	if id, ok := strings.CutSuffix(rest, "/stream"); ok {
		s.handleTurnStream(w, r, strings.TrimSuffix(id, "/"))
		return
	}
	s.handleTurnDetail(w, r, rest)
}

func (s *Server) handleTurnDetail(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.service == nil {
		http.Error(w, "服务未初始化", http.StatusServiceUnavailable)
		return
	}

	found, err := s.service.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

// handleTurnStream 以 SSE 推送回合状态，直到回合终结或连接断开。
func (s *Server) handleTurnStream(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.service == nil {
		http.Error(w, "服务未初始化", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "当前连接不支持流式输出", http.StatusNotImplemented)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ticker := time.NewTicker(s.streamInterval)
	defer ticker.Stop()

	var lastStatus turn.Status
	for {
		current, err := s.service.Get(r.Context(), id)
		if err != nil {
			writeSSE(w, "error", map[string]string{"message": err.Error()})
			flusher.Flush()
			return
		}

		if current.Status != lastStatus {
			lastStatus = current.Status
			writeSSE(w, "status", current)
			flusher.Flush()
		}

		if current.Status == turn.StatusSucceeded || current.Status == turn.StatusFailed {
			writeSSE(w, "completed", current)
			flusher.Flush()
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.service == nil {
		http.Error(w, "服务未初始化", http.StatusServiceUnavailable)
		return
	}

	stats, err := s.service.Stats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// listOptionsFromQuery 把查询参数翻译成存储层的筛选选项。
func listOptionsFromQuery(r *http.Request) ([]turn.ListOption, error) {
	query := r.URL.Query()
	var opts []turn.ListOption

	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("limit 参数无效: %q", raw)
		}
		opts = append(opts, turn.WithLimit(parsed))
	}
	if raw := query.Get("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return nil, fmt.Errorf("offset 参数无效: %q", raw)
		}
		opts = append(opts, turn.WithOffset(parsed))
	}
	if raw := query.Get("status"); raw != "" {
		var statuses []turn.Status
		for _, part := range strings.Split(raw, ",") {
			status := turn.Status(strings.TrimSpace(part))
			if status == "" {
				continue
			}
			if !turn.IsValidStatus(status) {
				return nil, fmt.Errorf("status 参数无效: %q", part)
			}
			statuses = append(statuses, status)
		}
		if len(statuses) > 0 {
			opts = append(opts, turn.WithStatuses(statuses...))
		}
	}
	if raw := query.Get("has_result"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("has_result 参数无效: %q", raw)
		}
		opts = append(opts, turn.WithResultPresence(parsed))
	}
	if raw := query.Get("updated_since"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("updated_since 参数无效: %q", raw)
		}
		opts = append(opts, turn.WithUpdatedSince(time.Unix(parsed, 0)))
	}
	if raw := query.Get("updated_until"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("updated_until 参数无效: %q", raw)
		}
		opts = append(opts, turn.WithUpdatedUntil(time.Unix(parsed, 0)))
	}
	if raw := query.Get("order"); raw != "" {
		switch strings.ToLower(raw) {
		case "asc":
			opts = append(opts, turn.WithSortOrder(turn.SortByUpdatedAsc))
		case "desc":
			opts = append(opts, turn.WithSortOrder(turn.SortByUpdatedDesc))
		default:
			return nil, fmt.Errorf("order 参数无效: %q", raw)
		}
	}
	if raw := strings.TrimSpace(query.Get("query")); raw != "" {
		opts = append(opts, turn.WithQuery(raw))
	}
	return opts, nil
}

// writeError 按错误类别映射 HTTP 状态码。
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, turn.ErrTurnNotFound):
		status = http.StatusNotFound
	case xerrors.CodeOf(err) == turn.CodeTurnValidation:
		status = http.StatusBadRequest
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeSSE(w http.ResponseWriter, event string, payload any) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, encoded)
}
