package rpc

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"lendpool/core/state"
	nativecommon "lendpool/native/common"
	"lendpool/native/lending"
	"lendpool/native/oracle"
	"lendpool/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020
)

// Server exposes the lending engine over JSON-RPC 2.0 with health and metrics
// endpoints mounted alongside.
type Server struct {
	engine    *lending.Engine
	events    *state.Manager
	log       *slog.Logger
	metrics   *observability.LendingMetrics
	authToken string
	limiter   *rate.Limiter

	handlers map[string]rpcHandler
}

type rpcHandler func(w http.ResponseWriter, r *http.Request, req *RPCRequest)

// ServerOption tunes the server at construction.
type ServerOption func(*Server)

// WithAuthToken requires the bearer token on mutating methods.
func WithAuthToken(token string) ServerOption {
	return func(s *Server) { s.authToken = strings.TrimSpace(token) }
}

// WithRateLimit throttles request admission to perSecond with the supplied
// burst.
func WithRateLimit(perSecond float64, burst int) ServerOption {
	return func(s *Server) {
		if perSecond > 0 && burst > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// WithEventLog wires the liquidation log queried by lending_listLiquidations.
func WithEventLog(events *state.Manager) ServerOption {
	return func(s *Server) { s.events = events }
}

// NewServer constructs the RPC server around the engine.
func NewServer(engine *lending.Engine, log *slog.Logger, opts ...ServerOption) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		engine:  engine,
		log:     log,
		metrics: observability.Metrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.handlers = map[string]rpcHandler{
		"lending_supply":            s.handleSupply,
		"lending_withdraw":          s.handleWithdraw,
		"lending_borrow":            s.handleBorrow,
		"lending_repay":             s.handleRepay,
		"lending_liquidate":         s.handleLiquidate,
		"lending_getMarket":         s.handleGetMarket,
		"lending_listMarkets":       s.handleListMarkets,
		"lending_getAccount":        s.handleGetAccount,
		"lending_getHealthFactor":   s.handleGetHealthFactor,
		"lending_setCollateral":     s.handleSetCollateral,
		"lending_listLiquidations":  s.handleListLiquidations,
		"lending_createMarket":      s.handleCreateMarket,
		"lending_setRiskParameters": s.handleSetRiskParameters,
		"lending_withdrawFees":      s.handleWithdrawFees,
	}
	return s
}

// Router assembles the HTTP surface: the JSON-RPC endpoint at /, /healthz and
// the Prometheus scrape endpoint at /metrics.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Method(http.MethodPost, "/", otelhttp.NewHandler(http.HandlerFunc(s.handle), "lending.rpc"))
	return r
}

// Start serves the router until the listener fails.
func (s *Server) Start(addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.log.Info("starting JSON-RPC server", "addr", addr)
	return server.ListenAndServe()
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj})
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	method := "unknown"
	status := http.StatusOK
	defer func() {
		s.metrics.Observe(method, status, time.Since(started))
	}()

	if s.limiter != nil && !s.limiter.Allow() {
		status = http.StatusTooManyRequests
		s.metrics.RecordThrottle("rate_limit")
		writeError(w, status, nil, codeRateLimited, "rate limit exceeded", nil)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		status = http.StatusBadRequest
		writeError(w, status, nil, codeParseError, "unable to read request body", nil)
		return
	}
	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		status = http.StatusBadRequest
		writeError(w, status, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != jsonRPCVersion {
		status = http.StatusBadRequest
		writeError(w, status, req.ID, codeInvalidRequest, "unsupported JSON-RPC version", nil)
		return
	}
	method = strings.TrimSpace(req.Method)

	handler, ok := s.handlers[method]
	if !ok {
		status = http.StatusNotFound
		writeError(w, status, req.ID, codeMethodNotFound, "method not found", method)
		return
	}

	recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	handler(recorder, r, &req)
	status = recorder.status
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// requireAuth validates the bearer token on privileged methods. When no token
// is configured every call passes; production deployments set one.
func (s *Server) requireAuth(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	supplied := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	return subtle.ConstantTimeCompare([]byte(supplied), []byte(s.authToken)) == 1
}

// rpcStatusFor maps engine failures onto HTTP status and JSON-RPC error codes.
func rpcStatusFor(err error) (int, int) {
	switch {
	case errors.Is(err, lending.ErrInvalidAmount),
		errors.Is(err, lending.ErrInvalidRiskParams):
		return http.StatusBadRequest, codeInvalidParams
	case errors.Is(err, lending.ErrMarketNotFound):
		return http.StatusNotFound, codeServerError
	case errors.Is(err, lending.ErrNotAuthorized):
		return http.StatusForbidden, codeUnauthorized
	case errors.Is(err, nativecommon.ErrFlowPaused):
		return http.StatusServiceUnavailable, codeServerError
	case errors.Is(err, lending.ErrInsufficientBalance),
		errors.Is(err, lending.ErrInsufficientLiquidity),
		errors.Is(err, lending.ErrInsufficientCollateral),
		errors.Is(err, lending.ErrNoDebt),
		errors.Is(err, lending.ErrBorrowCapExceeded),
		errors.Is(err, lending.ErrHealthCheckFailed),
		errors.Is(err, lending.ErrNotLiquidatable),
		errors.Is(err, lending.ErrZeroLiquidation),
		errors.Is(err, lending.ErrMarketExists):
		return http.StatusConflict, codeServerError
	case errors.Is(err, oracle.ErrPriceUnavailable),
		errors.Is(err, oracle.ErrNoFreshQuote),
		errors.Is(err, oracle.ErrPriceDeviation):
		return http.StatusServiceUnavailable, codeServerError
	default:
		return http.StatusInternalServerError, codeServerError
	}
}

func (s *Server) writeEngineError(w http.ResponseWriter, id interface{}, method string, err error) {
	status, code := rpcStatusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("rpc handler failed", "method", method, "error", err)
	}
	writeError(w, status, id, code, err.Error(), nil)
}
