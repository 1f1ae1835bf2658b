package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pargorojo/backend/internal/domain"
	"pargorojo/backend/internal/reconcile"
	"pargorojo/backend/internal/service"
	"pargorojo/backend/internal/store"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	logger        *slog.Logger
	allowedOrigin string
	loginLimiter  *attemptLimiter
	pinLimiter    *attemptLimiter

	registry     *prometheus.Registry
	requestTotal *prometheus.CounterVec
	closeTotal   *prometheus.CounterVec
}

func New(svc *service.Service, auth *AuthManager, logger *slog.Logger, allowedOrigin string) *API {
	if logger == nil {
		logger = slog.Default()
	}

	registry := prometheus.NewRegistry()
	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pargorojo_http_requests_total",
		Help: "HTTP requests served, labelled by method, route and status code.",
	}, []string{"method", "route", "status"})
	closeTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pargorojo_cashbox_closes_total",
		Help: "Completed cashbox closes, labelled by variance outcome.",
	}, []string{"outcome"})
	registry.MustRegister(requestTotal, closeTotal)

	return &API{
		service:       svc,
		auth:          auth,
		logger:        logger,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		pinLimiter:    newAttemptLimiter(8, time.Minute),
		registry:      registry,
		requestTotal:  requestTotal,
		closeTotal:    closeTotal,
	}
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("/api/v1/auth/cashiers", a.requireAuth(a.handleCashiers, "admin"))

	mux.HandleFunc("/api/v1/shifts/definitions", a.requireAuth(a.handleShiftDefinitions, "cashier", "manager", "admin"))
	mux.HandleFunc("/api/v1/shifts/recommended", a.requireAuth(a.handleShiftRecommended, "cashier", "manager", "admin"))
	mux.HandleFunc("/api/v1/shifts/open", a.requireAuth(a.handleShiftOpen, "cashier", "manager", "admin"))
	mux.HandleFunc("/api/v1/shifts/active", a.requireAuth(a.handleShiftActive, "cashier", "manager", "admin"))

	mux.HandleFunc("/api/v1/cashbox/preview", a.requireAuth(a.handleCashboxPreview, "cashier", "manager", "admin"))
	mux.HandleFunc("/api/v1/cashbox/close", a.requireAuth(a.handleCashboxClose, "cashier", "manager", "admin"))
	mux.HandleFunc("/api/v1/cashbox/movements", a.requireAuth(a.handleMovements, "cashier", "manager", "admin"))

	mux.HandleFunc("/api/v1/orders", a.requireAuth(a.handleOrders, "cashier", "manager", "admin"))
	mux.HandleFunc("/api/v1/vouchers", a.requireAuth(a.handleVouchers, "cashier", "manager", "admin"))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			a.writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			a.writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			a.writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		a.writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(req)
	if err != nil {
		a.writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCashiers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cashiers := a.auth.ListCashiers()
		writeJSON(w, http.StatusOK, map[string]any{"cashiers": cashiers})
	case http.MethodPost:
		var req domain.CashierCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}

		cashier, err := a.auth.CreateCashier(req)
		if err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}

		writeJSON(w, http.StatusCreated, map[string]any{"cashier": cashier})
	default:
		a.writeMethodNotAllowed(w)
	}
}

func (a *API) handleShiftDefinitions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}

	definitions, err := a.service.ListShiftDefinitions(r.Context())
	if err != nil {
		a.writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"definitions": definitions})
}

func (a *API) handleShiftRecommended(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}

	resp, err := a.service.RecommendedShift(r.Context())
	if err != nil {
		a.writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleShiftOpen(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}

	var req domain.ShiftOpenRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.OpenShift(r.Context(), req)
	if err != nil {
		a.writeError(w, statusForError(err), err)
		return
	}
	// A concurrent duplicate resolves to the already-open shift rather
	// than an error, so the client can continue on that session.
	status := http.StatusCreated
	if resp.AlreadyOpen {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (a *API) handleShiftActive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}

	resp, err := a.service.ActiveShift(r.Context())
	if err != nil {
		a.writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCashboxPreview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}

	var req domain.PreviewRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	preview, err := a.service.Preview(r.Context(), req.SessionID, req.Tally)
	if err != nil {
		a.writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func (a *API) handleCashboxClose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}

	var req domain.CashboxCloseRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.CloseCashbox(r.Context(), req.SessionID, req)
	if err != nil {
		a.writeError(w, statusForError(err), err)
		return
	}
	a.closeTotal.WithLabelValues(reconcile.Classify(resp.VariancePesos)).Inc()
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleMovements(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
		if sessionID == "" {
			a.writeError(w, http.StatusBadRequest, errors.New("session_id required"))
			return
		}
		limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)

		resp, err := a.service.ListMovements(r.Context(), sessionID, limit)
		if err != nil {
			a.writeError(w, statusForError(err), err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	case http.MethodPost:
		var req domain.MovementCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}

		movement, err := a.service.RecordMovement(r.Context(), req.SessionID, req)
		if err != nil {
			a.writeError(w, statusForError(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"movement": movement})
	default:
		a.writeMethodNotAllowed(w)
	}
}

func (a *API) handleOrders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}

	var req domain.OrderCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	order, err := a.service.CreateOrder(r.Context(), req)
	if err != nil {
		a.writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"order": order})
}

func (a *API) handleVouchers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}

	var req domain.VoucherCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	if !a.pinLimiter.Allow("pin:voucher:" + clientKey(r)) {
		a.writeError(w, http.StatusTooManyRequests, errors.New("too many manager pin attempts"))
		return
	}
	if !a.auth.ValidateManagerPIN(req.ManagerPIN) {
		a.writeError(w, http.StatusForbidden, errors.New("invalid manager pin"))
		return
	}

	voucher, err := a.service.IssueVoucher(r.Context(), req)
	if err != nil {
		a.writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"voucher": voucher})
}

// statusForError maps store sentinel errors onto HTTP status codes.
// Anything unrecognized is treated as a domain rejection, not a server fault.
func statusForError(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrShiftOpen):
		return http.StatusConflict
	case errors.Is(err, store.ErrSessionClosed):
		return http.StatusConflict
	default:
		return http.StatusUnprocessableEntity
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		startedAt := time.Now()
		next.ServeHTTP(rec, r)

		a.requestTotal.WithLabelValues(r.Method, routeLabel(r.URL.Path), strconv.Itoa(rec.status)).Inc()
		a.logger.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("duration", time.Since(startedAt)),
		)
	})
}

// routeLabel keeps metric cardinality bounded: only known route prefixes
// become label values, everything else is collapsed.
func routeLabel(path string) string {
	switch {
	case path == "/healthz", path == "/metrics":
		return path
	case strings.HasPrefix(path, "/api/v1/auth/"):
		return path
	case strings.HasPrefix(path, "/api/v1/shifts/"):
		return path
	case strings.HasPrefix(path, "/api/v1/cashbox/"):
		return path
	case path == "/api/v1/orders", path == "/api/v1/vouchers":
		return path
	default:
		return "other"
	}
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func (a *API) writeMethodNotAllowed(w http.ResponseWriter) {
	a.writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func (a *API) writeError(w http.ResponseWriter, status int, err error) {
	// 5xx messages stay generic so SQL errors and file paths never reach
	// the client. 4xx messages are user-facing and pass through.
	msg := err.Error()
	if status >= 500 {
		a.logger.Error("internal error", slog.Int("status", status), slog.Any("error", err))
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
