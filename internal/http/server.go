// Package http serves the JSON API for dashboards, transactions, anomaly
// status, imports and the chat assistant.
package http

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"sage/internal/cache"
	"sage/internal/core"
	applog "sage/internal/log"
	"sage/internal/services"
)

// TransactionStore is the storage surface the API reads and mutates.
type TransactionStore interface {
	ListTransactionsByUser(ctx context.Context, userID string) ([]core.Transaction, error)
	DeleteAllTransactions(ctx context.Context, userID string) (int64, error)
	GetUser(ctx context.Context, userID string) (*core.User, error)
}

// Importer runs a CSV import for a user.
type Importer interface {
	Import(ctx context.Context, userID, email string, txs []core.Transaction) (*services.ImportResult, error)
}

// ChatAsker answers one chat message grounded in the user's data.
type ChatAsker interface {
	Ask(ctx context.Context, userID, message string) (*services.ChatReply, error)
}

// DeletePublisher announces bulk deletes so consumers watching the
// transaction list see the decrease. Nil means no broker is wired.
type DeletePublisher interface {
	PublishTransactionsDeleted(ctx context.Context, userID string, deleted int64) error
}

// Deps bundles the collaborators the server fronts.
type Deps struct {
	Store   TransactionStore
	Monitor *services.AnomalyMonitor
	Import  Importer
	Chat    ChatAsker
	Events  DeletePublisher

	// CSVPath is the default transaction export the import endpoint
	// reads when the request names no other file.
	CSVPath string
}

type Server struct {
	http.Server
	store    TransactionStore
	monitor  *services.AnomalyMonitor
	importer Importer
	chat     ChatAsker
	events   DeletePublisher
	csvPath  string

	rateLimiter *rateLimiter

	// Transaction lists are cached per user and invalidated on any write.
	txCache      *cache.LRUCache[[]core.Transaction]
	cacheManager *cache.Manager

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run
// http.Server.
func NewServer(addr string, deps Deps) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:    addr,
			Handler: mux,
		},
		store:        deps.Store,
		monitor:      deps.Monitor,
		importer:     deps.Import,
		chat:         deps.Chat,
		events:       deps.Events,
		csvPath:      deps.CSVPath,
		rateLimiter:  newRateLimiter(),
		txCache:      cache.NewLRUCache[[]core.Transaction](200, 5*time.Minute),
		cacheManager: cache.NewManager(),
	}

	s.cacheManager.Register(s.txCache)
	s.cacheManager.StartCleanup(10 * time.Minute)

	mux.HandleFunc("/healthz", handleHealth)
	mux.HandleFunc("/readyz", handleReady)
	mux.HandleFunc("/api/dashboard", s.withSecurityHeaders(s.handleDashboard))
	mux.HandleFunc("/api/transactions", s.withSecurityHeaders(s.handleTransactions))
	mux.HandleFunc("/api/period", s.withSecurityHeaders(s.handlePeriod))
	mux.HandleFunc("/api/anomalies/latest", s.withSecurityHeaders(s.handleLatestAnomalies))
	mux.HandleFunc("/api/import", s.withSecurityHeaders(s.handleImport))
	mux.HandleFunc("/api/chat", s.withSecurityHeaders(s.handleChat))

	return s
}

// Shutdown stops the HTTP server and the background cleanup routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.cacheManager.Stop()
		s.rateLimiter.stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})

	return shutdownErr
}

// withSecurityHeaders adds security headers, rate limiting, and request
// logging to responses.
func (s *Server) withSecurityHeaders(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ip := clientIP(r)

		requestID := generateRequestID()
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		slog.InfoContext(ctx, "Request started",
			applog.FieldRequestID, requestID,
			applog.FieldMethod, r.Method,
			applog.FieldPath, r.URL.Path,
			applog.FieldClientIP, ip,
			applog.FieldUserAgent, r.Header.Get("User-Agent"))

		// Mutating requests are rate limited per client.
		if r.Method != http.MethodGet && !s.rateLimiter.allow(ip) {
			slog.WarnContext(ctx, "Rate limit exceeded",
				applog.FieldClientIP, ip,
				applog.FieldMethod, r.Method,
				applog.FieldPath, r.URL.Path)
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded, please try again later")
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		slog.InfoContext(ctx, "Request completed",
			applog.FieldRequestID, requestID,
			applog.FieldMethod, r.Method,
			applog.FieldPath, r.URL.Path,
			applog.FieldStatusCode, rw.statusCode,
			applog.FieldDuration, time.Since(start).Milliseconds(),
			applog.FieldClientIP, ip)
	}
}

type requestIDKey struct{}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func generateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(bytes)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// transactions returns the user's transaction list, served from the LRU
// cache when fresh.
func (s *Server) transactions(ctx context.Context, userID string) ([]core.Transaction, error) {
	if txs, found := s.txCache.Get(userID); found {
		slog.DebugContext(ctx, "Transaction cache hit", "user_id", userID, "count", len(txs))
		result := make([]core.Transaction, len(txs))
		copy(result, txs)
		return result, nil
	}

	txs, err := s.store.ListTransactionsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}

	s.txCache.Set(userID, txs)
	return txs, nil
}

// invalidateUser drops every cached view of the user's data.
func (s *Server) invalidateUser(userID string) {
	s.txCache.DeletePrefix(userID)
}

// user loads the user record, falling back to a bare record for unknown
// users so read paths keep working before the first import.
func (s *Server) user(ctx context.Context, userID string) core.User {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil || user == nil {
		return core.User{UserID: userID}
	}
	return *user
}
