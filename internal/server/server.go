package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ssd-technologies/keyledger/internal/auth"
	"github.com/ssd-technologies/keyledger/internal/registry"
)

// HeaderPayment carries the amount tendered with a mutating call.
const HeaderPayment = "X-Payment"

// Options tunes a Server. Zero values fall back to defaults.
type Options struct {
	MaxBody       int64
	RateLimit     int
	RateWindow    time.Duration
	StatsInterval time.Duration
	// TrustProxy keys the rate limiter on X-Forwarded-For instead of the
	// connection address.
	TrustProxy bool
	Logger     *logrus.Entry
}

// Server is the main HTTP server for the keyledger API.
type Server struct {
	reg      *registry.Registry
	verifier *auth.Verifier
	limiter  *rateLimiter
	metrics  *opMetrics
	log      *logrus.Entry
	opts     Options
	mux      *http.ServeMux
}

// New creates a new Server with all routes registered.
func New(reg *registry.Registry, opts Options) *Server {
	if opts.MaxBody <= 0 {
		opts.MaxBody = 32 << 20
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 60
	}
	if opts.RateWindow <= 0 {
		opts.RateWindow = time.Minute
	}
	if opts.StatsInterval <= 0 {
		opts.StatsInterval = 5 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logrus.StandardLogger())
	}

	s := &Server{
		reg:      reg,
		verifier: auth.NewVerifier(),
		limiter:  newRateLimiter(opts.RateLimit, opts.RateWindow),
		metrics:  newOpMetrics(),
		log:      opts.Logger.WithField("component", "server"),
		opts:     opts,
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// routes registers all HTTP routes on the server mux.
func (s *Server) routes() {
	// Health
	s.mux.HandleFunc("GET /api/health", s.handleHealth)

	// Fees
	s.mux.HandleFunc("GET /api/fees", s.handleGetFees)
	s.mux.HandleFunc("POST /api/fees/quote", s.handleQuote)

	// Files
	s.mux.HandleFunc("POST /api/files", s.limited(s.handleAddFile))
	s.mux.HandleFunc("GET /api/files/count", s.handleFileCount)
	s.mux.HandleFunc("GET /api/files/{index}", s.handleGetFile)
	s.mux.HandleFunc("GET /api/files/{index}/holders", s.handleHolders)
	s.mux.HandleFunc("POST /api/files/{index}/grants", s.limited(s.handleGrant))

	// Access keys
	s.mux.HandleFunc("GET /api/access/{identity}", s.handleAccessKeys)
	s.mux.HandleFunc("GET /api/access/{identity}/{index}", s.handleHasAccessKey)

	// Admin
	s.mux.HandleFunc("PUT /api/admin/owner", s.limited(s.handleSetOwner))
	s.mux.HandleFunc("PUT /api/admin/fees/{param}", s.limited(s.handleSetFee))
	s.mux.HandleFunc("POST /api/admin/withdraw", s.limited(s.handleWithdraw))
	s.mux.HandleFunc("GET /api/payouts/{identity}", s.handlePaidOut)

	// Events
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/events/ws", s.handleEventStream)

	s.mux.HandleFunc("GET /api/metrics", s.handleMetrics)
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "keyledger",
	})
}

// limited wraps a mutating handler with the per-IP rate limiter.
func (s *Server) limited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.allow(getIP(r, s.opts.TrustProxy)) {
			s.metrics.rateLimited.Inc(1)
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r)
	}
}

// authenticate reads the request body and verifies its signature. On failure
// it writes the HTTP error and returns false.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (registry.Identity, []byte, bool) {
	body, ok := s.readBody(w, r)
	if !ok {
		return "", nil, false
	}
	id, err := s.verifier.Verify(r, body)
	if err != nil {
		s.metrics.authFailures.Inc(1)
		writeError(w, http.StatusUnauthorized, "signature verification failed: "+err.Error())
		return "", nil, false
	}
	return registry.Identity(id), body, true
}

// readBody reads at most MaxBody bytes of the request body.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBody)
	buf, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return nil, false
	}
	return buf, true
}

// decodeBody unmarshals a signed body. An empty body leaves v untouched.
func decodeBody(w http.ResponseWriter, body []byte, v any) bool {
	if len(body) == 0 {
		return true
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// payment parses the X-Payment header. A missing header tenders zero.
func payment(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	v := r.Header.Get(HeaderPayment)
	if v == "" {
		return 0, true
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+HeaderPayment+" header")
		return 0, false
	}
	return n, true
}

// pathIndex parses the {index} path value.
func pathIndex(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	n, err := strconv.ParseUint(r.PathValue("index"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid file index")
		return 0, false
	}
	return n, true
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeRegistryError maps a registry error onto an HTTP status.
func (s *Server) writeRegistryError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, registry.ErrInvalidFee):
		status = http.StatusPaymentRequired
	case errors.Is(err, registry.ErrFeeOverflow), errors.Is(err, registry.ErrInvalidIdentity):
		status = http.StatusBadRequest
	case errors.Is(err, registry.ErrIndexOutOfRange):
		status = http.StatusNotFound
	case errors.Is(err, registry.ErrNotOwner), errors.Is(err, registry.ErrNoAccess):
		status = http.StatusForbidden
	case errors.Is(err, registry.ErrNothingToWithdraw):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		s.log.WithError(err).Error("registry operation failed")
		writeError(w, status, "internal error")
		return
	}
	s.metrics.rejected.Inc(1)
	writeError(w, status, err.Error())
}
