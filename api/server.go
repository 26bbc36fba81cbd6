package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/pokt-network/pocket-faucet/logging"
	"github.com/pokt-network/pocket-faucet/session"
	"github.com/pokt-network/pocket-faucet/status"
)

const (
	// PathPrefix is where the API is mounted.
	PathPrefix = "/api/"

	// GracefulShutdownTimeout bounds in-flight requests on shutdown.
	GracefulShutdownTimeout = 30 * time.Second

	defaultMaxBodyBytes = 64 << 10
	defaultIdleTimeout  = 120 * time.Second
)

// SessionManager is the session state machine behind the API.
type SessionManager interface {
	CreateSession(ctx context.Context, remoteAddr string, input *session.UserInput) (*session.Session, error)
	ClaimSession(ctx context.Context, s *session.Session, input *session.UserInput) error
	GetSession(id string, allowed ...session.Status) (*session.Session, bool)
	GetSessionRecord(ctx context.Context, id string) (*session.Record, error)
	Hooks() *session.Hooks
	Config() session.ManagerConfig
}

// ClaimProgress reports how far the claim lane got.
type ClaimProgress interface {
	LastProcessedIdx(ctx context.Context) (int64, error)
}

// StatusProvider renders the faucet status for a client.
type StatusProvider interface {
	Get(clientVersion string, hasSession bool) status.Snapshot
}

// WalletInfo exposes the faucet wallet address to clients.
type WalletInfo interface {
	Address() string
}

// ClientInfo is the display configuration passed through to clients.
type ClientInfo struct {
	Title          string
	Image          string
	HomeHTML       string
	CoinSymbol     string
	CoinType       string
	CoinContract   string
	CoinDecimals   int
	TxExplorerLink string
	ResultSharing  map[string]any
}

// ServerConfig contains configuration for the API server.
type ServerConfig struct {
	// ListenAddr is the address the API listens on.
	ListenAddr string

	// TrustProxy takes the client address from proxy headers.
	TrustProxy bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// MaxBodyBytes caps request bodies.
	// Default: 64KiB
	MaxBodyBytes int64

	Client ClientInfo
}

// Request is what an endpoint handler receives besides the raw request.
type Request struct {
	// Path is the API path split on "/", endpoint name first.
	Path  []string
	Query url.Values
	Body  []byte
}

// EndpointHandler serves one API endpoint. The result is written as JSON;
// an *HTTPError sets the status code.
type EndpointHandler func(r *http.Request, req *Request) (any, error)

// HTTPError is a non-200 API response.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%d %s", e.Status, e.Message)
}

// NewHTTPError creates an HTTPError.
func NewHTTPError(status int, message string) *HTTPError {
	return &HTTPError{Status: status, Message: message}
}

var (
	errNotFound         = NewHTTPError(http.StatusNotFound, "Not Found")
	errMethodNotAllowed = NewHTTPError(http.StatusMethodNotAllowed, "Method Not Allowed")
	errSessionNotFound  = NewHTTPError(http.StatusNotFound, "Session not found")
)

// Server dispatches /api/ requests to the session manager and claim queue.
type Server struct {
	logger   logging.Logger
	config   ServerConfig
	sessions SessionManager
	claims   ClaimProgress
	status   StatusProvider
	wallet   WalletInfo

	builtins  map[string]EndpointHandler
	endpoints *xsync.Map[string, EndpointHandler]

	server *http.Server

	// Lifecycle
	mu       sync.Mutex
	started  bool
	closed   bool
	cancelFn context.CancelFunc
	wg       sync.WaitGroup
}

// NewServer creates the API server.
func NewServer(
	logger logging.Logger,
	config ServerConfig,
	sessions SessionManager,
	claims ClaimProgress,
	statusProvider StatusProvider,
	wallet WalletInfo,
) *Server {
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = defaultMaxBodyBytes
	}

	s := &Server{
		logger:    logging.ForComponent(logger, logging.ComponentWebAPI),
		config:    config,
		sessions:  sessions,
		claims:    claims,
		status:    statusProvider,
		wallet:    wallet,
		endpoints: xsync.NewMap[string, EndpointHandler](),
	}
	s.builtins = map[string]EndpointHandler{
		"getmaxreward":     s.handleGetMaxReward,
		"getfaucetconfig":  s.handleGetFaucetConfig,
		"startsession":     s.handleStartSession,
		"claimreward":      s.handleClaimReward,
		"getclaimstatus":   s.handleGetClaimStatus,
		"getsessionstatus": s.handleGetSessionStatus,
	}
	return s
}

// RegisterEndpoint adds or replaces a named endpoint. Names are matched
// case-insensitively; built-in endpoints take precedence.
func (s *Server) RegisterEndpoint(name string, handler EndpointHandler) {
	s.endpoints.Store(strings.ToLower(name), handler)
}

// RemoveEndpoint removes a registered endpoint.
func (s *Server) RemoveEndpoint(name string) {
	s.endpoints.Delete(strings.ToLower(name))
}

// Handler returns the API handler with panic recovery and gzip for clients
// that accept it.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(PathPrefix, http.HandlerFunc(s.ServeHTTP))
	return gzhttp.GzipHandler(recoveryMiddleware(s.logger, mux))
}

// Start starts the HTTP listener. It shuts down when ctx is done.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("api server is closed")
	}
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("api server already started")
	}
	s.started = true
	ctx, s.cancelFn = context.WithCancel(ctx)

	s.server = &http.Server{
		Addr:         s.config.ListenAddr,
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  defaultIdleTimeout,
	}
	server := s.server
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info().Str(logging.FieldListenAddr, s.config.ListenAddr).Msg("starting faucet api server")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("api server error")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), GracefulShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error().Err(err).Msg("error during api server shutdown")
		}
	}()

	return nil
}

// Close stops the listener and waits for it to exit.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	server := s.server
	s.mu.Unlock()

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), GracefulShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn().Err(err).Msg("api server shutdown incomplete")
		}
	}
	if s.cancelFn != nil {
		s.cancelFn()
	}
	s.wg.Wait()

	s.logger.Info().Msg("faucet api server closed")
	return nil
}

// ServeHTTP dispatches by the lower-cased first path segment under /api/.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	path := strings.Trim(strings.TrimPrefix(r.URL.Path, strings.TrimSuffix(PathPrefix, "/")), "/")
	if path == "" {
		s.writeResult(w, "", start, nil, errNotFound)
		return
	}

	segments := strings.Split(path, "/")
	name := strings.ToLower(segments[0])

	handler, ok := s.builtins[name]
	if !ok {
		handler, ok = s.endpoints.Load(name)
	}
	if !ok {
		s.writeResult(w, "unknown", start, nil, errNotFound)
		return
	}

	req := &Request{Path: segments, Query: r.URL.Query()}
	if r.Body != nil && r.Method == http.MethodPost {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes))
		if err != nil {
			s.writeResult(w, name, start, nil, NewHTTPError(http.StatusRequestEntityTooLarge, "Request body too large"))
			return
		}
		req.Body = body
	}

	result, err := handler(r, req)
	s.writeResult(w, name, start, result, err)
}

func (s *Server) writeResult(w http.ResponseWriter, endpoint string, start time.Time, result any, err error) {
	code := http.StatusOK
	if err != nil {
		var httpErr *HTTPError
		if !errors.As(err, &httpErr) {
			s.logger.Error().Err(err).Str(logging.FieldEndpoint, endpoint).Msg("api request failed")
			httpErr = NewHTTPError(http.StatusInternalServerError, "Internal Server Error")
		}
		code = httpErr.Status
		writeJSON(w, code, map[string]string{"error": httpErr.Message})
	} else {
		writeJSON(w, code, result)
	}

	if endpoint != "" {
		apiRequests.WithLabelValues(endpoint, fmt.Sprintf("%d", code)).Inc()
		apiLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func requirePost(r *http.Request) error {
	if r.Method != http.MethodPost {
		return errMethodNotAllowed
	}
	return nil
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
