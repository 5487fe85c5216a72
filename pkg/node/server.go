package node

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

/*
Server handles HTTP requests for a single distribution round.

Signed Requests (mutating endpoints):
  - Body is a transportSigner.SignedMessage {payload, hash, signature}
  - payload is a types.SignedRequest {action, nonce, issuedAt, body}
  - hash = keccak256(payload), signature is secp256k1 over hash
  - The caller is the address recovered from the signature
  - Rejected with 401 when the hash or signature is invalid, the action does
    not match the endpoint, issuedAt is outside the skew window, or the nonce
    was already used by the same caller

Authority / Owner Flow:
  POST /distribution/open:
    - Signed body: { root, value }
    - Authority only, deposits value into custody and starts the claim window
  POST /withdraw:
    - Authority only, after the window expires
    - Sends the remaining custody balance to the authority
  POST /pause, POST /unpause:
    - Owner only
  POST /owner:
    - Signed body: { newOwner }
    - Owner only

Claimant Flow:
  POST /claim:
    - Signed body: { amount, proof }
    - Pays the recovered caller once if (caller, amount) is a leaf under root

Read-only:
  GET  /status               distribution status
  GET  /claimed?recipient=   whether recipient has claimed
  POST /verify               { recipient, amount, proof } -> { valid }
  GET  /events               events emitted since start
  GET  /health               persistence health

Errors are { code, kind, message }. The whole mux sits behind a token bucket
limiter that answers 429 when exhausted.
*/
type Server struct {
	node       *Node
	httpServer *http.Server
	limiter    *rate.Limiter
}

// NewServer creates a new HTTP server. A non-positive rateLimit disables limiting.
func NewServer(node *Node, port int, rateLimit float64, rateBurst int) *Server {
	s := &Server{node: node}
	if rateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(rateLimit), rateBurst)
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/distribution/open", s.handleOpenDistribution)
	mux.HandleFunc("/claim", s.handleClaim)
	mux.HandleFunc("/withdraw", s.handleWithdrawRemaining)
	mux.HandleFunc("/pause", s.handlePause)
	mux.HandleFunc("/unpause", s.handleUnpause)
	mux.HandleFunc("/owner", s.handleTransferOwnership)

	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/claimed", s.handleClaimed)
	mux.HandleFunc("/verify", s.handleVerifyClaim)
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.rateLimit(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Start starts the HTTP server in the background
func (s *Server) Start() error {
	go func() {
		s.node.logger.Sugar().Infow("HTTP server starting", "port", s.node.Port)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.node.logger.Sugar().Errorw("HTTP server error", "port", s.node.Port, "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// GetHandler returns the HTTP handler for testing
func (s *Server) GetHandler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			s.node.logger.Sugar().Warnw("Rate limit exceeded", "path", r.URL.Path, "remote", r.RemoteAddr)
			writeJSON(w, http.StatusTooManyRequests, errorBody(codeRateLimited, kindRequest, "rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
