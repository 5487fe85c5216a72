package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/distributor"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/events"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/logger"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/transportSigner"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// DefaultMaxRequestAge bounds how far a signed request's IssuedAt may drift
// from the node clock in either direction
const DefaultMaxRequestAge = 5 * time.Minute

var (
	ErrStaleRequest    = errors.New("signed request is outside the accepted time skew")
	ErrReplayedNonce   = errors.New("request nonce has already been used")
	ErrMissingNonce    = errors.New("request nonce is required")
	ErrActionMismatch  = errors.New("signed action does not match endpoint")
	ErrMalformedSigned = errors.New("signed payload is not a valid request")
)

// Config contains node configuration
type Config struct {
	Port          int
	MaxRequestAge time.Duration
	RateLimit     float64
	RateBurst     int
	Clock         distributor.Clock
	// HealthCheck is reported by GET /health; nil means always healthy
	HealthCheck func() error
	Logger      *zap.Logger
}

// Node exposes a single distributor over HTTP. Mutating requests are
// authenticated by recovering the signer of a SignedMessage and are applied
// one at a time.
type Node struct {
	Port int

	distributor *distributor.Distributor
	recorder    *events.Recorder
	nonces      *nonceCache
	clock       distributor.Clock
	maxAge      time.Duration
	healthCheck func() error

	// sequencer serializes mutating operations
	sequencer sync.Mutex

	server *Server
	logger *zap.Logger
}

// NewNode creates a node serving d. recorder backs GET /events and may be nil.
func NewNode(cfg Config, d *distributor.Distributor, recorder *events.Recorder) *Node {
	if cfg.Logger == nil {
		l, err := logger.NewLogger(&logger.LoggerConfig{Debug: false})
		if err != nil {
			l = zap.NewNop()
		}
		cfg.Logger = l
	}
	if cfg.MaxRequestAge <= 0 {
		cfg.MaxRequestAge = DefaultMaxRequestAge
	}
	if cfg.Clock == nil {
		cfg.Clock = distributor.SystemClock()
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 1
	}

	n := &Node{
		Port:        cfg.Port,
		distributor: d,
		recorder:    recorder,
		nonces:      newNonceCache(),
		clock:       cfg.Clock,
		maxAge:      cfg.MaxRequestAge,
		healthCheck: cfg.HealthCheck,
		logger:      cfg.Logger,
	}
	n.server = NewServer(n, cfg.Port, cfg.RateLimit, cfg.RateBurst)
	return n
}

// Start starts the HTTP server
func (n *Node) Start() error {
	n.logger.Sugar().Infow("Starting distributor node",
		"port", n.Port,
		"authority", n.distributor.Authority().Hex(),
		"owner", n.distributor.Owner().Hex(),
	)
	return n.server.Start()
}

// Stop stops the HTTP server
func (n *Node) Stop(ctx context.Context) error {
	return n.server.Stop(ctx)
}

// GetServer returns the node's server
func (n *Node) GetServer() *Server {
	return n.server
}

// authenticate verifies msg and returns the recovered caller and the signed body.
// The nonce is consumed only when every other check passes.
func (n *Node) authenticate(msg *transportSigner.SignedMessage, action string) (common.Address, json.RawMessage, error) {
	caller, err := transportSigner.RecoverSigner(msg)
	if err != nil {
		return common.Address{}, nil, err
	}

	var req types.SignedRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return common.Address{}, nil, fmt.Errorf("%w: %w", ErrMalformedSigned, err)
	}
	if req.Action != action {
		return common.Address{}, nil, fmt.Errorf("%w: got %q, want %q", ErrActionMismatch, req.Action, action)
	}
	if req.Nonce == "" {
		return common.Address{}, nil, ErrMissingNonce
	}

	now := n.clock.Now()
	issued := time.Unix(req.IssuedAt, 0)
	if issued.Before(now.Add(-n.maxAge)) || issued.After(now.Add(n.maxAge)) {
		return common.Address{}, nil, ErrStaleRequest
	}

	if !n.nonces.use(caller, req.Nonce, issued.Add(n.maxAge), now) {
		return common.Address{}, nil, ErrReplayedNonce
	}
	return caller, req.Body, nil
}

// sequence runs fn while holding the node's single writer slot
func (n *Node) sequence(fn func() error) error {
	n.sequencer.Lock()
	defer n.sequencer.Unlock()
	return fn()
}

// nonceCache remembers consumed nonces per caller until the request they
// arrived on could no longer pass the skew check
type nonceCache struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

func newNonceCache() *nonceCache {
	return &nonceCache{entries: make(map[string]time.Time)}
}

func (c *nonceCache) use(caller common.Address, nonce string, expiresAt, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, exp := range c.entries {
		if exp.Before(now) {
			delete(c.entries, k)
		}
	}

	key := caller.Hex() + "/" + nonce
	if _, seen := c.entries[key]; seen {
		return false
	}
	c.entries[key] = expiresAt
	return true
}

func (c *nonceCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
