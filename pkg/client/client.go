package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/bundle"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/transportSigner"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
)

// RetryConfig configures retry behavior for idempotent reads
type RetryConfig struct {
	MaxAttempts     int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	BackoffMultiple float64
}

// DefaultRetryConfig provides default retry settings
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:     5,
	InitialBackoff:  100 * time.Millisecond,
	MaxBackoff:      5 * time.Second,
	BackoffMultiple: 2.0,
}

// APIError is a non-2xx response from the distributor node
type APIError struct {
	Status  int
	Code    string
	Kind    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("distributor returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("distributor returned %d %s: %s", e.Status, e.Code, e.Message)
}

// IsCode reports whether err is an *APIError with the given code
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// ClientConfig holds the configuration for the distributor client
type ClientConfig struct {
	BaseURL string
	// Signer authenticates mutating requests. Read-only calls work without one.
	Signer     transportSigner.ITransportSigner
	HTTPClient *http.Client
	Retry      *RetryConfig
	Logger     *zap.Logger
	// Clock stamps IssuedAt on signed requests, time.Now when nil
	Clock func() time.Time
}

// DistributorClient talks to a distributor node over HTTP
type DistributorClient struct {
	baseURL    string
	signer     transportSigner.ITransportSigner
	httpClient *http.Client
	retry      RetryConfig
	logger     *zap.Logger
	now        func() time.Time
}

// NewDistributorClient creates a new client
func NewDistributorClient(cfg *ClientConfig) (*DistributorClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", cfg.BaseURL, err)
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	retry := DefaultRetryConfig
	if cfg.Retry != nil {
		retry = *cfg.Retry
	}
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	return &DistributorClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		signer:     cfg.Signer,
		httpClient: httpClient,
		retry:      retry,
		logger:     cfg.Logger,
		now:        now,
	}, nil
}

// SignRequest wraps body in a SignedRequest for action and signs it.
// The returned bytes are the JSON SignedMessage a node expects.
func SignRequest(signer transportSigner.ITransportSigner, action string, body any, issuedAt time.Time) ([]byte, error) {
	if signer == nil {
		return nil, fmt.Errorf("a signer is required for %s", action)
	}

	req := &types.SignedRequest{
		Action:   action,
		Nonce:    uuid.New().String(),
		IssuedAt: issuedAt.Unix(),
	}
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		req.Body = raw
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal signed request: %w", err)
	}
	msg, err := signer.CreateAuthenticatedMessage(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to sign request: %w", err)
	}
	return json.Marshal(msg)
}

// Address returns the signer's address, the identity the node will see
func (c *DistributorClient) Address() common.Address {
	if c.signer == nil {
		return common.Address{}
	}
	return c.signer.Address()
}

// OpenDistribution deposits value and starts the claim window
func (c *DistributorClient) OpenDistribution(ctx context.Context, root common.Hash, value *uint256.Int) (*types.OperationResponse, error) {
	return c.mutate(ctx, "/distribution/open", types.ActionOpenDistribution, &types.OpenDistributionRequest{
		Root:  root,
		Value: value.Dec(),
	})
}

// Claim claims amount for the signer's address
func (c *DistributorClient) Claim(ctx context.Context, amount *uint256.Int, proof []common.Hash) (*types.OperationResponse, error) {
	return c.mutate(ctx, "/claim", types.ActionClaim, &types.ClaimRequest{
		Amount: amount.Dec(),
		Proof:  proof,
	})
}

// ClaimFromBundle looks the signer up in b and claims its allocation
func (c *DistributorClient) ClaimFromBundle(ctx context.Context, b *types.ProofBundle) (*types.OperationResponse, error) {
	amount, proof, err := bundle.Lookup(b, c.Address())
	if err != nil {
		return nil, err
	}
	return c.Claim(ctx, amount, proof)
}

// WithdrawRemaining recovers unclaimed value after the window expires
func (c *DistributorClient) WithdrawRemaining(ctx context.Context) (*types.OperationResponse, error) {
	return c.mutate(ctx, "/withdraw", types.ActionWithdrawRemaining, nil)
}

func (c *DistributorClient) Pause(ctx context.Context) (*types.OperationResponse, error) {
	return c.mutate(ctx, "/pause", types.ActionPause, nil)
}

func (c *DistributorClient) Unpause(ctx context.Context) (*types.OperationResponse, error) {
	return c.mutate(ctx, "/unpause", types.ActionUnpause, nil)
}

func (c *DistributorClient) TransferOwnership(ctx context.Context, newOwner common.Address) (*types.OperationResponse, error) {
	return c.mutate(ctx, "/owner", types.ActionTransferOwnership, &types.TransferOwnershipRequest{NewOwner: newOwner})
}

func (c *DistributorClient) Status(ctx context.Context) (*types.DistributionStatus, error) {
	var out types.DistributionStatus
	if err := c.get(ctx, "/status", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *DistributorClient) Claimed(ctx context.Context, recipient common.Address) (bool, error) {
	var out types.ClaimedResponse
	if err := c.get(ctx, "/claimed?recipient="+url.QueryEscape(recipient.Hex()), &out); err != nil {
		return false, err
	}
	return out.Claimed, nil
}

// Events returns recorded events, filtered by eventType when it is non-empty
func (c *DistributorClient) Events(ctx context.Context, eventType types.EventType) ([]*types.Event, error) {
	path := "/events"
	if eventType != "" {
		path += "?type=" + url.QueryEscape(string(eventType))
	}
	var out []*types.Event
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *DistributorClient) Health(ctx context.Context) error {
	var out types.HealthResponse
	return c.get(ctx, "/health", &out)
}

// VerifyClaim asks the node whether (recipient, amount, proof) is under the current root
func (c *DistributorClient) VerifyClaim(ctx context.Context, recipient common.Address, amount *uint256.Int, proof []common.Hash) (bool, error) {
	data, err := json.Marshal(&types.VerifyClaimRequest{
		Recipient: recipient,
		Amount:    amount.Dec(),
		Proof:     proof,
	})
	if err != nil {
		return false, fmt.Errorf("failed to marshal request: %w", err)
	}
	var out types.VerifyClaimResponse
	if err := c.do(ctx, http.MethodPost, "/verify", data, &out); err != nil {
		return false, err
	}
	return out.Valid, nil
}

// mutate signs body for action and posts it once
func (c *DistributorClient) mutate(ctx context.Context, path, action string, body any) (*types.OperationResponse, error) {
	data, err := SignRequest(c.signer, action, body, c.now())
	if err != nil {
		return nil, err
	}

	var out types.OperationResponse
	if err := c.do(ctx, http.MethodPost, path, data, &out); err != nil {
		return nil, err
	}
	c.logger.Sugar().Debugw("Operation applied", "action", action, "caller", out.Caller.Hex())
	return &out, nil
}

// get retries transport failures, 429 and 5xx with exponential backoff
func (c *DistributorClient) get(ctx context.Context, path string, out any) error {
	backoff := c.retry.InitialBackoff
	var lastErr error
	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		lastErr = c.do(ctx, http.MethodGet, path, nil, out)
		if lastErr == nil || !retryable(lastErr) {
			return lastErr
		}

		if attempt < c.retry.MaxAttempts-1 {
			c.logger.Sugar().Debugw("Retrying request", "path", path, "attempt", attempt+1, "backoff", backoff, "error", lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff = time.Duration(float64(backoff) * c.retry.BackoffMultiple)
			if backoff > c.retry.MaxBackoff {
				backoff = c.retry.MaxBackoff
			}
		}
	}
	return fmt.Errorf("request %s failed after %d attempts: %w", path, c.retry.MaxAttempts, lastErr)
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusTooManyRequests || apiErr.Status >= http.StatusInternalServerError
	}
	return true
}

func (c *DistributorClient) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to contact distributor: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		var decoded types.ErrorResponse
		if json.Unmarshal(respBody, &decoded) == nil && decoded.Code != "" {
			apiErr.Code = decoded.Code
			apiErr.Kind = decoded.Kind
			apiErr.Message = decoded.Message
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
