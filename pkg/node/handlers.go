package node

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/distributor"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/transportSigner"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const maxRequestBytes = 1 << 20

// Codes for failures the node rejects before the distributor sees them
const (
	codeUnauthenticated  = "Unauthenticated"
	codeBadRequest       = "BadRequest"
	codeMethodNotAllowed = "MethodNotAllowed"
	codeRateLimited      = "RateLimited"
	codeInternal         = "Internal"

	kindRequest = "request"
)

func errorBody(code, kind, message string) *types.ErrorResponse {
	return &types.ErrorResponse{Code: code, Kind: kind, Message: message}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// statusFor maps a distributor error onto an HTTP status
func statusFor(err error) int {
	switch distributor.CodeOf(err) {
	case distributor.CodeAlreadyClaimed:
		return http.StatusConflict
	case distributor.CodeStateNotPersisted:
		return http.StatusInternalServerError
	case distributor.CodeTransferPending:
		return http.StatusGatewayTimeout
	}
	switch distributor.KindOf(err) {
	case distributor.KindAccess:
		return http.StatusForbidden
	case distributor.KindState, distributor.KindConcurrency:
		return http.StatusConflict
	case distributor.KindValidation:
		return http.StatusBadRequest
	case distributor.KindTransfer:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, action string, caller common.Address, err error) {
	status := statusFor(err)
	code := string(distributor.CodeOf(err))
	kind := string(distributor.KindOf(err))
	if code == "" {
		code, kind = codeInternal, kindRequest
	}

	if status >= http.StatusInternalServerError {
		s.node.logger.Sugar().Errorw("Operation failed", "action", action, "caller", caller.Hex(), "code", code, "error", err)
	} else {
		s.node.logger.Sugar().Warnw("Operation rejected", "action", action, "caller", caller.Hex(), "code", code, "error", err)
	}
	writeJSON(w, status, errorBody(code, kind, err.Error()))
}

func (s *Server) badRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, errorBody(codeBadRequest, kindRequest, err.Error()))
}

func (s *Server) requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody(codeMethodNotAllowed, kindRequest, "method not allowed"))
		return false
	}
	return true
}

// readSigned decodes and authenticates a signed request for action. When
// body is non-nil the signed body is decoded into it.
func (s *Server) readSigned(w http.ResponseWriter, r *http.Request, action string, body any) (common.Address, bool) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return common.Address{}, false
	}

	var msg transportSigner.SignedMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&msg); err != nil {
		s.badRequest(w, fmt.Errorf("failed to parse signed message: %w", err))
		return common.Address{}, false
	}

	caller, raw, err := s.node.authenticate(&msg, action)
	if err != nil {
		s.node.logger.Sugar().Warnw("Rejected unauthenticated request", "action", action, "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusUnauthorized, errorBody(codeUnauthenticated, kindRequest, err.Error()))
		return common.Address{}, false
	}

	if body != nil {
		if len(raw) == 0 {
			s.badRequest(w, errors.New("request body is required"))
			return common.Address{}, false
		}
		if err := json.Unmarshal(raw, body); err != nil {
			s.badRequest(w, fmt.Errorf("failed to parse request body: %w", err))
			return common.Address{}, false
		}
	}
	return caller, true
}

func parseAmount(field, raw string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: %w", field, raw, err)
	}
	return v, nil
}

// operation is a mutating distributor call run under the node's sequencer
type operation func() (*types.Event, *types.TransferReceipt, error)

func (s *Server) execute(w http.ResponseWriter, action string, caller common.Address, op operation) {
	var resp *types.OperationResponse
	err := s.node.sequence(func() error {
		event, receipt, err := op()
		if err != nil {
			return err
		}
		resp = &types.OperationResponse{Caller: caller, Event: event, Receipt: receipt}
		return nil
	})
	if err != nil {
		s.writeError(w, action, caller, err)
		return
	}

	s.node.logger.Sugar().Infow("Operation applied", "action", action, "caller", caller.Hex(), "event", string(resp.Event.Type))
	writeJSON(w, http.StatusOK, resp)
}

// handleOpenDistribution handles POST /distribution/open
func (s *Server) handleOpenDistribution(w http.ResponseWriter, r *http.Request) {
	var req types.OpenDistributionRequest
	caller, ok := s.readSigned(w, r, types.ActionOpenDistribution, &req)
	if !ok {
		return
	}
	value, err := parseAmount("value", req.Value)
	if err != nil {
		s.badRequest(w, err)
		return
	}

	s.execute(w, types.ActionOpenDistribution, caller, func() (*types.Event, *types.TransferReceipt, error) {
		event, err := s.node.distributor.OpenDistribution(r.Context(), caller, req.Root, value)
		return event, nil, err
	})
}

// handleClaim handles POST /claim
func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req types.ClaimRequest
	caller, ok := s.readSigned(w, r, types.ActionClaim, &req)
	if !ok {
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.badRequest(w, err)
		return
	}

	s.execute(w, types.ActionClaim, caller, func() (*types.Event, *types.TransferReceipt, error) {
		return s.node.distributor.Claim(r.Context(), caller, amount, req.Proof)
	})
}

// handleWithdrawRemaining handles POST /withdraw
func (s *Server) handleWithdrawRemaining(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.readSigned(w, r, types.ActionWithdrawRemaining, nil)
	if !ok {
		return
	}

	s.execute(w, types.ActionWithdrawRemaining, caller, func() (*types.Event, *types.TransferReceipt, error) {
		return s.node.distributor.WithdrawRemaining(r.Context(), caller)
	})
}

// handlePause handles POST /pause
func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.readSigned(w, r, types.ActionPause, nil)
	if !ok {
		return
	}

	s.execute(w, types.ActionPause, caller, func() (*types.Event, *types.TransferReceipt, error) {
		event, err := s.node.distributor.Pause(r.Context(), caller)
		return event, nil, err
	})
}

// handleUnpause handles POST /unpause
func (s *Server) handleUnpause(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.readSigned(w, r, types.ActionUnpause, nil)
	if !ok {
		return
	}

	s.execute(w, types.ActionUnpause, caller, func() (*types.Event, *types.TransferReceipt, error) {
		event, err := s.node.distributor.Unpause(r.Context(), caller)
		return event, nil, err
	})
}

// handleTransferOwnership handles POST /owner
func (s *Server) handleTransferOwnership(w http.ResponseWriter, r *http.Request) {
	var req types.TransferOwnershipRequest
	caller, ok := s.readSigned(w, r, types.ActionTransferOwnership, &req)
	if !ok {
		return
	}

	s.execute(w, types.ActionTransferOwnership, caller, func() (*types.Event, *types.TransferReceipt, error) {
		event, err := s.node.distributor.TransferOwnership(r.Context(), caller, req.NewOwner)
		return event, nil, err
	})
}

// handleStatus handles GET /status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, s.node.distributor.Status())
}

// handleClaimed handles GET /claimed?recipient=
func (s *Server) handleClaimed(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	raw := r.URL.Query().Get("recipient")
	if !common.IsHexAddress(raw) {
		s.badRequest(w, fmt.Errorf("invalid recipient %q", raw))
		return
	}
	recipient := common.HexToAddress(raw)

	writeJSON(w, http.StatusOK, &types.ClaimedResponse{
		Recipient: recipient,
		Claimed:   s.node.distributor.Claimed(recipient),
	})
}

// handleVerifyClaim handles POST /verify. It is unsigned and read-only.
func (s *Server) handleVerifyClaim(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}

	var req types.VerifyClaimRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		s.badRequest(w, fmt.Errorf("failed to parse request: %w", err))
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.badRequest(w, err)
		return
	}

	writeJSON(w, http.StatusOK, &types.VerifyClaimResponse{
		Valid: s.node.distributor.VerifyClaim(req.Recipient, amount, req.Proof),
	})
}

// handleEvents handles GET /events, optionally filtered by ?type=
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}

	out := []*types.Event{}
	if s.node.recorder != nil {
		if t := r.URL.Query().Get("type"); t != "" {
			out = append(out, s.node.recorder.Filter(types.EventType(t))...)
		} else {
			out = append(out, s.node.recorder.Events()...)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	if s.node.healthCheck != nil {
		if err := s.node.healthCheck(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, &types.HealthResponse{Status: "unhealthy", Error: err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, &types.HealthResponse{Status: "ok"})
}
