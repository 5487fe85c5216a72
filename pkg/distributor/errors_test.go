package distributor

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/access"
)

func TestKindAndCode(t *testing.T) {
	unauthorized := &access.UnauthorizedError{Required: access.RoleOwner, Caller: common.HexToAddress("0x01")}

	tests := []struct {
		name string
		err  error
		kind Kind
		code Code
	}{
		{"nil", nil, "", ""},
		{"foreign", errors.New("boom"), "", ""},
		{"access", unauthorized, KindAccess, CodeUnauthorized},
		{"wrapped access", fmt.Errorf("pause: %w", unauthorized), KindAccess, CodeUnauthorized},
		{"state", ErrExpired, KindState, CodeExpired},
		{"validation", ErrAlreadyClaimed, KindValidation, CodeAlreadyClaimed},
		{"wrapped", fmt.Errorf("ctx: %w", ErrInvalidProof), KindValidation, CodeInvalidProof},
		{"concurrency", ErrReentrantCall, KindConcurrency, CodeReentrantCall},
		{"transfer wins over its cause", transferFailed(ErrReentrantCall, nil), KindTransfer, CodeTransferFailed},
		{"transfer wins over access cause", transferFailed(unauthorized, nil), KindTransfer, CodeTransferFailed},
		{"not persisted", notPersisted(errors.New("io")), KindState, CodeStateNotPersisted},
		{"pending", fmt.Errorf("%w: %w", ErrTransferPending, errors.New("no receipt")), KindTransfer, CodeTransferPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, KindOf(tt.err))
			assert.Equal(t, tt.code, CodeOf(tt.err))
		})
	}
}

func TestTransferFailedWrapsEverything(t *testing.T) {
	cause := errors.New("reverted")
	storage := errors.New("disk")
	err := transferFailed(cause, storage)

	assert.ErrorIs(t, err, ErrTransferFailed)
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrStateNotPersisted)
	assert.ErrorIs(t, err, storage)
	assert.Contains(t, err.Error(), "rollback failed")
}
