package access

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Role names one of the two privileged identities
type Role string

const (
	// RoleAuthority opens the distribution and recovers unclaimed funds
	RoleAuthority Role = "authority"
	// RoleOwner pauses and unpauses claiming
	RoleOwner Role = "owner"
)

// ErrUnauthorized matches every *UnauthorizedError via errors.Is
var ErrUnauthorized = errors.New("unauthorized")

// UnauthorizedError reports which role an operation required
type UnauthorizedError struct {
	Required Role
	Caller   common.Address
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("unauthorized: %s is not the %s", e.Caller.Hex(), e.Required)
}

func (e *UnauthorizedError) Is(target error) bool {
	return target == ErrUnauthorized
}

// RequiredRole extracts the role from an access error, if any
func RequiredRole(err error) (Role, bool) {
	var ue *UnauthorizedError
	if errors.As(err, &ue) {
		return ue.Required, true
	}
	return "", false
}

// Guard holds the two independent identities. The authority is fixed at
// construction; the owner can be replaced by the current owner.
type Guard struct {
	mu        sync.RWMutex
	authority common.Address
	owner     common.Address
}

func NewGuard(authority, owner common.Address) *Guard {
	return &Guard{
		authority: authority,
		owner:     owner,
	}
}

func (g *Guard) Authority() common.Address {
	return g.authority
}

func (g *Guard) Owner() common.Address {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.owner
}

// RequireAuthority fails unless caller is the distributing authority
func (g *Guard) RequireAuthority(caller common.Address) error {
	if caller != g.authority {
		return &UnauthorizedError{Required: RoleAuthority, Caller: caller}
	}
	return nil
}

// RequireOwner fails unless caller is the current operational owner
func (g *Guard) RequireOwner(caller common.Address) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if caller != g.owner {
		return &UnauthorizedError{Required: RoleOwner, Caller: caller}
	}
	return nil
}

// SetOwner replaces the owner and returns the previous one. Callers check
// RequireOwner first.
func (g *Guard) SetOwner(newOwner common.Address) common.Address {
	g.mu.Lock()
	defer g.mu.Unlock()
	previous := g.owner
	g.owner = newOwner
	return previous
}
