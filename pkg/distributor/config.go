package distributor

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// DefaultClaimWindow is used when Config.ClaimWindow is zero
const DefaultClaimWindow = 90 * 24 * time.Hour

type Config struct {
	// Authority opens the distribution and recovers what is left after expiry
	Authority common.Address
	// Owner pauses and unpauses claiming. Required and distinct from Authority.
	Owner common.Address
	// ClaimWindow is the length of the claim window, whole seconds
	ClaimWindow time.Duration
	// Clock defaults to the system clock
	Clock Clock
}

func (c *Config) withDefaults() (*Config, error) {
	if c == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	out := *c
	if out.Authority == (common.Address{}) {
		return nil, fmt.Errorf("authority cannot be the zero address")
	}
	if out.Owner == (common.Address{}) {
		return nil, fmt.Errorf("owner cannot be the zero address")
	}
	if out.Owner == out.Authority {
		return nil, fmt.Errorf("owner must be distinct from the authority %s", out.Authority.Hex())
	}
	if out.ClaimWindow == 0 {
		out.ClaimWindow = DefaultClaimWindow
	}
	if out.ClaimWindow < time.Second {
		return nil, fmt.Errorf("claim window must be at least one second, got %s", out.ClaimWindow)
	}
	out.ClaimWindow = out.ClaimWindow.Truncate(time.Second)
	if out.Clock == nil {
		out.Clock = SystemClock()
	}
	return &out, nil
}
