package persistence

// DistributionSnapshot is the durable image of a distribution.
// Addresses are hex strings and amounts are decimal strings for JSON.
type DistributionSnapshot struct {
	// Root is the committed merkle root, empty until the distribution opens
	Root string `json:"root,omitempty"`

	// StartTime is the unix timestamp the distribution was opened at
	StartTime int64 `json:"startTime"`

	// ClaimWindowSeconds is the window length the distribution was opened with
	ClaimWindowSeconds int64 `json:"claimWindowSeconds"`

	// TotalDeposited is the value committed when the distribution opened
	TotalDeposited string `json:"totalDeposited"`

	// Balance is the value still held in custody
	Balance string `json:"balance"`

	Paused    bool   `json:"paused"`
	Authority string `json:"authority"`
	Owner     string `json:"owner"`
}

// IsOpen reports whether the snapshot was taken after the root was committed
func (s *DistributionSnapshot) IsOpen() bool {
	return s != nil && s.Root != ""
}

// Copy returns a copy of the snapshot
func (s *DistributionSnapshot) Copy() *DistributionSnapshot {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}
