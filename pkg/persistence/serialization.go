package persistence

import (
	"encoding/json"
	"fmt"
)

// MarshalDistributionSnapshot serializes a DistributionSnapshot to JSON bytes.
func MarshalDistributionSnapshot(s *DistributionSnapshot) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("cannot marshal nil DistributionSnapshot")
	}

	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal DistributionSnapshot to JSON: %w", err)
	}

	return data, nil
}

// UnmarshalDistributionSnapshot deserializes a DistributionSnapshot from JSON bytes.
func UnmarshalDistributionSnapshot(data []byte) (*DistributionSnapshot, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}

	var s DistributionSnapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON to DistributionSnapshot: %w", err)
	}

	return &s, nil
}
