// Package allocations reads the (recipient, amount) table a distribution is
// built from.
package allocations

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
)

const (
	DefaultRecipientColumn = "recipient"
	DefaultAmountColumn    = "amount"
	DefaultDecimals        = 18

	// uint256 holds at most 78 decimal digits
	maxDecimals = 77
)

var ErrNoAllocations = errors.New("no non-zero allocations found")

type Options struct {
	// RecipientColumn is the header of the address column
	RecipientColumn string
	// AmountColumn is the header of the amount column
	AmountColumn string
	// Decimals converts whole-unit amounts to base units, 0 for amounts
	// already in base units
	Decimals int
}

func DefaultOptions() *Options {
	return &Options{
		RecipientColumn: DefaultRecipientColumn,
		AmountColumn:    DefaultAmountColumn,
		Decimals:        DefaultDecimals,
	}
}

func (o *Options) withDefaults() (*Options, error) {
	out := DefaultOptions()
	if o == nil {
		return out, nil
	}
	if o.RecipientColumn != "" {
		out.RecipientColumn = o.RecipientColumn
	}
	if o.AmountColumn != "" {
		out.AmountColumn = o.AmountColumn
	}
	if o.Decimals < 0 || o.Decimals > maxDecimals {
		return nil, fmt.Errorf("decimals must be between 0 and %d, got %d", maxDecimals, o.Decimals)
	}
	out.Decimals = o.Decimals
	return out, nil
}

// ParseFile reads allocations from a CSV file
func ParseFile(path string, opts *Options) ([]*types.Allocation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open allocations file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return Parse(f, opts)
}

// Parse reads allocations from CSV with a header row. Zero and negative
// amounts are dropped, repeated recipients are summed, and the result keeps the order in
// which recipients first appear.
func Parse(r io.Reader, opts *Options) ([]*types.Allocation, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("missing header row")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	recipientIdx, amountIdx := -1, -1
	for i, col := range header {
		name := strings.ToLower(strings.TrimSpace(col))
		switch name {
		case strings.ToLower(opts.RecipientColumn):
			recipientIdx = i
		case strings.ToLower(opts.AmountColumn):
			amountIdx = i
		}
	}
	if recipientIdx < 0 {
		return nil, fmt.Errorf("header has no %q column", opts.RecipientColumn)
	}
	if amountIdx < 0 {
		return nil, fmt.Errorf("header has no %q column", opts.AmountColumn)
	}

	var order []common.Address
	totals := make(map[common.Address]*uint256.Int)

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read allocations: %w", err)
		}
		line, _ := reader.FieldPos(0)

		rawRecipient := strings.TrimSpace(record[recipientIdx])
		if !common.IsHexAddress(rawRecipient) {
			return nil, fmt.Errorf("line %d: invalid recipient address %q", line, rawRecipient)
		}
		recipient := common.HexToAddress(rawRecipient)

		rawAmount := strings.TrimSpace(record[amountIdx])
		magnitude, negative := strings.CutPrefix(rawAmount, "-")
		amount, err := ParseAmount(magnitude, opts.Decimals)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if negative || amount.IsZero() {
			continue
		}

		existing, ok := totals[recipient]
		if !ok {
			order = append(order, recipient)
			totals[recipient] = amount
			continue
		}
		sum, overflow := new(uint256.Int).AddOverflow(existing, amount)
		if overflow {
			return nil, fmt.Errorf("line %d: total for %s overflows uint256", line, recipient.Hex())
		}
		totals[recipient] = sum
	}

	if len(order) == 0 {
		return nil, ErrNoAllocations
	}

	out := make([]*types.Allocation, 0, len(order))
	for _, recipient := range order {
		out = append(out, &types.Allocation{Recipient: recipient, Amount: totals[recipient]})
	}
	return out, nil
}

// ParseAmount converts a non-negative decimal string such as "1.5" to base
// units with the given number of decimals
func ParseAmount(raw string, decimals int) (*uint256.Int, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, fmt.Errorf("amount is empty")
	}

	whole, frac, hasPoint := strings.Cut(s, ".")
	if whole == "" && frac == "" {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	if !isDigits(whole) || !isDigits(frac) {
		return nil, fmt.Errorf("invalid amount %q: must be a non-negative decimal number", raw)
	}
	if hasPoint && frac == "" {
		return nil, fmt.Errorf("invalid amount %q: missing digits after decimal point", raw)
	}
	if len(frac) > decimals {
		return nil, fmt.Errorf("invalid amount %q: more than %d fractional digits", raw, decimals)
	}

	digits := whole + frac + strings.Repeat("0", decimals-len(frac))
	digits = strings.TrimLeft(digits, "0")
	if digits == "" {
		return new(uint256.Int), nil
	}

	v, err := uint256.FromDecimal(digits)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	return v, nil
}

// FormatAmount renders base units as a decimal string with the given number
// of decimals, trimming trailing zeros
func FormatAmount(v *uint256.Int, decimals int) string {
	if v == nil {
		return "0"
	}
	s := v.Dec()
	if decimals <= 0 {
		return s
	}
	if len(s) <= decimals {
		s = strings.Repeat("0", decimals-len(s)+1) + s
	}
	whole, frac := s[:len(s)-decimals], strings.TrimRight(s[len(s)-decimals:], "0")
	if frac == "" {
		return whole
	}
	return whole + "." + frac
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
