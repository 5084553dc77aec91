// Package activity normalizes and bounds-checks activity submissions.
package activity

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"

	"github.com/silvanus-labs/greenchain/internal/apperr"
)

// Bounds on submissions.
const (
	MinValue        = 0.0
	MaxValue        = 10000.0
	MaxDetailsChars = 1000
)

// Submission is the raw request body of an activity submission.
type Submission struct {
	WalletAddress string          `json:"wallet_address"`
	ActivityType  string          `json:"activity_type"`
	Value         any             `json:"value"`
	Details       json.RawMessage `json:"details,omitempty"`
}

// Activity is a validated submission. It is immutable by convention.
type Activity struct {
	WalletAddress string
	Type          Type
	Value         float64
	Details       map[string]any
}

// Validate normalizes a submission, failing with a validation error on the
// first rule it violates.
func Validate(s Submission) (Activity, error) {
	addr, err := ChecksumAddress(s.WalletAddress)
	if err != nil {
		return Activity{}, err
	}

	typ, ok := ParseType(s.ActivityType)
	if !ok {
		return Activity{}, apperr.NewValidation("Invalid activity type. Must be one of: " + typeList())
	}

	v, err := parseValue(s.Value)
	if err != nil {
		return Activity{}, err
	}
	if err := CheckBounds(v); err != nil {
		return Activity{}, err
	}

	details, err := parseDetails(s.Details)
	if err != nil {
		return Activity{}, err
	}

	return Activity{
		WalletAddress: addr,
		Type:          typ,
		Value:         math.Round(v*100) / 100,
		Details:       details,
	}, nil
}

// CheckBounds rejects values outside [MinValue, MaxValue].
func CheckBounds(v float64) error {
	if math.IsNaN(v) || v < MinValue {
		return apperr.NewValidation("Activity value must be non-negative")
	}
	if v > MaxValue {
		return apperr.NewValidation("Activity value cannot exceed 10000 kWh")
	}
	return nil
}

// ChecksumAddress returns the EIP-55 form of a 40 hex character address,
// with or without 0x prefix, in any case.
func ChecksumAddress(s string) (string, error) {
	if s == "" {
		return "", apperr.NewValidation("Wallet address is required")
	}
	h := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	if len(h) != 40 {
		return "", apperr.NewValidation("Invalid Ethereum wallet address format")
	}
	if _, err := hex.DecodeString(h); err != nil {
		return "", apperr.NewValidation("Invalid Ethereum wallet address format")
	}
	return common.HexToAddress("0x" + h).Hex(), nil
}

func parseValue(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, apperr.NewValidation("Activity value must be a number")
		}
		return f, nil
	case int:
		return float64(v), nil
	case nil:
		return 0, apperr.NewValidation("Activity value is required")
	default:
		return 0, apperr.NewValidation("Activity value must be a number")
	}
}

func parseDetails(raw json.RawMessage) (map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return map[string]any{}, nil
	}

	var details map[string]any
	if err := json.Unmarshal(trimmed, &details); err != nil {
		return nil, apperr.NewValidation("Details must be a key-value object")
	}

	compact, err := json.Marshal(details)
	if err != nil {
		return nil, apperr.NewValidation("Details must be serializable")
	}
	if n := utf8.RuneCount(compact); n > MaxDetailsChars {
		return nil, apperr.NewValidation(fmt.Sprintf("Details payload too large: %d characters (max %d)", n, MaxDetailsChars))
	}
	return details, nil
}
