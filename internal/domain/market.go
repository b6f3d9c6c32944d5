package domain

import (
	"fmt"
	"strings"
)

// MarketID identifies a Morpho Blue market. It is the bytes32 hash of the
// market parameters, written as 0x followed by 64 hex characters, and is used
// verbatim as a lookup key by the simulation and position services.
type MarketID string

// marketIDLen is the length of "0x" plus 32 hex-encoded bytes.
const marketIDLen = 66

// Validate reports whether the id has the expected fixed format.
func (id MarketID) Validate() error {
	s := string(id)
	if len(s) != marketIDLen || !strings.HasPrefix(s, "0x") {
		return fmt.Errorf("%w: %q", ErrInvalidMarketID, s)
	}
	for _, c := range s[2:] {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return fmt.Errorf("%w: %q", ErrInvalidMarketID, s)
		}
	}
	return nil
}

// String returns the id as given.
func (id MarketID) String() string {
	return string(id)
}
