package model

import (
	"fmt"
	"strings"
)

// Tier is an account's entitlement level. Tiers are totally ordered by their
// integer value: FREE < VIP < SSVIP < INFINITY.
type Tier int

const (
	TierFree Tier = iota
	TierVIP
	TierSSVIP
	TierInfinity
)

var tierNames = [...]string{"FREE", "VIP", "SSVIP", "INFINITY"}

// Tiers lists every tier in ascending order.
func Tiers() []Tier {
	return []Tier{TierFree, TierVIP, TierSSVIP, TierInfinity}
}

// ParseTier parses a tier name, case-insensitively.
func ParseTier(s string) (Tier, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for i, n := range tierNames {
		if n == name {
			return Tier(i), nil
		}
	}
	return TierFree, fmt.Errorf("unknown tier %q", s)
}

// Valid reports whether t is one of the defined tiers.
func (t Tier) Valid() bool {
	return t >= TierFree && t <= TierInfinity
}

func (t Tier) String() string {
	if !t.Valid() {
		return fmt.Sprintf("Tier(%d)", int(t))
	}
	return tierNames[t]
}

// AtLeast reports whether t ranks at or above required.
func (t Tier) AtLeast(required Tier) bool {
	return t >= required
}

// MarshalText encodes the tier by name so stored and wire values stay readable.
func (t Tier) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid tier %d", int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText decodes a tier name.
func (t *Tier) UnmarshalText(text []byte) error {
	parsed, err := ParseTier(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
