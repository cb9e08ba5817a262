package tenant

import (
	"errors"
	"fmt"
	"slices"
)

var (
	ErrDelayNotAllowed = errors.New("delay not allowed")
	ErrPremiumOnly     = errors.New("premium feature")
)

// DelayPolicy lists the pacing delays users may pick.
type DelayPolicy struct {
	Standard []int
	Premium  []int
}

// DefaultDelayPolicy mirrors the menu offered to users: 5/10/30 seconds for
// everyone, 2 seconds for premium tenants.
func DefaultDelayPolicy() DelayPolicy {
	return DelayPolicy{Standard: []int{5, 10, 30}, Premium: []int{2}}
}

// Options returns the sorted delays available to a tenant.
func (p DelayPolicy) Options(premium bool) []int {
	out := append([]int(nil), p.Standard...)
	if premium {
		out = append(out, p.Premium...)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Check validates seconds for a tenant.
func (p DelayPolicy) Check(premium bool, seconds int) error {
	if slices.Contains(p.Standard, seconds) {
		return nil
	}
	if slices.Contains(p.Premium, seconds) {
		if premium {
			return nil
		}
		return fmt.Errorf("%w: %ds delay", ErrPremiumOnly, seconds)
	}
	return fmt.Errorf("%w: %ds (choose one of %v)", ErrDelayNotAllowed, seconds, p.Options(premium))
}
