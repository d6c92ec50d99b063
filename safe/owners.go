// Package safe holds the value types and contract ABIs shared by the owner
// reconciler and the recovery queue reconstructor.
package safe

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// SentinelAddress marks the head and tail of the owner and module linked lists
// maintained by Safe contracts.
var SentinelAddress = common.HexToAddress("0x0000000000000000000000000000000000000001")

var (
	// ErrNoOwners is returned when an owner list is empty.
	ErrNoOwners = errors.New("safe: owner list empty")
	// ErrThresholdRange is returned when a threshold is zero or exceeds the owner count.
	ErrThresholdRange = errors.New("safe: threshold out of range")
	// ErrDuplicateOwner is returned when an owner appears more than once.
	ErrDuplicateOwner = errors.New("safe: duplicate owner")
	// ErrReservedOwner is returned when an owner is the sentinel or the zero address.
	ErrReservedOwner = errors.New("safe: reserved owner address")
)

// OwnerSet is the ordered owner list of a wallet together with its signing
// threshold. Order mirrors the on-chain linked list starting after the sentinel.
type OwnerSet struct {
	Owners    []common.Address `json:"owners"`
	Threshold uint64           `json:"threshold"`
}

// Clone returns a deep copy of the set.
func (s OwnerSet) Clone() OwnerSet {
	owners := make([]common.Address, len(s.Owners))
	copy(owners, s.Owners)
	return OwnerSet{Owners: owners, Threshold: s.Threshold}
}

// Validate checks the owner list and threshold against the contract invariants.
func (s OwnerSet) Validate() error {
	if err := ValidateOwners(s.Owners); err != nil {
		return err
	}
	return ValidateThreshold(s.Threshold, len(s.Owners))
}

// Equal reports whether both sets hold the same owners in the same order and
// share the threshold.
func (s OwnerSet) Equal(other OwnerSet) bool {
	if s.Threshold != other.Threshold || len(s.Owners) != len(other.Owners) {
		return false
	}
	for i := range s.Owners {
		if s.Owners[i] != other.Owners[i] {
			return false
		}
	}
	return true
}

// ValidateOwners rejects empty lists, duplicates and reserved addresses.
func ValidateOwners(owners []common.Address) error {
	if len(owners) == 0 {
		return ErrNoOwners
	}
	seen := make(map[common.Address]struct{}, len(owners))
	for i, owner := range owners {
		if IsReserved(owner) {
			return fmt.Errorf("%w: %s at position %d", ErrReservedOwner, owner.Hex(), i)
		}
		if _, ok := seen[owner]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateOwner, owner.Hex())
		}
		seen[owner] = struct{}{}
	}
	return nil
}

// ValidateThreshold checks 1 <= threshold <= owners.
func ValidateThreshold(threshold uint64, owners int) error {
	if threshold == 0 || threshold > uint64(owners) {
		return fmt.Errorf("%w: %d of %d owners", ErrThresholdRange, threshold, owners)
	}
	return nil
}

// IsReserved reports whether addr can never be an owner.
func IsReserved(addr common.Address) bool {
	return addr == SentinelAddress || addr == (common.Address{})
}
