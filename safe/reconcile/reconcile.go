package reconcile

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"saferecovery/safe"
)

// ErrInvalidTarget is returned when the requested owners or threshold can
// never be reached. No ops are produced in that case.
var ErrInvalidTarget = errors.New("reconcile: invalid target")

// ErrInvalidCurrent is returned when the current owner set is malformed.
var ErrInvalidCurrent = errors.New("reconcile: invalid current owner set")

// Reconcile returns the ordered owner management calls that turn current into
// targetOwners with targetThreshold. Every prefix of the result leaves the
// threshold within the live owner count. An empty result means the wallet is
// already configured as requested.
func Reconcile(current safe.OwnerSet, targetOwners []common.Address, targetThreshold uint64) ([]Op, error) {
	if err := safe.ValidateOwners(targetOwners); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTarget, err)
	}
	if err := safe.ValidateThreshold(targetThreshold, len(targetOwners)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTarget, err)
	}
	if err := current.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCurrent, err)
	}

	var ops []Op
	cursor := safe.SentinelAddress
	shared := min(len(current.Owners), len(targetOwners))

	for i := 0; i < shared; i++ {
		old, next := current.Owners[i], targetOwners[i]
		if old == next {
			cursor = old
			continue
		}
		ops = append(ops, SwapOwner{Prev: cursor, Old: old, New: next})
		cursor = next
	}

	live := uint64(len(current.Owners))
	for _, owner := range targetOwners[shared:] {
		live++
		ops = append(ops, AddOwnerWithThreshold{Owner: owner, Threshold: min(targetThreshold, live)})
	}

	// Removed nodes vacate their slot, so cursor stays the predecessor of
	// every owner removed below.
	for _, owner := range current.Owners[shared:] {
		live--
		ops = append(ops, RemoveOwner{Prev: cursor, Owner: owner, Threshold: min(targetThreshold, live)})
	}

	if len(targetOwners) == len(current.Owners) && targetThreshold != current.Threshold {
		ops = append(ops, ChangeThreshold{Threshold: targetThreshold})
	}
	return ops, nil
}
