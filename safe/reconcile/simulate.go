package reconcile

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"saferecovery/safe"
)

// Contract revert codes reproduced by the simulator.
const (
	CodeThresholdAboveOwners = "GS201"
	CodeThresholdZero        = "GS202"
	CodeInvalidOwner         = "GS203"
	CodeDuplicateOwner       = "GS204"
	CodeInvalidPrevOwner     = "GS205"
)

// RevertError reports the op at Index that the owner manager would reject.
type RevertError struct {
	Index int
	Op    Op
	Code  string
}

func (e *RevertError) Error() string {
	return fmt.Sprintf("reconcile: op %d (%s) reverts with %s", e.Index, e.Op.Method(), e.Code)
}

// ownerList is a sentinel-headed singly linked list mirroring the contract's
// owners mapping.
type ownerList struct {
	next      map[common.Address]common.Address
	tail      common.Address
	count     uint64
	threshold uint64
}

func newOwnerList(set safe.OwnerSet) *ownerList {
	list := &ownerList{
		next:      make(map[common.Address]common.Address, len(set.Owners)+1),
		tail:      safe.SentinelAddress,
		threshold: set.Threshold,
	}
	list.next[safe.SentinelAddress] = safe.SentinelAddress
	for _, owner := range set.Owners {
		list.next[list.tail] = owner
		list.next[owner] = safe.SentinelAddress
		list.tail = owner
		list.count++
	}
	return list
}

func (l *ownerList) isOwner(addr common.Address) bool {
	if safe.IsReserved(addr) {
		return false
	}
	_, ok := l.next[addr]
	return ok
}

func (l *ownerList) setThreshold(threshold uint64) string {
	if threshold > l.count {
		return CodeThresholdAboveOwners
	}
	if threshold == 0 {
		return CodeThresholdZero
	}
	l.threshold = threshold
	return ""
}

func (l *ownerList) apply(op Op) string {
	switch v := op.(type) {
	case SwapOwner:
		if safe.IsReserved(v.New) {
			return CodeInvalidOwner
		}
		if l.isOwner(v.New) {
			return CodeDuplicateOwner
		}
		if safe.IsReserved(v.Old) {
			return CodeInvalidOwner
		}
		if l.next[v.Prev] != v.Old || !l.isOwner(v.Old) {
			return CodeInvalidPrevOwner
		}
		l.next[v.New] = l.next[v.Old]
		l.next[v.Prev] = v.New
		delete(l.next, v.Old)
		if l.tail == v.Old {
			l.tail = v.New
		}
		return ""
	case AddOwnerWithThreshold:
		if safe.IsReserved(v.Owner) {
			return CodeInvalidOwner
		}
		if l.isOwner(v.Owner) {
			return CodeDuplicateOwner
		}
		l.next[l.tail] = v.Owner
		l.next[v.Owner] = safe.SentinelAddress
		l.tail = v.Owner
		l.count++
		return l.setThreshold(v.Threshold)
	case RemoveOwner:
		if l.count == 0 || l.count-1 < v.Threshold {
			return CodeThresholdAboveOwners
		}
		if safe.IsReserved(v.Owner) {
			return CodeInvalidOwner
		}
		if l.next[v.Prev] != v.Owner || !l.isOwner(v.Owner) {
			return CodeInvalidPrevOwner
		}
		l.next[v.Prev] = l.next[v.Owner]
		delete(l.next, v.Owner)
		if l.tail == v.Owner {
			l.tail = v.Prev
		}
		l.count--
		return l.setThreshold(v.Threshold)
	case ChangeThreshold:
		return l.setThreshold(v.Threshold)
	default:
		return CodeInvalidOwner
	}
}

func (l *ownerList) snapshot() safe.OwnerSet {
	owners := make([]common.Address, 0, l.count)
	for cur := l.next[safe.SentinelAddress]; cur != safe.SentinelAddress; cur = l.next[cur] {
		owners = append(owners, cur)
	}
	return safe.OwnerSet{Owners: owners, Threshold: l.threshold}
}

// Simulate applies ops in order to a model of the contract's owner list and
// returns the resulting set. It fails with *RevertError on the first op the
// contract would reject. Added owners are appended after the last owner; the
// contract links them in at the head instead, which changes the order
// getOwners reports but none of the revert conditions.
func Simulate(current safe.OwnerSet, ops []Op) (safe.OwnerSet, error) {
	if err := current.Validate(); err != nil {
		return safe.OwnerSet{}, fmt.Errorf("%w: %w", ErrInvalidCurrent, err)
	}
	list := newOwnerList(current)
	for i, op := range ops {
		if code := list.apply(op); code != "" {
			return safe.OwnerSet{}, &RevertError{Index: i, Op: op, Code: code}
		}
	}
	return list.snapshot(), nil
}
