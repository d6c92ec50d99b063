// Package reconcile plans the owner management calls that move a Safe from
// its current owners and threshold to a target configuration.
package reconcile

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
)

// Op is one owner management call. The set of implementations is closed.
type Op interface {
	// Method returns the contract method the op maps to.
	Method() string
	isOp()
}

// SwapOwner replaces Old, whose list predecessor is Prev, with New.
type SwapOwner struct {
	Prev common.Address
	Old  common.Address
	New  common.Address
}

// AddOwnerWithThreshold appends Owner and sets the threshold in one call.
type AddOwnerWithThreshold struct {
	Owner     common.Address
	Threshold uint64
}

// RemoveOwner unlinks Owner, whose predecessor is Prev, and sets the threshold.
type RemoveOwner struct {
	Prev      common.Address
	Owner     common.Address
	Threshold uint64
}

// ChangeThreshold updates the threshold without touching the owner list.
type ChangeThreshold struct {
	Threshold uint64
}

func (SwapOwner) Method() string             { return "swapOwner" }
func (AddOwnerWithThreshold) Method() string { return "addOwnerWithThreshold" }
func (RemoveOwner) Method() string           { return "removeOwner" }
func (ChangeThreshold) Method() string       { return "changeThreshold" }

func (SwapOwner) isOp()             {}
func (AddOwnerWithThreshold) isOp() {}
func (RemoveOwner) isOp()           {}
func (ChangeThreshold) isOp()       {}

func (o SwapOwner) String() string {
	return fmt.Sprintf("swapOwner(prev=%s, old=%s, new=%s)", o.Prev.Hex(), o.Old.Hex(), o.New.Hex())
}

func (o AddOwnerWithThreshold) String() string {
	return fmt.Sprintf("addOwnerWithThreshold(owner=%s, threshold=%d)", o.Owner.Hex(), o.Threshold)
}

func (o RemoveOwner) String() string {
	return fmt.Sprintf("removeOwner(prev=%s, owner=%s, threshold=%d)", o.Prev.Hex(), o.Owner.Hex(), o.Threshold)
}

func (o ChangeThreshold) String() string {
	return fmt.Sprintf("changeThreshold(threshold=%d)", o.Threshold)
}

// opJSON is the wire shape shared by every op.
type opJSON struct {
	Method    string          `json:"method"`
	Prev      *common.Address `json:"prev,omitempty"`
	Old       *common.Address `json:"old,omitempty"`
	New       *common.Address `json:"new,omitempty"`
	Owner     *common.Address `json:"owner,omitempty"`
	Threshold string          `json:"threshold,omitempty"`
}

// MarshalOp renders an op as JSON tagged by its method name.
func MarshalOp(op Op) ([]byte, error) {
	out := opJSON{Method: op.Method()}
	switch v := op.(type) {
	case SwapOwner:
		out.Prev, out.Old, out.New = &v.Prev, &v.Old, &v.New
	case AddOwnerWithThreshold:
		out.Owner = &v.Owner
		out.Threshold = strconv.FormatUint(v.Threshold, 10)
	case RemoveOwner:
		out.Prev, out.Owner = &v.Prev, &v.Owner
		out.Threshold = strconv.FormatUint(v.Threshold, 10)
	case ChangeThreshold:
		out.Threshold = strconv.FormatUint(v.Threshold, 10)
	default:
		return nil, fmt.Errorf("reconcile: unknown op %T", op)
	}
	return json.Marshal(out)
}

// Plan is an ordered op list with JSON support.
type Plan []Op

// MarshalJSON implements json.Marshaler.
func (p Plan) MarshalJSON() ([]byte, error) {
	raw := make([]json.RawMessage, 0, len(p))
	for _, op := range p {
		encoded, err := MarshalOp(op)
		if err != nil {
			return nil, err
		}
		raw = append(raw, encoded)
	}
	return json.Marshal(raw)
}
