package safe

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Operation selects how a Safe or module executes a call.
type Operation uint8

const (
	// Call performs a regular message call.
	Call Operation = 0
	// DelegateCall runs the target code in the caller's context.
	DelegateCall Operation = 1
)

// String implements fmt.Stringer.
func (o Operation) String() string {
	switch o {
	case Call:
		return "call"
	case DelegateCall:
		return "delegatecall"
	default:
		return fmt.Sprintf("operation(%d)", uint8(o))
	}
}

// Valid reports whether the operation is one the contracts accept.
func (o Operation) Valid() bool {
	return o == Call || o == DelegateCall
}

// Transaction describes a single call executed by a wallet or one of its modules.
type Transaction struct {
	To        common.Address `json:"to"`
	Value     *big.Int       `json:"value"`
	Data      hexutil.Bytes  `json:"data"`
	Operation Operation      `json:"operation"`
}

// ValueOrZero returns the call value, treating nil as zero.
func (t Transaction) ValueOrZero() *big.Int {
	if t.Value == nil {
		return new(big.Int)
	}
	return t.Value
}
