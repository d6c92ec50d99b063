package reconcile

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"saferecovery/safe"
)

// Encode returns the calldata for op against the Safe owner manager.
func Encode(op Op) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	switch v := op.(type) {
	case SwapOwner:
		data, err = safe.OwnerManagerABI.Pack("swapOwner", v.Prev, v.Old, v.New)
	case AddOwnerWithThreshold:
		data, err = safe.OwnerManagerABI.Pack("addOwnerWithThreshold", v.Owner, new(big.Int).SetUint64(v.Threshold))
	case RemoveOwner:
		data, err = safe.OwnerManagerABI.Pack("removeOwner", v.Prev, v.Owner, new(big.Int).SetUint64(v.Threshold))
	case ChangeThreshold:
		data, err = safe.OwnerManagerABI.Pack("changeThreshold", new(big.Int).SetUint64(v.Threshold))
	default:
		return nil, fmt.Errorf("reconcile: unknown op %T", op)
	}
	if err != nil {
		return nil, fmt.Errorf("reconcile: encode %s: %w", op.Method(), err)
	}
	return data, nil
}

// Transactions converts ops into calls the wallet makes on itself.
func Transactions(wallet common.Address, ops []Op) ([]safe.Transaction, error) {
	txs := make([]safe.Transaction, 0, len(ops))
	for _, op := range ops {
		data, err := Encode(op)
		if err != nil {
			return nil, err
		}
		txs = append(txs, safe.Transaction{
			To:        wallet,
			Value:     new(big.Int),
			Data:      data,
			Operation: safe.Call,
		})
	}
	return txs, nil
}
