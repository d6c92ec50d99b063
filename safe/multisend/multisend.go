// Package multisend encodes and decodes batches for the MultiSend contracts
// and knows where their canonical deployments live.
package multisend

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"saferecovery/safe"
)

// headerSize is operation (1) + to (20) + value (32) + data length (32).
const headerSize = 1 + common.AddressLength + 32 + 32

var (
	// ErrNotMultiSend is returned when calldata does not call multiSend(bytes).
	ErrNotMultiSend = errors.New("multisend: not a multiSend call")
	// ErrMalformedBatch is returned when the packed payload cannot be parsed.
	ErrMalformedBatch = errors.New("multisend: malformed batch")
)

// Selector is the 4-byte method id of multiSend(bytes).
func Selector() []byte {
	return safe.MultiSendABI.Methods["multiSend"].ID
}

// IsMultiSend reports whether calldata targets multiSend(bytes).
func IsMultiSend(calldata []byte) bool {
	return len(calldata) >= 4 && bytes.Equal(calldata[:4], Selector())
}

// Pack concatenates txs in the packed layout multiSend expects.
func Pack(txs []safe.Transaction) ([]byte, error) {
	var buf bytes.Buffer
	for i, tx := range txs {
		if !tx.Operation.Valid() {
			return nil, fmt.Errorf("multisend: tx %d: invalid %s", i, tx.Operation)
		}
		value, overflow := uint256.FromBig(tx.ValueOrZero())
		if overflow || tx.ValueOrZero().Sign() < 0 {
			return nil, fmt.Errorf("multisend: tx %d: value out of range", i)
		}
		length := uint256.NewInt(uint64(len(tx.Data)))
		valueBytes := value.Bytes32()
		lengthBytes := length.Bytes32()

		buf.WriteByte(byte(tx.Operation))
		buf.Write(tx.To.Bytes())
		buf.Write(valueBytes[:])
		buf.Write(lengthBytes[:])
		buf.Write(tx.Data)
	}
	return buf.Bytes(), nil
}

// Encode returns multiSend(bytes) calldata executing txs in order.
func Encode(txs []safe.Transaction) ([]byte, error) {
	if len(txs) == 0 {
		return nil, fmt.Errorf("multisend: empty batch")
	}
	packed, err := Pack(txs)
	if err != nil {
		return nil, err
	}
	data, err := safe.MultiSendABI.Pack("multiSend", packed)
	if err != nil {
		return nil, fmt.Errorf("multisend: encode: %w", err)
	}
	return data, nil
}

// Decode unpacks multiSend(bytes) calldata into its inner transactions.
func Decode(calldata []byte) ([]safe.Transaction, error) {
	if !IsMultiSend(calldata) {
		return nil, ErrNotMultiSend
	}
	args, err := safe.MultiSendABI.Methods["multiSend"].Inputs.Unpack(calldata[4:])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedBatch, err)
	}
	packed, ok := args[0].([]byte)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected argument %T", ErrMalformedBatch, args[0])
	}
	return Unpack(packed)
}

// Unpack parses the packed transaction layout.
func Unpack(packed []byte) ([]safe.Transaction, error) {
	var txs []safe.Transaction
	for offset := 0; offset < len(packed); {
		if len(packed)-offset < headerSize {
			return nil, fmt.Errorf("%w: truncated header at byte %d", ErrMalformedBatch, offset)
		}
		header := packed[offset : offset+headerSize]
		operation := safe.Operation(header[0])
		if !operation.Valid() {
			return nil, fmt.Errorf("%w: invalid %s at byte %d", ErrMalformedBatch, operation, offset)
		}
		to := common.BytesToAddress(header[1:21])
		value := new(uint256.Int).SetBytes32(header[21:53])
		length := new(uint256.Int).SetBytes32(header[53:85])
		offset += headerSize

		remaining := uint64(len(packed) - offset)
		if !length.IsUint64() || length.Uint64() > remaining {
			return nil, fmt.Errorf("%w: data length %s exceeds payload", ErrMalformedBatch, length.Dec())
		}
		end := offset + int(length.Uint64())
		data := make([]byte, end-offset)
		copy(data, packed[offset:end])
		offset = end

		txs = append(txs, safe.Transaction{
			To:        to,
			Value:     value.ToBig(),
			Data:      data,
			Operation: operation,
		})
	}
	if len(txs) == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrMalformedBatch)
	}
	return txs, nil
}
