// Package delay rebuilds the pending recovery queue of a Zodiac Delay module
// guarding a Safe and flags proposals that reach beyond the wallet itself.
package delay

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"saferecovery/safe"
)

// ModuleState is a point-in-time snapshot of a Delay module.
type ModuleState struct {
	Recoverers   []common.Address `json:"recoverers"`
	TxCooldown   uint64           `json:"txCooldown"`
	TxExpiration uint64           `json:"txExpiration"`
	TxNonce      uint64           `json:"txNonce"`
	QueueNonce   uint64           `json:"queueNonce"`
}

// Pending returns the number of queued but unexecuted proposals.
func (s ModuleState) Pending() uint64 {
	if s.QueueNonce < s.TxNonce {
		return 0
	}
	return s.QueueNonce - s.TxNonce
}

// TransactionAdded is a decoded TransactionAdded log.
type TransactionAdded struct {
	Nonce           uint64
	TxHash          common.Hash
	To              common.Address
	Value           *big.Int
	Data            []byte
	Operation       safe.Operation
	TransactionHash common.Hash
	BlockNumber     uint64
	LogIndex        uint
	Removed         bool
}

// Receipt is the subset of a transaction receipt the reconstructor needs.
type Receipt struct {
	TransactionHash common.Hash    `json:"transactionHash"`
	From            common.Address `json:"from"`
	BlockHash       common.Hash    `json:"blockHash"`
	BlockNumber     hexutil.Uint64 `json:"blockNumber"`
	Status          hexutil.Uint64 `json:"status"`
}

// QueueItem is one pending recovery proposal.
type QueueItem struct {
	Nonce           uint64         `json:"nonce"`
	To              common.Address `json:"to"`
	Value           *big.Int       `json:"value"`
	Data            hexutil.Bytes  `json:"data"`
	Operation       safe.Operation `json:"operation"`
	TxHash          common.Hash    `json:"txHash"`
	TransactionHash common.Hash    `json:"transactionHash"`
	Timestamp       int64          `json:"timestamp"`
	ValidFrom       int64          `json:"validFrom"`
	ExpiresAt       *int64         `json:"expiresAt"`
	Executor        common.Address `json:"executor"`
	IsMalicious     bool           `json:"isMalicious"`
	Reason          Reason         `json:"reason"`
}

// Queue is a module snapshot together with its rebuilt pending queue, ordered
// by ascending nonce.
type Queue struct {
	ModuleState
	Module common.Address `json:"module"`
	Wallet common.Address `json:"wallet"`
	Items  []QueueItem    `json:"queue"`
}

// MaliciousCount returns how many items are flagged malicious.
func (q *Queue) MaliciousCount() int {
	if q == nil {
		return 0
	}
	count := 0
	for _, item := range q.Items {
		if item.IsMalicious {
			count++
		}
	}
	return count
}

// Request identifies the wallet and module to reconstruct.
type Request struct {
	Module        common.Address
	Wallet        common.Address
	ChainID       uint64
	WalletVersion string
	IndexerURL    string
}

// ChainReader is the chain surface the reconstructor consumes.
type ChainReader interface {
	Recoverers(ctx context.Context, module common.Address) ([]common.Address, error)
	TxCooldown(ctx context.Context, module common.Address) (uint64, error)
	TxExpiration(ctx context.Context, module common.Address) (uint64, error)
	TxNonce(ctx context.Context, module common.Address) (uint64, error)
	QueueNonce(ctx context.Context, module common.Address) (uint64, error)
	TxCreatedAt(ctx context.Context, module common.Address, nonce uint64) (uint64, error)
	// FilterTransactionAdded returns TransactionAdded logs emitted by module
	// from fromBlock to the chain head whose nonce lies in [fromNonce, toNonce).
	FilterTransactionAdded(ctx context.Context, module common.Address, fromBlock, fromNonce, toNonce uint64) ([]TransactionAdded, error)
	ReceiptReader
}

// ReceiptReader looks up transaction receipts.
type ReceiptReader interface {
	TransactionReceipt(ctx context.Context, hash common.Hash) (*Receipt, error)
}
