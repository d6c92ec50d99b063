package routes

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"saferecovery/safe"
	"saferecovery/safe/delay"
	"saferecovery/safe/reconcile"
)

type queueItemResult struct {
	Nonce           uint64         `json:"nonce"`
	To              common.Address `json:"to"`
	Value           string         `json:"value"`
	Data            hexutil.Bytes  `json:"data"`
	Operation       safe.Operation `json:"operation"`
	TxHash          common.Hash    `json:"txHash"`
	TransactionHash common.Hash    `json:"transactionHash"`
	Timestamp       int64          `json:"timestamp"`
	ValidFrom       int64          `json:"validFrom"`
	ExpiresAt       *int64         `json:"expiresAt"`
	Executor        common.Address `json:"executor"`
	IsMalicious     bool           `json:"isMalicious"`
	Reason          delay.Reason   `json:"reason"`
}

type queueResult struct {
	Wallet         common.Address    `json:"wallet"`
	Module         common.Address    `json:"module"`
	Recoverers     []common.Address  `json:"recoverers"`
	TxCooldown     uint64            `json:"txCooldown"`
	TxExpiration   uint64            `json:"txExpiration"`
	TxNonce        uint64            `json:"txNonce"`
	QueueNonce     uint64            `json:"queueNonce"`
	Queue          []queueItemResult `json:"queue"`
	MaliciousCount int               `json:"maliciousCount"`
}

func newQueueResult(q *delay.Queue) *queueResult {
	if q == nil {
		return nil
	}
	recoverers := q.Recoverers
	if recoverers == nil {
		recoverers = []common.Address{}
	}
	out := &queueResult{
		Wallet:         q.Wallet,
		Module:         q.Module,
		Recoverers:     recoverers,
		TxCooldown:     q.TxCooldown,
		TxExpiration:   q.TxExpiration,
		TxNonce:        q.TxNonce,
		QueueNonce:     q.QueueNonce,
		Queue:          make([]queueItemResult, 0, len(q.Items)),
		MaliciousCount: q.MaliciousCount(),
	}
	for _, item := range q.Items {
		value := "0"
		if item.Value != nil {
			value = item.Value.String()
		}
		out.Queue = append(out.Queue, queueItemResult{
			Nonce:           item.Nonce,
			To:              item.To,
			Value:           value,
			Data:            item.Data,
			Operation:       item.Operation,
			TxHash:          item.TxHash,
			TransactionHash: item.TransactionHash,
			Timestamp:       item.Timestamp,
			ValidFrom:       item.ValidFrom,
			ExpiresAt:       item.ExpiresAt,
			Executor:        item.Executor,
			IsMalicious:     item.IsMalicious,
			Reason:          item.Reason,
		})
	}
	return out
}

// WalletSnapshot is the latest monitor observation of one wallet.
type WalletSnapshot struct {
	Wallet    common.Address
	Module    common.Address
	ChainID   uint64
	Version   string
	SweepID   string
	CheckedAt time.Time
	Queue     *delay.Queue
	Err       error
}

type walletResult struct {
	Wallet    common.Address `json:"wallet"`
	Module    common.Address `json:"module"`
	ChainID   uint64         `json:"chainId"`
	Version   string         `json:"version"`
	SweepID   string         `json:"sweepId,omitempty"`
	CheckedAt *time.Time     `json:"checkedAt,omitempty"`
	Pending   int            `json:"pending"`
	Malicious int            `json:"malicious"`
	Error     string         `json:"error,omitempty"`
	Queue     *queueResult   `json:"state,omitempty"`
}

func newWalletResult(s WalletSnapshot) walletResult {
	out := walletResult{
		Wallet:  s.Wallet,
		Module:  s.Module,
		ChainID: s.ChainID,
		Version: s.Version,
		SweepID: s.SweepID,
		Queue:   newQueueResult(s.Queue),
	}
	if !s.CheckedAt.IsZero() {
		checked := s.CheckedAt.UTC()
		out.CheckedAt = &checked
	}
	if s.Queue != nil {
		out.Pending = len(s.Queue.Items)
		out.Malicious = s.Queue.MaliciousCount()
	}
	if s.Err != nil {
		out.Error = s.Err.Error()
	}
	return out
}

type planRequest struct {
	Owners          []common.Address `json:"owners"`
	Threshold       uint64           `json:"threshold"`
	TargetOwners    []common.Address `json:"target_owners"`
	TargetThreshold uint64           `json:"target_threshold"`
	ChainID         uint64           `json:"chain_id"`
	Version         string           `json:"version"`
}

type ownerSetResult struct {
	Owners    []common.Address `json:"owners"`
	Threshold uint64           `json:"threshold"`
}

type callResult struct {
	To        common.Address `json:"to"`
	Value     string         `json:"value"`
	Data      hexutil.Bytes  `json:"data"`
	Operation safe.Operation `json:"operation"`
}

type planResult struct {
	Wallet          common.Address  `json:"wallet"`
	Ops             reconcile.Plan  `json:"ops"`
	Calls           []callResult    `json:"calls"`
	Result          *ownerSetResult `json:"result,omitempty"`
	SimulationError string          `json:"simulationError,omitempty"`
	Batch           *callResult     `json:"batch,omitempty"`
}
