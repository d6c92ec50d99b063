package delay

import (
	"github.com/ethereum/go-ethereum/common"

	"saferecovery/safe"
	"saferecovery/safe/multisend"
)

// Reason names the branch that produced a verdict.
type Reason string

const (
	ReasonDirectToWallet    Reason = "direct-call-to-wallet"
	ReasonDirectToForeign   Reason = "direct-call-to-foreign-address"
	ReasonBatchToWallet     Reason = "batch-confined-to-wallet"
	ReasonUnknownDeployment Reason = "unknown-deployment"
	ReasonUntrustedBatcher  Reason = "untrusted-batch-contract"
	ReasonBatchToForeign    Reason = "batch-call-to-foreign-address"
	ReasonMalformedBatch    Reason = "malformed-batch"
)

// Verdict is the outcome of classifying one proposal.
type Verdict struct {
	Malicious bool
	Reason    Reason
}

// Classifier decides whether a recovery proposal only ever acts on the wallet.
type Classifier struct {
	registry *multisend.Registry
}

// NewClassifier returns a classifier trusting the batch deployments in registry.
func NewClassifier(registry *multisend.Registry) *Classifier {
	return &Classifier{registry: registry}
}

// Classify inspects tx as proposed to the Delay module guarding wallet.
func (c *Classifier) Classify(tx safe.Transaction, wallet common.Address, chainID uint64, walletVersion string) Verdict {
	if !multisend.IsMultiSend(tx.Data) {
		if tx.To == wallet {
			return Verdict{Reason: ReasonDirectToWallet}
		}
		return Verdict{Malicious: true, Reason: ReasonDirectToForeign}
	}

	var (
		batcher common.Address
		known   bool
	)
	if c != nil {
		batcher, known = c.registry.Lookup(chainID, walletVersion)
	}
	if !known {
		// Without a trusted reference the batch cannot be vetted.
		return Verdict{Malicious: true, Reason: ReasonUnknownDeployment}
	}
	if tx.To != batcher {
		return Verdict{Malicious: true, Reason: ReasonUntrustedBatcher}
	}
	inner, err := multisend.Decode(tx.Data)
	if err != nil {
		return Verdict{Malicious: true, Reason: ReasonMalformedBatch}
	}
	for _, call := range inner {
		if call.To != wallet {
			return Verdict{Malicious: true, Reason: ReasonBatchToForeign}
		}
	}
	return Verdict{Reason: ReasonBatchToWallet}
}
