package delay

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"saferecovery/safe"
	"saferecovery/safe/multisend"
)

func mustEncodeBatch(t *testing.T, txs ...safe.Transaction) []byte {
	t.Helper()
	data, err := multisend.Encode(txs)
	if err != nil {
		t.Fatalf("encode batch: %v", err)
	}
	return data
}

func TestClassify(t *testing.T) {
	registry, err := multisend.DefaultRegistry()
	if err != nil {
		t.Fatalf("default registry: %v", err)
	}
	classifier := NewClassifier(registry)
	callOnly141 := common.HexToAddress("0x9641d764fc13c8B624c04430C7356C1C7C8102e2")

	toWallet := safe.Transaction{To: testWallet, Value: new(big.Int), Data: []byte{0x69, 0x4e, 0x80, 0xc3}}
	toStranger := safe.Transaction{To: stranger, Value: big.NewInt(5)}

	cases := []struct {
		name      string
		tx        safe.Transaction
		chainID   uint64
		version   string
		malicious bool
		reason    Reason
	}{
		{
			name:    "direct owner change",
			tx:      toWallet,
			chainID: 1, version: "1.3.0",
			reason: ReasonDirectToWallet,
		},
		{
			name:    "direct transfer elsewhere",
			tx:      toStranger,
			chainID: 1, version: "1.3.0",
			malicious: true, reason: ReasonDirectToForeign,
		},
		{
			name:    "batch confined to wallet",
			tx:      safe.Transaction{To: callOnly, Data: mustEncodeBatch(t, toWallet, toWallet), Operation: safe.DelegateCall},
			chainID: 1, version: "1.3.0",
			reason: ReasonBatchToWallet,
		},
		{
			name:    "batch on newer wallet",
			tx:      safe.Transaction{To: callOnly141, Data: mustEncodeBatch(t, toWallet), Operation: safe.DelegateCall},
			chainID: 1, version: "1.4.1",
			reason: ReasonBatchToWallet,
		},
		{
			name:    "batch smuggling a foreign call",
			tx:      safe.Transaction{To: callOnly, Data: mustEncodeBatch(t, toWallet, toStranger), Operation: safe.DelegateCall},
			chainID: 1, version: "1.3.0",
			malicious: true, reason: ReasonBatchToForeign,
		},
		{
			name:    "batch through another contract",
			tx:      safe.Transaction{To: stranger, Data: mustEncodeBatch(t, toWallet), Operation: safe.DelegateCall},
			chainID: 1, version: "1.3.0",
			malicious: true, reason: ReasonUntrustedBatcher,
		},
		{
			name:    "batch deployment from another version",
			tx:      safe.Transaction{To: callOnly141, Data: mustEncodeBatch(t, toWallet), Operation: safe.DelegateCall},
			chainID: 1, version: "1.3.0",
			malicious: true, reason: ReasonUntrustedBatcher,
		},
		{
			name:    "unknown chain",
			tx:      safe.Transaction{To: callOnly, Data: mustEncodeBatch(t, toWallet), Operation: safe.DelegateCall},
			chainID: 999_999_999, version: "1.3.0",
			malicious: true, reason: ReasonUnknownDeployment,
		},
		{
			name:    "unparsable wallet version",
			tx:      safe.Transaction{To: callOnly, Data: mustEncodeBatch(t, toWallet), Operation: safe.DelegateCall},
			chainID: 1, version: "latest",
			malicious: true, reason: ReasonUnknownDeployment,
		},
		{
			name:    "truncated batch",
			tx:      safe.Transaction{To: callOnly, Data: mustEncodeBatch(t, toWallet)[:40], Operation: safe.DelegateCall},
			chainID: 1, version: "1.3.0",
			malicious: true, reason: ReasonMalformedBatch,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			verdict := classifier.Classify(tc.tx, testWallet, tc.chainID, tc.version)
			if verdict.Malicious != tc.malicious {
				t.Fatalf("malicious: got %v want %v (reason %s)", verdict.Malicious, tc.malicious, verdict.Reason)
			}
			if verdict.Reason != tc.reason {
				t.Fatalf("reason: got %s want %s", verdict.Reason, tc.reason)
			}
		})
	}
}

func TestClassifyWithoutRegistryFailsClosed(t *testing.T) {
	batch := safe.Transaction{To: callOnly, Data: mustEncodeBatch(t, safe.Transaction{To: testWallet})}
	verdict := NewClassifier(nil).Classify(batch, testWallet, 1, "1.3.0")
	if !verdict.Malicious || verdict.Reason != ReasonUnknownDeployment {
		t.Fatalf("unexpected verdict %+v", verdict)
	}

	direct := NewClassifier(nil).Classify(safe.Transaction{To: testWallet}, testWallet, 1, "1.3.0")
	if direct.Malicious {
		t.Fatalf("direct call to wallet needs no registry: %+v", direct)
	}
}
