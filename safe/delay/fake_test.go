package delay

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

var (
	testModule = common.HexToAddress("0x00000000000000000000000000000000000de1a7")
	testWallet = common.HexToAddress("0x5afe00000000000000000000000000000000beef")
	stranger   = common.HexToAddress("0x00000000000000000000000000000000000bad01")
	recoverer  = common.HexToAddress("0x0000000000000000000000000000000000000ec0")
	// MultiSendCallOnly 1.3.0, canonical address.
	callOnly = common.HexToAddress("0x40A2aCCbd92BCA938b02010E17A5b8929b49130D")

	creationTx = common.HexToHash("0xc0ffee")
)

type fakeReader struct {
	mu        sync.Mutex
	state     ModuleState
	createdAt map[uint64]uint64
	logs      []TransactionAdded
	receipts  map[common.Hash]*Receipt
	errs      map[string]error

	filterCalls  atomic.Int32
	receiptCalls atomic.Int32
	filterArgs   [3]uint64

	// When set, each point-in-time read blocks until all five are in flight.
	barrier *readBarrier
	// When set, every TxCreatedAt and proposal receipt call blocks until the
	// expected number of enrichment calls are in flight.
	enrichBarrier *readBarrier
}

type readBarrier struct {
	mu       sync.Mutex
	expected int
	arrived  int
	release  chan struct{}
}

func newReadBarrier(expected int) *readBarrier {
	return &readBarrier{expected: expected, release: make(chan struct{})}
}

func (b *readBarrier) arrive(ctx context.Context) error {
	b.mu.Lock()
	b.arrived++
	if b.arrived == b.expected {
		close(b.release)
	}
	b.mu.Unlock()
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(2 * time.Second):
		return errors.New("reads were not issued concurrently")
	}
}

func newFakeReader(state ModuleState) *fakeReader {
	return &fakeReader{
		state:     state,
		createdAt: make(map[uint64]uint64),
		receipts: map[common.Hash]*Receipt{
			creationTx: {TransactionHash: creationTx, From: recoverer, BlockNumber: hexutil.Uint64(1200), Status: 1},
		},
		errs: make(map[string]error),
	}
}

func (f *fakeReader) read(ctx context.Context, name string) error {
	if f.barrier != nil {
		if err := f.barrier.arrive(ctx); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.errs[name]
}

func (f *fakeReader) Recoverers(ctx context.Context, _ common.Address) ([]common.Address, error) {
	if err := f.read(ctx, "recoverers"); err != nil {
		return nil, err
	}
	return f.state.Recoverers, nil
}

func (f *fakeReader) TxCooldown(ctx context.Context, _ common.Address) (uint64, error) {
	return f.state.TxCooldown, f.read(ctx, "txCooldown")
}

func (f *fakeReader) TxExpiration(ctx context.Context, _ common.Address) (uint64, error) {
	return f.state.TxExpiration, f.read(ctx, "txExpiration")
}

func (f *fakeReader) TxNonce(ctx context.Context, _ common.Address) (uint64, error) {
	return f.state.TxNonce, f.read(ctx, "txNonce")
}

func (f *fakeReader) QueueNonce(ctx context.Context, _ common.Address) (uint64, error) {
	return f.state.QueueNonce, f.read(ctx, "queueNonce")
}

func (f *fakeReader) TxCreatedAt(ctx context.Context, _ common.Address, nonce uint64) (uint64, error) {
	if f.enrichBarrier != nil {
		if err := f.enrichBarrier.arrive(ctx); err != nil {
			return 0, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs["txCreatedAt"]; err != nil {
		return 0, err
	}
	ts, ok := f.createdAt[nonce]
	if !ok {
		return 0, fmt.Errorf("no creation time for nonce %d", nonce)
	}
	return ts, nil
}

func (f *fakeReader) FilterTransactionAdded(_ context.Context, _ common.Address, fromBlock, fromNonce, toNonce uint64) ([]TransactionAdded, error) {
	f.filterCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filterArgs = [3]uint64{fromBlock, fromNonce, toNonce}
	if err := f.errs["filter"]; err != nil {
		return nil, err
	}
	out := make([]TransactionAdded, len(f.logs))
	copy(out, f.logs)
	return out, nil
}

func (f *fakeReader) TransactionReceipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	f.receiptCalls.Add(1)
	if f.enrichBarrier != nil && hash != creationTx {
		if err := f.enrichBarrier.arrive(ctx); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs["receipt"]; err != nil {
		return nil, err
	}
	receipt, ok := f.receipts[hash]
	if !ok {
		return nil, fmt.Errorf("receipt %s not found", hash.Hex())
	}
	return receipt, nil
}

func (f *fakeReader) addProposal(entry TransactionAdded, createdAt uint64, executor common.Address) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if entry.Value == nil {
		entry.Value = new(big.Int)
	}
	f.logs = append(f.logs, entry)
	f.createdAt[entry.Nonce] = createdAt
	f.receipts[entry.TransactionHash] = &Receipt{TransactionHash: entry.TransactionHash, From: executor, Status: 1}
}
