package delay

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/time/rate"

	"saferecovery/safe"
)

const (
	defaultModulePageSize = 50
	maxModulePages        = 100
	// Above this many pending nonces the topic filter is dropped and logs are
	// matched after decoding.
	maxNonceTopics = 512
)

// ContractBackend is the subset of ethclient.Client used for calls and logs.
type ContractBackend interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error)
}

// RPCCaller issues raw JSON-RPC requests.
type RPCCaller interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

// RPCReader implements ChainReader against an Ethereum JSON-RPC endpoint.
type RPCReader struct {
	backend  ContractBackend
	rpc      RPCCaller
	limiter  *rate.Limiter
	pageSize int64
}

// ReaderOption customises an RPCReader.
type ReaderOption func(*RPCReader)

// WithRateLimit throttles outgoing requests to perSecond with the given burst.
func WithRateLimit(perSecond float64, burst int) ReaderOption {
	return func(r *RPCReader) {
		if perSecond <= 0 {
			r.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithModulePageSize sets the page size used to enumerate recoverers.
func WithModulePageSize(size int64) ReaderOption {
	return func(r *RPCReader) {
		if size > 0 {
			r.pageSize = size
		}
	}
}

// NewRPCReader wraps an existing backend and raw RPC caller.
func NewRPCReader(backend ContractBackend, caller RPCCaller, opts ...ReaderOption) *RPCReader {
	reader := &RPCReader{backend: backend, rpc: caller, pageSize: defaultModulePageSize}
	for _, opt := range opts {
		opt(reader)
	}
	return reader
}

// DialRPCReader connects to endpoint. Callers must invoke the returned close
// function when done.
func DialRPCReader(ctx context.Context, endpoint string, opts ...ReaderOption) (*RPCReader, func(), error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, nil, fmt.Errorf("delay: rpc endpoint required")
	}
	client, err := rpc.DialContext(ctx, trimmed)
	if err != nil {
		return nil, nil, fmt.Errorf("delay: dial rpc: %w", err)
	}
	eth := ethclient.NewClient(client)
	return NewRPCReader(eth, client, opts...), eth.Close, nil
}

func (r *RPCReader) wait(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	return r.limiter.Wait(ctx)
}

func (r *RPCReader) call(ctx context.Context, module common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := safe.DelayModuleABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	out, err := r.backend.CallContract(ctx, ethereum.CallMsg{To: &module, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := safe.DelayModuleABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

func (r *RPCReader) callUint(ctx context.Context, module common.Address, method string, args ...interface{}) (uint64, error) {
	values, err := r.call(ctx, module, method, args...)
	if err != nil {
		return 0, err
	}
	value, ok := values[0].(*big.Int)
	if !ok || value == nil {
		return 0, fmt.Errorf("unpack %s: unexpected %T", method, values[0])
	}
	if !value.IsUint64() {
		return 0, fmt.Errorf("%s: value %s exceeds uint64", method, value)
	}
	return value.Uint64(), nil
}

// TxCooldown returns the module's delay in seconds.
func (r *RPCReader) TxCooldown(ctx context.Context, module common.Address) (uint64, error) {
	return r.callUint(ctx, module, "txCooldown")
}

// TxExpiration returns the module's expiry window in seconds; zero means never.
func (r *RPCReader) TxExpiration(ctx context.Context, module common.Address) (uint64, error) {
	return r.callUint(ctx, module, "txExpiration")
}

// TxNonce returns the nonce of the next executable proposal.
func (r *RPCReader) TxNonce(ctx context.Context, module common.Address) (uint64, error) {
	return r.callUint(ctx, module, "txNonce")
}

// QueueNonce returns the next free queue slot.
func (r *RPCReader) QueueNonce(ctx context.Context, module common.Address) (uint64, error) {
	return r.callUint(ctx, module, "queueNonce")
}

// TxCreatedAt returns the unix time at which the proposal at nonce was queued.
func (r *RPCReader) TxCreatedAt(ctx context.Context, module common.Address, nonce uint64) (uint64, error) {
	return r.callUint(ctx, module, "txCreatedAt", new(big.Int).SetUint64(nonce))
}

// Recoverers pages through the modules enabled on the Delay module.
func (r *RPCReader) Recoverers(ctx context.Context, module common.Address) ([]common.Address, error) {
	var (
		out   []common.Address
		seen  = make(map[common.Address]struct{})
		start = safe.SentinelAddress
	)
	for page := 0; page < maxModulePages; page++ {
		values, err := r.call(ctx, module, "getModulesPaginated", start, big.NewInt(r.pageSize))
		if err != nil {
			return nil, err
		}
		modules, ok := values[0].([]common.Address)
		if !ok {
			return nil, fmt.Errorf("unpack getModulesPaginated: unexpected %T", values[0])
		}
		next, ok := values[1].(common.Address)
		if !ok {
			return nil, fmt.Errorf("unpack getModulesPaginated: unexpected %T", values[1])
		}
		for _, m := range modules {
			if _, dup := seen[m]; dup {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
		}
		if len(modules) == 0 || safe.IsReserved(next) {
			return out, nil
		}
		start = next
	}
	return nil, fmt.Errorf("getModulesPaginated: more than %d pages", maxModulePages)
}

// FilterTransactionAdded queries TransactionAdded logs for nonces in
// [fromNonce, toNonce).
func (r *RPCReader) FilterTransactionAdded(ctx context.Context, module common.Address, fromBlock, fromNonce, toNonce uint64) ([]TransactionAdded, error) {
	if toNonce <= fromNonce {
		return nil, nil
	}
	event := safe.DelayModuleABI.Events["TransactionAdded"]
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		Addresses: []common.Address{module},
		Topics:    [][]common.Hash{{event.ID}},
	}
	if toNonce-fromNonce <= maxNonceTopics {
		query.Topics = append(query.Topics, NonceTopics(fromNonce, toNonce))
	}
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	logs, err := r.backend.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("filter TransactionAdded: %w", err)
	}
	out := make([]TransactionAdded, 0, len(logs))
	for i := range logs {
		entry, err := decodeTransactionAdded(event, logs[i])
		if err != nil {
			return nil, err
		}
		if entry.Nonce < fromNonce || entry.Nonce >= toNonce {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

// NonceTopics returns the indexed-topic values matching nonces in [from, to).
func NonceTopics(from, to uint64) []common.Hash {
	if to <= from {
		return nil
	}
	topics := make([]common.Hash, 0, to-from)
	for nonce := from; nonce < to; nonce++ {
		topics = append(topics, common.BigToHash(new(big.Int).SetUint64(nonce)))
	}
	return topics
}

func decodeTransactionAdded(event abi.Event, log gethtypes.Log) (TransactionAdded, error) {
	if len(log.Topics) != 3 || log.Topics[0] != event.ID {
		return TransactionAdded{}, fmt.Errorf("decode TransactionAdded: unexpected topics in log %s:%d", log.TxHash.Hex(), log.Index)
	}
	nonce := new(big.Int).SetBytes(log.Topics[1].Bytes())
	if !nonce.IsUint64() {
		return TransactionAdded{}, fmt.Errorf("decode TransactionAdded: nonce %s exceeds uint64", nonce)
	}
	values, err := event.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return TransactionAdded{}, fmt.Errorf("decode TransactionAdded: %w", err)
	}
	if len(values) != 4 {
		return TransactionAdded{}, fmt.Errorf("decode TransactionAdded: expected 4 values, got %d", len(values))
	}
	to, okTo := values[0].(common.Address)
	value, okValue := values[1].(*big.Int)
	data, okData := values[2].([]byte)
	operation, okOp := values[3].(uint8)
	if !okTo || !okValue || !okData || !okOp {
		return TransactionAdded{}, fmt.Errorf("decode TransactionAdded: unexpected value types")
	}
	return TransactionAdded{
		Nonce:           nonce.Uint64(),
		TxHash:          log.Topics[2],
		To:              to,
		Value:           value,
		Data:            data,
		Operation:       safe.Operation(operation),
		TransactionHash: log.TxHash,
		BlockNumber:     log.BlockNumber,
		LogIndex:        log.Index,
		Removed:         log.Removed,
	}, nil
}

// TransactionReceipt fetches the receipt for hash, including its sender.
func (r *RPCReader) TransactionReceipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	var receipt *Receipt
	if err := r.rpc.CallContext(ctx, &receipt, "eth_getTransactionReceipt", hash); err != nil {
		return nil, fmt.Errorf("receipt %s: %w", hash.Hex(), err)
	}
	if receipt == nil {
		return nil, fmt.Errorf("receipt %s: %w", hash.Hex(), ethereum.NotFound)
	}
	return receipt, nil
}

var _ ChainReader = (*RPCReader)(nil)
