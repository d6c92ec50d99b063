package delay

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/bits"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"saferecovery/observability"
	"saferecovery/safe"
	"saferecovery/safe/multisend"
)

const tracerName = "saferecovery/safe/delay"

// Reconstructor rebuilds Delay module queues from chain state and logs.
type Reconstructor struct {
	reader     ChainReader
	creations  *CreationLookup
	classifier *Classifier
	logger     *slog.Logger
	tracer     trace.Tracer
	metrics    *observability.RecoveryMetrics
	timeout    time.Duration
}

// Option customises a Reconstructor.
type Option func(*Reconstructor)

// WithCreationLookup overrides the process-wide creation receipt cache.
func WithCreationLookup(lookup *CreationLookup) Option {
	return func(r *Reconstructor) { r.creations = lookup }
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconstructor) { r.logger = logger }
}

// WithTimeout bounds every reconstruction. Zero disables the bound.
func WithTimeout(timeout time.Duration) Option {
	return func(r *Reconstructor) { r.timeout = timeout }
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(tracer trace.Tracer) Option {
	return func(r *Reconstructor) { r.tracer = tracer }
}

// NewReconstructor builds a reconstructor reading through reader and trusting
// the batch deployments in registry.
func NewReconstructor(reader ChainReader, registry *multisend.Registry, opts ...Option) *Reconstructor {
	r := &Reconstructor{
		reader:     reader,
		creations:  SharedCreationLookup(),
		classifier: NewClassifier(registry),
		metrics:    observability.Recovery(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.tracer == nil {
		r.tracer = otel.Tracer(tracerName)
	}
	if r.creations == nil {
		r.creations = SharedCreationLookup()
	}
	return r
}

// Reconstruct returns the module state and its pending queue ordered by
// nonce. Any read failure aborts the whole reconstruction; logs removed by a
// reorg are dropped.
func (r *Reconstructor) Reconstruct(ctx context.Context, req Request) (queue *Queue, err error) {
	started := time.Now()
	path := "scan"
	ctx, span := r.tracer.Start(ctx, "delay.Reconstruct", trace.WithAttributes(
		attribute.String("safe.module", req.Module.Hex()),
		attribute.String("safe.wallet", req.Wallet.Hex()),
		attribute.Int64("safe.chain_id", int64(req.ChainID)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		r.metrics.ObserveReconstruction(path, time.Since(started), err)
	}()
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	state, err := r.readState(ctx, req)
	if err != nil {
		return nil, err
	}
	queue = &Queue{ModuleState: state, Module: req.Module, Wallet: req.Wallet, Items: []QueueItem{}}
	if state.QueueNonce == state.TxNonce {
		path = "empty"
		return queue, nil
	}

	creation, err := r.creations.Receipt(ctx, req.IndexerURL, req.Wallet, r.reader)
	if err != nil {
		return nil, err
	}
	logs, err := r.reader.FilterTransactionAdded(ctx, req.Module, uint64(creation.BlockNumber), state.TxNonce, state.QueueNonce)
	if err != nil {
		return nil, chainRead("TransactionAdded logs", err)
	}

	live := make([]TransactionAdded, 0, len(logs))
	for _, entry := range logs {
		if entry.Removed {
			r.logger.Debug("dropping reorged recovery proposal",
				slog.Uint64("nonce", entry.Nonce),
				slog.String("transaction", entry.TransactionHash.Hex()))
			continue
		}
		live = append(live, entry)
	}
	sort.SliceStable(live, func(i, j int) bool {
		if live[i].Nonce != live[j].Nonce {
			return live[i].Nonce < live[j].Nonce
		}
		if live[i].BlockNumber != live[j].BlockNumber {
			return live[i].BlockNumber < live[j].BlockNumber
		}
		return live[i].LogIndex < live[j].LogIndex
	})

	items, err := r.enrich(ctx, req, state, live)
	if err != nil {
		return nil, err
	}
	queue.Items = items
	span.SetAttributes(
		attribute.Int("safe.queue.length", len(items)),
		attribute.Int("safe.queue.malicious", queue.MaliciousCount()),
	)
	return queue, nil
}

func (r *Reconstructor) readState(ctx context.Context, req Request) (ModuleState, error) {
	var state ModuleState
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		recoverers, err := r.reader.Recoverers(gctx, req.Module)
		state.Recoverers = recoverers
		return chainRead("recoverers", err)
	})
	g.Go(func() error {
		cooldown, err := r.reader.TxCooldown(gctx, req.Module)
		state.TxCooldown = cooldown
		return chainRead("txCooldown", err)
	})
	g.Go(func() error {
		expiration, err := r.reader.TxExpiration(gctx, req.Module)
		state.TxExpiration = expiration
		return chainRead("txExpiration", err)
	})
	g.Go(func() error {
		nonce, err := r.reader.TxNonce(gctx, req.Module)
		state.TxNonce = nonce
		return chainRead("txNonce", err)
	})
	g.Go(func() error {
		nonce, err := r.reader.QueueNonce(gctx, req.Module)
		state.QueueNonce = nonce
		return chainRead("queueNonce", err)
	})
	if err := g.Wait(); err != nil {
		return ModuleState{}, err
	}
	if state.TxNonce > state.QueueNonce {
		return ModuleState{}, fmt.Errorf("%w: txNonce %d above queueNonce %d", ErrInvalidModuleState, state.TxNonce, state.QueueNonce)
	}
	return state, nil
}

func (r *Reconstructor) enrich(ctx context.Context, req Request, state ModuleState, logs []TransactionAdded) ([]QueueItem, error) {
	createdAt := make([]uint64, len(logs))
	executors := make([]*Receipt, len(logs))

	g, gctx := errgroup.WithContext(ctx)
	for i, entry := range logs {
		g.Go(func() error {
			ts, err := r.reader.TxCreatedAt(gctx, req.Module, entry.Nonce)
			if err != nil {
				return chainRead(fmt.Sprintf("txCreatedAt(%d)", entry.Nonce), err)
			}
			createdAt[i] = ts
			return nil
		})
		g.Go(func() error {
			receipt, err := r.reader.TransactionReceipt(gctx, entry.TransactionHash)
			if err != nil {
				return chainRead("proposal receipt", err)
			}
			if receipt == nil {
				return chainRead("proposal receipt", fmt.Errorf("receipt %s not found", entry.TransactionHash.Hex()))
			}
			executors[i] = receipt
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	items := make([]QueueItem, len(logs))
	for i, entry := range logs {
		item := QueueItem{
			Nonce:           entry.Nonce,
			To:              entry.To,
			Value:           entry.Value,
			Data:            entry.Data,
			Operation:       entry.Operation,
			TxHash:          entry.TxHash,
			TransactionHash: entry.TransactionHash,
			Executor:        executors[i].From,
		}
		item.Timestamp, item.ValidFrom, item.ExpiresAt = Window(createdAt[i], state.TxCooldown, state.TxExpiration)

		verdict := r.classifier.Classify(safe.Transaction{
			To:        entry.To,
			Value:     entry.Value,
			Data:      entry.Data,
			Operation: entry.Operation,
		}, req.Wallet, req.ChainID, req.WalletVersion)
		item.IsMalicious = verdict.Malicious
		item.Reason = verdict.Reason
		r.metrics.RecordClassification(string(verdict.Reason), verdict.Malicious)
		if verdict.Reason == ReasonUnknownDeployment {
			r.logger.Warn("no trusted batch deployment, treating proposal as malicious",
				slog.Uint64("nonce", entry.Nonce),
				slog.Uint64("chain_id", req.ChainID),
				slog.String("wallet_version", req.WalletVersion))
		}
		items[i] = item
	}
	return items, nil
}

// Window converts a proposal's creation time and the module timings, all in
// seconds, into millisecond timestamps. expiresAt is nil when expiration is
// zero. Results that do not fit an int64 saturate at math.MaxInt64.
func Window(createdAt, cooldown, expiration uint64) (timestamp, validFrom int64, expiresAt *int64) {
	timestamp = toMillis(createdAt)
	validFromSec := addSeconds(createdAt, cooldown)
	validFrom = toMillis(validFromSec)
	if expiration == 0 {
		return timestamp, validFrom, nil
	}
	expiry := toMillis(addSeconds(validFromSec, expiration))
	return timestamp, validFrom, &expiry
}

func addSeconds(a, b uint64) uint64 {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return math.MaxUint64
	}
	return sum
}

func toMillis(seconds uint64) int64 {
	hi, lo := bits.Mul64(seconds, 1000)
	if hi != 0 || lo > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(lo)
}
