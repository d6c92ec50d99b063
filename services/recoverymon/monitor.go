package recoverymon

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"saferecovery/gateway/routes"
	"saferecovery/observability"
	"saferecovery/safe/delay"
)

// ErrNoTargets is returned when a monitor is built without wallets.
var ErrNoTargets = errors.New("recoverymon: no wallets to monitor")

// Reconstructor rebuilds the recovery queue of one wallet.
type Reconstructor interface {
	Reconstruct(ctx context.Context, req delay.Request) (*delay.Queue, error)
}

// SweepReport summarises one pass over every monitored wallet.
type SweepReport struct {
	ID        string
	StartedAt time.Time
	Duration  time.Duration
	Wallets   int
	Failed    int
	Malicious int
}

// Monitor periodically rebuilds the recovery queue of each configured wallet
// and keeps the latest result for the API.
type Monitor struct {
	reconstructor Reconstructor
	targets       []Target
	chainID       uint64
	indexerURL    string
	concurrency   int
	interval      time.Duration
	logger        *slog.Logger
	metrics       *observability.MonitorMetrics
	now           func() time.Time
	newID         func() string

	mu        sync.RWMutex
	snapshots map[int]routes.WalletSnapshot
}

// MonitorOption customises the monitor instance.
type MonitorOption func(*Monitor)

// WithMonitorLogger overrides the default logger.
func WithMonitorLogger(logger *slog.Logger) MonitorOption {
	return func(m *Monitor) { m.logger = logger }
}

// WithConcurrency bounds how many wallets are reconstructed at once.
func WithConcurrency(n int) MonitorOption {
	return func(m *Monitor) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

// WithInterval sets the pause between successful sweeps.
func WithInterval(interval time.Duration) MonitorOption {
	return func(m *Monitor) {
		if interval > 0 {
			m.interval = interval
		}
	}
}

// WithClock sets the function used to derive timestamps.
func WithClock(clock func() time.Time) MonitorOption {
	return func(m *Monitor) { m.now = clock }
}

// NewMonitor constructs a monitor over targets on chainID.
func NewMonitor(reconstructor Reconstructor, targets []Target, chainID uint64, indexerURL string, opts ...MonitorOption) (*Monitor, error) {
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}
	m := &Monitor{
		reconstructor: reconstructor,
		targets:       append([]Target(nil), targets...),
		chainID:       chainID,
		indexerURL:    indexerURL,
		concurrency:   4,
		interval:      time.Minute,
		logger:        slog.Default(),
		metrics:       observability.Monitor(),
		now:           time.Now,
		newID:         uuid.NewString,
		snapshots:     make(map[int]routes.WalletSnapshot, len(targets)),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(slog.String("component", "monitor"))
	return m, nil
}

// Sweep reconstructs every wallet once. Failures of individual wallets are
// recorded in their snapshot and counted in the report.
func (m *Monitor) Sweep(ctx context.Context) SweepReport {
	report := SweepReport{ID: m.newID(), StartedAt: m.now(), Wallets: len(m.targets)}
	logger := m.logger.With(slog.String("sweep_id", report.ID))

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(m.concurrency)
	for i, target := range m.targets {
		g.Go(func() error {
			queue, err := m.reconstructor.Reconstruct(ctx, delay.Request{
				Module:        target.Module,
				Wallet:        target.Wallet,
				ChainID:       m.chainID,
				WalletVersion: target.Version,
				IndexerURL:    m.indexerURL,
			})
			snapshot := routes.WalletSnapshot{
				Wallet:    target.Wallet,
				Module:    target.Module,
				ChainID:   m.chainID,
				Version:   target.Version,
				SweepID:   report.ID,
				CheckedAt: m.now(),
				Queue:     queue,
				Err:       err,
			}
			malicious := m.observe(logger, target, queue, err)

			mu.Lock()
			if err != nil {
				report.Failed++
			}
			report.Malicious += malicious
			mu.Unlock()
			m.store(i, snapshot)
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = m.now().Sub(report.StartedAt)
	m.metrics.RecordSweep(m.now(), report.Failed)
	logger.Info("sweep complete",
		slog.Int("wallets", report.Wallets),
		slog.Int("failed", report.Failed),
		slog.Int("malicious", report.Malicious),
		slog.Duration("duration", report.Duration))
	return report
}

func (m *Monitor) observe(logger *slog.Logger, target Target, queue *delay.Queue, err error) int {
	walletLogger := logger.With(slog.String("wallet", target.Wallet.Hex()), slog.String("module", target.Module.Hex()))
	if err != nil {
		walletLogger.Error("recovery queue reconstruction failed", slog.String("error", err.Error()))
		m.metrics.RecordWalletFailure(target.Wallet.Hex())
		return 0
	}
	malicious := queue.MaliciousCount()
	m.metrics.SetQueue(target.Wallet.Hex(), len(queue.Items), malicious)
	m.metrics.RecordWalletSuccess(target.Wallet.Hex(), m.now())
	for _, item := range queue.Items {
		if !item.IsMalicious {
			continue
		}
		walletLogger.Warn("malicious recovery proposal pending",
			slog.Uint64("nonce", item.Nonce),
			slog.String("to", item.To.Hex()),
			slog.String("reason", string(item.Reason)),
			slog.String("executor", item.Executor.Hex()),
			slog.Int64("valid_from_ms", item.ValidFrom))
	}
	return malicious
}

// store keeps the latest snapshot, except that a failed sweep does not hide
// the last successful queue.
func (m *Monitor) store(index int, snapshot routes.WalletSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if snapshot.Err != nil {
		if previous, ok := m.snapshots[index]; ok && previous.Queue != nil {
			snapshot.Queue = previous.Queue
		}
	}
	m.snapshots[index] = snapshot
}

// Snapshots returns the latest observation of each wallet in configuration
// order. Wallets not yet swept are reported without a queue.
func (m *Monitor) Snapshots() []routes.WalletSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]routes.WalletSnapshot, 0, len(m.targets))
	for i, target := range m.targets {
		snapshot, ok := m.snapshots[i]
		if !ok {
			snapshot = routes.WalletSnapshot{Wallet: target.Wallet, Module: target.Module, ChainID: m.chainID, Version: target.Version}
		}
		out = append(out, snapshot)
	}
	return out
}

// Run sweeps until ctx is cancelled. Sweeps with failures are retried on an
// exponential schedule capped at the regular interval.
func (m *Monitor) Run(ctx context.Context) error {
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = min(time.Second, m.interval)
	retry.MaxInterval = m.interval
	retry.MaxElapsedTime = 0
	retry.Reset()

	for {
		report := m.Sweep(ctx)
		wait := m.interval
		if report.Failed > 0 {
			wait = retry.NextBackOff()
			m.logger.Warn("retrying failed wallets early",
				slog.String("sweep_id", report.ID),
				slog.Duration("retry_in", wait))
		} else {
			retry.Reset()
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

var _ routes.SnapshotSource = (*Monitor)(nil)
