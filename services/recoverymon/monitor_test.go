package recoverymon

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"saferecovery/safe/delay"
)

var (
	walletA = common.HexToAddress("0x5afe00000000000000000000000000000000000a")
	walletB = common.HexToAddress("0x5afe00000000000000000000000000000000000b")
	walletC = common.HexToAddress("0x5afe00000000000000000000000000000000000c")
	moduleX = common.HexToAddress("0x00000000000000000000000000000000000de1a7")
)

type scriptedReconstructor struct {
	mu       sync.Mutex
	results  map[common.Address][]error
	queues   map[common.Address]*delay.Queue
	calls    map[common.Address]int
	inFlight atomic.Int32
	peak     atomic.Int32
	hold     time.Duration
}

func newScripted() *scriptedReconstructor {
	return &scriptedReconstructor{
		results: make(map[common.Address][]error),
		queues:  make(map[common.Address]*delay.Queue),
		calls:   make(map[common.Address]int),
	}
}

func (s *scriptedReconstructor) Reconstruct(ctx context.Context, req delay.Request) (*delay.Queue, error) {
	current := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		peak := s.peak.Load()
		if current <= peak || s.peak.CompareAndSwap(peak, current) {
			break
		}
	}
	if s.hold > 0 {
		time.Sleep(s.hold)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	call := s.calls[req.Wallet]
	s.calls[req.Wallet]++
	if script := s.results[req.Wallet]; call < len(script) && script[call] != nil {
		return nil, script[call]
	}
	return s.queues[req.Wallet], nil
}

func queueWith(wallet common.Address, malicious ...bool) *delay.Queue {
	q := &delay.Queue{Wallet: wallet, Module: moduleX, Items: []delay.QueueItem{}}
	for i, flag := range malicious {
		q.Items = append(q.Items, delay.QueueItem{Nonce: uint64(i), IsMalicious: flag, Reason: delay.ReasonDirectToForeign})
	}
	return q
}

func TestNewMonitorRequiresTargets(t *testing.T) {
	_, err := NewMonitor(newScripted(), nil, 1, "https://indexer")
	require.ErrorIs(t, err, ErrNoTargets)
}

func TestSweepRecordsSnapshotsAndWarnings(t *testing.T) {
	recon := newScripted()
	recon.queues[walletA] = queueWith(walletA, false, true)
	recon.queues[walletB] = queueWith(walletB)
	recon.results[walletC] = []error{&delay.ChainReadError{Op: "txNonce", Err: errors.New("eof")}}

	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	targets := []Target{
		{Wallet: walletA, Module: moduleX, Version: "1.3.0"},
		{Wallet: walletB, Module: moduleX, Version: "1.3.0"},
		{Wallet: walletC, Module: moduleX, Version: "1.4.1"},
	}
	monitor, err := NewMonitor(recon, targets, 1, "https://indexer", WithMonitorLogger(logger))
	require.NoError(t, err)

	before := monitor.Snapshots()
	require.Len(t, before, 3)
	require.Nil(t, before[0].Queue)
	require.Empty(t, before[0].SweepID)

	report := monitor.Sweep(context.Background())
	require.NotEmpty(t, report.ID)
	require.Equal(t, 3, report.Wallets)
	require.Equal(t, 1, report.Failed)
	require.Equal(t, 1, report.Malicious)

	snapshots := monitor.Snapshots()
	require.Equal(t, []common.Address{walletA, walletB, walletC},
		[]common.Address{snapshots[0].Wallet, snapshots[1].Wallet, snapshots[2].Wallet})
	require.Equal(t, report.ID, snapshots[0].SweepID)
	require.Len(t, snapshots[0].Queue.Items, 2)
	require.ErrorIs(t, snapshots[2].Err, delay.ErrChainRead)
	require.Equal(t, "1.4.1", snapshots[2].Version)

	out := logs.String()
	require.Contains(t, out, "malicious recovery proposal pending")
	require.Contains(t, out, walletA.Hex())
	require.Contains(t, out, "recovery queue reconstruction failed")
	require.Contains(t, out, report.ID)
}

func TestSweepKeepsLastGoodQueueOnFailure(t *testing.T) {
	recon := newScripted()
	recon.queues[walletA] = queueWith(walletA, true)
	recon.results[walletA] = []error{nil, &delay.IndexerError{URL: "https://indexer", Status: 503}}

	monitor, err := NewMonitor(recon, []Target{{Wallet: walletA, Module: moduleX, Version: "1.3.0"}}, 1, "https://indexer",
		WithMonitorLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))))
	require.NoError(t, err)

	first := monitor.Sweep(context.Background())
	require.Zero(t, first.Failed)
	require.Equal(t, 1.0, walletGauge(t, "safe_recoverymon_wallet_healthy", walletA))
	second := monitor.Sweep(context.Background())
	require.Equal(t, 1, second.Failed)
	require.NotEqual(t, first.ID, second.ID)

	snapshot := monitor.Snapshots()[0]
	require.ErrorIs(t, snapshot.Err, delay.ErrIndexerUnavailable)
	require.NotNil(t, snapshot.Queue, "last good queue stays visible")
	require.Equal(t, 1, snapshot.Queue.MaliciousCount())
	require.Equal(t, 0.0, walletGauge(t, "safe_recoverymon_wallet_healthy", walletA), "stale gauges are flagged")
	require.Equal(t, 1.0, walletGauge(t, "safe_recoverymon_malicious_items", walletA))
}

func walletGauge(t *testing.T, name string, wallet common.Address) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	label := strings.ToLower(wallet.Hex())
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, pair := range metric.GetLabel() {
				if pair.GetName() == "wallet" && pair.GetValue() == label {
					return metric.GetGauge().GetValue()
				}
			}
		}
	}
	t.Fatalf("gauge %s{wallet=%s} not found", name, label)
	return 0
}

func TestSweepBoundsConcurrency(t *testing.T) {
	recon := newScripted()
	recon.hold = 20 * time.Millisecond
	targets := make([]Target, 0, 8)
	for i := 0; i < 8; i++ {
		var wallet common.Address
		wallet[0] = byte(i + 1)
		recon.queues[wallet] = queueWith(wallet)
		targets = append(targets, Target{Wallet: wallet, Module: moduleX, Version: "1.3.0"})
	}
	monitor, err := NewMonitor(recon, targets, 1, "https://indexer",
		WithConcurrency(2), WithMonitorLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))))
	require.NoError(t, err)

	report := monitor.Sweep(context.Background())
	require.Zero(t, report.Failed)
	require.LessOrEqual(t, recon.peak.Load(), int32(2))
	require.Equal(t, int32(2), recon.peak.Load())
}

func TestRunRetriesFailedSweepsEarly(t *testing.T) {
	recon := newScripted()
	recon.queues[walletA] = queueWith(walletA)
	recon.results[walletA] = []error{errors.New("rpc down")}

	var logs syncBuffer
	monitor, err := NewMonitor(recon, []Target{{Wallet: walletA, Module: moduleX, Version: "1.3.0"}}, 1, "https://indexer",
		WithInterval(time.Hour), WithMonitorLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- monitor.Run(ctx) }()

	require.Eventually(t, func() bool {
		recon.mu.Lock()
		defer recon.mu.Unlock()
		return recon.calls[walletA] >= 2
	}, 5*time.Second, 10*time.Millisecond, "failed sweep should be retried before the hourly interval")
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	require.True(t, strings.Contains(logs.String(), "retrying failed wallets early"))
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
