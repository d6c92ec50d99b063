package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"saferecovery/observability/logging"
	"saferecovery/safe"
	"saferecovery/safe/delay"
	"saferecovery/safe/multisend"
	"saferecovery/safe/reconcile"
)

const (
	planCommand  = "plan"
	queueCommand = "queue"

	exitOK        = 0
	exitError     = 1
	exitMalicious = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		usage(stderr)
		return exitError
	}
	var err error
	code := exitOK
	switch args[0] {
	case planCommand:
		err = runPlan(args[1:], stdout)
	case queueCommand:
		code, err = runQueue(args[1:], stdout, stderr)
	default:
		usage(stderr)
		return exitError
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	return code
}

func usage(w io.Writer) {
	fmt.Fprintf(w, "Usage: recoveryctl <command> [flags]\n\n")
	fmt.Fprintf(w, "Commands:\n")
	fmt.Fprintf(w, "  %s   compute the owner management calls that reach a target owner set\n", planCommand)
	fmt.Fprintf(w, "  %s  rebuild the pending recovery queue of a Delay module\n", queueCommand)
}

func parseAddresses(raw string) ([]common.Address, error) {
	var out []common.Address
	for _, part := range strings.Split(raw, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		if !common.IsHexAddress(trimmed) {
			return nil, fmt.Errorf("invalid address %q", trimmed)
		}
		out = append(out, common.HexToAddress(trimmed))
	}
	return out, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type planOutput struct {
	Ops             reconcile.Plan     `json:"ops"`
	Calls           []safe.Transaction `json:"calls,omitempty"`
	Result          *safe.OwnerSet     `json:"result,omitempty"`
	SimulationError string             `json:"simulationError,omitempty"`
	Batch           *safe.Transaction  `json:"batch,omitempty"`
}

func runPlan(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet(planCommand, flag.ContinueOnError)
	owners := fs.String("owners", "", "Comma separated current owners, in contract order")
	threshold := fs.Uint64("threshold", 0, "Current threshold")
	target := fs.String("target", "", "Comma separated target owners")
	targetThreshold := fs.Uint64("target-threshold", 0, "Target threshold")
	walletFlag := fs.String("wallet", "", "Wallet address; enables calldata and batch output")
	chainID := fs.Uint64("chain-id", 1, "Chain id used to pick the MultiSendCallOnly deployment")
	version := fs.String("version", "1.3.0", "Wallet contract version")
	deployments := fs.String("deployments", "", "Optional TOML file extending the known deployments")
	if err := fs.Parse(args); err != nil {
		return err
	}

	current, err := parseAddresses(*owners)
	if err != nil {
		return fmt.Errorf("owners: %w", err)
	}
	targetOwners, err := parseAddresses(*target)
	if err != nil {
		return fmt.Errorf("target: %w", err)
	}
	set := safe.OwnerSet{Owners: current, Threshold: *threshold}
	ops, err := reconcile.Reconcile(set, targetOwners, *targetThreshold)
	if err != nil {
		return err
	}

	out := planOutput{Ops: reconcile.Plan(ops)}
	if simulated, err := reconcile.Simulate(set, ops); err != nil {
		out.SimulationError = err.Error()
	} else {
		out.Result = &simulated
	}

	if strings.TrimSpace(*walletFlag) != "" {
		if !common.IsHexAddress(*walletFlag) {
			return fmt.Errorf("invalid wallet %q", *walletFlag)
		}
		txs, err := reconcile.Transactions(common.HexToAddress(*walletFlag), ops)
		if err != nil {
			return err
		}
		out.Calls = txs
		if len(txs) > 1 {
			registry, err := loadRegistry(*deployments)
			if err != nil {
				return err
			}
			if batcher, ok := registry.Lookup(*chainID, *version); ok {
				data, err := multisend.Encode(txs)
				if err != nil {
					return err
				}
				out.Batch = &safe.Transaction{To: batcher, Data: hexutil.Bytes(data), Operation: safe.DelegateCall}
			}
		}
	}
	return writeJSON(stdout, out)
}

func runQueue(args []string, stdout, stderr io.Writer) (int, error) {
	fs := flag.NewFlagSet(queueCommand, flag.ContinueOnError)
	rpcURL := fs.String("rpc", os.Getenv("RECOVERYCTL_RPC"), "Ethereum JSON-RPC endpoint")
	walletFlag := fs.String("wallet", "", "Wallet address")
	moduleFlag := fs.String("module", "", "Delay module address")
	indexer := fs.String("indexer", "", "Transaction indexer base URL")
	chainID := fs.Uint64("chain-id", 1, "Chain id")
	version := fs.String("version", "1.3.0", "Wallet contract version")
	deployments := fs.String("deployments", "", "Optional TOML file extending the known deployments")
	timeout := fs.Duration("timeout", time.Minute, "Overall timeout")
	verbose := fs.Bool("v", false, "Log progress to stderr")
	if err := fs.Parse(args); err != nil {
		return exitError, err
	}
	if !common.IsHexAddress(*walletFlag) || !common.IsHexAddress(*moduleFlag) {
		return exitError, errors.New("--wallet and --module must be addresses")
	}

	level := "warn"
	if *verbose {
		level = "debug"
	}
	logger, closeLogs := logging.Setup("recoveryctl", "", logging.Options{Level: level, Output: stderr})
	defer func() { _ = closeLogs() }()

	registry, err := loadRegistry(*deployments)
	if err != nil {
		return exitError, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	reader, closeReader, err := delay.DialRPCReader(ctx, *rpcURL)
	if err != nil {
		return exitError, err
	}
	defer closeReader()
	logger.Debug("connected", slog.String("rpc", logging.MaskEndpoint(*rpcURL)))

	queue, err := delay.NewReconstructor(reader, registry, delay.WithLogger(logger)).Reconstruct(ctx, delay.Request{
		Module:        common.HexToAddress(*moduleFlag),
		Wallet:        common.HexToAddress(*walletFlag),
		ChainID:       *chainID,
		WalletVersion: *version,
		IndexerURL:    *indexer,
	})
	if err != nil {
		return exitError, err
	}
	if err := writeJSON(stdout, queue); err != nil {
		return exitError, err
	}
	if queue.MaliciousCount() > 0 {
		return exitMalicious, nil
	}
	return exitOK, nil
}

func loadRegistry(path string) (*multisend.Registry, error) {
	registry, err := multisend.DefaultRegistry()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(path) == "" {
		return registry, nil
	}
	override, err := multisend.LoadRegistry(path)
	if err != nil {
		return nil, fmt.Errorf("load deployments: %w", err)
	}
	return registry.Merge(override), nil
}
