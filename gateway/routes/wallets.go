package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"saferecovery/safe"
	"saferecovery/safe/delay"
	"saferecovery/safe/multisend"
	"saferecovery/safe/reconcile"
)

const maxPlanBody = 64 << 10

func (h *handlers) listWallets(w http.ResponseWriter, r *http.Request) {
	results := []walletResult{}
	if h.cfg.Snapshots != nil {
		for _, snapshot := range h.cfg.Snapshots.Snapshots() {
			results = append(results, newWalletResult(snapshot))
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"wallets": results})
}

func parseAddress(field, raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return common.Address{}, fmt.Errorf("%s is required", field)
	}
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("%s %q is not an address", field, trimmed)
	}
	return common.HexToAddress(trimmed), nil
}

func (h *handlers) chainID(raw string) (uint64, error) {
	if strings.TrimSpace(raw) == "" {
		return h.cfg.ChainID, nil
	}
	id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("chain_id %q is not a number", raw)
	}
	return id, nil
}

func (h *handlers) recoveryQueue(w http.ResponseWriter, r *http.Request) {
	wallet, err := parseAddress("wallet", chi.URLParam(r, "wallet"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	query := r.URL.Query()
	module, err := parseAddress("module", query.Get("module"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	chainID, err := h.chainID(query.Get("chain_id"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	if chainID != h.cfg.ChainID {
		writeBadRequest(w, fmt.Errorf("chain %d is not served here", chainID))
		return
	}
	version := strings.TrimSpace(query.Get("version"))
	if version == "" {
		writeBadRequest(w, errors.New("version is required"))
		return
	}

	ctx := r.Context()
	if h.cfg.QueueTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.QueueTimeout)
		defer cancel()
	}
	queue, err := h.cfg.Reconstructor.Reconstruct(ctx, delay.Request{
		Module:        module,
		Wallet:        wallet,
		ChainID:       chainID,
		WalletVersion: version,
		IndexerURL:    h.cfg.IndexerURL,
	})
	if err != nil {
		h.logger.Warn("recovery queue reconstruction failed",
			slog.String("wallet", wallet.Hex()),
			slog.String("module", module.Hex()),
			slog.String("error", err.Error()))
		writeRecoveryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newQueueResult(queue))
}

func (h *handlers) ownerPlan(w http.ResponseWriter, r *http.Request) {
	wallet, err := parseAddress("wallet", chi.URLParam(r, "wallet"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPlanBody+1))
	if err != nil {
		writeBadRequest(w, fmt.Errorf("read body: %w", err))
		return
	}
	if len(body) > maxPlanBody {
		writeJSONError(w, http.StatusRequestEntityTooLarge, errors.New("request body too large"))
		return
	}
	var req planRequest
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeBadRequest(w, fmt.Errorf("decode request: %w", err))
		return
	}
	if req.ChainID == 0 {
		req.ChainID = h.cfg.ChainID
	}

	current := safe.OwnerSet{Owners: req.Owners, Threshold: req.Threshold}
	ops, err := reconcile.Reconcile(current, req.TargetOwners, req.TargetThreshold)
	if err != nil {
		writeRecoveryError(w, err)
		return
	}
	txs, err := reconcile.Transactions(wallet, ops)
	if err != nil {
		writeRecoveryError(w, err)
		return
	}

	result := planResult{
		Wallet: wallet,
		Ops:    reconcile.Plan(ops),
		Calls:  make([]callResult, 0, len(txs)),
	}
	for _, tx := range txs {
		result.Calls = append(result.Calls, callResult{To: tx.To, Value: tx.ValueOrZero().String(), Data: tx.Data, Operation: tx.Operation})
	}
	simulated, err := reconcile.Simulate(current, ops)
	if err != nil {
		result.SimulationError = err.Error()
	} else {
		result.Result = &ownerSetResult{Owners: simulated.Owners, Threshold: simulated.Threshold}
	}
	if len(txs) > 1 {
		if batcher, ok := h.cfg.Registry.Lookup(req.ChainID, req.Version); ok {
			data, err := multisend.Encode(txs)
			if err != nil {
				writeRecoveryError(w, err)
				return
			}
			result.Batch = &callResult{To: batcher, Value: "0", Data: data, Operation: safe.DelegateCall}
		}
	}
	writeJSON(w, http.StatusOK, result)
}
