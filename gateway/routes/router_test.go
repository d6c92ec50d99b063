package routes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"saferecovery/gateway/middleware"
	"saferecovery/safe"
	"saferecovery/safe/delay"
)

var (
	wallet  = common.HexToAddress("0x5afe00000000000000000000000000000000beef")
	module  = common.HexToAddress("0x00000000000000000000000000000000000de1a7")
	ownerA  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	ownerB1 = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	ownerB2 = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

type stubReconstructor struct {
	queue *delay.Queue
	err   error
	last  delay.Request
}

func (s *stubReconstructor) Reconstruct(_ context.Context, req delay.Request) (*delay.Queue, error) {
	s.last = req
	return s.queue, s.err
}

type stubSnapshots []WalletSnapshot

func (s stubSnapshots) Snapshots() []WalletSnapshot { return s }

func newTestRouter(t *testing.T, cfg Config) http.Handler {
	t.Helper()
	if cfg.ChainID == 0 {
		cfg.ChainID = 1
	}
	cfg.IndexerURL = "https://indexer.example.org"
	handler, err := New(cfg)
	require.NoError(t, err)
	return handler
}

func sampleQueue() *delay.Queue {
	expires := int64(1_700_090_000_000)
	return &delay.Queue{
		ModuleState: delay.ModuleState{TxCooldown: 3600, TxExpiration: 86400, TxNonce: 2, QueueNonce: 4},
		Module:      module,
		Wallet:      wallet,
		Items: []delay.QueueItem{
			{Nonce: 2, To: wallet, Value: new(big.Int), Timestamp: 1_700_000_000_000, ValidFrom: 1_700_003_600_000, ExpiresAt: &expires, Reason: delay.ReasonDirectToWallet},
			{Nonce: 3, To: ownerA, Value: new(big.Int).Exp(big.NewInt(10), big.NewInt(30), nil), IsMalicious: true, Reason: delay.ReasonDirectToForeign},
		},
	}
}

func TestRecoveryQueueEndpoint(t *testing.T) {
	stub := &stubReconstructor{queue: sampleQueue()}
	router := newTestRouter(t, Config{Reconstructor: stub})

	path := fmt.Sprintf("/v1/wallets/%s/recovery-queue?module=%s&version=1.3.0", wallet.Hex(), module.Hex())
	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, path, nil))
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())

	require.Equal(t, delay.Request{
		Module: module, Wallet: wallet, ChainID: 1, WalletVersion: "1.3.0", IndexerURL: "https://indexer.example.org",
	}, stub.last)

	var body struct {
		Recoverers     []string `json:"recoverers"`
		TxNonce        uint64   `json:"txNonce"`
		MaliciousCount int      `json:"maliciousCount"`
		Queue          []struct {
			Nonce       uint64 `json:"nonce"`
			Value       string `json:"value"`
			ExpiresAt   *int64 `json:"expiresAt"`
			IsMalicious bool   `json:"isMalicious"`
			Reason      string `json:"reason"`
		} `json:"queue"`
	}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	require.NotNil(t, body.Recoverers)
	require.Equal(t, uint64(2), body.TxNonce)
	require.Equal(t, 1, body.MaliciousCount)
	require.Len(t, body.Queue, 2)
	require.NotNil(t, body.Queue[0].ExpiresAt)
	require.Nil(t, body.Queue[1].ExpiresAt)
	require.Equal(t, "1000000000000000000000000000000", body.Queue[1].Value)
	require.Equal(t, string(delay.ReasonDirectToForeign), body.Queue[1].Reason)
}

func TestRecoveryQueueValidation(t *testing.T) {
	router := newTestRouter(t, Config{Reconstructor: &stubReconstructor{queue: sampleQueue()}})
	cases := map[string]string{
		"bad wallet":     "/v1/wallets/0x1234/recovery-queue?module=" + module.Hex() + "&version=1.3.0",
		"missing module": "/v1/wallets/" + wallet.Hex() + "/recovery-queue?version=1.3.0",
		"other chain":    "/v1/wallets/" + wallet.Hex() + "/recovery-queue?module=" + module.Hex() + "&version=1.3.0&chain_id=10",
		"bad chain":      "/v1/wallets/" + wallet.Hex() + "/recovery-queue?module=" + module.Hex() + "&version=1.3.0&chain_id=one",
		"no version":     "/v1/wallets/" + wallet.Hex() + "/recovery-queue?module=" + module.Hex(),
	}
	for name, path := range cases {
		t.Run(name, func(t *testing.T) {
			res := httptest.NewRecorder()
			router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, path, nil))
			require.Equal(t, http.StatusBadRequest, res.Code, res.Body.String())
		})
	}
}

func TestRecoveryQueueErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{name: "chain read", err: &delay.ChainReadError{Op: "txNonce", Err: errors.New("eof")}, status: http.StatusBadGateway},
		{name: "indexer", err: &delay.IndexerError{URL: "https://indexer", Status: 500}, status: http.StatusServiceUnavailable},
		{name: "module state", err: fmt.Errorf("%w: txNonce above queueNonce", delay.ErrInvalidModuleState), status: http.StatusBadGateway},
		{name: "timeout", err: context.DeadlineExceeded, status: http.StatusGatewayTimeout},
		{name: "unexpected", err: errors.New("boom"), status: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newTestRouter(t, Config{Reconstructor: &stubReconstructor{err: tc.err}})
			path := fmt.Sprintf("/v1/wallets/%s/recovery-queue?module=%s&version=1.4.1", wallet.Hex(), module.Hex())
			res := httptest.NewRecorder()
			router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, path, nil))
			require.Equal(t, tc.status, res.Code)
			require.Contains(t, res.Body.String(), `"error"`)
		})
	}
}

func TestOwnerPlanEndpoint(t *testing.T) {
	router := newTestRouter(t, Config{Reconstructor: &stubReconstructor{}})
	body := fmt.Sprintf(`{"owners":[%q],"threshold":1,"target_owners":[%q,%q],"target_threshold":2,"version":"1.3.0"}`,
		ownerA.Hex(), ownerB1.Hex(), ownerB2.Hex())
	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/wallets/"+wallet.Hex()+"/owner-plan", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())

	var result struct {
		Ops []struct {
			Method    string `json:"method"`
			Threshold string `json:"threshold"`
		} `json:"ops"`
		Calls []struct {
			To        common.Address `json:"to"`
			Operation safe.Operation `json:"operation"`
		} `json:"calls"`
		Result *struct {
			Owners    []common.Address `json:"owners"`
			Threshold uint64           `json:"threshold"`
		} `json:"result"`
		Batch *struct {
			To        common.Address `json:"to"`
			Data      string         `json:"data"`
			Operation safe.Operation `json:"operation"`
		} `json:"batch"`
	}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &result))
	require.Len(t, result.Ops, 2)
	require.Equal(t, "swapOwner", result.Ops[0].Method)
	require.Equal(t, "addOwnerWithThreshold", result.Ops[1].Method)
	require.Equal(t, "2", result.Ops[1].Threshold)
	for _, call := range result.Calls {
		require.Equal(t, wallet, call.To)
		require.Equal(t, safe.Call, call.Operation)
	}
	require.NotNil(t, result.Result)
	require.ElementsMatch(t, []common.Address{ownerB1, ownerB2}, result.Result.Owners)
	require.Equal(t, uint64(2), result.Result.Threshold)
	require.NotNil(t, result.Batch)
	require.Equal(t, common.HexToAddress("0x40A2aCCbd92BCA938b02010E17A5b8929b49130D"), result.Batch.To)
	require.Equal(t, safe.DelegateCall, result.Batch.Operation)
	require.True(t, strings.HasPrefix(result.Batch.Data, "0x8d80ff0a"))
}

func TestOwnerPlanRejectsInvalidInput(t *testing.T) {
	router := newTestRouter(t, Config{Reconstructor: &stubReconstructor{}})
	cases := map[string]string{
		"malformed json":    `{"owners":`,
		"unknown field":     `{"owners":[],"extra":1}`,
		"bad address":       `{"owners":["0x12"],"threshold":1,"target_owners":[],"target_threshold":1}`,
		"threshold too big": fmt.Sprintf(`{"owners":[%q],"threshold":1,"target_owners":[%q],"target_threshold":2}`, ownerA.Hex(), ownerB1.Hex()),
		"duplicate target":  fmt.Sprintf(`{"owners":[%q],"threshold":1,"target_owners":[%q,%q],"target_threshold":1}`, ownerA.Hex(), ownerB1.Hex(), ownerB1.Hex()),
		"empty current":     fmt.Sprintf(`{"owners":[],"threshold":1,"target_owners":[%q],"target_threshold":1}`, ownerB1.Hex()),
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			res := httptest.NewRecorder()
			router.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/wallets/"+wallet.Hex()+"/owner-plan", strings.NewReader(body)))
			require.Equal(t, http.StatusBadRequest, res.Code, res.Body.String())
		})
	}
}

func TestOwnerPlanSkipsBatchForUnknownChain(t *testing.T) {
	router := newTestRouter(t, Config{Reconstructor: &stubReconstructor{}})
	body := fmt.Sprintf(`{"owners":[%q],"threshold":1,"target_owners":[%q,%q],"target_threshold":2,"chain_id":999999999,"version":"1.3.0"}`,
		ownerA.Hex(), ownerB1.Hex(), ownerB2.Hex())
	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/wallets/"+wallet.Hex()+"/owner-plan", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, res.Code)
	require.NotContains(t, res.Body.String(), `"batch"`)
}

func TestListWallets(t *testing.T) {
	snapshots := stubSnapshots{
		{Wallet: wallet, Module: module, ChainID: 1, Version: "1.3.0", SweepID: "sweep-1", CheckedAt: time.Unix(1_700_000_000, 0), Queue: sampleQueue()},
		{Wallet: ownerA, Module: module, ChainID: 1, Version: "1.4.1", Err: errors.New("rpc unavailable")},
	}
	router := newTestRouter(t, Config{Reconstructor: &stubReconstructor{}, Snapshots: snapshots})

	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/wallets", nil))
	require.Equal(t, http.StatusOK, res.Code)

	var body struct {
		Wallets []struct {
			Wallet    common.Address `json:"wallet"`
			SweepID   string         `json:"sweepId"`
			Pending   int            `json:"pending"`
			Malicious int            `json:"malicious"`
			Error     string         `json:"error"`
		} `json:"wallets"`
	}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	require.Len(t, body.Wallets, 2)
	require.Equal(t, 2, body.Wallets[0].Pending)
	require.Equal(t, 1, body.Wallets[0].Malicious)
	require.Equal(t, "sweep-1", body.Wallets[0].SweepID)
	require.Equal(t, "rpc unavailable", body.Wallets[1].Error)
}

func TestRoutesRequireScopes(t *testing.T) {
	auth := middleware.NewAuthenticator(middleware.AuthConfig{Enabled: true, HMACSecret: "secret"}, nil)
	router := newTestRouter(t, Config{Reconstructor: &stubReconstructor{}, Authenticator: auth})

	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/wallets", nil))
	require.Equal(t, http.StatusUnauthorized, res.Code)

	res = httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, res.Code)
}
