package delay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/singleflight"

	"saferecovery/observability"
)

const (
	creationPathFormat     = "/api/v1/safes/%s/creation/"
	defaultIndexerTimeout  = 15 * time.Second
	defaultCreationTimeout = 30 * time.Second
	maxCreationBody        = 1 << 20
)

var sharedCreations = NewCreationLookup(nil)

// SharedCreationLookup returns the process-wide creation receipt cache.
func SharedCreationLookup() *CreationLookup {
	return sharedCreations
}

type creationResponse struct {
	TransactionHash common.Hash `json:"transactionHash"`
}

// CreationLookup resolves the receipt of the transaction that deployed a
// wallet, as reported by a transaction indexer. Results are cached per
// (indexer, wallet) for the life of the process and concurrent lookups for
// the same key share a single request.
type CreationLookup struct {
	client  *http.Client
	timeout time.Duration
	group   singleflight.Group
	metrics *observability.RecoveryMetrics

	mu    sync.RWMutex
	cache map[string]*Receipt
}

// NewCreationLookup builds a lookup using client, or an instrumented default
// client when nil.
func NewCreationLookup(client *http.Client) *CreationLookup {
	if client == nil {
		client = &http.Client{
			Timeout:   defaultIndexerTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &CreationLookup{
		client:  client,
		timeout: defaultCreationTimeout,
		metrics: observability.Recovery(),
		cache:   make(map[string]*Receipt),
	}
}

func creationKey(indexerURL string, wallet common.Address) string {
	return normalizeIndexerURL(indexerURL) + "|" + wallet.Hex()
}

func normalizeIndexerURL(raw string) string {
	return strings.TrimRight(strings.TrimSpace(raw), "/")
}

// Receipt returns the creation receipt of wallet. Receipts are resolved with
// reader once the indexer names the creation transaction.
func (c *CreationLookup) Receipt(ctx context.Context, indexerURL string, wallet common.Address, reader ReceiptReader) (*Receipt, error) {
	key := creationKey(indexerURL, wallet)

	c.mu.RLock()
	cached, ok := c.cache[key]
	c.mu.RUnlock()
	if ok {
		c.metrics.RecordCreationLookup("hit")
		return cached, nil
	}

	// The flight outlives any single caller; waiters give up on their own ctx.
	flightCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(flightCtx, c.timeout)
		defer cancel()
		receipt, err := c.fetch(fetchCtx, indexerURL, wallet, reader)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.cache[key] = receipt
		c.mu.Unlock()
		return receipt, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			c.metrics.RecordCreationLookup("shared")
		} else {
			c.metrics.RecordCreationLookup("miss")
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Receipt), nil
	}
}

func (c *CreationLookup) fetch(ctx context.Context, indexerURL string, wallet common.Address, reader ReceiptReader) (*Receipt, error) {
	base := normalizeIndexerURL(indexerURL)
	if base == "" {
		return nil, &IndexerError{URL: indexerURL, Err: errors.New("indexer url required")}
	}
	endpoint := base + fmt.Sprintf(creationPathFormat, wallet.Hex())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &IndexerError{URL: endpoint, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &IndexerError{URL: endpoint, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxCreationBody))
		return nil, &IndexerError{URL: endpoint, Status: resp.StatusCode}
	}

	var body creationResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxCreationBody)).Decode(&body); err != nil {
		return nil, &IndexerError{URL: endpoint, Err: fmt.Errorf("decode creation: %w", err)}
	}
	if body.TransactionHash == (common.Hash{}) {
		return nil, &IndexerError{URL: endpoint, Err: errors.New("creation transaction hash missing")}
	}

	receipt, err := reader.TransactionReceipt(ctx, body.TransactionHash)
	if err != nil {
		return nil, chainRead("creation receipt", err)
	}
	if receipt == nil {
		return nil, chainRead("creation receipt", fmt.Errorf("receipt %s not found", body.TransactionHash.Hex()))
	}
	return receipt, nil
}
