package delay

import (
	"errors"
	"fmt"
)

var (
	// ErrChainRead marks failures of any RPC read.
	ErrChainRead = errors.New("delay: chain read failed")
	// ErrIndexerUnavailable marks failures of the wallet creation lookup.
	ErrIndexerUnavailable = errors.New("delay: indexer unavailable")
	// ErrInvalidModuleState is returned when txNonce exceeds queueNonce.
	ErrInvalidModuleState = errors.New("delay: invalid module state")
)

// ChainReadError wraps the failing RPC read named by Op.
type ChainReadError struct {
	Op  string
	Err error
}

func (e *ChainReadError) Error() string {
	return fmt.Sprintf("delay: chain read %s: %v", e.Op, e.Err)
}

func (e *ChainReadError) Unwrap() error { return e.Err }

// Is matches ErrChainRead.
func (e *ChainReadError) Is(target error) bool { return target == ErrChainRead }

// Kind returns the metric label for the error.
func (e *ChainReadError) Kind() string { return "chain_read" }

// IndexerError reports a creation lookup that did not yield a usable answer.
// Status is zero when the request never produced a response.
type IndexerError struct {
	URL    string
	Status int
	Err    error
}

func (e *IndexerError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("delay: indexer %s returned status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("delay: indexer %s: %v", e.URL, e.Err)
}

func (e *IndexerError) Unwrap() error { return e.Err }

// Is matches ErrIndexerUnavailable.
func (e *IndexerError) Is(target error) bool { return target == ErrIndexerUnavailable }

// Kind returns the metric label for the error.
func (e *IndexerError) Kind() string { return "indexer" }

func chainRead(op string, err error) error {
	if err == nil {
		return nil
	}
	var existing *ChainReadError
	if errors.As(err, &existing) {
		return err
	}
	return &ChainReadError{Op: op, Err: err}
}
