package coinledger

import (
	"errors"

	"github.com/mstrand/coinledger/chain"
)

// Error kinds surfaced by the engine. Every failure is fatal: a tax
// computation must be auditable and reproducible, never fuzzy. Errors are
// wrapped with file:row provenance where it exists, so callers can test the
// kind with errors.Is and still read the causal chain.
var (
	ErrParse               = errors.New("parse error")
	ErrUnknownAsset        = errors.New("unknown asset")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrUnclassified        = errors.New("unclassified transaction")
	ErrNoRate              = errors.New("no exchange rate available")
	ErrCheckpointVersion   = errors.New("checkpoint version mismatch")
	ErrBootstrapIncomplete = errors.New("bootstrap incomplete")

	// ErrBackend lives in chain, where the clients raise it; re-exported
	// here so engine callers match every kind from one package.
	ErrBackend = chain.ErrBackend
)
