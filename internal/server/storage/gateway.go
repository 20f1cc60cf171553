// Package storage implements the content-addressed, pin-based blob store the
// file workflows put ciphertext into.
//
// Backends report failures with the common error kinds: talking to the store
// failed (common.ErrorStorageUnavailable) or the content address is unknown
// (common.ErrorNotFound). Decorators add retries, per-attempt timeouts,
// tracing and a read-through cache on top of any backend.
package storage

import (
	"context"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("securedocs/storage")

// Pin is what the store hands back for a stored blob.
type Pin struct {
	// ContentAddress is derived from the stored bytes; equal bytes give equal
	// addresses.
	ContentAddress string
	// PinID identifies this particular claim on the content and is what
	// Unpin takes. Several pins may share one content address.
	PinID string
}

// Gateway is the put/get/unpin capability of the content store.
type Gateway interface {
	// Put stores data and registers a new pin on it. name is advisory
	// metadata for the backend.
	Put(ctx context.Context, data []byte, name string) (Pin, error)
	// Get returns the full payload stored at contentAddress.
	Get(ctx context.Context, contentAddress string) ([]byte, error)
	// Unpin releases one pin. Releasing a pin that is already gone succeeds.
	// Content still pinned by someone else is left untouched.
	Unpin(ctx context.Context, pinID string) error
}
