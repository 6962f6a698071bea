// Package dedup guards webhook processing against at-least-once provider
// deliveries and against double-sending the same outbound reply.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
)

// Cache is the shared short-lived memory consulted before processing an
// inbound event or transmitting an outbound text.
type Cache interface {
	// SeenInbound reports whether the provider message id was already
	// accepted, inserting it atomically when absent. An empty id is never
	// a duplicate.
	SeenInbound(ctx context.Context, id string) (bool, error)

	// MayResend reports whether the given content may be sent to the phone
	// now. It returns false when an identical payload went to the same
	// number within the suppression window, and records the fingerprint
	// otherwise.
	MayResend(ctx context.Context, phone, content string) (bool, error)

	// Forget removes an inbound id recorded by SeenInbound. Called when
	// processing fails after the id was claimed, so a provider redelivery
	// is not silently suppressed.
	Forget(ctx context.Context, id string) error
}

// Fingerprint hashes outbound content for the resend check.
func Fingerprint(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
