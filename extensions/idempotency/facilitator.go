package idempotency

import (
	"context"
	"time"

	x402gate "github.com/x402gate/x402gate"
)

// FacilitatorClient wraps an x402gate.FacilitatorClient with settlement
// idempotency.
//
// It intercepts Settle() calls to check for cached results before
// proceeding with blockchain transactions. This protects a facilitator
// against a client retrying the same X-PAYMENT payload while the original
// settlement is still in flight or already confirmed — spec.md §4.2 is
// explicit that the core itself must not assume at-most-one concurrent
// settle per payer; this is the opt-in facilitator-side wrapper an
// operator installs if they want that guarantee anyway.
//
// Verify and GetSupported are read-only and delegate straight through.
type FacilitatorClient struct {
	inner        x402gate.FacilitatorClient
	store        SettlementStore
	keyGenerator KeyGenerator
}

// Wrap creates a FacilitatorClient decorator around inner.
//
// Default configuration:
//   - InMemoryStore with 10-minute TTL
//   - SHA256 key generator
//
// Use functional options to customize:
//
//	facilitator := idempotency.Wrap(baseClient,
//	    idempotency.WithTTL(30 * time.Minute),
//	)
//
//	// Or with a custom store
//	facilitator := idempotency.Wrap(baseClient,
//	    idempotency.WithStore(myRedisStore),
//	)
func Wrap(inner x402gate.FacilitatorClient, opts ...Option) *FacilitatorClient {
	cfg := &config{
		ttl:          10 * time.Minute,
		keyGenerator: DefaultKeyGenerator,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	store := cfg.store
	if store == nil {
		store = NewInMemoryStore(cfg.ttl)
	}

	return &FacilitatorClient{
		inner:        inner,
		store:        store,
		keyGenerator: cfg.keyGenerator,
	}
}

// Settle settles a payment with idempotency protection.
//
// Before delegating to the wrapped facilitator, it:
//  1. Generates a deduplication key from the payment payload bytes
//  2. Checks if a cached result exists (returns immediately if so)
//  3. Waits if another request is already settling this same payload
//  4. Caches successful results for future requests
//
// Failed settlements are NOT cached, allowing legitimate retries.
func (f *FacilitatorClient) Settle(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (x402gate.SettleResponse, error) {
	cacheKey := f.keyGenerator(payloadBytes)

	status, result, done := f.store.CheckAndMark(cacheKey)

	switch status {
	case StatusCached:
		return *result, nil

	case StatusInFlight:
		result, err := f.store.WaitForResult(ctx, cacheKey, done)
		if err != nil {
			return x402gate.SettleResponse{}, x402gate.NewPaymentError(
				x402gate.ErrCodeSettlementFailed, "context cancelled waiting for in-flight settlement", nil)
		}
		if result != nil {
			return *result, nil
		}
		// In-flight request failed; retry, which claims a fresh in-flight slot.
		return f.Settle(ctx, payloadBytes, requirementsBytes)

	case StatusNotFound:
		// This request owns the in-flight slot, proceed with settlement.
	}

	settleResult, settleErr := f.inner.Settle(ctx, payloadBytes, requirementsBytes)
	if settleErr != nil {
		f.store.Fail(cacheKey, done)
		return x402gate.SettleResponse{}, settleErr
	}
	if !settleResult.Success {
		f.store.Fail(cacheKey, done)
		return settleResult, nil
	}

	f.store.Complete(cacheKey, &settleResult, done)
	return settleResult, nil
}

// Verify delegates to the wrapped facilitator. Verification is read-only
// and needs no idempotency protection.
func (f *FacilitatorClient) Verify(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (x402gate.VerifyResponse, error) {
	return f.inner.Verify(ctx, payloadBytes, requirementsBytes)
}

// GetSupported delegates to the wrapped facilitator.
func (f *FacilitatorClient) GetSupported(ctx context.Context) (x402gate.SupportedResponse, error) {
	return f.inner.GetSupported(ctx)
}

// Inner returns the wrapped facilitator client for direct access.
func (f *FacilitatorClient) Inner() x402gate.FacilitatorClient {
	return f.inner
}

var _ x402gate.FacilitatorClient = (*FacilitatorClient)(nil)
