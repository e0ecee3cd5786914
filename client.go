package x402gate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// PaymentRequirementsSelector chooses which of several acceptable payment
// options to use. The default picks the first option left after policies
// run, matching the resource server's accepts-array ordering.
type PaymentRequirementsSelector func(requirements []PaymentRequirements) PaymentRequirements

// PaymentPolicy filters or reorders payment requirements. Policies run in
// registration order; each sees the previous policy's output, so the last
// registered policy has the final say over what reaches the selector.
type PaymentPolicy func(requirements []PaymentRequirements) []PaymentRequirements

// ClientCore drives the client side of a payment: given a 402 response it
// selects an acceptable requirement, signs a payload for it, and exposes
// lifecycle hooks around that signing step.
type ClientCore struct {
	mu sync.RWMutex

	schemes *ClientSchemeRegistry

	selector PaymentRequirementsSelector
	policies []PaymentPolicy

	beforeHooks  []BeforePaymentCreationHook
	afterHooks   []AfterPaymentCreationHook
	failureHooks []PaymentCreationFailureHook

	logger *slog.Logger
}

// ClientOption configures a ClientCore at construction time.
type ClientOption func(*ClientCore)

func WithPaymentSelector(selector PaymentRequirementsSelector) ClientOption {
	return func(c *ClientCore) { c.selector = selector }
}

func WithPolicy(policy PaymentPolicy) ClientOption {
	return func(c *ClientCore) { c.policies = append(c.policies, policy) }
}

func WithClientScheme(network NetworkID, handler SchemeClientHandler) ClientOption {
	return func(c *ClientCore) { c.schemes.Register(network, handler) }
}

func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *ClientCore) { c.logger = logger }
}

// NewClientCore builds a ClientCore. The default selector picks the first
// surviving requirement; register a custom one with WithPaymentSelector to
// prefer, say, the cheapest asset.
func NewClientCore(opts ...ClientOption) *ClientCore {
	c := &ClientCore{
		schemes:  NewClientSchemeRegistry(),
		selector: firstRequirement,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func firstRequirement(requirements []PaymentRequirements) PaymentRequirements {
	return requirements[0]
}

// RegisterScheme registers a signing handler for (scheme, network).
func (c *ClientCore) RegisterScheme(network NetworkID, handler SchemeClientHandler) *ClientCore {
	c.schemes.Register(network, handler)
	return c
}

// RegisterPolicy adds a policy to the end of the policy chain.
func (c *ClientCore) RegisterPolicy(policy PaymentPolicy) *ClientCore {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policies = append(c.policies, policy)
	return c
}

func (c *ClientCore) OnBeforePaymentCreation(hook BeforePaymentCreationHook) *ClientCore {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.beforeHooks = append(c.beforeHooks, hook)
	return c
}

func (c *ClientCore) OnAfterPaymentCreation(hook AfterPaymentCreationHook) *ClientCore {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.afterHooks = append(c.afterHooks, hook)
	return c
}

func (c *ClientCore) OnPaymentCreationFailure(hook PaymentCreationFailureHook) *ClientCore {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failureHooks = append(c.failureHooks, hook)
	return c
}

// SelectPaymentRequirements runs the three-step selection algorithm: (1)
// drop requirements with no registered (scheme, network) handler, (2) run
// policies in registration order, (3) hand the survivors to the selector.
// Each stage that empties the list fails fast with ErrCodeNoMatchingRequirement
// rather than calling the selector on nothing.
func (c *ClientCore) SelectPaymentRequirements(requirements []PaymentRequirements) (PaymentRequirements, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	supported := make([]PaymentRequirements, 0, len(requirements))
	for _, req := range requirements {
		if _, ok := c.schemes.Resolve(req.Scheme, req.Network); ok {
			supported = append(supported, req)
		}
	}
	if len(supported) == 0 {
		return PaymentRequirements{}, NewPaymentError(ErrCodeNoMatchingRequirement,
			"no registered scheme can satisfy any offered payment requirement", nil)
	}

	filtered := supported
	for _, policy := range c.policies {
		filtered = policy(filtered)
		if len(filtered) == 0 {
			return PaymentRequirements{}, NewPaymentError(ErrCodeNoMatchingRequirement,
				"all payment requirements were filtered out by policy", nil)
		}
	}

	return c.selector(filtered), nil
}

// CanPay reports whether requirements contains anything this client is
// able to pay with, without actually creating a payload.
func (c *ClientCore) CanPay(requirements []PaymentRequirements) bool {
	_, err := c.SelectPaymentRequirements(requirements)
	return err == nil
}

// CreatePaymentPayload signs a payload for the given (already-selected)
// requirements and wraps it with accepted/resource/extensions. The scheme
// handler is given the requirements as JSON, and the partial payload it
// returns is decoded here.
func (c *ClientCore) CreatePaymentPayload(ctx context.Context, selected PaymentRequirements, resource *ResourceInfo, extensions map[string]interface{}) (PaymentPayload, error) {
	c.mu.RLock()
	handler, ok := c.schemes.Resolve(selected.Scheme, selected.Network)
	c.mu.RUnlock()
	if !ok {
		return PaymentPayload{}, NewPaymentError(ErrCodeUnsupportedScheme,
			fmt.Sprintf("no client registered for scheme %s on network %s", selected.Scheme, selected.Network), nil)
	}

	requirementsBytes, err := json.Marshal(selected)
	if err != nil {
		return PaymentPayload{}, fmt.Errorf("marshal requirements: %w", err)
	}

	partialBytes, err := handler.CreatePaymentPayload(ctx, ProtocolVersion, requirementsBytes)
	if err != nil {
		return PaymentPayload{}, fmt.Errorf("create payment payload: %w", err)
	}

	var partial PartialPaymentPayload
	if err := json.Unmarshal(partialBytes, &partial); err != nil {
		return PaymentPayload{}, fmt.Errorf("unmarshal partial payload: %w", err)
	}

	return PaymentPayload{
		X402Version: partial.X402Version,
		Payload:     partial.Payload,
		Accepted:    selected,
		Resource:    resource,
		Extensions:  extensions,
	}, nil
}

// CreatePaymentForRequired runs the full client-side payment loop against
// a 402 response: select, run before-hooks, sign, run after/failure hooks.
// A before-hook that returns Abort short-circuits signing; a failure-hook
// that returns Recovered suppresses the error (it cannot supply a
// substitute payload — only the handler that actually signs can produce
// one, so recovery means "treat this as non-fatal for the caller", not
// "here is a payload after all").
func (c *ClientCore) CreatePaymentForRequired(ctx context.Context, required PaymentRequired) (PaymentPayload, error) {
	selected, err := c.SelectPaymentRequirements(required.Accepts)
	if err != nil {
		return PaymentPayload{}, err
	}

	hookCtx := PaymentCreationContext{Ctx: ctx, PaymentRequired: required, SelectedRequirements: selected}

	c.mu.RLock()
	beforeHooks := append([]BeforePaymentCreationHook(nil), c.beforeHooks...)
	c.mu.RUnlock()

	for _, hook := range beforeHooks {
		if result := hook(hookCtx); result.Abort {
			return PaymentPayload{}, NewPaymentError(ErrCodePaymentHookError,
				fmt.Sprintf("payment creation aborted: %s", result.Reason), nil)
		}
	}

	var resource *ResourceInfo
	if required.Resource != nil {
		resource = required.Resource
	}

	payload, err := c.CreatePaymentPayload(ctx, selected, resource, required.Extensions)
	if err != nil {
		c.mu.RLock()
		failureHooks := append([]PaymentCreationFailureHook(nil), c.failureHooks...)
		c.mu.RUnlock()

		for _, hook := range failureHooks {
			if result := hook(PaymentCreationFailureContext{Ctx: ctx, SelectedRequirements: selected, Err: err}); result.Recovered {
				c.logger.WarnContext(ctx, "payment creation failure recovered by hook", "scheme", selected.Scheme, "network", selected.Network, "reason", result.Reason)
				return PaymentPayload{}, nil
			}
		}
		return PaymentPayload{}, err
	}

	c.mu.RLock()
	afterHooks := append([]AfterPaymentCreationHook(nil), c.afterHooks...)
	c.mu.RUnlock()
	for _, hook := range afterHooks {
		hook(PaymentCreatedContext{Ctx: ctx, SelectedRequirements: selected, Payload: payload})
	}

	return payload, nil
}
