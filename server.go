package x402gate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ProcessResult is the outcome of running a request through the full gate
// pipeline: either a 402 is owed (RequiresPayment), or the payment was
// verified and the caller should proceed to execute the downstream
// handler and later call ProcessSettlement.
type ProcessResult struct {
	RequiresPayment bool
	PaymentRequired *PaymentRequired
	Payload         PaymentPayload
	Requirements    PaymentRequirements
	VerifyResult    VerifyResponse
}

// supportedCache holds each facilitator's capabilities as fetched by
// Initialize; an entry reads as missing once ttl has passed. Only
// Initialize calls GetSupported, so an expired entry stays missing until
// Initialize runs again.
type supportedCache struct {
	mu     sync.RWMutex
	data   map[string]SupportedResponse
	expiry map[string]time.Time
	ttl    time.Duration
}

func newSupportedCache(ttl time.Duration) *supportedCache {
	return &supportedCache{data: make(map[string]SupportedResponse), expiry: make(map[string]time.Time), ttl: ttl}
}

func (c *supportedCache) set(key string, resp SupportedResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = resp
	c.expiry[key] = time.Now().Add(c.ttl)
}

func (c *supportedCache) get(key string) (SupportedResponse, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	resp, ok := c.data[key]
	if !ok {
		return SupportedResponse{}, false
	}
	if time.Now().After(c.expiry[key]) {
		return SupportedResponse{}, false
	}
	return resp, true
}

// ResourceServerCore is the transport-agnostic gate: it builds payment
// requirements for a route, decodes and matches an offered payload, and
// drives verify/settle against whichever facilitator supports the
// chosen (scheme, network). It never itself speaks HTTP — see httpgate
// for that.
type ResourceServerCore struct {
	mu sync.RWMutex

	schemes    *ServerSchemeRegistry
	extensions *ExtensionRegistry

	facilitators []FacilitatorClient
	// facilitatorIndex[scheme][network] resolves to the first-registered
	// facilitator advertising that capability; earlier registrations win
	// ties, mirroring the teacher's "first match wins" precedence.
	facilitatorIndex map[string]map[NetworkID]FacilitatorClient
	supported        *supportedCache

	beforeVerifyHooks  []BeforeVerifyHook
	afterVerifyHooks   []AfterVerifyHook
	verifyFailureHooks []VerifyFailureHook
	beforeSettleHooks  []BeforeSettleHook
	afterSettleHooks   []AfterSettleHook
	settleFailureHooks []SettleFailureHook

	logger *slog.Logger
}

// ResourceServerOption configures a ResourceServerCore at construction time.
type ResourceServerOption func(*ResourceServerCore)

func WithFacilitatorClient(client FacilitatorClient) ResourceServerOption {
	return func(s *ResourceServerCore) { s.facilitators = append(s.facilitators, client) }
}

func WithServerScheme(network NetworkID, handler SchemeServerHandler) ResourceServerOption {
	return func(s *ResourceServerCore) { s.schemes.Register(network, handler) }
}

func WithSupportedCacheTTL(ttl time.Duration) ResourceServerOption {
	return func(s *ResourceServerCore) { s.supported.ttl = ttl }
}

func WithServerLogger(logger *slog.Logger) ResourceServerOption {
	return func(s *ResourceServerCore) { s.logger = logger }
}

// NewResourceServerCore builds a ResourceServerCore. A server with zero
// registered facilitators is valid (useful in tests that exercise only
// requirements-building) but will fail every verify/settle call.
func NewResourceServerCore(opts ...ResourceServerOption) *ResourceServerCore {
	s := &ResourceServerCore{
		schemes:          NewServerSchemeRegistry(),
		extensions:       NewExtensionRegistry(),
		facilitatorIndex: make(map[string]map[NetworkID]FacilitatorClient),
		supported:        newSupportedCache(5 * time.Minute),
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if len(s.facilitators) == 0 {
		s.logger.Warn("resource server constructed with no facilitator clients; verify/settle will fail")
	}
	return s
}

// Initialize fetches and caches each facilitator's supported kinds and
// builds the scheme/network -> facilitator index. Must be called once
// before serving traffic; safe to call again to refresh the cache.
func (s *ResourceServerCore) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.facilitatorIndex = make(map[string]map[NetworkID]FacilitatorClient)

	for i, client := range s.facilitators {
		key := fmt.Sprintf("facilitator_%d", i)
		resp, err := client.GetSupported(ctx)
		if err != nil {
			s.logger.ErrorContext(ctx, "facilitator capability fetch failed", "facilitator", key, "err", err)
			continue
		}
		s.supported.set(key, resp)

		for _, kind := range resp.Kinds {
			networks, ok := s.facilitatorIndex[kind.Scheme]
			if !ok {
				networks = make(map[NetworkID]FacilitatorClient)
				s.facilitatorIndex[kind.Scheme] = networks
			}
			if _, exists := networks[kind.Network]; !exists {
				networks[kind.Network] = client // earlier facilitators take precedence
			}
		}
	}
	return nil
}

func (s *ResourceServerCore) RegisterScheme(network NetworkID, handler SchemeServerHandler) *ResourceServerCore {
	s.schemes.Register(network, handler)
	return s
}

func (s *ResourceServerCore) RegisterExtension(spec ExtensionSpec) *ResourceServerCore {
	s.extensions.Register(spec)
	return s
}

func (s *ResourceServerCore) OnBeforeVerify(hook BeforeVerifyHook) *ResourceServerCore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beforeVerifyHooks = append(s.beforeVerifyHooks, hook)
	return s
}

func (s *ResourceServerCore) OnAfterVerify(hook AfterVerifyHook) *ResourceServerCore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.afterVerifyHooks = append(s.afterVerifyHooks, hook)
	return s
}

func (s *ResourceServerCore) OnVerifyFailure(hook VerifyFailureHook) *ResourceServerCore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifyFailureHooks = append(s.verifyFailureHooks, hook)
	return s
}

func (s *ResourceServerCore) OnBeforeSettle(hook BeforeSettleHook) *ResourceServerCore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beforeSettleHooks = append(s.beforeSettleHooks, hook)
	return s
}

func (s *ResourceServerCore) OnAfterSettle(hook AfterSettleHook) *ResourceServerCore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.afterSettleHooks = append(s.afterSettleHooks, hook)
	return s
}

func (s *ResourceServerCore) OnSettleFailure(hook SettleFailureHook) *ResourceServerCore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settleFailureHooks = append(s.settleFailureHooks, hook)
	return s
}

// findSupportedKind finds a cached SupportedKind for (scheme, network),
// trying every cached facilitator entry and falling back to network
// wildcard matching.
func (s *ResourceServerCore) findSupportedKind(scheme string, network NetworkID) (SupportedKind, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.facilitators {
		resp, ok := s.supported.get(fmt.Sprintf("facilitator_%d", i))
		if !ok {
			continue
		}
		for _, kind := range resp.Kinds {
			if kind.Scheme == scheme && network.Match(kind.Network) {
				return kind, true
			}
		}
	}
	return SupportedKind{}, false
}

// facilitatorFor resolves the facilitator that should handle (scheme,
// network) via the index built by Initialize (exact network, then
// wildcard). When the index has no entry it returns the first registered
// facilitator; the other facilitators are not tried.
func (s *ResourceServerCore) facilitatorFor(scheme string, network NetworkID) FacilitatorClient {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if networks, ok := s.facilitatorIndex[scheme]; ok {
		if client, ok := networks[network]; ok {
			return client
		}
		for registered, client := range networks {
			if network.Match(registered) {
				return client
			}
		}
	}
	if len(s.facilitators) > 0 {
		return s.facilitators[0]
	}
	return nil
}

// BuildPaymentRequirements prices a route and returns the single
// PaymentRequirements for it, enhanced with scheme-specific fields and
// validated declared extensions.
func (s *ResourceServerCore) BuildPaymentRequirements(ctx context.Context, cfg ResourceConfig, declaredExtensions map[string]interface{}) (PaymentRequirements, error) {
	s.mu.RLock()
	handler, ok := s.schemes.Resolve(cfg.Scheme, cfg.Network)
	s.mu.RUnlock()
	if !ok {
		return PaymentRequirements{}, NewPaymentError(ErrCodeUnsupportedScheme,
			fmt.Sprintf("no server handler registered for scheme %s on network %s", cfg.Scheme, cfg.Network), nil)
	}

	amount, err := handler.ParsePrice(cfg.Price, cfg.Network)
	if err != nil {
		return PaymentRequirements{}, fmt.Errorf("parse price: %w", err)
	}

	maxTimeout := cfg.MaxTimeoutSeconds
	if maxTimeout == 0 {
		maxTimeout = 300
	}

	requirements := PaymentRequirements{
		Scheme:            cfg.Scheme,
		Network:           cfg.Network,
		Asset:             amount.Asset,
		Amount:            amount.Amount,
		PayTo:             cfg.PayTo,
		MaxTimeoutSeconds: maxTimeout,
		Extra:             amount.Extra,
	}

	if len(declaredExtensions) > 0 {
		enriched := make(map[string]interface{}, len(declaredExtensions))
		for key, decl := range declaredExtensions {
			out, err := s.extensions.Enrich(key, decl, cfg)
			if err != nil {
				return PaymentRequirements{}, err
			}
			enriched[key] = out
		}
		requirements.Extensions = enriched
	}

	kind, hasKind := s.findSupportedKind(cfg.Scheme, cfg.Network)
	if !hasKind {
		kind = SupportedKind{X402Version: ProtocolVersion, Scheme: cfg.Scheme, Network: cfg.Network}
	}
	extKeys := make([]string, 0, len(requirements.Extensions))
	for k := range requirements.Extensions {
		extKeys = append(extKeys, k)
	}

	return handler.EnhancePaymentRequirements(ctx, requirements, kind, extKeys)
}

// CreatePaymentRequiredResponse builds a 402 body for one or more offered
// requirements. Error is left empty for the plain no-payment-offered-yet
// case; callers set it to a vocabulary code when the 402 follows a
// specific failure.
func CreatePaymentRequiredResponse(resource *ResourceInfo, accepts []PaymentRequirements, extensions map[string]interface{}) PaymentRequired {
	return PaymentRequired{
		X402Version: ProtocolVersion,
		Resource:    resource,
		Accepts:     accepts,
		Extensions:  extensions,
	}
}

// DecodePaymentPayload parses and structurally validates a raw payload.
func DecodePaymentPayload(payloadBytes []byte) (PaymentPayload, error) {
	var payload PaymentPayload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return PaymentPayload{}, NewPaymentError(ErrCodeMalformedPayload, err.Error(), nil)
	}
	if payload.X402Version != ProtocolVersion {
		return PaymentPayload{}, NewPaymentError(ErrCodeUnsupportedVersion,
			fmt.Sprintf("unsupported x402 version: %d", payload.X402Version), nil)
	}
	if err := ValidatePaymentPayload(payload); err != nil {
		return PaymentPayload{}, NewPaymentError(ErrCodeMalformedPayload, err.Error(), nil)
	}
	return payload, nil
}

// FindMatchingRequirements finds the entry in available whose shape the
// payload's Accepted requirements exactly match, so a client can't pay
// according to terms the server never actually offered.
func FindMatchingRequirements(available []PaymentRequirements, payload PaymentPayload) (PaymentRequirements, bool) {
	for _, candidate := range available {
		if DeepEqual(payload.Accepted, candidate) {
			return candidate, true
		}
	}
	return PaymentRequirements{}, false
}

// VerifyPayment runs the before/after/failure verify hooks around a call
// to the resolved facilitator's Verify.
func (s *ResourceServerCore) VerifyPayment(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (VerifyResponse, error) {
	s.mu.RLock()
	beforeHooks := append([]BeforeVerifyHook(nil), s.beforeVerifyHooks...)
	afterHooks := append([]AfterVerifyHook(nil), s.afterVerifyHooks...)
	failureHooks := append([]VerifyFailureHook(nil), s.verifyFailureHooks...)
	s.mu.RUnlock()

	vctx := VerifyContext{Ctx: ctx, Payload: payload, Requirements: requirements}
	for _, hook := range beforeHooks {
		if result := hook(vctx); result.Abort {
			return VerifyResponse{}, NewPaymentError(ErrCodePaymentHookError, result.Reason, nil)
		}
	}

	client := s.facilitatorFor(requirements.Scheme, requirements.Network)
	if client == nil {
		err := NewPaymentError(ErrCodeFacilitatorUnreachable, "no facilitator available for scheme/network", nil)
		s.runVerifyFailureHooks(ctx, failureHooks, payload, requirements, err)
		return VerifyResponse{}, err
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		s.runVerifyFailureHooks(ctx, failureHooks, payload, requirements, err)
		return VerifyResponse{}, err
	}
	requirementsBytes, err := json.Marshal(requirements)
	if err != nil {
		s.runVerifyFailureHooks(ctx, failureHooks, payload, requirements, err)
		return VerifyResponse{}, err
	}

	result, err := client.Verify(ctx, payloadBytes, requirementsBytes)
	if err != nil {
		s.runVerifyFailureHooks(ctx, failureHooks, payload, requirements, err)
		return VerifyResponse{}, err
	}

	for _, hook := range afterHooks {
		hook(VerifyResultContext{Ctx: ctx, Payload: payload, Requirements: requirements, Result: result})
	}
	return result, nil
}

func (s *ResourceServerCore) runVerifyFailureHooks(ctx context.Context, hooks []VerifyFailureHook, payload PaymentPayload, requirements PaymentRequirements, err error) {
	for _, hook := range hooks {
		hook(VerifyFailureContext{Ctx: ctx, Payload: payload, Requirements: requirements, Err: err})
	}
}

// SettlePayment runs the before/after/failure settle hooks around a call
// to the resolved facilitator's Settle. Callers must only invoke this
// after a successful VerifyPayment and after confirming the downstream
// response was not an error (see ProcessSettlement, which encodes that
// invariant so callers can't accidentally settle a failed response).
func (s *ResourceServerCore) SettlePayment(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (SettleResponse, error) {
	s.mu.RLock()
	beforeHooks := append([]BeforeSettleHook(nil), s.beforeSettleHooks...)
	afterHooks := append([]AfterSettleHook(nil), s.afterSettleHooks...)
	failureHooks := append([]SettleFailureHook(nil), s.settleFailureHooks...)
	s.mu.RUnlock()

	sctx := SettleContext{Ctx: ctx, Payload: payload, Requirements: requirements}
	for _, hook := range beforeHooks {
		if result := hook(sctx); result.Abort {
			return SettleResponse{}, NewPaymentError(ErrCodePaymentHookError, result.Reason, nil)
		}
	}

	client := s.facilitatorFor(requirements.Scheme, requirements.Network)
	if client == nil {
		err := NewPaymentError(ErrCodeFacilitatorUnreachable, "no facilitator available for scheme/network", nil)
		s.runSettleFailureHooks(ctx, failureHooks, payload, requirements, err)
		return SettleResponse{}, err
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		s.runSettleFailureHooks(ctx, failureHooks, payload, requirements, err)
		return SettleResponse{}, err
	}
	requirementsBytes, err := json.Marshal(requirements)
	if err != nil {
		s.runSettleFailureHooks(ctx, failureHooks, payload, requirements, err)
		return SettleResponse{}, err
	}

	result, err := client.Settle(ctx, payloadBytes, requirementsBytes)
	if err != nil {
		s.runSettleFailureHooks(ctx, failureHooks, payload, requirements, err)
		return SettleResponse{}, err
	}

	for _, hook := range afterHooks {
		hook(SettleResultContext{Ctx: ctx, Payload: payload, Requirements: requirements, Result: result})
	}
	return result, nil
}

func (s *ResourceServerCore) runSettleFailureHooks(ctx context.Context, hooks []SettleFailureHook, payload PaymentPayload, requirements PaymentRequirements, err error) {
	for _, hook := range hooks {
		hook(SettleFailureContext{Ctx: ctx, Payload: payload, Requirements: requirements, Err: err})
	}
}

// ProcessPaymentRequest runs the whole gate pipeline up to (but not
// including) settlement: build requirements, decode/match the offered
// payload, verify it. A nil payloadBytes (no payment offered yet) short
// circuits straight to RequiresPayment=true.
func (s *ResourceServerCore) ProcessPaymentRequest(ctx context.Context, payloadBytes []byte, cfg ResourceConfig, resource *ResourceInfo, declaredExtensions map[string]interface{}) (*ProcessResult, error) {
	requirements, err := s.BuildPaymentRequirements(ctx, cfg, declaredExtensions)
	if err != nil {
		return nil, err
	}
	accepts := []PaymentRequirements{requirements}

	if len(payloadBytes) == 0 {
		required := CreatePaymentRequiredResponse(resource, accepts, declaredExtensions)
		return &ProcessResult{RequiresPayment: true, PaymentRequired: &required}, nil
	}

	payload, err := DecodePaymentPayload(payloadBytes)
	if err != nil {
		required := CreatePaymentRequiredResponse(resource, accepts, declaredExtensions)
		required.Error = ErrorCode(err)
		return &ProcessResult{RequiresPayment: true, PaymentRequired: &required}, nil
	}

	matched, ok := FindMatchingRequirements(accepts, payload)
	if !ok {
		required := CreatePaymentRequiredResponse(resource, accepts, declaredExtensions)
		required.Error = ErrCodeNoMatchingRequirement
		return &ProcessResult{RequiresPayment: true, PaymentRequired: &required}, nil
	}

	verifyResult, err := s.VerifyPayment(ctx, payload, matched)
	if err != nil {
		required := CreatePaymentRequiredResponse(resource, accepts, declaredExtensions)
		required.Error = ErrorCode(err)
		return &ProcessResult{RequiresPayment: true, PaymentRequired: &required}, nil
	}
	if !verifyResult.IsValid {
		required := CreatePaymentRequiredResponse(resource, accepts, declaredExtensions)
		required.Error = verifyResult.InvalidReason
		return &ProcessResult{RequiresPayment: true, PaymentRequired: &required}, nil
	}

	for key, value := range payload.Extensions {
		if err := s.extensions.Validate(ctx, key, value); err != nil {
			required := CreatePaymentRequiredResponse(resource, accepts, declaredExtensions)
			required.Error = ErrorCode(err)
			return &ProcessResult{RequiresPayment: true, PaymentRequired: &required}, nil
		}
	}

	return &ProcessResult{
		RequiresPayment: false,
		Payload:         payload,
		Requirements:    matched,
		VerifyResult:    verifyResult,
	}, nil
}

// ProcessSettlement is the fair-billing gate: it must be called after the
// downstream handler ran, with the status code it produced. A downstream
// failure (status >= 400) means no money changes hands — settle is never
// called and (nil, nil) is returned so the caller can tell "intentionally
// skipped" apart from "settlement failed".
func (s *ResourceServerCore) ProcessSettlement(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements, downstreamStatus int) (*SettleResponse, error) {
	if downstreamStatus >= 400 {
		return nil, nil
	}
	result, err := s.SettlePayment(ctx, payload, requirements)
	if err != nil {
		return nil, err
	}
	return &result, nil
}
