package x402gate

import "context"

// HookResult is returned by a before-hook to control whether the pipeline
// continues, and by a failure-hook to control whether an error should be
// swallowed (recovered) rather than propagated.
type HookResult struct {
	Abort     bool
	Recovered bool
	Reason    string
}

// --- client-side hooks (§4.4) ---

type PaymentCreationContext struct {
	Ctx                  context.Context
	PaymentRequired      PaymentRequired
	SelectedRequirements PaymentRequirements
}

type PaymentCreatedContext struct {
	Ctx                  context.Context
	SelectedRequirements PaymentRequirements
	Payload              PaymentPayload
}

type PaymentCreationFailureContext struct {
	Ctx                  context.Context
	SelectedRequirements PaymentRequirements
	Err                  error
}

type (
	BeforePaymentCreationHook func(PaymentCreationContext) HookResult
	AfterPaymentCreationHook  func(PaymentCreatedContext)
	PaymentCreationFailureHook func(PaymentCreationFailureContext) HookResult
)

// --- server-side hooks (supplemented feature #3) ---

type VerifyContext struct {
	Ctx          context.Context
	Payload      PaymentPayload
	Requirements PaymentRequirements
}

type VerifyResultContext struct {
	Ctx          context.Context
	Payload      PaymentPayload
	Requirements PaymentRequirements
	Result       VerifyResponse
}

type VerifyFailureContext struct {
	Ctx          context.Context
	Payload      PaymentPayload
	Requirements PaymentRequirements
	Err          error
}

type SettleContext struct {
	Ctx          context.Context
	Payload      PaymentPayload
	Requirements PaymentRequirements
}

type SettleResultContext struct {
	Ctx          context.Context
	Payload      PaymentPayload
	Requirements PaymentRequirements
	Result       SettleResponse
}

type SettleFailureContext struct {
	Ctx          context.Context
	Payload      PaymentPayload
	Requirements PaymentRequirements
	Err          error
}

type (
	BeforeVerifyHook func(VerifyContext) HookResult
	AfterVerifyHook  func(VerifyResultContext)
	VerifyFailureHook func(VerifyFailureContext) HookResult

	BeforeSettleHook func(SettleContext) HookResult
	AfterSettleHook  func(SettleResultContext)
	SettleFailureHook func(SettleFailureContext) HookResult
)
