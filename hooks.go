package x402

import "context"

// PaymentCreationContext carries the client-side payment-creation request
// through the before/after/failure hook chain.
type PaymentCreationContext struct {
	Ctx                  context.Context
	PaymentRequired      PaymentRequired
	SelectedRequirements PaymentRequirements
}

// HookResult is returned by a before-hook to signal abort with a reason.
type HookResult struct {
	Abort  bool
	Reason string
}

// PaymentCreatedContext is passed to after-creation hooks.
type PaymentCreatedContext struct {
	PaymentCreationContext
	PaymentPayload PaymentPayload
}

// PaymentCreationFailureContext is passed to failure hooks.
type PaymentCreationFailureContext struct {
	PaymentCreationContext
	Error error
}

// FailureRecovery lets a failure hook substitute a payload and continue as
// if creation had succeeded.
type FailureRecovery struct {
	Recovered bool
	Payload   PaymentPayload
}

type (
	BeforePaymentCreationHook     func(ctx PaymentCreationContext) (*HookResult, error)
	AfterPaymentCreationHook      func(ctx PaymentCreatedContext) error
	OnPaymentCreationFailureHook  func(ctx PaymentCreationFailureContext) (*FailureRecovery, error)
)

// FacilitatorVerifyResultContext carries a verify call through the
// facilitator's lifecycle hooks (spec §4.F).
type FacilitatorVerifyResultContext struct {
	Ctx                 context.Context
	PaymentPayload      PaymentPayload
	PaymentRequirements PaymentRequirements
	Result              VerifyResponse
	Err                 error
}

// FacilitatorSettleResultContext carries a settle call through the
// facilitator's lifecycle hooks.
type FacilitatorSettleResultContext struct {
	Ctx                 context.Context
	PaymentPayload      PaymentPayload
	PaymentRequirements PaymentRequirements
	Result              SettleResponse
	Err                 error
}

// BeforeHookResult lets a before-verify/before-settle hook abort the
// operation. Failure hooks return it too, but the facilitator does not act
// on the result of a failure hook, so Recovered has no effect.
type BeforeHookResult struct {
	Abort     bool
	Recovered bool
	Reason    string
}

type (
	OnBeforeVerifyHook func(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (*BeforeHookResult, error)
	OnAfterVerifyHook  func(ctx FacilitatorVerifyResultContext) error
	OnVerifyFailureHook func(ctx FacilitatorVerifyResultContext) (*BeforeHookResult, error)

	OnBeforeSettleHook func(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (*BeforeHookResult, error)
	OnAfterSettleHook  func(ctx FacilitatorSettleResultContext) error
	OnSettleFailureHook func(ctx FacilitatorSettleResultContext) (*BeforeHookResult, error)
)
