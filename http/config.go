package http

import x402 "github.com/x402rail/x402-go"

// Config bundles the facilitator(s) and payment requirements a v1 HTTP
// payment-gating middleware needs to enforce on a route.
type Config struct {
	// FacilitatorURL is the base URL of the primary facilitator service.
	FacilitatorURL string

	// FacilitatorAuthorization is a static Authorization header sent to the
	// primary facilitator.
	FacilitatorAuthorization string

	// FacilitatorAuthorizationProvider, if set, takes precedence over
	// FacilitatorAuthorization and is invoked per request.
	FacilitatorAuthorizationProvider AuthorizationProvider

	// FallbackFacilitatorURL, if set, is tried when the primary facilitator
	// is unavailable.
	FallbackFacilitatorURL string

	// FallbackFacilitatorAuthorization is a static Authorization header sent
	// to the fallback facilitator.
	FallbackFacilitatorAuthorization string

	// FallbackFacilitatorAuthorizationProvider, if set, takes precedence over
	// FallbackFacilitatorAuthorization.
	FallbackFacilitatorAuthorizationProvider AuthorizationProvider

	// PaymentRequirements lists the payment options the resource server accepts.
	PaymentRequirements []x402.PaymentRequirement

	// VerifyOnly, when true, skips settlement and only verifies the payment
	// authorization.
	VerifyOnly bool
}
