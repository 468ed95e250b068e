package v2

import (
	"fmt"
	"strings"
)

// PaymentOption is the route-level way to configure one accepted payment:
// a price, a network, and optional overrides. ExpandOptions turns a list of
// these into the full PaymentRequirements the 402 challenge advertises.
type PaymentOption struct {
	// Price is either a Money shorthand ("$0.001", interpreted as USD and
	// converted to atomic units of the network's USDC) or an atomic-unit
	// decimal string ("1000").
	Price string

	// Network is the CAIP-2 network identifier this option pays on.
	Network string

	// PayTo is the recipient address, in the network's address format.
	PayTo string

	// Asset overrides the token. Empty selects the network's known USDC.
	Asset string

	// Config carries the option's informational and scheme-specific knobs.
	Config *PaymentOptionConfig
}

// PaymentOptionConfig holds the optional per-option metadata.
type PaymentOptionConfig struct {
	Description       string
	MimeType          string
	MaxTimeoutSeconds int
	Extra             map[string]interface{}
}

// defaultOptionTimeoutSeconds bounds the authorization validity window a
// route accepts when the option doesn't set its own.
const defaultOptionTimeoutSeconds = 300

// Requirements expands o into the PaymentRequirements it advertises.
// resource is the absolute URL of the protected endpoint.
func (o PaymentOption) Requirements(resource string) (PaymentRequirements, error) {
	chain, err := GetChainConfig(o.Network)
	if err != nil {
		return PaymentRequirements{}, err
	}

	asset := o.Asset
	decimals := chain.Decimals
	if asset == "" {
		asset = chain.USDCAddress
	}

	amount, err := parsePrice(o.Price, int(decimals))
	if err != nil {
		return PaymentRequirements{}, fmt.Errorf("option for %s: %w", o.Network, err)
	}

	req := PaymentRequirements{
		Scheme:            "exact",
		Network:           o.Network,
		MaxAmountRequired: amount,
		Resource:          resource,
		PayTo:             o.PayTo,
		Asset:             asset,
		MaxTimeoutSeconds: defaultOptionTimeoutSeconds,
	}
	if o.Config != nil {
		req.Description = o.Config.Description
		req.MimeType = o.Config.MimeType
		if o.Config.MaxTimeoutSeconds > 0 {
			req.MaxTimeoutSeconds = o.Config.MaxTimeoutSeconds
		}
		req.Extra = o.Config.Extra
	}
	return req, nil
}

// ExpandOptions expands each option into its full requirement, in order.
func ExpandOptions(resource string, options []PaymentOption) ([]PaymentRequirements, error) {
	requirements := make([]PaymentRequirements, 0, len(options))
	for _, option := range options {
		req, err := option.Requirements(resource)
		if err != nil {
			return nil, err
		}
		requirements = append(requirements, req)
	}
	return requirements, nil
}

// parsePrice converts a price spec into an atomic-unit decimal string. The
// "$" Money shorthand is a decimal USD amount scaled by the asset's
// decimals ("$0.001" with 6 decimals is "1000"); anything else must already
// be a whole atomic-unit decimal string.
func parsePrice(price string, decimals int) (string, error) {
	if dollars, ok := strings.CutPrefix(price, "$"); ok {
		atomic, err := AmountToBigInt(dollars, decimals)
		if err != nil {
			return "", fmt.Errorf("invalid money amount %q: %w", price, err)
		}
		return atomic.String(), nil
	}
	atomic, err := AmountToBigInt(price, 0)
	if err != nil {
		return "", fmt.Errorf("invalid atomic amount %q: %w", price, err)
	}
	return atomic.String(), nil
}
