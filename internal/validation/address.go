// Package validation checks session parameters before a mining session is
// allowed to start: payout address encoding against the configured network,
// thread counts, and throttle intervals.
package validation

import (
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/soloforge/soloforge/pkg/errors"
)

// AddressValidator validates payout addresses against one network's encoding
// rules.
type AddressValidator struct {
	params *chaincfg.Params
}

// NewAddressValidator creates a validator for the given chain parameters.
func NewAddressValidator(params *chaincfg.Params) *AddressValidator {
	return &AddressValidator{params: params}
}

// ValidateAddress checks that the address decodes and belongs to the
// validator's network.
func (v *AddressValidator) ValidateAddress(address string) error {
	if address == "" {
		return errors.New(errors.ErrorTypeValidation, "validate_address",
			"mining address is required")
	}

	addr, err := btcutil.DecodeAddress(address, v.params)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "validate_address",
			"mining address does not decode").
			WithContext("address", address)
	}

	if !addr.IsForNet(v.params) {
		return errors.New(errors.ErrorTypeValidation, "validate_address",
			"mining address belongs to a different network").
			WithContext("address", address).
			WithContext("network", v.params.Name)
	}

	return nil
}

// SessionParams are the caller-supplied knobs for one mining session.
type SessionParams struct {
	MiningAddress    string
	Threads          int
	ThrottleInterval time.Duration
}

// ValidateSessionParams checks all session parameters at once so the caller
// gets the first problem found before any goroutine is spawned.
func (v *AddressValidator) ValidateSessionParams(p SessionParams) error {
	if p.Threads < 1 {
		return errors.New(errors.ErrorTypeValidation, "validate_session",
			"thread count must be at least 1").
			WithContext("threads", p.Threads)
	}

	if p.ThrottleInterval < 0 {
		return errors.New(errors.ErrorTypeValidation, "validate_session",
			"throttle interval cannot be negative").
			WithContext("throttle", p.ThrottleInterval.String())
	}

	return v.ValidateAddress(p.MiningAddress)
}
