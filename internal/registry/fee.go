package registry

import (
	"fmt"
	"math/bits"
)

// RequiredCreationFee returns baseFee + multiplier * sum(lengths). Any
// intermediate overflow is rejected with ErrFeeOverflow rather than wrapped.
func RequiredCreationFee(baseFee, multiplier uint64, lengths ...int) (uint64, error) {
	var total uint64
	for _, n := range lengths {
		if n < 0 {
			return 0, fmt.Errorf("negative payload length %d", n)
		}
		var carry uint64
		total, carry = bits.Add64(total, uint64(n), 0)
		if carry != 0 {
			return 0, ErrFeeOverflow
		}
	}

	hi, bytesFee := bits.Mul64(multiplier, total)
	if hi != 0 {
		return 0, ErrFeeOverflow
	}

	fee, carry := bits.Add64(baseFee, bytesFee, 0)
	if carry != 0 {
		return 0, ErrFeeOverflow
	}
	return fee, nil
}

// CreationFee quotes the fee for storing p under cfg.
func (cfg AdminConfig) CreationFee(p Payload) (uint64, error) {
	return RequiredCreationFee(cfg.BaseFee, cfg.BytesFeeMultiplier, p.lengths()...)
}

// RequiredGrantFee returns the flat fee charged per grant.
func (cfg AdminConfig) RequiredGrantFee() uint64 {
	return cfg.GrantFee
}

// checkFee enforces the exact-payment rule.
func checkFee(required, tendered uint64) error {
	if tendered != required {
		return fmt.Errorf("%w: tendered %d, required %d", ErrInvalidFee, tendered, required)
	}
	return nil
}
