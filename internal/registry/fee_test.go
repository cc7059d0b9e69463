package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequiredCreationFee(t *testing.T) {
	tests := []struct {
		name       string
		base, mult uint64
		lengths    []int
		want       uint64
	}{
		{"empty payload", 100, 1, nil, 100},
		{"base plus bytes", 100, 1, []int{30, 8, 4, 4, 4}, 150},
		{"multiplier", 5, 3, []int{10, 0, 2}, 41},
		{"zero fees", 0, 0, []int{1 << 20}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RequiredCreationFee(tt.base, tt.mult, tt.lengths...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRequiredCreationFee_Overflow(t *testing.T) {
	top := ^uint64(0)

	_, err := RequiredCreationFee(0, top, 2)
	assert.ErrorIs(t, err, ErrFeeOverflow)

	_, err = RequiredCreationFee(top, 1, 1)
	assert.ErrorIs(t, err, ErrFeeOverflow)

	got, err := RequiredCreationFee(top-1, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, top, got)
}

func TestRequiredCreationFee_NegativeLength(t *testing.T) {
	_, err := RequiredCreationFee(1, 1, -1)
	assert.Error(t, err)
}

func TestCheckFee_ExactMatchOnly(t *testing.T) {
	assert.NoError(t, checkFee(10, 10))
	assert.ErrorIs(t, checkFee(10, 11), ErrInvalidFee)
	assert.ErrorIs(t, checkFee(10, 9), ErrInvalidFee)
}

func TestIdentityValidate(t *testing.T) {
	assert.NoError(t, alice.Validate())
	assert.ErrorIs(t, Identity("").Validate(), ErrInvalidIdentity)
	assert.ErrorIs(t, Identity("zz").Validate(), ErrInvalidIdentity)
	assert.ErrorIs(t, Identity("CA7012").Validate(), ErrInvalidIdentity)
	assert.ErrorIs(t, Identity("Ca7012").Validate(), ErrInvalidIdentity)
}
