package registry

import "errors"

var (
	// ErrInvalidFee is returned when the tendered payment does not exactly
	// equal the fee the policy computes for the operation.
	ErrInvalidFee = errors.New("invalid fee")

	// ErrFeeOverflow is returned when a creation fee cannot be represented
	// in a uint64.
	ErrFeeOverflow = errors.New("fee overflows uint64")

	// ErrIndexOutOfRange is returned when a file index is >= the file count.
	ErrIndexOutOfRange = errors.New("file index out of range")

	// ErrNotOwner is returned when a caller other than the owner invokes an
	// admin operation.
	ErrNotOwner = errors.New("caller is not the owner")

	// ErrNothingToWithdraw is returned by WithdrawFees on a zero balance.
	ErrNothingToWithdraw = errors.New("nothing to withdraw")

	// ErrNoAccess is returned by FileFor when the caller holds no access key
	// for the requested file.
	ErrNoAccess = errors.New("caller holds no access key for file")

	// ErrInvalidIdentity is returned when a caller, grantee or owner identity
	// is empty or not lowercase hex.
	ErrInvalidIdentity = errors.New("invalid identity")
)
