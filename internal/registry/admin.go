package registry

import (
	"context"
	"fmt"
)

// Config returns the current owner and fee parameters.
func (r *Registry) Config() AdminConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

// Balance returns the fees collected and not yet withdrawn.
func (r *Registry) Balance() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.balance
}

// PaidOut returns the total amount ever withdrawn to identity.
func (r *Registry) PaidOut(identity Identity) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paidOut[identity]
}

// SetOwner hands the admin capability to newOwner.
func (r *Registry) SetOwner(ctx context.Context, caller, newOwner Identity) error {
	if err := newOwner.Validate(); err != nil {
		return fmt.Errorf("new owner: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.requireOwner(caller); err != nil {
		return err
	}

	b := r.newBatch()
	b.Config.Owner = newOwner
	ev := r.events.stage(0, EventOwnerChanged, b.Sequence, r.clock().Unix())
	ev.Actor = caller
	ev.Subject = newOwner
	b.Events = []Event{ev}
	return r.commit(ctx, b)
}

// SetBaseFee changes the flat part of the creation fee.
func (r *Registry) SetBaseFee(ctx context.Context, caller Identity, v uint64) error {
	return r.setParam(ctx, caller, ParamBaseFee, v)
}

// SetBytesFeeMultiplier changes the per-byte part of the creation fee.
func (r *Registry) SetBytesFeeMultiplier(ctx context.Context, caller Identity, v uint64) error {
	return r.setParam(ctx, caller, ParamBytesFeeMultiplier, v)
}

// SetGrantFee changes the flat fee charged per grant.
func (r *Registry) SetGrantFee(ctx context.Context, caller Identity, v uint64) error {
	return r.setParam(ctx, caller, ParamGrantFee, v)
}

// SetParam changes the fee parameter called name.
func (r *Registry) SetParam(ctx context.Context, caller Identity, name string, v uint64) error {
	return r.setParam(ctx, caller, name, v)
}

func (r *Registry) setParam(ctx context.Context, caller Identity, name string, v uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.requireOwner(caller); err != nil {
		return err
	}

	b := r.newBatch()
	var old uint64
	switch name {
	case ParamBaseFee:
		old, b.Config.BaseFee = b.Config.BaseFee, v
	case ParamBytesFeeMultiplier:
		old, b.Config.BytesFeeMultiplier = b.Config.BytesFeeMultiplier, v
	case ParamGrantFee:
		old, b.Config.GrantFee = b.Config.GrantFee, v
	default:
		return fmt.Errorf("unknown fee parameter %q", name)
	}

	ev := r.events.stage(0, EventFeeChanged, b.Sequence, r.clock().Unix())
	ev.Actor = caller
	ev.Param = name
	ev.OldValue = old
	ev.NewValue = v
	b.Events = []Event{ev}
	return r.commit(ctx, b)
}

// WithdrawFees sweeps the whole balance to the owner and returns the amount.
func (r *Registry) WithdrawFees(ctx context.Context, caller Identity) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.requireOwner(caller); err != nil {
		return 0, err
	}
	if r.balance == 0 {
		return 0, ErrNothingToWithdraw
	}

	amount := r.balance
	now := r.clock().Unix()
	b := r.newBatch()
	b.Balance = 0
	b.Payout = &Payout{
		Recipient: r.cfg.Owner,
		Amount:    amount,
		Sequence:  b.Sequence,
		Time:      now,
	}
	ev := r.events.stage(0, EventFeesWithdrawn, b.Sequence, now)
	ev.Actor = caller
	ev.Subject = r.cfg.Owner
	ev.Amount = amount
	b.Events = []Event{ev}

	if err := r.commit(ctx, b); err != nil {
		return 0, err
	}
	return amount, nil
}

// requireOwner requires r.mu.
func (r *Registry) requireOwner(caller Identity) error {
	if caller != r.cfg.Owner {
		return fmt.Errorf("%w: %s", ErrNotOwner, caller)
	}
	return nil
}
