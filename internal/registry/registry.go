// Package registry implements the fee-metered, append-only registry of
// encrypted files and the wrapped access keys distributed for them.
//
// Every mutating operation runs under a single lock, stages its full change
// set as a Batch, commits that batch to the Ledger and only then applies it
// to memory. A failed precondition or ledger error leaves no trace.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/sha3"
)

// Options configures Open.
type Options struct {
	// Ledger persists committed batches. Defaults to a fresh MemLedger.
	Ledger Ledger
	// Genesis is applied when the ledger holds no state yet. Genesis.Owner
	// must be a valid identity in that case.
	Genesis AdminConfig
	Logger  *logrus.Entry
	// Clock stamps files and events. Defaults to time.Now.
	Clock func() time.Time
}

// Registry is the file store, access-grant registry and admin control.
type Registry struct {
	mu sync.Mutex

	ledger Ledger
	clock  func() time.Time
	log    *logrus.Entry
	events *EventLog

	cfg         AdminConfig
	balance     uint64
	totalAccess uint64
	seq         uint64

	files   []*File
	grants  map[Identity][]AccessKey
	paidOut map[Identity]uint64
}

// Open loads the registry from opts.Ledger, writing the genesis config first
// if the ledger is empty.
func Open(ctx context.Context, opts Options) (*Registry, error) {
	if opts.Ledger == nil {
		opts.Ledger = NewMemLedger()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	st, err := opts.Ledger.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}

	r := &Registry{
		ledger:  opts.Ledger,
		clock:   opts.Clock,
		log:     opts.Logger.WithField("component", "registry"),
		grants:  make(map[Identity][]AccessKey),
		paidOut: make(map[Identity]uint64),
	}
	r.events = newEventLog(r.log, st.Events)

	if st.Config.Owner == "" {
		if err := opts.Genesis.Owner.Validate(); err != nil {
			return nil, fmt.Errorf("genesis owner: %w", err)
		}
		genesis := &Batch{Config: opts.Genesis}
		if err := r.ledger.Commit(ctx, genesis); err != nil {
			return nil, fmt.Errorf("commit genesis: %w", err)
		}
		r.cfg = opts.Genesis
		r.log.WithField("owner", r.cfg.Owner).Info("initialized empty ledger")
		return r, nil
	}

	r.restore(st)
	if opts.Genesis.Owner != "" && opts.Genesis != r.cfg {
		r.log.WithFields(logrus.Fields{
			"owner":    r.cfg.Owner,
			"base_fee": r.cfg.BaseFee,
		}).Warn("ledger already initialized, ignoring configured genesis parameters")
	}
	return r, nil
}

// restore rebuilds the in-memory arena from a loaded state.
func (r *Registry) restore(st *State) {
	r.cfg = st.Config
	r.balance = st.Balance
	r.totalAccess = st.TotalAccess
	r.seq = st.Sequence

	r.files = make([]*File, len(st.Files))
	for i, f := range st.Files {
		c := f.clone()
		c.AccessHolders = nil
		r.files[i] = c
	}
	for _, g := range st.Grants {
		r.grants[g.Grantee] = append(r.grants[g.Grantee], g.AccessKey)
		if g.FileIndex < uint64(len(r.files)) {
			f := r.files[g.FileIndex]
			f.AccessHolders = append(f.AccessHolders, g.Grantee)
		}
	}
	for _, p := range st.Payouts {
		r.paidOut[p.Recipient] += p.Amount
	}

	r.log.WithFields(logrus.Fields{
		"files":    len(r.files),
		"grants":   r.totalAccess,
		"sequence": r.seq,
	}).Info("restored registry from ledger")
}

// Events exposes the notification stream.
func (r *Registry) Events() *EventLog {
	return r.events
}

// Close closes the underlying ledger.
func (r *Registry) Close() error {
	return r.ledger.Close()
}

// newBatch starts a change set carrying the current scalars and the next
// sequence number.
func (r *Registry) newBatch() *Batch {
	return &Batch{
		Sequence:    r.seq + 1,
		Config:      r.cfg,
		Balance:     r.balance,
		TotalAccess: r.totalAccess,
	}
}

// commit persists b, applies it to memory and publishes its events. The
// caller must hold r.mu.
func (r *Registry) commit(ctx context.Context, b *Batch) error {
	if err := r.ledger.Commit(ctx, b); err != nil {
		return fmt.Errorf("commit batch %d: %w", b.Sequence, err)
	}

	r.seq = b.Sequence
	r.cfg = b.Config
	r.balance = b.Balance
	r.totalAccess = b.TotalAccess
	if b.File != nil {
		r.files = append(r.files, b.File)
	}
	for _, g := range b.Grants {
		r.grants[g.Grantee] = append(r.grants[g.Grantee], g.AccessKey)
		f := r.files[g.FileIndex]
		f.AccessHolders = append(f.AccessHolders, g.Grantee)
	}
	if b.Payout != nil {
		r.paidOut[b.Payout.Recipient] += b.Payout.Amount
	}
	r.events.publish(b.Events)

	r.log.WithFields(logrus.Fields{
		"sequence": b.Sequence,
		"events":   len(b.Events),
	}).Debug("committed batch")
	return nil
}

// AddFile stores p as a new file and records caller's self-grant of
// selfWrappedKey. amount must equal the creation fee exactly.
func (r *Registry) AddFile(ctx context.Context, caller Identity, p Payload, selfWrappedKey []byte, amount uint64) (uint64, error) {
	if err := caller.Validate(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	fee, err := r.cfg.CreationFee(p)
	if err != nil {
		return 0, err
	}
	if err := checkFee(fee, amount); err != nil {
		return 0, err
	}
	balance, err := addBalance(r.balance, amount)
	if err != nil {
		return 0, err
	}

	b := r.newBatch()
	index := uint64(len(r.files))
	now := r.clock().Unix()

	f := &File{
		Index:     index,
		Payload:   p.clone(),
		Digest:    sha3.Sum256(p.Ciphertext),
		CreatedAt: now,
		Sequence:  b.Sequence,
	}
	b.File = f
	b.Balance = balance
	b.TotalAccess++
	b.Grants = []Grant{{
		Grantee: caller,
		AccessKey: AccessKey{
			Grantor:    caller,
			FileIndex:  index,
			WrappedKey: copyBytes(selfWrappedKey),
			Sequence:   b.Sequence,
		},
	}}

	created := r.events.stage(0, EventFileCreated, b.Sequence, now)
	created.Actor = caller
	created.FileIndex = &index
	created.Amount = amount
	granted := r.events.stage(1, EventAccessGranted, b.Sequence, now)
	granted.Actor = caller
	granted.Subject = caller
	granted.FileIndex = &index
	b.Events = []Event{created, granted}

	if err := r.commit(ctx, b); err != nil {
		return 0, err
	}
	return index, nil
}

// Grant records that caller handed wrappedKey for file index to grantee.
// The caller is not required to hold access to the file itself.
func (r *Registry) Grant(ctx context.Context, caller Identity, index uint64, grantee Identity, wrappedKey []byte, amount uint64) error {
	if err := caller.Validate(); err != nil {
		return err
	}
	if err := grantee.Validate(); err != nil {
		return fmt.Errorf("grantee: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkIndex(index); err != nil {
		return err
	}
	if err := checkFee(r.cfg.RequiredGrantFee(), amount); err != nil {
		return err
	}
	balance, err := addBalance(r.balance, amount)
	if err != nil {
		return err
	}

	b := r.newBatch()
	now := r.clock().Unix()
	b.Balance = balance
	b.TotalAccess++
	b.Grants = []Grant{{
		Grantee: grantee,
		AccessKey: AccessKey{
			Grantor:    caller,
			FileIndex:  index,
			WrappedKey: copyBytes(wrappedKey),
			Sequence:   b.Sequence,
		},
	}}

	ev := r.events.stage(0, EventAccessGranted, b.Sequence, now)
	ev.Actor = caller
	ev.Subject = grantee
	ev.FileIndex = &index
	ev.Amount = amount
	b.Events = []Event{ev}

	return r.commit(ctx, b)
}

// FileCount returns the number of files stored.
func (r *Registry) FileCount() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return uint64(len(r.files))
}

// FileAccessHolderCount returns the length of the file's access holder list.
func (r *Registry) FileAccessHolderCount(index uint64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkIndex(index); err != nil {
		return 0, err
	}
	return len(r.files[index].AccessHolders), nil
}

// AccessHolders returns a copy of the file's access holder list.
func (r *Registry) AccessHolders(index uint64) ([]Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkIndex(index); err != nil {
		return nil, err
	}
	return append([]Identity{}, r.files[index].AccessHolders...), nil
}

// FileFor resolves a file for a caller that holds an access key for it.
func (r *Registry) FileFor(index uint64, caller Identity) (*File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkIndex(index); err != nil {
		return nil, err
	}
	if !r.hasAccessKey(index, caller) {
		return nil, fmt.Errorf("%w: file %d", ErrNoAccess, index)
	}
	return r.files[index].clone(), nil
}

// HasAccessKey reports whether identity has ever been granted a key for
// index. It scans the identity's whole grant history.
func (r *Registry) HasAccessKey(index uint64, identity Identity) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hasAccessKey(index, identity)
}

func (r *Registry) hasAccessKey(index uint64, identity Identity) bool {
	for _, k := range r.grants[identity] {
		if k.FileIndex == index {
			return true
		}
	}
	return false
}

// AccessKeysOf returns identity's grant history in insertion order.
func (r *Registry) AccessKeysOf(identity Identity) []AccessKey {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := r.grants[identity]
	out := make([]AccessKey, len(keys))
	for i, k := range keys {
		k.WrappedKey = copyBytes(k.WrappedKey)
		out[i] = k
	}
	return out
}

// TotalAccessCount returns the number of grants ever recorded.
func (r *Registry) TotalAccessCount() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totalAccess
}

// Sequence returns the sequence number of the last committed operation.
func (r *Registry) Sequence() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq
}

// checkIndex requires r.mu.
func (r *Registry) checkIndex(index uint64) error {
	if index >= uint64(len(r.files)) {
		return fmt.Errorf("%w: %d >= %d", ErrIndexOutOfRange, index, len(r.files))
	}
	return nil
}

func addBalance(balance, amount uint64) (uint64, error) {
	sum := balance + amount
	if sum < balance {
		return 0, fmt.Errorf("balance overflow: %w", ErrFeeOverflow)
	}
	return sum, nil
}
