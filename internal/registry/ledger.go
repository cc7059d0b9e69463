package registry

import (
	"context"
	"sync"
)

// Grant pairs an access key with the identity it was granted to. Grants are
// ordered globally by the sequence in which they were committed; a file's
// access holders are exactly the grantees of the grants naming it, in that
// order.
type Grant struct {
	Grantee Identity `json:"grantee"`
	AccessKey
}

// Payout records a fee withdrawal credited to Recipient.
type Payout struct {
	Recipient Identity `json:"recipient"`
	Amount    uint64   `json:"amount"`
	Sequence  uint64   `json:"sequence"`
	Time      int64    `json:"time"`
}

// Batch is the change set of one mutating operation. A Ledger must apply a
// batch entirely or not at all.
type Batch struct {
	Sequence    uint64
	Config      AdminConfig
	Balance     uint64
	TotalAccess uint64
	File        *File
	Grants      []Grant
	Payout      *Payout
	Events      []Event
}

// State is everything a Ledger holds. Files returned by Load carry no access
// holders; the registry derives them from Grants.
type State struct {
	Config      AdminConfig
	Balance     uint64
	TotalAccess uint64
	Sequence    uint64
	Files       []*File
	Grants      []Grant
	Payouts     []Payout
	Events      []Event
}

// Ledger is the durable store behind a Registry.
type Ledger interface {
	Load(ctx context.Context) (*State, error)
	Commit(ctx context.Context, b *Batch) error
	Close() error
}

// MemLedger keeps committed batches in memory. It backs the "memory" backend
// and tests.
type MemLedger struct {
	mu    sync.Mutex
	state State
}

// NewMemLedger returns an empty in-memory ledger.
func NewMemLedger() *MemLedger {
	return &MemLedger{}
}

// Load returns a copy of the accumulated state.
func (m *MemLedger) Load(ctx context.Context) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.state
	st.Files = make([]*File, len(m.state.Files))
	for i, f := range m.state.Files {
		st.Files[i] = f.clone()
	}
	st.Grants = append([]Grant(nil), m.state.Grants...)
	st.Payouts = append([]Payout(nil), m.state.Payouts...)
	st.Events = append([]Event(nil), m.state.Events...)
	return &st, nil
}

// Commit applies b.
func (m *MemLedger) Commit(ctx context.Context, b *Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.Config = b.Config
	m.state.Balance = b.Balance
	m.state.TotalAccess = b.TotalAccess
	m.state.Sequence = b.Sequence
	if b.File != nil {
		f := b.File.clone()
		f.AccessHolders = nil
		m.state.Files = append(m.state.Files, f)
	}
	m.state.Grants = append(m.state.Grants, b.Grants...)
	if b.Payout != nil {
		m.state.Payouts = append(m.state.Payouts, *b.Payout)
	}
	m.state.Events = append(m.state.Events, b.Events...)
	return nil
}

// Close is a no-op.
func (m *MemLedger) Close() error { return nil }
