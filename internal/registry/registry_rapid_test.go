package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"pgregory.net/rapid"
)

var rapidIdentities = []Identity{owner, alice, bob, carol}

// registryMachine drives a Registry with random operations and checks the
// bookkeeping invariants after each step against a simple model.
type registryMachine struct {
	r      *Registry
	ledger *MemLedger

	files   uint64
	grants  map[Identity]int
	holders map[uint64]int
	balance uint64
}

func (m *registryMachine) init(t *rapid.T) {
	m.ledger = NewMemLedger()
	r, err := Open(context.Background(), Options{
		Ledger: m.ledger,
		Genesis: AdminConfig{
			Owner:              owner,
			BaseFee:            rapid.Uint64Range(0, 1000).Draw(t, "baseFee"),
			BytesFeeMultiplier: rapid.Uint64Range(0, 10).Draw(t, "multiplier"),
			GrantFee:           rapid.Uint64Range(0, 100).Draw(t, "grantFee"),
		},
		Logger: quietLogger(),
		Clock:  func() time.Time { return fixedNow },
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	m.r = r
	m.grants = make(map[Identity]int)
	m.holders = make(map[uint64]int)
}

func (m *registryMachine) addFile(t *rapid.T) {
	caller := rapid.SampledFrom(rapidIdentities).Draw(t, "caller")
	p := Payload{
		Ciphertext:    rapid.SliceOfN(rapid.Byte(), 0, 64).Draw(t, "ciphertext"),
		EncryptedName: rapid.SliceOfN(rapid.Byte(), 0, 16).Draw(t, "name"),
		IV:            rapid.SliceOfN(rapid.Byte(), 0, 16).Draw(t, "iv"),
	}
	fee, err := m.r.Config().CreationFee(p)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	amount := fee
	if rapid.Bool().Draw(t, "wrongFee") {
		amount = fee + rapid.Uint64Range(1, 5).Draw(t, "delta")
	}

	idx, err := m.r.AddFile(context.Background(), caller, p, []byte("self"), amount)
	if amount != fee {
		if !errors.Is(err, ErrInvalidFee) {
			t.Fatalf("expected ErrInvalidFee, got %v", err)
		}
		return
	}
	if err != nil {
		t.Fatalf("add file: %v", err)
	}
	if idx != m.files {
		t.Fatalf("index = %d, want %d", idx, m.files)
	}
	m.files++
	m.grants[caller]++
	m.holders[idx]++
	m.balance += fee
}

func (m *registryMachine) grant(t *rapid.T) {
	caller := rapid.SampledFrom(rapidIdentities).Draw(t, "caller")
	grantee := rapid.SampledFrom(rapidIdentities).Draw(t, "grantee")
	idx := rapid.Uint64Range(0, m.files+1).Draw(t, "index")
	fee := m.r.Config().GrantFee

	err := m.r.Grant(context.Background(), caller, idx, grantee, []byte("wrapped"), fee)
	if idx >= m.files {
		if !errors.Is(err, ErrIndexOutOfRange) {
			t.Fatalf("expected ErrIndexOutOfRange, got %v", err)
		}
		return
	}
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	m.grants[grantee]++
	m.holders[idx]++
	m.balance += fee
	if !m.r.HasAccessKey(idx, grantee) {
		t.Fatalf("grantee %s lacks key for %d after grant", grantee, idx)
	}
}

func (m *registryMachine) withdraw(t *rapid.T) {
	caller := rapid.SampledFrom(rapidIdentities).Draw(t, "caller")
	amount, err := m.r.WithdrawFees(context.Background(), caller)
	switch {
	case caller != owner:
		if !errors.Is(err, ErrNotOwner) {
			t.Fatalf("expected ErrNotOwner, got %v", err)
		}
	case m.balance == 0:
		if !errors.Is(err, ErrNothingToWithdraw) {
			t.Fatalf("expected ErrNothingToWithdraw, got %v", err)
		}
	default:
		if err != nil || amount != m.balance {
			t.Fatalf("withdraw = %d, %v; want %d", amount, err, m.balance)
		}
		m.balance = 0
	}
}

func (m *registryMachine) check(t *rapid.T) {
	if got := m.r.FileCount(); got != m.files {
		t.Fatalf("file count = %d, want %d", got, m.files)
	}
	if got := m.r.Balance(); got != m.balance {
		t.Fatalf("balance = %d, want %d", got, m.balance)
	}

	var total uint64
	perFile := make(map[uint64]int)
	for _, id := range rapidIdentities {
		keys := m.r.AccessKeysOf(id)
		if len(keys) != m.grants[id] {
			t.Fatalf("%s has %d keys, want %d", id, len(keys), m.grants[id])
		}
		total += uint64(len(keys))
		for _, k := range keys {
			perFile[k.FileIndex]++
		}
	}
	if got := m.r.TotalAccessCount(); got != total {
		t.Fatalf("total access = %d, want %d", got, total)
	}
	for i := uint64(0); i < m.files; i++ {
		n, err := m.r.FileAccessHolderCount(i)
		if err != nil {
			t.Fatalf("holder count %d: %v", i, err)
		}
		if n != perFile[i] || n != m.holders[i] {
			t.Fatalf("file %d: holders %d, grants %d, model %d", i, n, perFile[i], m.holders[i])
		}
		if n < 1 {
			t.Fatalf("file %d has no holders", i)
		}
	}
}

func TestRegistry_BookkeepingInvariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		m := &registryMachine{}
		m.init(t)
		t.Repeat(map[string]func(*rapid.T){
			"addFile":  m.addFile,
			"grant":    m.grant,
			"withdraw": m.withdraw,
			"":         m.check,
		})

		reopened, err := Open(context.Background(), Options{Ledger: m.ledger, Logger: quietLogger()})
		if err != nil {
			t.Fatalf("reopen: %v", err)
		}
		m.r = reopened
		m.check(t)
	})
}
