package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	owner Identity = "00aa00aa"
	alice Identity = "a11ce0"
	bob   Identity = "b0b0"
	carol Identity = "ca7012"
)

var fixedNow = time.Unix(1_700_000_000, 0)

func quietLogger() *logrus.Entry {
	l, _ := test.NewNullLogger()
	return logrus.NewEntry(l)
}

// newTestRegistry opens a registry over ledger with baseFee=100,
// multiplier=1, grantFee=10.
func newTestRegistry(t *testing.T, ledger Ledger) *Registry {
	t.Helper()
	r, err := Open(context.Background(), Options{
		Ledger: ledger,
		Genesis: AdminConfig{
			Owner:              owner,
			BaseFee:            100,
			BytesFeeMultiplier: 1,
			GrantFee:           10,
		},
		Logger: quietLogger(),
		Clock:  func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	return r
}

// payload50 totals 50 billed bytes.
func payload50() Payload {
	return Payload{
		Ciphertext:      make([]byte, 30),
		EncryptedName:   make([]byte, 8),
		EncryptedFolder: make([]byte, 4),
		EncryptedKind:   make([]byte, 4),
		IV:              make([]byte, 4),
	}
}

// failingLedger fails every commit after the first `allow` ones.
type failingLedger struct {
	*MemLedger
	allow int
}

func (f *failingLedger) Commit(ctx context.Context, b *Batch) error {
	if f.allow <= 0 {
		return errors.New("disk on fire")
	}
	f.allow--
	return f.MemLedger.Commit(ctx, b)
}

func TestOpen_RequiresGenesisOwner(t *testing.T) {
	_, err := Open(context.Background(), Options{Logger: quietLogger()})
	require.ErrorIs(t, err, ErrInvalidIdentity)
}

func TestAddFile_IndicesAreDense(t *testing.T) {
	r := newTestRegistry(t, nil)
	ctx := context.Background()

	for i := uint64(0); i < 5; i++ {
		idx, err := r.AddFile(ctx, alice, payload50(), []byte("k"), 150)
		require.NoError(t, err)
		assert.Equal(t, i, idx)
	}
	assert.Equal(t, uint64(5), r.FileCount())
	assert.Equal(t, uint64(5), r.TotalAccessCount())
	assert.Equal(t, uint64(750), r.Balance())
}

func TestAddFile_SelfGrant(t *testing.T) {
	r := newTestRegistry(t, nil)

	idx, err := r.AddFile(context.Background(), alice, payload50(), []byte("alice-key"), 150)
	require.NoError(t, err)

	assert.True(t, r.HasAccessKey(idx, alice))
	n, err := r.FileAccessHolderCount(idx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	keys := r.AccessKeysOf(alice)
	require.Len(t, keys, 1)
	assert.Equal(t, alice, keys[0].Grantor)
	assert.Equal(t, idx, keys[0].FileIndex)
	assert.Equal(t, []byte("alice-key"), keys[0].WrappedKey)

	f, err := r.FileFor(idx, alice)
	require.NoError(t, err)
	assert.Equal(t, fixedNow.Unix(), f.CreatedAt)
	assert.Equal(t, uint64(1), f.Sequence)
	assert.Equal(t, []Identity{alice}, f.AccessHolders)
}

func TestAddFile_WrongFeeChangesNothing(t *testing.T) {
	r := newTestRegistry(t, nil)
	ctx := context.Background()

	for _, amount := range []uint64{0, 149, 151, 1000} {
		_, err := r.AddFile(ctx, alice, payload50(), []byte("k"), amount)
		require.ErrorIs(t, err, ErrInvalidFee, "amount %d", amount)
	}
	assert.Equal(t, uint64(0), r.FileCount())
	assert.Equal(t, uint64(0), r.Balance())
	assert.Equal(t, uint64(0), r.TotalAccessCount())
	assert.Empty(t, r.Events().Since(0))
}

func TestAddFile_FeeOverflowRejected(t *testing.T) {
	r := newTestRegistry(t, nil)
	ctx := context.Background()
	require.NoError(t, r.SetBytesFeeMultiplier(ctx, owner, ^uint64(0)))

	_, err := r.AddFile(ctx, alice, payload50(), nil, 0)
	require.ErrorIs(t, err, ErrFeeOverflow)
	assert.Equal(t, uint64(0), r.FileCount())
}

func TestAddFile_LedgerFailureRollsBack(t *testing.T) {
	ledger := &failingLedger{MemLedger: NewMemLedger(), allow: 1} // genesis only
	r := newTestRegistry(t, ledger)

	_, err := r.AddFile(context.Background(), alice, payload50(), []byte("k"), 150)
	require.Error(t, err)

	assert.Equal(t, uint64(0), r.FileCount())
	assert.Equal(t, uint64(0), r.Balance())
	assert.Equal(t, uint64(0), r.TotalAccessCount())
	assert.False(t, r.HasAccessKey(0, alice))
	assert.Empty(t, r.AccessKeysOf(alice))
	assert.Equal(t, uint64(0), r.Events().Len())
	assert.Equal(t, uint64(0), r.Sequence())
}

func TestGrant_WithoutPriorAccess(t *testing.T) {
	r := newTestRegistry(t, nil)
	ctx := context.Background()

	idx, err := r.AddFile(ctx, alice, payload50(), []byte("k"), 150)
	require.NoError(t, err)

	// bob never received a key for idx but may still grant one.
	require.NoError(t, r.Grant(ctx, bob, idx, carol, []byte("for-carol"), 10))

	assert.True(t, r.HasAccessKey(idx, carol))
	assert.False(t, r.HasAccessKey(idx, bob))
	n, err := r.FileAccessHolderCount(idx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	keys := r.AccessKeysOf(carol)
	require.Len(t, keys, 1)
	assert.Equal(t, bob, keys[0].Grantor)
	assert.Equal(t, uint64(160), r.Balance())
}

func TestGrant_DuplicatesAreKept(t *testing.T) {
	r := newTestRegistry(t, nil)
	ctx := context.Background()
	idx, err := r.AddFile(ctx, alice, payload50(), nil, 150)
	require.NoError(t, err)

	require.NoError(t, r.Grant(ctx, alice, idx, bob, []byte("1"), 10))
	require.NoError(t, r.Grant(ctx, alice, idx, bob, []byte("2"), 10))

	n, err := r.FileAccessHolderCount(idx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Len(t, r.AccessKeysOf(bob), 2)

	holders, err := r.AccessHolders(idx)
	require.NoError(t, err)
	assert.Equal(t, []Identity{alice, bob, bob}, holders)
	assert.Equal(t, uint64(3), r.TotalAccessCount())
}

func TestGrant_IndexCheckedBeforeFee(t *testing.T) {
	r := newTestRegistry(t, nil)
	ctx := context.Background()

	err := r.Grant(ctx, alice, 0, bob, nil, 10)
	require.ErrorIs(t, err, ErrIndexOutOfRange)
	err = r.Grant(ctx, alice, 0, bob, nil, 3)
	require.ErrorIs(t, err, ErrIndexOutOfRange)

	_, err = r.AddFile(ctx, alice, payload50(), nil, 150)
	require.NoError(t, err)
	err = r.Grant(ctx, alice, 0, bob, nil, 11)
	require.ErrorIs(t, err, ErrInvalidFee)
	assert.Equal(t, uint64(150), r.Balance())
}

func TestGrant_RejectsUppercaseGrantee(t *testing.T) {
	r := newTestRegistry(t, nil)
	ctx := context.Background()
	idx, err := r.AddFile(ctx, alice, payload50(), nil, 150)
	require.NoError(t, err)

	err = r.Grant(ctx, alice, idx, "CA7012", []byte("k"), 10)
	require.ErrorIs(t, err, ErrInvalidIdentity)
	assert.False(t, r.HasAccessKey(idx, carol))
	assert.Equal(t, uint64(150), r.Balance())
}

func TestHasAccessKey_OutOfRangeIsFalse(t *testing.T) {
	r := newTestRegistry(t, nil)
	assert.False(t, r.HasAccessKey(42, alice))
}

func TestFileAccessHolderCount_OutOfRange(t *testing.T) {
	r := newTestRegistry(t, nil)
	_, err := r.FileAccessHolderCount(0)
	require.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestFileFor_RequiresAccessKey(t *testing.T) {
	r := newTestRegistry(t, nil)
	ctx := context.Background()
	idx, err := r.AddFile(ctx, alice, payload50(), nil, 150)
	require.NoError(t, err)

	_, err = r.FileFor(idx, bob)
	require.ErrorIs(t, err, ErrNoAccess)

	require.NoError(t, r.Grant(ctx, alice, idx, bob, nil, 10))
	f, err := r.FileFor(idx, bob)
	require.NoError(t, err)
	assert.Len(t, f.Ciphertext, 30)
}

func TestAccessKeysOf_ReturnsCopy(t *testing.T) {
	r := newTestRegistry(t, nil)
	_, err := r.AddFile(context.Background(), alice, payload50(), []byte("key"), 150)
	require.NoError(t, err)

	keys := r.AccessKeysOf(alice)
	keys[0].WrappedKey[0] = 'X'
	assert.Equal(t, []byte("key"), r.AccessKeysOf(alice)[0].WrappedKey)
}

func TestEndToEndScenario(t *testing.T) {
	r := newTestRegistry(t, nil)
	ctx := context.Background()

	fee, err := r.Config().CreationFee(payload50())
	require.NoError(t, err)
	require.Equal(t, uint64(150), fee)

	idx, err := r.AddFile(ctx, alice, payload50(), []byte("a"), 150)
	require.NoError(t, err)
	require.Equal(t, uint64(0), idx)

	require.NoError(t, r.Grant(ctx, bob, 0, carol, []byte("c"), 10))
	assert.True(t, r.HasAccessKey(0, carol))
	assert.False(t, r.HasAccessKey(0, bob))

	evs := r.Events().Since(0)
	require.Len(t, evs, 3)
	assert.Equal(t, EventFileCreated, evs[0].Kind)
	assert.Equal(t, EventAccessGranted, evs[1].Kind)
	assert.Equal(t, alice, evs[1].Subject)
	assert.Equal(t, EventAccessGranted, evs[2].Kind)
	assert.Equal(t, bob, evs[2].Actor)
	assert.Equal(t, carol, evs[2].Subject)
	for i, ev := range evs {
		assert.Equal(t, uint64(i), ev.Index)
		assert.NotEmpty(t, ev.ID)
	}
}

func TestReopen_RestoresState(t *testing.T) {
	ledger := NewMemLedger()
	r := newTestRegistry(t, ledger)
	ctx := context.Background()

	_, err := r.AddFile(ctx, alice, payload50(), []byte("a"), 150)
	require.NoError(t, err)
	_, err = r.AddFile(ctx, bob, payload50(), []byte("b"), 150)
	require.NoError(t, err)
	require.NoError(t, r.Grant(ctx, carol, 0, bob, []byte("x"), 10))
	require.NoError(t, r.SetGrantFee(ctx, owner, 25))
	_, err = r.WithdrawFees(ctx, owner)
	require.NoError(t, err)

	again, err := Open(ctx, Options{Ledger: ledger, Logger: quietLogger()})
	require.NoError(t, err)

	assert.Equal(t, r.FileCount(), again.FileCount())
	assert.Equal(t, r.TotalAccessCount(), again.TotalAccessCount())
	assert.Equal(t, r.Config(), again.Config())
	assert.Equal(t, r.Sequence(), again.Sequence())
	assert.Equal(t, uint64(0), again.Balance())
	assert.Equal(t, uint64(310), again.PaidOut(owner))
	assert.Equal(t, r.AccessKeysOf(bob), again.AccessKeysOf(bob))

	holders, err := again.AccessHolders(0)
	require.NoError(t, err)
	assert.Equal(t, []Identity{alice, bob}, holders)
	assert.Equal(t, r.Events().Since(0), again.Events().Since(0))
}

func TestSubscribe_ReceivesCommittedEvents(t *testing.T) {
	r := newTestRegistry(t, nil)
	ch, cancel := r.Events().Subscribe(8)
	defer cancel()

	_, err := r.AddFile(context.Background(), alice, payload50(), nil, 150)
	require.NoError(t, err)

	ev := <-ch
	assert.Equal(t, EventFileCreated, ev.Kind)
	ev = <-ch
	assert.Equal(t, EventAccessGranted, ev.Kind)

	cancel()
	_, open := <-ch
	assert.False(t, open)
}
