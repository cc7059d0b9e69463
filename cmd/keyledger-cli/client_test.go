package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/ssd-technologies/keyledger/internal/auth"
	"github.com/ssd-technologies/keyledger/internal/crypto"
	"github.com/ssd-technologies/keyledger/internal/registry"
	"github.com/ssd-technologies/keyledger/internal/server"
)

func newKey(t *testing.T) ed25519.PrivateKey {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return priv
}

// startServer runs a keyledger server owned by owner with base fee 100,
// multiplier 1 and grant fee 10.
func startServer(t *testing.T, owner ed25519.PrivateKey) string {
	t.Helper()
	logger, _ := test.NewNullLogger()
	reg, err := registry.Open(context.Background(), registry.Options{
		Genesis: registry.AdminConfig{
			Owner:              registry.Identity(auth.IdentityFromPublicKey(owner.Public().(ed25519.PublicKey))),
			BaseFee:            100,
			BytesFeeMultiplier: 1,
			GrantFee:           10,
		},
		Logger: logrus.NewEntry(logger),
	})
	require.NoError(t, err)
	ts := httptest.NewServer(server.New(reg, server.Options{Logger: logrus.NewEntry(logger)}))
	t.Cleanup(ts.Close)
	return ts.URL
}

func TestClientAddGrantGet(t *testing.T) {
	owner, alice, bob := newKey(t), newKey(t), newKey(t)
	url := startServer(t, owner)
	ac, bc := newClient(url, alice), newClient(url, bob)

	fileKey, err := crypto.NewFileKey()
	require.NoError(t, err)
	p, err := crypto.SealPayload(fileKey, crypto.Plaintext{Content: []byte("ledger contents"), Name: "notes.txt"})
	require.NoError(t, err)
	wrapped, err := crypto.WrapKey(fileKey, "alice-secret")
	require.NoError(t, err)

	q, err := ac.quote(payloadSizes(p))
	require.NoError(t, err)
	require.Equal(t, uint64(100+p.Size()), q.CreationFee)
	require.Equal(t, uint64(10), q.GrantFee)

	req := struct {
		registry.Payload
		WrappedKey []byte `json:"wrapped_key"`
	}{p, wrapped}
	require.NoError(t, ac.do(http.MethodPost, "/api/files", req, q.CreationFee, nil))

	// Re-wrap for bob the way the grant command does.
	keys, err := ac.accessKeys(ac.identity())
	require.NoError(t, err)
	require.Len(t, keys, 1)
	got, err := crypto.UnwrapKey(keys[0].WrappedKey, "alice-secret")
	require.NoError(t, err)
	shared, err := crypto.WrapKey(got, "shared")
	require.NoError(t, err)
	grant := map[string]any{"grantee": bc.identity(), "wrapped_key": shared}
	require.NoError(t, ac.do(http.MethodPost, "/api/files/0/grants", grant, q.GrantFee, nil))

	bobKeys, err := bc.accessKeys(bc.identity())
	require.NoError(t, err)
	require.Len(t, bobKeys, 1)
	bobFileKey, err := crypto.UnwrapKey(bobKeys[0].WrappedKey, "shared")
	require.NoError(t, err)

	var fetched registry.Payload
	require.NoError(t, bc.do(http.MethodGet, "/api/files/0", nil, 0, &fetched))
	pt, err := crypto.OpenPayload(bobFileKey, fetched)
	require.NoError(t, err)
	require.Equal(t, "ledger contents", string(pt.Content))
	require.Equal(t, "notes.txt", pt.Name)

	f, err := bc.fees()
	require.NoError(t, err)
	require.Equal(t, q.CreationFee+q.GrantFee, f.Balance)
}

func TestClientAPIError(t *testing.T) {
	owner, alice := newKey(t), newKey(t)
	url := startServer(t, owner)

	err := newClient(url, alice).do(http.MethodPost, "/api/admin/withdraw", nil, 0, nil)
	var apiErr *apiError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusForbidden, apiErr.Status)
	require.Contains(t, apiErr.Message, "not the owner")

	err = newClient(url, owner).do(http.MethodPost, "/api/admin/withdraw", nil, 0, nil)
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusConflict, apiErr.Status)
}

func TestCanonicalIdentityMatchesServer(t *testing.T) {
	owner, alice, bob := newKey(t), newKey(t), newKey(t)
	url := startServer(t, owner)
	ac := newClient(url, alice)

	p := registry.Payload{Ciphertext: []byte("c")}
	q, err := ac.quote(payloadSizes(p))
	require.NoError(t, err)
	req := struct {
		registry.Payload
		WrappedKey []byte `json:"wrapped_key"`
	}{p, []byte("k")}
	require.NoError(t, ac.do(http.MethodPost, "/api/files", req, q.CreationFee, nil))

	typed := " " + strings.ToUpper(newClient(url, bob).identity()) + "\n"
	grant := map[string]any{"grantee": canonicalIdentity(typed), "wrapped_key": []byte("b")}
	require.NoError(t, ac.do(http.MethodPost, "/api/files/0/grants", grant, q.GrantFee, nil))

	keys, err := ac.accessKeys(newClient(url, bob).identity())
	require.NoError(t, err)
	require.Len(t, keys, 1)

	grant["grantee"] = strings.ToUpper(newClient(url, bob).identity())
	err = ac.do(http.MethodPost, "/api/files/0/grants", grant, q.GrantFee, nil)
	var apiErr *apiError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusBadRequest, apiErr.Status)
}

func TestLoadKey(t *testing.T) {
	dir := t.TempDir()
	key := newKey(t)
	path := filepath.Join(dir, "id.key")
	require.NoError(t, os.WriteFile(path, key.Seed(), 0600))

	loaded, err := loadKey(path)
	require.NoError(t, err)
	require.True(t, key.Equal(loaded))

	short := filepath.Join(dir, "short.key")
	require.NoError(t, os.WriteFile(short, []byte("abc"), 0600))
	_, err = loadKey(short)
	require.Error(t, err)
}
