package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keyledger.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, BackendSQLite, cfg.Backend)
	assert.Equal(t, 32*datasize.MB, cfg.MaxBody)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
listen: 127.0.0.1:9000
backend: badger
data_dir: /var/lib/keyledger
owner: "0e0e"
base_fee: 100
bytes_fee_multiplier: 1
grant_fee: 10
max_body: 4MB
rate_limit:
  requests: 5
  window: 30s
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Listen)
	assert.Equal(t, BackendBadger, cfg.Backend)
	assert.Equal(t, 4*datasize.MB, cfg.MaxBody)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.Window)

	g := cfg.Genesis()
	assert.Equal(t, "0e0e", string(g.Owner))
	assert.Equal(t, uint64(100), g.BaseFee)
	assert.Equal(t, uint64(10), g.GrantFee)
}

func TestLoad_UnknownFieldRejected(t *testing.T) {
	path := writeConfig(t, "listn: :1\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"PORT":                  "9999",
		"KEYLEDGER_BACKEND":     "memory",
		"KEYLEDGER_GRANT_FEE":   "42",
		"KEYLEDGER_MAX_BODY":    "1KB",
		"KEYLEDGER_TRUST_PROXY": "true",
	}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	cfg := Default()
	require.NoError(t, cfg.applyEnv(lookup))
	assert.Equal(t, ":9999", cfg.Listen)
	assert.Equal(t, BackendMemory, cfg.Backend)
	assert.Equal(t, uint64(42), cfg.GrantFee)
	assert.Equal(t, datasize.KB, cfg.MaxBody)
	assert.True(t, cfg.TrustProxy)

	env["KEYLEDGER_BASE_FEE"] = "-1"
	assert.Error(t, cfg.applyEnv(lookup))
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Backend = "postgres"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Owner = "not-hex"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Owner = "0E0E"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.RateLimit.Requests = 0
	assert.Error(t, cfg.Validate())
}
