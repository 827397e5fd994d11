package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dotbeacon/internal/test/testutil"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "0.0.0.0:8080", cfg.ListenAddr())
	assert.Equal(t, "dotbeacon.pairing.default", cfg.PairingSubject())
}

func TestFromEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DOTBEACON_PORT", "9000")
	t.Setenv("DOTBEACON_LOG_FORMAT", "json")
	t.Setenv("DOTBEACON_NETWORK", "dot")
	t.Setenv("DOTBEACON_REQUEST_TIMEOUT", "30s")
	t.Setenv("DOTBEACON_STORE", "badger")
	t.Setenv("DOTBEACON_BADGER_DIR", filepath.Join(dir, "session"))
	t.Setenv("DOTBEACON_KEY_DIR", dir)
	t.Setenv("DOTBEACON_DEV_ACCOUNTS", "//Alice, //Bob,")
	t.Setenv("DOTBEACON_VERIFY_SIGNATURES", "true")
	t.Setenv("DOTBEACON_TRANSFER_RATE", "0.5")
	t.Setenv("DOTBEACON_DB_PORT", "6432")
	t.Setenv("DOTBEACON_RECIPIENT", testutil.BobAddress)

	loader := NewEnvLoader(DefaultEnvPrefix)
	loader.LoadAll()
	cfg, err := FromEnv(loader)
	require.NoError(t, err)

	assert.Equal(t, uint16(9000), cfg.Port)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "dot", cfg.DefaultNetwork)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, StoreBadger, cfg.Store)
	assert.Equal(t, []string{"//Alice", "//Bob"}, cfg.DevAccounts)
	assert.True(t, cfg.VerifySignatures)
	assert.False(t, cfg.WaitFinalized)
	assert.Equal(t, 0.5, cfg.TransferRate)
	assert.Equal(t, uint16(6432), cfg.Database.Port)
	assert.Equal(t, testutil.BobAddress, cfg.Recipient)
}

func TestFromEnvRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"DOTBEACON_PORT":            "70000",
		"DOTBEACON_DB_PORT":         "80",
		"DOTBEACON_RECIPIENT":       "5Grwva",
		"DOTBEACON_STORE":           "mongo",
		"DOTBEACON_LOG_FORMAT":      "xml",
		"DOTBEACON_NATS_URL":        "localhost",
		"DOTBEACON_REQUEST_TIMEOUT": "soon",
		"DOTBEACON_KEY_DIR":         "/does/not/exist",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			loader := NewEnvLoader(DefaultEnvPrefix)
			loader.LoadAll()
			_, err := FromEnv(loader)
			assert.Error(t, err)
		})
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		modify func(*Config)
	}{
		{"no host", func(c *Config) { c.Host = "" }},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }},
		{"bad channel", func(c *Config) { c.PairingChannel = "a b" }},
		{"wildcard channel", func(c *Config) { c.PairingChannel = "*" }},
		{"bad wallet version", func(c *Config) { c.MinWalletVersion = "latest" }},
		{"badger without dir", func(c *Config) { c.Store = StoreBadger; c.BadgerDir = "" }},
		{"redis without address", func(c *Config) { c.Store = StoreRedis; c.Redis.Address = "" }},
		{"postgres without user", func(c *Config) { c.Store = StorePostgres; c.Database.User = "" }},
		{"zero burst", func(c *Config) { c.TransferBurst = 0 }},
		{"bad recipient", func(c *Config) { c.Recipient = "not-an-address" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.modify(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestNetworks(t *testing.T) {
	dir := t.TempDir()
	path := testutil.CreateTestFile(t, dir, "networks.yaml", `networks:
  - name: Local
    value: local
    prefix: 42
    url: ws://127.0.0.1:9944
  - name: Kusama
    value: ksm
    prefix: 2
    url: wss://kusama.example
    disabled: true
`)

	cfg := Default()
	cfg.NetworksFile = path
	cfg.DefaultNetwork = "local"

	registry, err := cfg.Networks()
	require.NoError(t, err)
	local, ok := registry.Find("local")
	require.True(t, ok)
	assert.Equal(t, "ws://127.0.0.1:9944", local.URL)

	cfg.DefaultNetwork = "ksm"
	_, err = cfg.Networks()
	assert.Error(t, err, "disabled network cannot be the default")

	cfg.NetworksFile = filepath.Join(dir, "missing.yaml")
	_, err = cfg.Networks()
	assert.Error(t, err)
}

func TestLoadReadsEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := testutil.CreateTestFile(t, dir, ".env", "DOTBEACON_APP_NAME=from-env-file\n")
	t.Cleanup(func() { os.Unsetenv("DOTBEACON_APP_NAME") })

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env-file", cfg.AppName)
}

func TestLogger(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "debug"
	logger, err := cfg.Logger()
	require.NoError(t, err)
	assert.Equal(t, "debug", logger.GetLevel().String())
}

func TestEnvLoaderGetStrings(t *testing.T) {
	t.Setenv("TEST_LIST", " a ,b,,c ")
	loader := NewEnvLoader("TEST_")
	loader.LoadAll()

	assert.Equal(t, []string{"a", "b", "c"}, loader.GetStrings("LIST", nil))
	assert.Equal(t, []string{"x"}, loader.GetStrings("MISSING", []string{"x"}))
}

func TestValidators(t *testing.T) {
	assert.NoError(t, ValidateSS58Address(testutil.AliceAddress))
	assert.Error(t, ValidateSS58Address("5Grwva"))
	assert.NoError(t, OneOf("a", "b")("b"))
	assert.Error(t, OneOf("a", "b")("c"))
}

func TestEnvLoaderGetPort(t *testing.T) {
	t.Setenv("TEST_PORT", "443")
	t.Setenv("TEST_OTHER_PORT", "9090")
	loader := NewEnvLoader("TEST_")
	loader.LoadAll()

	_, err := loader.GetPort("PORT", DefaultPort)
	assert.Error(t, err)

	port, err := loader.GetPort("OTHER_PORT", DefaultPort)
	require.NoError(t, err)
	assert.Equal(t, uint16(9090), port)

	port, err = loader.GetPort("MISSING", DefaultPort)
	require.NoError(t, err)
	assert.Equal(t, uint16(DefaultPort), port)
}

func TestValidateWallet(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.ValidateWallet())

	cfg.WalletURI = ""
	assert.Error(t, cfg.ValidateWallet())
}
