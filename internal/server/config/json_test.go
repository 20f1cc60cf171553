package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempJSON(t *testing.T, data map[string]any) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cfg.json")
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func Test_parseJson(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	path := writeTempJSON(t, map[string]any{
		"listen_addr":             "0.0.0.0:9000",
		"database_dsn":            "postgres://db",
		"secret_key":              "jwt",
		"token_validity_duration": "30m",
		"encryption_key":          "fedcba9876543210",
		"storage_backend":         "pinata",
		"storage_timeout":         "5s",
		"storage_max_retries":     0,
		"pinata_jwt":              "pjwt",
		"pinata_gateway":          "gw.mypinata.cloud",
		"redis_addr":              "redis:6379",
		"redis_db":                2,
		"blob_cache_ttl":          int64(time.Minute),
		"cookie_secure":           true,
	})

	t.Run("overlays present fields", func(t *testing.T) {
		os.Args = []string{"testbin", "-config", path}

		cfg := &Config{}
		cfg.LoadDefaults()
		parseJson(cfg)

		assert.Equal(t, "0.0.0.0:9000", cfg.ListenAddr)
		assert.Equal(t, "postgres://db", cfg.DatabaseDSN)
		assert.Equal(t, "jwt", cfg.SecretKey)
		assert.Equal(t, 30*time.Minute, cfg.TokenValidityDuration)
		assert.Equal(t, "fedcba9876543210", cfg.EncryptionKey)
		assert.Equal(t, StoragePinata, cfg.StorageBackend)
		assert.Equal(t, 5*time.Second, cfg.StorageTimeout)
		assert.Equal(t, uint64(0), cfg.StorageMaxRetries, "explicit zero retries is kept")
		assert.Equal(t, "pjwt", cfg.PinataJWT)
		assert.Equal(t, "redis:6379", cfg.RedisAddr)
		assert.Equal(t, 2, cfg.RedisDB)
		assert.Equal(t, time.Minute, cfg.BlobCacheTTL)
		assert.True(t, cfg.CookieSecure)

		// untouched
		assert.Equal(t, "securedocs", cfg.S3Bucket)
		assert.Equal(t, 200*time.Millisecond, cfg.StorageRetryBase)
	})

	t.Run("no config flag leaves config alone", func(t *testing.T) {
		os.Args = []string{"testbin"}

		cfg := &Config{ListenAddr: "keep"}
		parseJson(cfg)
		assert.Equal(t, &Config{ListenAddr: "keep"}, cfg)
	})

	t.Run("missing file panics", func(t *testing.T) {
		os.Args = []string{"testbin", "-c", filepath.Join(t.TempDir(), "nope.json")}
		assert.Panics(t, func() { parseJson(&Config{}) })
	})

	t.Run("invalid json panics", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte("{"), 0o600))
		os.Args = []string{"testbin", "-c", bad}
		assert.Panics(t, func() { parseJson(&Config{}) })
	})
}
