package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/dmitrijs2005/securedocs/internal/flagx"
	"github.com/joho/godotenv"
)

const defaultEnvFile = ".env"

// parseEnv overlays environment variables onto config. Variables from a
// dotenv file (-env flag, else ./.env when present) are loaded first and
// never override variables already set in the process environment.
//
// Malformed numeric or duration values panic, like malformed JSON does.
func parseEnv(config *Config) {
	loadDotEnv(flagx.EnvFileFlag())

	envString("LISTEN_ADDR", &config.ListenAddr)
	envString("DATABASE_DSN", &config.DatabaseDSN)
	envString("JWT_SECRET", &config.SecretKey)
	envDuration("TOKEN_VALIDITY", &config.TokenValidityDuration)
	envString("AES_SECRET_KEY", &config.EncryptionKey)
	envString("LOG_LEVEL", &config.LogLevel)

	envString("STORAGE_BACKEND", &config.StorageBackend)
	envDuration("STORAGE_TIMEOUT", &config.StorageTimeout)
	envUint("STORAGE_MAX_RETRIES", &config.StorageMaxRetries)
	envDuration("STORAGE_RETRY_BASE", &config.StorageRetryBase)

	envString("PINATA_JWT", &config.PinataJWT)
	envString("PINATA_UPLOAD_URL", &config.PinataUploadURL)
	envString("PINATA_API_URL", &config.PinataAPIURL)
	envString("PINATA_GATEWAY", &config.PinataGateway)

	envString("S3_ROOT_USER", &config.S3RootUser)
	envString("S3_ROOT_PASSWORD", &config.S3RootPassword)
	envString("S3_BUCKET", &config.S3Bucket)
	envString("S3_REGION", &config.S3Region)
	envString("S3_BASE_ENDPOINT", &config.S3BaseEndpoint)

	envString("LOCAL_STORAGE_DIR", &config.LocalStorageDir)

	envString("REDIS_ADDR", &config.RedisAddr)
	envString("REDIS_PASSWORD", &config.RedisPassword)
	envInt("REDIS_DB", &config.RedisDB)
	envDuration("BLOB_CACHE_TTL", &config.BlobCacheTTL)

	envString("OTEL_EXPORTER_OTLP_ENDPOINT", &config.OTLPEndpoint)
	envString("SERVICE_NAME", &config.ServiceName)

	var maxUpload int
	if envInt("MAX_UPLOAD_BYTES", &maxUpload) {
		config.MaxUploadBytes = int64(maxUpload)
	}
	envBool("COOKIE_SECURE", &config.CookieSecure)
}

func loadDotEnv(path string) {
	explicit := path != ""
	if !explicit {
		path = defaultEnvFile
	}
	err := godotenv.Load(path)
	if err == nil {
		return
	}
	if !explicit && errors.Is(err, fs.ErrNotExist) {
		return
	}
	panic(err)
}

func envString(name string, dst *string) bool {
	v, ok := os.LookupEnv(name)
	if !ok {
		return false
	}
	*dst = v
	return true
}

func envDuration(name string, dst *time.Duration) bool {
	v, ok := os.LookupEnv(name)
	if !ok {
		return false
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		panic(err)
	}
	*dst = d
	return true
}

func envInt(name string, dst *int) bool {
	v, ok := os.LookupEnv(name)
	if !ok {
		return false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		panic(err)
	}
	*dst = n
	return true
}

func envUint(name string, dst *uint64) bool {
	v, ok := os.LookupEnv(name)
	if !ok {
		return false
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		panic(err)
	}
	*dst = n
	return true
}

func envBool(name string, dst *bool) bool {
	v, ok := os.LookupEnv(name)
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		panic(err)
	}
	*dst = b
	return true
}
