package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/securedocs/internal/flagx"
	"github.com/dmitrijs2005/securedocs/internal/timex"
)

// JsonConfig is the on-disk JSON shape. Durations accept "30s" style strings
// or integer nanoseconds. Absent fields leave the current value alone.
type JsonConfig struct {
	ListenAddr            string         `json:"listen_addr"`
	DatabaseDSN           string         `json:"database_dsn"`
	SecretKey             string         `json:"secret_key"`
	TokenValidityDuration timex.Duration `json:"token_validity_duration"`
	EncryptionKey         string         `json:"encryption_key"`
	LogLevel              string         `json:"log_level"`

	StorageBackend    string         `json:"storage_backend"`
	StorageTimeout    timex.Duration `json:"storage_timeout"`
	StorageMaxRetries *uint64        `json:"storage_max_retries"`
	StorageRetryBase  timex.Duration `json:"storage_retry_base"`

	PinataJWT       string `json:"pinata_jwt"`
	PinataUploadURL string `json:"pinata_upload_url"`
	PinataAPIURL    string `json:"pinata_api_url"`
	PinataGateway   string `json:"pinata_gateway"`

	S3RootUser     string `json:"s3_root_user"`
	S3RootPassword string `json:"s3_root_password"`
	S3Bucket       string `json:"s3_bucket"`
	S3Region       string `json:"s3_region"`
	S3BaseEndpoint string `json:"s3_base_endpoint"`

	LocalStorageDir string `json:"local_storage_dir"`

	RedisAddr     string         `json:"redis_addr"`
	RedisPassword string         `json:"redis_password"`
	RedisDB       *int           `json:"redis_db"`
	BlobCacheTTL  timex.Duration `json:"blob_cache_ttl"`

	OTLPEndpoint string `json:"otlp_endpoint"`
	ServiceName  string `json:"service_name"`

	MaxUploadBytes int64 `json:"max_upload_bytes"`
	CookieSecure   *bool `json:"cookie_secure"`
}

// parseJson overlays the JSON file named by -c/-config onto config. Without
// the flag nothing is loaded. An unreadable or invalid file panics.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	c.apply(config)
}

func (c *JsonConfig) apply(config *Config) {
	setString(&config.ListenAddr, c.ListenAddr)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	setDuration(&config.TokenValidityDuration, c.TokenValidityDuration)
	setString(&config.EncryptionKey, c.EncryptionKey)
	setString(&config.LogLevel, c.LogLevel)

	setString(&config.StorageBackend, c.StorageBackend)
	setDuration(&config.StorageTimeout, c.StorageTimeout)
	if c.StorageMaxRetries != nil {
		config.StorageMaxRetries = *c.StorageMaxRetries
	}
	setDuration(&config.StorageRetryBase, c.StorageRetryBase)

	setString(&config.PinataJWT, c.PinataJWT)
	setString(&config.PinataUploadURL, c.PinataUploadURL)
	setString(&config.PinataAPIURL, c.PinataAPIURL)
	setString(&config.PinataGateway, c.PinataGateway)

	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)

	setString(&config.LocalStorageDir, c.LocalStorageDir)

	setString(&config.RedisAddr, c.RedisAddr)
	setString(&config.RedisPassword, c.RedisPassword)
	if c.RedisDB != nil {
		config.RedisDB = *c.RedisDB
	}
	setDuration(&config.BlobCacheTTL, c.BlobCacheTTL)

	setString(&config.OTLPEndpoint, c.OTLPEndpoint)
	setString(&config.ServiceName, c.ServiceName)

	if c.MaxUploadBytes > 0 {
		config.MaxUploadBytes = c.MaxUploadBytes
	}
	if c.CookieSecure != nil {
		config.CookieSecure = *c.CookieSecure
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}
