package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/securedocs/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
//	-a string    HTTP listen address (e.g. ":8080")
//	-d string    PostgreSQL DSN
//	-s string    JWT HMAC secret key
//	-k string    16-byte AES encryption key
//	-t int       token validity, minutes
//	-storage     storage backend: pinata, s3 or local
//	-redis       Redis address for the blob cache; empty disables it
//	-l string    log level
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-s", "-k", "-t", "-storage", "-redis", "-l"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.ListenAddr, "a", config.ListenAddr, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	fs.StringVar(&config.EncryptionKey, "k", config.EncryptionKey, "AES-128 encryption key (16 bytes)")
	tokenValidity := fs.Int("t", int(config.TokenValidityDuration.Minutes()), "token validity (in minutes)")
	fs.StringVar(&config.StorageBackend, "storage", config.StorageBackend, "storage backend: pinata, s3 or local")
	fs.StringVar(&config.RedisAddr, "redis", config.RedisAddr, "redis address for blob cache")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.TokenValidityDuration = time.Duration(*tokenValidity) * time.Minute
}
