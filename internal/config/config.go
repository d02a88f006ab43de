package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultTypingWindow = 4 * time.Second
	DefaultPresenceTTL  = 90 * time.Second

	// MemoryDSN selects the in-process store instead of Postgres.
	MemoryDSN = "memory"
)

type Config struct {
	DatabaseDSN    string
	ServerAddr     string
	SigningKey     []byte
	AllowedOrigins []string
	TypingWindow   time.Duration
	PresenceTTL    time.Duration
}

// DecodeSigningSecret decodes a base64 HMAC key and rejects empty keys.
func DecodeSigningSecret(base64Secret string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(base64Secret)
	if err != nil {
		return nil, err
	}
	if len(key) == 0 {
		return nil, errors.New("empty signing secret")
	}
	return key, nil
}

func NewConfig(serverAddr, databaseDSN, base64Secret string, allowedOrigins []string, typingWindow, presenceTTL time.Duration) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}
	if typingWindow < 0 || presenceTTL < 0 {
		return nil, fmt.Errorf("durations cannot be negative")
	}

	signingKey, err := DecodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	if typingWindow == 0 {
		typingWindow = DefaultTypingWindow
	}
	if presenceTTL == 0 {
		presenceTTL = DefaultPresenceTTL
	}

	return &Config{
		DatabaseDSN:    databaseDSN,
		ServerAddr:     serverAddr,
		SigningKey:     signingKey,
		AllowedOrigins: allowedOrigins,
		TypingWindow:   typingWindow,
		PresenceTTL:    presenceTTL,
	}, nil
}

// UseMemoryStore reports whether the DSN selects the in-process store.
func (c *Config) UseMemoryStore() bool {
	return c.DatabaseDSN == MemoryDSN
}

// LoadEnv loads variables from the given dotenv files into the process
// environment. Missing files are skipped; variables that are already set
// win over the files.
func LoadEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Getenv returns the value of key, or fallback when it is unset or empty.
func Getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// GetenvDuration parses key as a time.Duration, returning fallback when
// the variable is unset or malformed.
func GetenvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
