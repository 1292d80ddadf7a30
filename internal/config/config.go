package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment         string
	EncryptionKeyBase64 string
	DBHost              string
	DBPort              string
	DBUsername          string
	DBPassword          string
	DBName              string
	DBSSLMode           string
	LookbackHours       int
	ScanPageSize        int
	MailTLS             bool
	UserEmail           string
	ProposerURL         string
	Timezone            string
}

func NewConfig() (*Config, error) {
	env := os.Getenv("OUTREACH_ENV")
	if env == "" {
		env = "development"
	}

	if env == "development" {
		if err := godotenv.Load(); err != nil {
			fmt.Println("Warning: .env file not found, using environment variables")
		}
	}

	lookback, err := getEnvIntOrDefault("OUTREACH_LOOKBACK_HOURS", 5)
	if err != nil {
		return nil, err
	}
	pageSize, err := getEnvIntOrDefault("OUTREACH_SCAN_PAGE_SIZE", 50)
	if err != nil {
		return nil, err
	}

	config := &Config{
		Environment:         env,
		EncryptionKeyBase64: os.Getenv("OUTREACH_ENCRYPTION_KEY_BASE64"),
		DBHost:              getEnvOrDefault("OUTREACH_DB_HOST", "localhost"),
		DBPort:              getEnvOrDefault("OUTREACH_DB_PORT", "5432"),
		DBUsername:          getEnvOrDefault("OUTREACH_DB_USER", "outreach"),
		DBPassword:          os.Getenv("OUTREACH_DB_PASSWORD"),
		DBName:              getEnvOrDefault("OUTREACH_DB_NAME", "outreach"),
		DBSSLMode:           getEnvOrDefault("OUTREACH_DB_SSLMODE", "disable"),
		LookbackHours:       lookback,
		ScanPageSize:        pageSize,
		MailTLS:             getEnvOrDefault("OUTREACH_MAIL_TLS", "true") == "true",
		UserEmail:           os.Getenv("OUTREACH_USER_EMAIL"),
		ProposerURL:         os.Getenv("OUTREACH_PROPOSER_URL"),
		Timezone:            getEnvOrDefault("TZ", "UTC"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	if c.EncryptionKeyBase64 == "" {
		return fmt.Errorf("OUTREACH_ENCRYPTION_KEY_BASE64 is required")
	}

	if c.DBPassword == "" {
		return fmt.Errorf("OUTREACH_DB_PASSWORD is required")
	}

	if c.LookbackHours <= 0 {
		return fmt.Errorf("OUTREACH_LOOKBACK_HOURS must be positive, got %d", c.LookbackHours)
	}

	if c.ScanPageSize <= 0 {
		return fmt.Errorf("OUTREACH_SCAN_PAGE_SIZE must be positive, got %d", c.ScanPageSize)
	}

	return nil
}

func (c *Config) GetDatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUsername,
		c.DBPassword,
		c.DBHost,
		c.DBPort,
		c.DBName,
		c.DBSSLMode,
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, value)
	}
	return parsed, nil
}
