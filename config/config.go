// Package config handles loading and managing application configuration.
package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
// It is assembled once at startup and passed explicitly into every
// operation - there is no global settings lookup.
type Config struct {
	// Server configuration
	Server ServerConfig

	// T-Bank terminal configuration
	Terminal TerminalConfig

	// Fiscal receipt configuration
	Receipt ReceiptConfig

	// Order ledger database configuration
	Ledger LedgerConfig

	// AutoComplete moves a paid order to "completed" when every line
	// item is both virtual and downloadable.
	AutoComplete bool

	// Debug enables request/response logging in the payment client.
	Debug bool
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port    string
	GinMode string // "debug", "release", or "test"
}

// TerminalConfig holds the T-Bank terminal credentials and URLs.
type TerminalConfig struct {
	TerminalKey     string
	Secret          string
	BaseURL         string
	NotificationURL string
	SuccessURL      string
	FailURL         string
	Language        string // "ru" or "en"
}

// ReceiptConfig holds fiscal receipt settings.
type ReceiptConfig struct {
	Enabled       bool
	FFDVersion    string // "ffd105" or "ffd12"
	Taxation      string // "osn", "usn_income", ...
	PaymentMethod string // FFD payment method tag, e.g. "full_payment"
	PaymentObject string // FFD payment object tag, e.g. "commodity"
	CompanyEmail  string
	// PricesIncludeTax reports whether catalog prices already carry tax.
	// When false the receipt builder grosses unit prices up by the
	// applicable rate.
	PricesIncludeTax bool
}

// LedgerConfig holds the Postgres connection settings for the order ledger.
type LedgerConfig struct {
	DSN string
}

// Load reads configuration from environment variables.
// A .env file in the working directory is honored when present.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	return &Config{
		Server: ServerConfig{
			Port:    getEnv("PORT", "8080"),
			GinMode: getEnv("GIN_MODE", "debug"),
		},
		Terminal: TerminalConfig{
			TerminalKey:     getEnv("TBANK_TERMINAL_KEY", ""),
			Secret:          getEnv("TBANK_SECRET", ""),
			BaseURL:         getEnv("TBANK_BASE_URL", "https://securepay.tinkoff.ru/v2"),
			NotificationURL: getEnv("TBANK_NOTIFICATION_URL", ""),
			SuccessURL:      getEnv("TBANK_SUCCESS_URL", ""),
			FailURL:         getEnv("TBANK_FAIL_URL", ""),
			Language:        getEnv("TBANK_FORM_LANGUAGE", "ru"),
		},
		Receipt: ReceiptConfig{
			Enabled:          getEnvBool("RECEIPT_ENABLED", false),
			FFDVersion:       getEnv("RECEIPT_FFD", "ffd105"),
			Taxation:         getEnv("RECEIPT_TAXATION", "osn"),
			PaymentMethod:    getEnv("RECEIPT_PAYMENT_METHOD", "full_payment"),
			PaymentObject:    getEnv("RECEIPT_PAYMENT_OBJECT", "commodity"),
			CompanyEmail:     getEnv("RECEIPT_COMPANY_EMAIL", ""),
			PricesIncludeTax: getEnvBool("RECEIPT_PRICES_INCLUDE_TAX", true),
		},
		Ledger: LedgerConfig{
			DSN: getEnv("LEDGER_DSN", "host=localhost user=postgres password=postgres dbname=orders port=5432 sslmode=disable"),
		},
		AutoComplete: getEnvBool("AUTO_COMPLETE", false),
		Debug:        getEnvBool("DEBUG", false),
	}
}

// getEnv retrieves an environment variable with a fallback default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool retrieves an environment variable as a boolean with a fallback.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
