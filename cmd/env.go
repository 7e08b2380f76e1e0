package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/leadchat/internal/config"
)

// ConfigCheckResult holds the result of configuration validation
type ConfigCheckResult struct {
	Missing  []string          // Required settings that are missing
	Present  map[string]string // Settings that are set (masked values)
	Warnings []string          // Non-fatal warnings
	Remote   bool              // Whether the widget talks to a relay server
}

// CheckRequiredConfig reports the secrets and endpoints the configured
// deployment needs.
func CheckRequiredConfig(cfg *config.Config) *ConfigCheckResult {
	result := &ConfigCheckResult{
		Missing:  []string{},
		Present:  make(map[string]string),
		Warnings: []string{},
		Remote:   cfg.Relay.Endpoint != "",
	}

	check := func(name, value string, required bool) {
		if value == "" {
			if required {
				result.Missing = append(result.Missing, name)
			}
			return
		}
		result.Present[name] = maskSecret(value)
	}

	// The model key is only needed where the model is called.
	check("relay.api_key", cfg.Relay.APIKey, !result.Remote && cfg.Relay.Provider != "ollama")
	check("relay.endpoint", cfg.Relay.Endpoint, false)
	check("sink.database_url", cfg.Sink.DatabaseURL, false)
	check("sink.endpoint", cfg.Sink.Endpoint, false)
	check("sink.resend_api_key", cfg.Sink.ResendAPIKey, false)
	check("sink.mailchimp_api_key", cfg.Sink.MailchimpAPIKey, false)
	check("sink.webhook_url", cfg.Sink.WebhookURL, false)

	if cfg.Sink.DatabaseURL == "" && os.Getenv("DATABASE_URL") == "" {
		result.Warnings = append(result.Warnings, "no database configured, the lead sink keeps leads in memory")
	}
	if cfg.Sink.ResendAPIKey != "" && cfg.Sink.AdminEmail == "" {
		result.Warnings = append(result.Warnings, "resend_api_key is set but admin_email is empty, email notifications are disabled")
	}
	if cfg.Sink.MailchimpAPIKey != "" && cfg.Sink.MailchimpListID == "" {
		result.Missing = append(result.Missing, "sink.mailchimp_list_id")
	}

	return result
}

// PrintConfigCheck prints the configuration check results
func PrintConfigCheck(w io.Writer, result *ConfigCheckResult) {
	fmt.Fprintln(w, "=== Configuration Check ===")

	if result.Remote {
		fmt.Fprintln(w, "Relay: remote server")
	} else {
		fmt.Fprintln(w, "Relay: in-process model")
	}

	fmt.Fprintln(w, "")

	if len(result.Missing) > 0 {
		fmt.Fprintln(w, "❌ Missing required settings:")
		for _, v := range result.Missing {
			fmt.Fprintf(w, "   - %s\n", v)
		}
		fmt.Fprintln(w, "")
	}

	if len(result.Present) > 0 {
		fmt.Fprintln(w, "✓ Configured settings:")
		keys := make([]string, 0, len(result.Present))
		for k := range result.Present {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "   - %s = %s\n", k, result.Present[k])
		}
		fmt.Fprintln(w, "")
	}

	for _, warning := range result.Warnings {
		fmt.Fprintf(w, "⚠ Warning: %s\n", warning)
	}

	if len(result.Missing) == 0 {
		fmt.Fprintln(w, "✓ All required configuration is present")
	}

	fmt.Fprintln(w, "============================")
}

// maskSecret masks a secret value for display, showing only first and last 2 chars
func maskSecret(value string) string {
	if len(value) <= 8 {
		return "****"
	}
	return value[:2] + "****" + value[len(value)-2:]
}

// LoadEnvFile loads environment variables from a file, overwriting existing ones.
func LoadEnvFile(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(strings.TrimPrefix(key, "export "))
		value = strings.TrimSpace(value)

		// Remove quotes if present
		if len(value) >= 2 && ((value[0] == '"' && value[len(value)-1] == '"') || (value[0] == '\'' && value[len(value)-1] == '\'')) {
			value = value[1 : len(value)-1]
		}

		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("failed to set env var %s: %w", key, err)
		}
	}

	return scanner.Err()
}
