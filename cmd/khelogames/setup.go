package main

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/pc29564530/khelogames-client/internal/config"
)

// requiredEnvVars lists the environment variables that must be set for the
// client to run.
var requiredEnvVars = []string{"KHELO_STORE_KEY"}

// checkRequiredConfig returns the names of any missing required variables.
func checkRequiredConfig() []string {
	var missing []string
	for _, v := range requiredEnvVars {
		if os.Getenv(v) == "" {
			missing = append(missing, v)
		}
	}
	return missing
}

// isInteractiveTerminal returns true if both stdin and stdout are TTYs.
// This is used to determine if we can run the interactive setup wizard.
func isInteractiveTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// runSetupWizard runs an interactive wizard to collect required
// configuration. Returns true if setup was successful.
func runSetupWizard() bool {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("99")).
		MarginBottom(1)

	fmt.Println()
	fmt.Println(titleStyle.Render("Khelogames Client - First-time Setup"))
	fmt.Println()

	var apiURL string

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("API Base URL").
				Description("Leave empty for the default production backend").
				Value(&apiURL).
				Validate(func(s string) error {
					if s == "" {
						return nil
					}
					u, err := url.Parse(s)
					if err != nil || u.Scheme == "" || u.Host == "" {
						return errors.New("must be a full URL, e.g. https://api.example.com")
					}
					return nil
				}),
		),
	).WithTheme(huh.ThemeBase16())

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Println("\nSetup cancelled.")
			return false
		}
		fmt.Printf("\nError: %v\n", err)
		return false
	}

	// The at-rest encryption passphrase is generated, not asked for; there
	// is nothing memorable about it and it never needs to be typed again.
	cfg := map[string]string{
		"KHELO_STORE_KEY": generateStoreKey(),
	}
	if apiURL != "" {
		cfg["KHELO_API_URL"] = apiURL
	}

	configPath, err := writeEnvFile(cfg)
	if err != nil {
		fmt.Printf("\nError saving configuration: %v\n", err)
		return false
	}

	for k, v := range cfg {
		os.Setenv(k, v)
	}

	successStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("42")).
		Bold(true)
	pathStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("245"))

	fmt.Println()
	fmt.Println(successStyle.Render("✓ Configuration saved"))
	fmt.Println(pathStyle.Render("  " + configPath))
	fmt.Println()

	return true
}

func generateStoreKey() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		// Fallback to timestamp-based if crypto/rand fails (unlikely)
		return fmt.Sprintf("khelo-%d", time.Now().UnixNano())
	}
	return base64.URLEncoding.EncodeToString(b)
}

// writeEnvFile persists configuration to the env file in the config
// directory, preserving nothing: the wizard owns the whole file.
func writeEnvFile(values map[string]string) (string, error) {
	configDir, err := config.ConfigDir()
	if err != nil {
		return "", err
	}
	configPath := filepath.Join(configDir, config.EnvFileName)

	var content string
	for k, v := range values {
		content += fmt.Sprintf("%s=%s\n", k, v)
	}

	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		return "", fmt.Errorf("failed to write config file: %w", err)
	}
	return configPath, nil
}
