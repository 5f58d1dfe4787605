package main

import (
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/TheMichaelB/diffsync/internal/config"
)

// ensureSecret fills in a missing secret key from an interactive prompt.
// Non-interactive runs keep the empty secret and let the remote reject it.
func ensureSecret(cfg *config.Config) error {
	if cfg.Auth.SecretKey != "" || !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil
	}

	prompt := "Secret key: "
	if cfg.Auth.UserID != "" {
		prompt = fmt.Sprintf("Secret key for %s: ", cfg.Auth.UserID)
	}

	secret, err := promptPassword(prompt)
	if err != nil {
		return fmt.Errorf("read secret key: %w", err)
	}
	cfg.Auth.SecretKey = secret
	return nil
}

func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	// Read without echo
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr) // New line after password

	if err != nil {
		return "", err
	}

	return string(password), nil
}
