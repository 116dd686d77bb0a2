package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/huh/spinner"
	"golang.org/x/term"

	"nbassist/internal/credentials"
)

// secrets maps the names accepted by the auth commands to credentials.
var secrets = map[string]credentials.Secret{
	"token":    credentials.APIToken,
	"provider": credentials.ProviderKey,
}

func resolveSecret(which string) (credentials.Secret, error) {
	which = strings.ToLower(strings.TrimSpace(which))
	if which == "" {
		which = "token"
	}
	secret, ok := secrets[which]
	if !ok {
		return credentials.Secret{}, fmt.Errorf("unknown credential %q (expected token or provider)", which)
	}
	return secret, nil
}

// Login stores a credential in the system keyring. With check set the
// token is verified against the API first.
func Login(ctx context.Context, app *App, which, value string, check bool) error {
	secret, err := resolveSecret(which)
	if err != nil {
		return err
	}
	value, err = ensureSecretInput(value, "Enter value for "+secret.Name)
	if err != nil {
		return err
	}

	if check && secret == credentials.APIToken {
		if err := verifyToken(ctx, app, value); err != nil {
			return err
		}
	}

	if err := secret.Store(value); err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, successStyle.Render("✓")+" Stored "+valueStyle.Render(secret.Name)+" in the system keyring")
	return nil
}

// Logout removes a credential from the keyring.
func Logout(which string) error {
	secret, err := resolveSecret(which)
	if err != nil {
		return err
	}
	if err := secret.Remove(); err != nil {
		if errors.Is(err, credentials.ErrNotFound) {
			return fmt.Errorf("no credential named %q is stored", secret.Name)
		}
		return err
	}
	fmt.Fprintln(os.Stderr, "Removed "+valueStyle.Render(secret.Name))
	return nil
}

// AuthStatus reports where each credential would be read from.
func AuthStatus(out io.Writer) error {
	for _, which := range []string{"token", "provider"} {
		_, src, err := secrets[which].Lookup()
		if err != nil && !errors.Is(err, credentials.ErrNotFound) {
			return err
		}
		state := mutedStyle.Render("not set")
		if src != credentials.SourceNone {
			state = successStyle.Render("from " + string(src))
		}
		fmt.Fprintf(out, "%s %s\n", labelStyle.Render(fmt.Sprintf("%-9s", which)), state)
	}
	return nil
}

func verifyToken(ctx context.Context, app *App, token string) error {
	var checkErr error
	run := func() {
		probe := app.withToken(token)
		_, checkErr = probe.Agent.Models(ctx)
	}

	if !isTerminal(os.Stderr) {
		run()
	} else if err := spinner.New().Title("Checking token...").Style(spinnerStyle).Action(run).Run(); err != nil {
		return err
	}
	if checkErr != nil {
		return fmt.Errorf("token rejected: %w", checkErr)
	}
	return nil
}

func ensureSecretInput(raw, prompt string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		return trimmed, nil
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("read secret: %w", err)
		}
		trimmed = strings.TrimSpace(line)
	} else {
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title(prompt).
					Value(&trimmed).
					Password(true),
			),
		).
			WithTheme(createHuhTheme()).
			WithShowHelp(false)
		if err := form.Run(); err != nil {
			return "", errors.New("cancelled")
		}
		trimmed = strings.TrimSpace(trimmed)
	}

	if trimmed == "" {
		return "", fmt.Errorf("secret value cannot be empty")
	}
	return trimmed, nil
}
