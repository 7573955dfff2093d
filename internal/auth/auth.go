// Package auth locates and validates the Gemini API key.
package auth

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

const (
	credentialDir  = ".patient-triage"
	credentialFile = "credentials.gpg"
	passphraseFile = ".gpg-passphrase"
)

// keyEnvVars are checked in order. GOOGLE_API_KEY is the name the genai SDK
// itself recognizes.
var keyEnvVars = []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"}

// GetAPIKey returns the first key found in:
//  1. GEMINI_API_KEY, then GOOGLE_API_KEY
//  2. the GPG-encrypted credentials file (TRIAGE_CREDENTIALS_FILE, default
//     ~/.patient-triage/credentials.gpg)
//
// Callers that can reach SSM load the key into GEMINI_API_KEY first. When no
// source has a key the error is a *ValidationError of type ErrTypeNoKey.
func GetAPIKey() (string, error) {
	for _, name := range keyEnvVars {
		if key := strings.TrimSpace(os.Getenv(name)); key != "" {
			log.Debug().Str("source", name).Msg("Using API key from environment")
			return key, nil
		}
	}

	key, err := getFromGPG()
	if err == nil && key != "" {
		log.Debug().Str("source", "gpg").Msg("Using API key from encrypted credentials file")
		return key, nil
	}

	log.Debug().Err(err).Msg("No API key available")
	return "", &ValidationError{
		Type:    ErrTypeNoKey,
		Message: "API key not found. Set GEMINI_API_KEY or create ~/" + credentialDir + "/" + credentialFile,
		Err:     err,
	}
}

// getFromGPG decrypts the credentials file with the gpg binary.
func getFromGPG() (string, error) {
	credPath, err := getCredentialPath()
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(credPath); err != nil {
		return "", fmt.Errorf("credentials file %s: %w", credPath, err)
	}

	passphrasePath, _ := getPassphrasePath()
	args := gpgArgs(credPath, usablePassphrase(passphrasePath))

	log.Debug().Str("file", credPath).Msg("Decrypting GPG credentials")
	output, err := exec.Command("gpg", args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("GPG decryption failed: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("GPG decryption failed: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// gpgArgs builds the decrypt command line. A non-empty passphrasePath enables
// non-interactive loopback decryption.
func gpgArgs(credPath, passphrasePath string) []string {
	args := []string{"--decrypt", "--quiet", "--batch"}
	if passphrasePath != "" {
		args = append(args, "--pinentry-mode", "loopback", "--passphrase-file", passphrasePath)
	}
	return append(args, credPath)
}

// usablePassphrase returns path if it names an owner-only file, else "".
func usablePassphrase(path string) string {
	if path == "" {
		return ""
	}
	fi, err := os.Stat(path)
	if err != nil {
		return ""
	}
	if mode := fi.Mode().Perm(); mode&0o077 != 0 {
		log.Warn().
			Str("passphrase_file", path).
			Str("permissions", fmt.Sprintf("%04o", mode)).
			Msg("Passphrase file is readable by others (want 0600); ignoring it")
		return ""
	}
	return path
}

// getCredentialPath returns TRIAGE_CREDENTIALS_FILE or the default under $HOME.
func getCredentialPath() (string, error) {
	if p := os.Getenv("TRIAGE_CREDENTIALS_FILE"); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, credentialDir, credentialFile), nil
}

// getPassphrasePath looks for the passphrase file next to the executable,
// then in the working directory.
func getPassphrasePath() (string, error) {
	var dirs []string
	if exe, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Dir(exe))
	}
	if cwd, err := os.Getwd(); err == nil {
		dirs = append(dirs, cwd)
	}
	for _, dir := range dirs {
		p := filepath.Join(dir, passphraseFile)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no %s found", passphraseFile)
}
