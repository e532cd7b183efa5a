package secret

import (
	"fmt"
	"io"
	"os"

	"depinchat/internal/apperr"
)

const (
	minPasswordLen = 4
	maxPasswordLen = 30
)

// UnlockInteractive prompts for a password at most maxAttempts times
// (default 3 when attempts<=0), decrypting encoded on each try. Passwords
// are read without echo via readPasswordMasked. A Ctrl-C during the prompt
// exits the attempt loop immediately with a cancellation error; exhausting
// all attempts returns ErrMaxAttempts.
func UnlockInteractive(encoded string, attempts int, in *os.File, out io.Writer) (string, error) {
	if attempts <= 0 {
		attempts = 3
	}

	for i := 0; i < attempts; i++ {
		fmt.Fprintf(out, "Password (%d/%d): ", i+1, attempts)
		password, cancelled, err := readPasswordMasked(in, out)
		if err != nil {
			return "", err
		}
		if cancelled {
			return "", fmt.Errorf("secret: unlock cancelled")
		}

		if len(password) < minPasswordLen || len(password) > maxPasswordLen {
			fmt.Fprintln(out, "password length out of range")
			continue
		}

		wif, err := Decrypt(encoded, password)
		if err == nil {
			return wif, nil
		}
		fmt.Fprintln(out, "incorrect password")
	}

	return "", apperr.NewSecretError(apperr.MaxAttemptsExceeded)
}
