// Package apperr collects the core's tagged error variants. Each boundary
// operation returns one of these instead of an ad-hoc error string, so the
// Supervisor can pattern-match on kind rather than message text.
package apperr

import (
	"errors"
	"fmt"
)

// ConfigError wraps a malformed or missing configuration value.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// SecretKind enumerates the SecretStore failure modes.
type SecretKind int

const (
	MalformedSecret SecretKind = iota
	BadPassword
	MaxAttemptsExceeded
)

func (k SecretKind) String() string {
	switch k {
	case MalformedSecret:
		return "malformed_secret"
	case BadPassword:
		return "bad_password"
	case MaxAttemptsExceeded:
		return "max_attempts_exceeded"
	default:
		return "unknown"
	}
}

// SecretError is raised by the SecretStore. The message never reveals which
// structural check failed beyond the coarse Kind.
type SecretError struct {
	Kind SecretKind
}

func (e *SecretError) Error() string { return "secret: " + e.Kind.String() }

func NewSecretError(k SecretKind) *SecretError { return &SecretError{Kind: k} }

// RpcError wraps any transport or JSON-RPC level failure.
type RpcError struct {
	Message string
	Err     error
}

func (e *RpcError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rpc: %s: %v", e.Message, e.Err)
	}
	return "rpc: " + e.Message
}

func (e *RpcError) Unwrap() error { return e.Err }

func NewRpcError(msg string, err error) *RpcError { return &RpcError{Message: msg, Err: err} }

// WalletError covers WIF decode / key derivation failures.
type WalletError struct {
	Kind string
	Err  error
}

func (e *WalletError) Error() string { return fmt.Sprintf("wallet: %s: %v", e.Kind, e.Err) }
func (e *WalletError) Unwrap() error { return e.Err }

var ErrInvalidWif = &WalletError{Kind: "invalid_wif"}

// MessageKind enumerates the Sender/Poller message-path failures.
type MessageKind int

const (
	NoRecipients MessageKind = iota
	InvalidPrivateFormat
	RecipientPubkeyNotRevealed
	GenericMessageError
)

// MessageError is raised by the Sender and RecipientDirectory.
type MessageError struct {
	Kind    MessageKind
	Address string
	Msg     string
}

func (e *MessageError) Error() string {
	switch e.Kind {
	case NoRecipients:
		return "message: no recipients"
	case InvalidPrivateFormat:
		return "message: invalid private format"
	case RecipientPubkeyNotRevealed:
		return fmt.Sprintf("message: recipient pubkey not revealed: %s", e.Address)
	default:
		return "message: " + e.Msg
	}
}

func NewMessageError(kind MessageKind) *MessageError { return &MessageError{Kind: kind} }

func NewRecipientNotRevealed(address string) *MessageError {
	return &MessageError{Kind: RecipientPubkeyNotRevealed, Address: address}
}

func NewGenericMessageError(msg string) *MessageError {
	return &MessageError{Kind: GenericMessageError, Msg: msg}
}

// CryptoLibError indicates the crypto adapter could not be initialised.
type CryptoLibError struct {
	Err error
}

func (e *CryptoLibError) Error() string { return fmt.Sprintf("crypto library: %v", e.Err) }
func (e *CryptoLibError) Unwrap() error { return e.Err }

// Is* helpers let callers branch without importing errors.As boilerplate
// at every call site.

func IsRpcError(err error) bool {
	var e *RpcError
	return errors.As(err, &e)
}

func IsNoRecipients(err error) bool {
	var e *MessageError
	return errors.As(err, &e) && e.Kind == NoRecipients
}
