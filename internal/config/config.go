// Package config loads and validates the plaintext config.json record
// described in the external interface: rpc connection info, the token that
// gates the messaging audience, and the SecretStore-encrypted signing key.
package config

import (
	"encoding/json"
	"net/url"
	"os"
	"strconv"
	"strings"

	"depinchat/internal/apperr"
)

const (
	MinPollIntervalMs = 1000
	MaxPollIntervalMs = 60000
	defaultPollMs     = 10000
	forcedNetwork     = "xna"
)

// Record mirrors ConfigRecord from the data model, plus the JSON tag layout
// the node/wizard actually write to disk.
type Record struct {
	RpcURL       string `json:"rpc_url"`
	RpcUsername  string `json:"rpc_username,omitempty"`
	RpcPassword  string `json:"rpc_password,omitempty"`
	Token        string `json:"token"`
	PrivateKey   string `json:"privateKey"`
	Network      string `json:"network"`
	PollInterval int     `json:"pollInterval"`
	Timezone     string `json:"timezone"`
}

// Load reads and validates config.json from the given path, applying the
// same defaults/clamping a freshly-written wizard record would need.
func Load(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &apperr.ConfigError{Field: "file", Err: err}
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, &apperr.ConfigError{Field: "json", Err: err}
	}

	if err := rec.Validate(); err != nil {
		return nil, err
	}
	rec.ApplyDefaults()
	return &rec, nil
}

// Validate checks the required fields and the rpc_url and timezone formats;
// ApplyDefaults handles normalisation of optional/clampable fields.
func (r *Record) Validate() error {
	if strings.TrimSpace(r.RpcURL) == "" {
		return &apperr.ConfigError{Field: "rpc_url", Err: errRequired}
	}
	if _, err := url.ParseRequestURI(r.RpcURL); err != nil {
		return &apperr.ConfigError{Field: "rpc_url", Err: err}
	}
	if strings.TrimSpace(r.Token) == "" {
		return &apperr.ConfigError{Field: "token", Err: errRequired}
	}
	if strings.TrimSpace(r.PrivateKey) == "" {
		return &apperr.ConfigError{Field: "privateKey", Err: errRequired}
	}
	if _, err := ParseTimezone(r.Timezone); err != nil {
		return &apperr.ConfigError{Field: "timezone", Err: err}
	}
	return nil
}

// ApplyDefaults forces the network id and clamps the poll interval into
// [MinPollIntervalMs, MaxPollIntervalMs], defaulting to defaultPollMs when
// unset (0). Negative and over-range values are clamped rather than
// rejected, matching the spec's boundary behaviour.
func (r *Record) ApplyDefaults() {
	r.Network = forcedNetwork
	if r.PollInterval == 0 {
		r.PollInterval = defaultPollMs
	}
	if r.PollInterval < MinPollIntervalMs {
		r.PollInterval = MinPollIntervalMs
	}
	if r.PollInterval > MaxPollIntervalMs {
		r.PollInterval = MaxPollIntervalMs
	}
	if r.Timezone == "" {
		r.Timezone = "UTC"
	}
}

// Save persists the record. Not invoked by the core's own flow (the wizard
// that owns the single write is out of scope, §1) but kept so a future
// wizard has somewhere to land.
func (r *Record) Save(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return &apperr.ConfigError{Field: "json", Err: err}
	}
	return os.WriteFile(path, data, 0o600)
}

var errRequired = jsonRequiredErr{}

type jsonRequiredErr struct{}

func (jsonRequiredErr) Error() string { return "required field is empty" }

// ParseTimezone accepts "UTC" or a signed decimal hour offset such as
// "+5.5" or "-8".
func ParseTimezone(tz string) (float64, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" || strings.EqualFold(tz, "UTC") {
		return 0, nil
	}
	return strconv.ParseFloat(tz, 64)
}

// RpcPath returns rpc_url with "/rpc" appended if not already present.
func (r *Record) RpcPath() string {
	if strings.HasSuffix(r.RpcURL, "/rpc") {
		return r.RpcURL
	}
	return strings.TrimRight(r.RpcURL, "/") + "/rpc"
}
