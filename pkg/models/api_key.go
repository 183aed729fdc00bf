package models

// APIKey is an operator credential. Raw keys are never stored; only the
// bcrypt hash and the lookup prefix are configured.
type APIKey struct {
	Name      string   `json:"name"      yaml:"name"`
	KeyPrefix string   `json:"key_prefix" yaml:"prefix"`
	KeyHash   string   `json:"-"         yaml:"hash"`
	Scopes    []string `json:"scopes"    yaml:"scopes"`
}

const (
	ScopeRead  = "read"
	ScopeRun   = "run"
	ScopeWrite = "write"
)
