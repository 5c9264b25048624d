package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// TrustPolicy is the trust policy document. Identifiers listed under
// Untrusted stay untrusted even when they also appear under Trusted.
type TrustPolicy struct {
	Trusted   []string `yaml:"trusted" toml:"trusted"`
	Untrusted []string `yaml:"untrusted" toml:"untrusted"`
}

// TrustDecision is the outcome of a trust check.
type TrustDecision struct {
	Identifier string
	Trusted    bool
	// Reason explains an Untrusted outcome.
	Reason string
}

// TrustGate decides whether an outbound target may be contacted without
// approval.
type TrustGate interface {
	CheckTrust(identifier string) TrustDecision
}

type policyTrustGate struct {
	path   string
	logger *zap.Logger
}

// NewTrustGate creates a TrustGate backed by the policy document at path.
// The document is re-read on every check; a .toml extension selects TOML,
// anything else is parsed as YAML.
func NewTrustGate(path string, logger *zap.Logger) TrustGate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &policyTrustGate{path: path, logger: logger}
}

// LoadTrustPolicy reads and parses a trust policy document.
func LoadTrustPolicy(path string) (*TrustPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading trust policy: %w", err)
	}

	var p TrustPolicy
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &p); err != nil {
			return nil, fmt.Errorf("parsing trust policy %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("parsing trust policy %s: %w", path, err)
		}
	}
	return &p, nil
}

func (g *policyTrustGate) CheckTrust(identifier string) TrustDecision {
	d := TrustDecision{Identifier: identifier}
	id := strings.ToLower(strings.TrimSpace(identifier))
	if id == "" {
		d.Reason = "no target"
		return d
	}

	p, err := LoadTrustPolicy(g.path)
	if err != nil {
		g.logger.Warn("trust policy unavailable, treating target as untrusted",
			zap.String("path", g.path), zap.Error(err))
		d.Reason = "trust policy unavailable"
		return d
	}

	for _, u := range p.Untrusted {
		if strings.ToLower(strings.TrimSpace(u)) == id {
			d.Reason = "listed as untrusted"
			return d
		}
	}
	for _, t := range p.Trusted {
		if strings.ToLower(strings.TrimSpace(t)) == id {
			d.Trusted = true
			return d
		}
	}
	d.Reason = "not in trust policy"
	return d
}
