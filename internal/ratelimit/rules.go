package ratelimit

import (
	"fmt"
	"strings"
	"time"

	"github.com/Proton-105/himera-lend/pkg/config"
)

// Rule is a parsed limit over a window.
type Rule struct {
	Name   string
	Limit  int
	Window time.Duration
}

// Enabled reports whether the rule limits anything.
func (r Rule) Enabled() bool {
	return r.Limit > 0 && r.Window > 0
}

// Rules holds the parsed API limits.
type Rules struct {
	Global     Rule
	PerAddress Rule
	Submit     Rule
	whitelist  map[string]struct{}
}

// NewRules parses cfg. A rule without a window is disabled; a malformed window
// is an error.
func NewRules(cfg config.RateLimitConfig) (*Rules, error) {
	global, err := parseRule("global", cfg.Global)
	if err != nil {
		return nil, err
	}
	perAddress, err := parseRule("per_address", cfg.PerAddress)
	if err != nil {
		return nil, err
	}
	submit, err := parseRule("submit", cfg.Submit)
	if err != nil {
		return nil, err
	}

	whitelist := make(map[string]struct{}, len(cfg.Whitelist))
	for _, entry := range cfg.Whitelist {
		if entry = normalize(entry); entry != "" {
			whitelist[entry] = struct{}{}
		}
	}

	return &Rules{
		Global:     global,
		PerAddress: perAddress,
		Submit:     submit,
		whitelist:  whitelist,
	}, nil
}

// IsWhitelisted reports whether the wallet address or client IP bypasses
// limits. Addresses compare case-insensitively.
func (r *Rules) IsWhitelisted(identity string) bool {
	if r == nil {
		return false
	}
	_, ok := r.whitelist[normalize(identity)]
	return ok
}

func normalize(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

func parseRule(name string, rule config.RateLimitRule) (Rule, error) {
	if rule.Window == "" {
		return Rule{Name: name}, nil
	}

	window, err := time.ParseDuration(rule.Window)
	if err != nil {
		return Rule{}, fmt.Errorf("ratelimit %s window: %w", name, err)
	}
	return Rule{Name: name, Limit: rule.Limit, Window: window}, nil
}
