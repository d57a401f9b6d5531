package provider

import (
	"strings"

	"github.com/kursadbilgin/notification-relay/internal/domain"
)

// Candidate is a provider known to the registry. Err is set when the provider
// could not be built, usually because its credentials are incomplete.
type Candidate struct {
	Backend Backend
	Err     error
}

func (c Candidate) Configured() bool { return c.Err == nil && c.Backend != nil }

// ChainConfig is the operator's provider selection for one channel.
type ChainConfig struct {
	Channel   domain.Channel
	Primary   string
	Fallbacks []string
}

// SkippedProvider records a requested provider left out of a chain.
type SkippedProvider struct {
	Name   string
	Reason string
}

// Chain is the immutable, ordered list of backends tried for a channel.
type Chain struct {
	channel  domain.Channel
	backends []Backend
	skipped  []SkippedProvider
}

// NewChain builds a chain from explicit backends, in order.
func NewChain(channel domain.Channel, backends ...Backend) Chain {
	out := make([]Backend, 0, len(backends))
	for _, b := range backends {
		if b != nil {
			out = append(out, b)
		}
	}
	return Chain{channel: channel, backends: out}
}

// BuildChain resolves cfg against the available candidates:
//  1. the primary, if configured;
//  2. each fallback in configured order, if configured and not yet present;
//  3. if nothing qualified, the first configured provider in canonical order.
//
// It is deterministic and never returns an error; an empty chain is valid.
func BuildChain(cfg ChainConfig, candidates map[string]Candidate, order []string) Chain {
	chain := Chain{channel: cfg.Channel}
	added := make(map[string]struct{})

	add := func(raw string) {
		name := normalizeName(raw)
		if name == "" {
			return
		}
		if _, dup := added[name]; dup {
			return
		}
		candidate, ok := candidates[name]
		if !ok {
			chain.skipped = append(chain.skipped, SkippedProvider{Name: name, Reason: "unknown provider"})
			return
		}
		if !candidate.Configured() {
			reason := "not configured"
			if candidate.Err != nil {
				reason = candidate.Err.Error()
			}
			chain.skipped = append(chain.skipped, SkippedProvider{Name: name, Reason: reason})
			return
		}
		added[name] = struct{}{}
		chain.backends = append(chain.backends, candidate.Backend)
	}

	add(cfg.Primary)
	for _, fb := range cfg.Fallbacks {
		add(fb)
	}

	if len(chain.backends) == 0 {
		for _, name := range order {
			if candidate, ok := candidates[name]; ok && candidate.Configured() {
				chain.backends = append(chain.backends, candidate.Backend)
				break
			}
		}
	}

	return chain
}

func (c Chain) Channel() domain.Channel { return c.channel }

func (c Chain) Len() int { return len(c.backends) }

func (c Chain) Empty() bool { return len(c.backends) == 0 }

// Backends returns a copy of the ordered backends.
func (c Chain) Backends() []Backend {
	out := make([]Backend, len(c.backends))
	copy(out, c.backends)
	return out
}

func (c Chain) Names() []string {
	names := make([]string, 0, len(c.backends))
	for _, b := range c.backends {
		names = append(names, b.Name())
	}
	return names
}

// Skipped lists requested providers that were left out, with the reason.
func (c Chain) Skipped() []SkippedProvider {
	out := make([]SkippedProvider, len(c.skipped))
	copy(out, c.skipped)
	return out
}

// ParseProviderList splits a comma-separated provider list.
func ParseProviderList(raw string) []string {
	var names []string
	for _, part := range strings.Split(raw, ",") {
		if name := normalizeName(part); name != "" {
			names = append(names, name)
		}
	}
	return names
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
