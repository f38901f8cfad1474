// Package chains resolves chain identifiers to their network parameters.
package chains

import (
	"fmt"
	"strings"

	"mwallet/pkg/config"
	"mwallet/pkg/models"
)

// Registry is an immutable chain-id to ChainConfig map, built once at startup.
type Registry struct {
	byID         map[string]config.ChainConfig
	order        []string
	defaultChain string
}

// NewRegistry validates chains and builds the registry. defaultChain may be
// empty, in which case "0x1" is used when configured, else the first chain.
func NewRegistry(chains []config.ChainConfig, defaultChain string) (*Registry, error) {
	g := config.GlobalConfig{
		DefaultChain:          normalize(defaultChain),
		ConfirmTimeoutSeconds: 1,
		PollIntervalSeconds:   1,
	}
	if err := config.Validate(chains, g); err != nil {
		return nil, err
	}

	r := &Registry{byID: make(map[string]config.ChainConfig, len(chains))}
	for _, c := range chains {
		r.byID[c.ID] = c
		r.order = append(r.order, c.ID)
	}

	switch {
	case g.DefaultChain != "":
		r.defaultChain = g.DefaultChain
	case r.has("0x1"):
		r.defaultChain = "0x1"
	default:
		r.defaultChain = r.order[0]
	}
	return r, nil
}

// Resolve returns the configuration for id, or ErrUnknownChain.
func (r *Registry) Resolve(id string) (config.ChainConfig, error) {
	c, ok := r.byID[normalize(id)]
	if !ok {
		return config.ChainConfig{}, fmt.Errorf("%w: %s", models.ErrUnknownChain, id)
	}
	return c, nil
}

// List returns every chain in configuration order.
func (r *Registry) List() []config.ChainConfig {
	out := make([]config.ChainConfig, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

func (r *Registry) Default() string {
	return r.defaultChain
}

// Next returns the chain after id in configuration order, wrapping around.
// Unknown ids yield the first chain.
func (r *Registry) Next(id string) string {
	id = normalize(id)
	for i, c := range r.order {
		if c == id {
			return r.order[(i+1)%len(r.order)]
		}
	}
	return r.order[0]
}

func (r *Registry) has(id string) bool {
	_, ok := r.byID[id]
	return ok
}

func normalize(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
