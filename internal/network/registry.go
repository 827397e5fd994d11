// Package network holds the chains the service can connect to.
package network

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"dotbeacon/internal/address"
)

// Network describes a Substrate chain endpoint
type Network struct {
	Name     string `yaml:"name" json:"name"`
	Value    string `yaml:"value" json:"value"`
	Prefix   uint16 `yaml:"prefix" json:"prefix"`
	URL      string `yaml:"url" json:"url"`
	Disabled bool   `yaml:"disabled" json:"disabled"`
}

// Codec returns the address codec for the network's SS58 prefix
func (n Network) Codec() address.Codec {
	return address.NewCodec(n.Prefix)
}

// Validate checks that the network can be connected to
func (n Network) Validate() error {
	if n.Value == "" {
		return fmt.Errorf("network value is required")
	}
	if n.Name == "" {
		return fmt.Errorf("network %s: name is required", n.Value)
	}
	if n.URL == "" {
		return fmt.Errorf("network %s: url is required", n.Value)
	}
	return nil
}

// Defaults mirrors the networks offered by the dApp out of the box
func Defaults() []Network {
	return []Network{
		{
			Name:   "Westend",
			Value:  "westend",
			Prefix: 42,
			URL:    "wss://westend.api.onfinality.io/public-ws",
		},
		{
			Name:   "Polkadot",
			Value:  "dot",
			Prefix: 0,
			URL:    "wss://polkadot.api.onfinality.io/public-ws",
		},
		{
			Name:   "Kusama",
			Value:  "ksm",
			Prefix: 2,
			URL:    "wss://kusama.api.onfinality.io/public-ws",
		},
	}
}

// Registry is an ordered set of networks keyed by value
type Registry struct {
	mu       sync.RWMutex
	networks []Network
}

// NewRegistry creates a registry, rejecting invalid or duplicate networks
func NewRegistry(networks ...Network) (*Registry, error) {
	r := &Registry{}
	for _, n := range networks {
		if err := r.add(n); err != nil {
			return nil, err
		}
	}
	if len(r.networks) == 0 {
		return nil, fmt.Errorf("registry needs at least one network")
	}
	return r, nil
}

func (r *Registry) add(n Network) error {
	if err := n.Validate(); err != nil {
		return err
	}
	for _, existing := range r.networks {
		if existing.Value == n.Value {
			return fmt.Errorf("duplicate network %s", n.Value)
		}
	}
	r.networks = append(r.networks, n)
	return nil
}

// All returns a copy of the registered networks in order
func (r *Registry) All() []Network {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Network, len(r.networks))
	copy(out, r.networks)
	return out
}

// Find looks a network up by value
func (r *Registry) Find(value string) (Network, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, n := range r.networks {
		if n.Value == value {
			return n, true
		}
	}
	return Network{}, false
}

// Default returns the first network
func (r *Registry) Default() Network {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.networks[0]
}

// Merge overrides networks with the same value and appends new ones
func (r *Registry) Merge(networks []Network) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, n := range networks {
		if err := n.Validate(); err != nil {
			return err
		}
		replaced := false
		for i := range r.networks {
			if r.networks[i].Value == n.Value {
				r.networks[i] = n
				replaced = true
				break
			}
		}
		if !replaced {
			r.networks = append(r.networks, n)
		}
	}
	return nil
}

type networksFile struct {
	Networks []Network `yaml:"networks"`
}

// LoadFile reads networks from a YAML file of the form
//
//	networks:
//	  - name: Westend
//	    value: westend
//	    prefix: 42
//	    url: wss://westend-rpc.polkadot.io
func LoadFile(path string) ([]Network, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading networks file: %w", err)
	}

	var file networksFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing networks file: %w", err)
	}
	for _, n := range file.Networks {
		if err := n.Validate(); err != nil {
			return nil, fmt.Errorf("invalid network in %s: %w", path, err)
		}
	}
	return file.Networks, nil
}
