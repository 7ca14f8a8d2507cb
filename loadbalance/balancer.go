// Package loadbalance provides load balancing strategies for distributing
// RPC requests across multiple service instances.
//
// Three strategies are implemented:
//   - RoundRobin:      Stateless services, equal-capacity instances
//   - WeightedRandom:  Heterogeneous instances (different CPU/memory)
//   - ConsistentHash:  Calls that must reach the instance holding their state,
//     such as every chunk of one binary upload
package loadbalance

import (
	"context"
	"errors"

	"sila-rpc/registry"
)

var ErrNoInstances = registry.ErrNoInstances

// Balancer is the interface for load balancing strategies.
// The client calls Pick() before each RPC to select a target instance.
type Balancer interface {
	// Pick selects one instance from the available list.
	// Called on every RPC call; must be goroutine-safe.
	Pick(ctx context.Context, instances []registry.ServiceInstance) (*registry.ServiceInstance, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}

type affinityKey struct{}

// WithAffinityKey tags ctx so that key-aware balancers send every call carrying the
// same key to the same instance.
func WithAffinityKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, affinityKey{}, key)
}

// AffinityKey returns the key set by WithAffinityKey.
func AffinityKey(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(affinityKey{}).(string)
	return key, ok && key != ""
}

// New returns the balancer registered under name: "round_robin", "weighted_random"
// or "consistent_hash". Empty selects round robin.
func New(name string) (Balancer, error) {
	switch name {
	case "", "round_robin":
		return &RoundRobinBalancer{}, nil
	case "weighted_random":
		return &WeightedRandomBalancer{}, nil
	case "consistent_hash":
		return NewConsistentHashBalancer(), nil
	default:
		return nil, errors.New("loadbalance: unknown strategy " + name)
	}
}
