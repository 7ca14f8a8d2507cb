// Package registry tracks which addresses serve which RPC service.
//
// Servers Register every service they host under their advertise address; clients
// Discover the instances of a service and hand them to a load balancer.
package registry

import (
	"context"
	"errors"
)

// ErrNoInstances is returned by Discover callers that need at least one instance.
var ErrNoInstances = errors.New("registry: no instances available")

type ServiceInstance struct {
	Addr    string
	Weight  int // Weight for load balancing
	Version string
}

type Registry interface {
	// Register publishes instance under serviceName. ttl is in seconds; the entry
	// disappears ttl after the process stops renewing it. Zero means no expiry.
	Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error
	Deregister(ctx context.Context, serviceName string, addr string) error
	Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error)
	// Watch emits the full instance list after every change until ctx is done.
	Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance
}
