package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	clientv3 "go.etcd.io/etcd/client/v3"

	"sila-rpc/logging"
)

// DefaultPrefix roots all keys written by EtcdRegistry.
const DefaultPrefix = "/sila-rpc/"

// EtcdConfig configures NewEtcdRegistry.
type EtcdConfig struct {
	Endpoints   []string
	DialTimeout time.Duration
	// Prefix defaults to DefaultPrefix.
	Prefix string
}

// EtcdRegistry stores instances in etcd as prefix/{service}/{addr} → JSON(ServiceInstance).
// Registrations hang off a lease that is kept alive in the background, so a crashed
// server drops out once its TTL runs out.
type EtcdRegistry struct {
	client *clientv3.Client
	prefix string
	log    *zerolog.Logger

	mu     sync.Mutex
	leases map[string]clientv3.LeaseID // key → lease, revoked on Deregister
}

var _ Registry = (*EtcdRegistry)(nil)

// NewEtcdRegistry connects to etcd. The client dials lazily; errors surface on first use.
func NewEtcdRegistry(cfg EtcdConfig) (*EtcdRegistry, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("registry: no etcd endpoints")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("registry: connecting to etcd: %w", err)
	}
	return &EtcdRegistry{
		client: c,
		prefix: prefix,
		log:    logging.Component("registry"),
		leases: make(map[string]clientv3.LeaseID),
	}, nil
}

func (r *EtcdRegistry) servicePrefix(serviceName string) string {
	return r.prefix + serviceName + "/"
}

// Register grants a lease of ttl seconds, writes the instance under it and keeps the
// lease alive until Deregister or Close.
func (r *EtcdRegistry) Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error {
	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}
	key := r.servicePrefix(serviceName) + instance.Addr

	if ttl <= 0 {
		_, err = r.client.Put(ctx, key, string(val))
		return err
	}

	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return fmt.Errorf("registry: granting lease: %w", err)
	}
	if _, err = r.client.Put(ctx, key, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("registry: registering %s: %w", key, err)
	}

	// KeepAlive must outlive the registering request, so it gets its own context.
	ch, err := r.client.KeepAlive(context.Background(), lease.ID)
	if err != nil {
		return fmt.Errorf("registry: keeping lease alive: %w", err)
	}
	go func() {
		for range ch {
		}
		r.log.Debug().Str("key", key).Msg("lease keepalive stopped")
	}()

	r.mu.Lock()
	r.leases[key] = lease.ID
	r.mu.Unlock()
	r.log.Info().Str("service", serviceName).Str("addr", instance.Addr).Int64("ttl", ttl).Msg("registered")
	return nil
}

// Deregister deletes the instance and revokes its lease, which also stops its KeepAlive.
func (r *EtcdRegistry) Deregister(ctx context.Context, serviceName string, addr string) error {
	key := r.servicePrefix(serviceName) + addr
	if _, err := r.client.Delete(ctx, key); err != nil {
		return err
	}
	r.mu.Lock()
	id, ok := r.leases[key]
	delete(r.leases, key)
	r.mu.Unlock()
	if ok {
		if _, err := r.client.Revoke(ctx, id); err != nil {
			return fmt.Errorf("registry: revoking lease: %w", err)
		}
	}
	return nil
}

// Watch re-reads the instance list on every change below the service prefix.
// The channel closes when ctx is done.
func (r *EtcdRegistry) Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)
	go func() {
		defer close(ch)
		watchChan := r.client.Watch(ctx, r.servicePrefix(serviceName), clientv3.WithPrefix())
		for range watchChan {
			instances, err := r.Discover(ctx, serviceName)
			if err != nil {
				r.log.Warn().Err(err).Str("service", serviceName).Msg("discover after watch event")
				continue
			}
			select {
			case ch <- instances:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

// Discover lists the instances currently registered for serviceName.
func (r *EtcdRegistry) Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error) {
	resp, err := r.client.Get(ctx, r.servicePrefix(serviceName), clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	instances := make([]ServiceInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance ServiceInstance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			r.log.Warn().Str("key", string(kv.Key)).Err(err).Msg("skipping malformed instance")
			continue
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

// Close releases the etcd client. Leases still held expire after their TTL.
func (r *EtcdRegistry) Close() error {
	return r.client.Close()
}
