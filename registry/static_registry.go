package registry

import (
	"context"
	"sort"
	"sync"
)

// Static is an in-process Registry. It serves single-node deployments where clients
// are given fixed addresses, and tests. TTLs are ignored.
type Static struct {
	mu       sync.Mutex
	services map[string]map[string]ServiceInstance
	watchers map[string][]chan []ServiceInstance
}

var _ Registry = (*Static)(nil)

func NewStatic() *Static {
	return &Static{
		services: make(map[string]map[string]ServiceInstance),
		watchers: make(map[string][]chan []ServiceInstance),
	}
}

// StaticFor returns a Static registry where every named service is served by addrs.
func StaticFor(addrs []string, serviceNames ...string) *Static {
	s := NewStatic()
	for _, name := range serviceNames {
		for _, addr := range addrs {
			s.Register(context.Background(), name, ServiceInstance{Addr: addr, Weight: 1}, 0)
		}
	}
	return s
}

func (s *Static) Register(_ context.Context, serviceName string, instance ServiceInstance, _ int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.services[serviceName]
	if !ok {
		m = make(map[string]ServiceInstance)
		s.services[serviceName] = m
	}
	m[instance.Addr] = instance
	s.notifyLocked(serviceName)
	return nil
}

func (s *Static) Deregister(_ context.Context, serviceName string, addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.services[serviceName], addr)
	s.notifyLocked(serviceName)
	return nil
}

// Discover returns the instances sorted by address.
func (s *Static) Discover(_ context.Context, serviceName string) ([]ServiceInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked(serviceName), nil
}

// Watch delivers the latest list; a slow reader only ever sees the newest state.
func (s *Static) Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)
	s.mu.Lock()
	s.watchers[serviceName] = append(s.watchers[serviceName], ch)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		ws := s.watchers[serviceName]
		for i, w := range ws {
			if w == ch {
				s.watchers[serviceName] = append(ws[:i], ws[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch
}

func (s *Static) listLocked(serviceName string) []ServiceInstance {
	m := s.services[serviceName]
	out := make([]ServiceInstance, 0, len(m))
	for _, inst := range m {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}

func (s *Static) notifyLocked(serviceName string) {
	list := s.listLocked(serviceName)
	for _, ch := range s.watchers[serviceName] {
		// drop a stale undelivered list, then deliver the new one
		select {
		case <-ch:
		default:
		}
		ch <- list
	}
}
