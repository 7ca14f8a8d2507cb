package registry

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

// etcdEndpoints skips the test unless SILA_ETCD_ENDPOINTS names a reachable cluster.
func etcdEndpoints(t *testing.T) []string {
	t.Helper()
	raw := os.Getenv("SILA_ETCD_ENDPOINTS")
	if raw == "" {
		t.Skip("SILA_ETCD_ENDPOINTS not set")
	}
	return strings.Split(raw, ",")
}

func TestRegisterAndDiscover(t *testing.T) {
	reg, err := NewEtcdRegistry(EtcdConfig{
		Endpoints: etcdEndpoints(t),
		Prefix:    "/sila-rpc-test/" + t.Name(),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	inst1 := ServiceInstance{Addr: "127.0.0.1:8001", Weight: 10, Version: "1.0"}
	inst2 := ServiceInstance{Addr: "127.0.0.1:8002", Weight: 5, Version: "1.0"}

	if err := reg.Register(ctx, "BinaryDownload", inst1, 10); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(ctx, "BinaryDownload", inst2, 10); err != nil {
		t.Fatal(err)
	}

	instances, err := reg.Discover(ctx, "BinaryDownload")
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 2 {
		t.Fatalf("expect 2 instances, got %d", len(instances))
	}

	if err := reg.Deregister(ctx, "BinaryDownload", inst1.Addr); err != nil {
		t.Fatal(err)
	}

	instances, err = reg.Discover(ctx, "BinaryDownload")
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 1 || instances[0].Addr != inst2.Addr {
		t.Fatalf("expect only %s after deregister, got %+v", inst2.Addr, instances)
	}

	reg.Deregister(ctx, "BinaryDownload", inst2.Addr)
}

func TestEtcdWatch(t *testing.T) {
	reg, err := NewEtcdRegistry(EtcdConfig{
		Endpoints: etcdEndpoints(t),
		Prefix:    "/sila-rpc-test/" + t.Name(),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ch := reg.Watch(ctx, "BinaryUpload")
	time.Sleep(100 * time.Millisecond) // let the watch attach
	if err := reg.Register(ctx, "BinaryUpload", ServiceInstance{Addr: "127.0.0.1:9100"}, 10); err != nil {
		t.Fatal(err)
	}
	defer reg.Deregister(context.Background(), "BinaryUpload", "127.0.0.1:9100")

	select {
	case list := <-ch:
		if len(list) != 1 {
			t.Fatalf("expect 1 instance, got %+v", list)
		}
	case <-ctx.Done():
		t.Fatal("no watch event")
	}
}

func TestNewEtcdRegistryRequiresEndpoints(t *testing.T) {
	if _, err := NewEtcdRegistry(EtcdConfig{}); err == nil {
		t.Fatal("expect error without endpoints")
	}
}
