package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"sila-rpc/registry"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestEmptyDocumentYieldsDefaults(t *testing.T) {
	cfg, err := Parse("")
	if err != nil {
		t.Fatal(err)
	}
	def := Default()
	if cfg.Server != def.Server || cfg.Binary != def.Binary || cfg.Log != def.Log {
		t.Fatalf("got %+v, want %+v", cfg, def)
	}
	if cfg.Registry.Enabled() {
		t.Fatal("registry enabled without endpoints")
	}
}

func TestLoadFile(t *testing.T) {
	doc := `
[server]
listen = "127.0.0.1:9000"
advertise = "10.0.0.5:9000"
grpc_listen = "127.0.0.1:9001"
request_timeout = "5s"
rate_limit = 200
burst = 50

[binary]
ttl = "2m"
sweep_interval = "15s"
max_chunk_bytes = 65536
max_store_bytes = 1073741824

[registry]
endpoints = [" 127.0.0.1:2379 ", ""]
ttl = "20s"

[log]
level = "debug"
json = true
`
	path := filepath.Join(t.TempDir(), "silad.toml")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Listen != "127.0.0.1:9000" || cfg.Server.AdvertiseAddr() != "10.0.0.5:9000" {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if cfg.Server.GRPCListen != "127.0.0.1:9001" {
		t.Fatalf("grpc_listen = %q", cfg.Server.GRPCListen)
	}
	if cfg.Server.RequestTimeout != 5*time.Second || cfg.Server.RateLimit != 200 || cfg.Server.Burst != 50 {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if cfg.Binary.TTL != 2*time.Minute || cfg.Binary.SweepInterval != 15*time.Second {
		t.Fatalf("binary = %+v", cfg.Binary)
	}
	if cfg.Binary.MaxChunkBytes != 65536 || cfg.Binary.MaxStoreBytes != 1<<30 {
		t.Fatalf("binary = %+v", cfg.Binary)
	}
	// untouched keys keep their defaults
	if cfg.Registry.Prefix != registry.DefaultPrefix || cfg.Registry.DialTimeout != 5*time.Second {
		t.Fatalf("defaults lost: %+v", cfg)
	}
	if len(cfg.Registry.Endpoints) != 1 || cfg.Registry.Endpoints[0] != "127.0.0.1:2379" {
		t.Fatalf("endpoints = %q", cfg.Registry.Endpoints)
	}
	if !cfg.Registry.Enabled() || cfg.Registry.TTL != 20*time.Second {
		t.Fatalf("registry = %+v", cfg.Registry)
	}
	if cfg.Log.Level != zerolog.DebugLevel || !cfg.Log.JSON || cfg.Log.Logging().Level != zerolog.DebugLevel {
		t.Fatalf("log = %+v", cfg.Log)
	}
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"bad duration", "[binary]\nttl = \"ten minutes\""},
		{"unknown key", "[server]\nlisten = \":1\"\nport = 1"},
		{"bad level", "[log]\nlevel = \"loud\""},
		{"chunk above frame", "[binary]\nmax_chunk_bytes = 8388608"},
		{"encoded chunk above frame", "[server]\nmax_frame_bytes = 1048576\n[binary]\nmax_chunk_bytes = 786432"},
		{"rate without burst", "[server]\nrate_limit = 10"},
		{"empty listen", "[server]\nlisten = \" \""},
		{"not toml", "[server"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse(tc.doc); err == nil {
				t.Fatal("expect error")
			}
		})
	}
}

func TestValidateCollectsAll(t *testing.T) {
	cfg := Default()
	cfg.Server.Listen = ""
	cfg.Binary.MaxStoreBytes = -1
	err := cfg.Validate()
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expect ErrInvalid, got %v", err)
	}
	if joined, ok := err.(interface{ Unwrap() []error }); !ok || len(joined.Unwrap()) != 2 {
		t.Fatalf("expect two problems, got %v", err)
	}
}

func TestChunkMustFitEncodedFrame(t *testing.T) {
	cfg := Default()
	cfg.Binary.MaxChunkBytes = 3 << 20
	if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
		t.Fatalf("3 MiB chunks cannot fit a 4 MiB frame once encoded, got %v", err)
	}

	// largest chunk whose worst-case encoding fits the frame
	frame := cfg.Server.MaxFrameBytes
	n := frame * 9 / 16
	for ChunkFrameBytes(n) > int64(frame) {
		n--
	}
	cfg.Binary.MaxChunkBytes = n
	if err := cfg.Validate(); err != nil {
		t.Fatalf("chunk of %d bytes (%d encoded) should fit: %v", n, ChunkFrameBytes(n), err)
	}
	cfg.Binary.MaxChunkBytes = n + 3
	if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
		t.Fatalf("chunk of %d bytes (%d encoded) should not fit", n+3, ChunkFrameBytes(n+3))
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("expect error for a missing file")
	}
}
