// Package config loads the silad TOML configuration.
//
// Every key is optional. Load starts from Default and overrides only the keys the
// file defines, so an empty file yields the defaults.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"

	"sila-rpc/blob"
	"sila-rpc/logging"
	"sila-rpc/protocol"
	"sila-rpc/registry"
)

type Config struct {
	Server   ServerConfig
	Binary   BinaryConfig
	Registry RegistryConfig
	Log      LogConfig
}

type ServerConfig struct {
	Listen string
	// Advertise is the address registered in etcd; empty uses Listen.
	Advertise string
	// GRPCListen serves the gRPC Blob service when set.
	GRPCListen     string
	MaxFrameBytes  int
	RequestTimeout time.Duration
	// RateLimit is requests per second across all connections; zero disables it.
	RateLimit float64
	Burst     int
}

type BinaryConfig struct {
	TTL           time.Duration
	SweepInterval time.Duration
	MaxChunkBytes int
	// MaxStoreBytes caps the bytes the store holds; zero means no cap.
	MaxStoreBytes int64
}

type RegistryConfig struct {
	// Endpoints lists etcd endpoints; none disables registration.
	Endpoints   []string
	TTL         time.Duration
	DialTimeout time.Duration
	Prefix      string
}

type LogConfig struct {
	Level   zerolog.Level
	JSON    bool
	NoColor bool
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Listen:         ":7400",
			MaxFrameBytes:  int(protocol.DefaultMaxBodyLen),
			RequestTimeout: 30 * time.Second,
		},
		Binary: BinaryConfig{
			TTL:           blob.DefaultTTL,
			SweepInterval: time.Minute,
			MaxChunkBytes: blob.DefaultMaxChunkSize,
		},
		Registry: RegistryConfig{
			TTL:         10 * time.Second,
			DialTimeout: 5 * time.Second,
			Prefix:      registry.DefaultPrefix,
		},
		Log: LogConfig{Level: zerolog.InfoLevel},
	}
}

// Enabled reports whether the server should register itself in etcd.
func (r RegistryConfig) Enabled() bool { return len(r.Endpoints) > 0 }

// AdvertiseAddr is the address other processes dial.
func (s ServerConfig) AdvertiseAddr() string {
	if s.Advertise != "" {
		return s.Advertise
	}
	return s.Listen
}

// Logging converts the [log] section for logging.Apply.
func (l LogConfig) Logging() logging.Config {
	return logging.Config{Level: l.Level, JSON: l.JSON, NoColor: l.NoColor}
}

var ErrInvalid = errors.New("config: invalid")

const (
	// chunkArgsOverhead bounds the JSON arguments around a chunk: field names, identifier and offset.
	chunkArgsOverhead = 512
	// chunkMessageOverhead bounds the JSON message around the arguments: method, status and error.
	chunkMessageOverhead = 512
)

// ChunkFrameBytes is the largest frame body a chunk of n bytes can need. The JSON
// codec base64-encodes the chunk inside the arguments and the arguments again inside
// the message, so a chunk grows by about 16/9.
func ChunkFrameBytes(n int) int64 {
	args := base64.StdEncoding.EncodedLen(n) + chunkArgsOverhead
	return int64(base64.StdEncoding.EncodedLen(args) + chunkMessageOverhead)
}

// Validate rejects values the server cannot run with.
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}
	if strings.TrimSpace(c.Server.Listen) == "" {
		bad("server.listen is empty")
	}
	if c.Server.MaxFrameBytes <= 0 || int64(c.Server.MaxFrameBytes) > math.MaxUint32 {
		bad("server.max_frame_bytes out of range, got %d", c.Server.MaxFrameBytes)
	}
	if c.Server.RequestTimeout < 0 {
		bad("server.request_timeout must not be negative")
	}
	if c.Server.RateLimit < 0 {
		bad("server.rate_limit must not be negative")
	}
	if c.Server.RateLimit > 0 && c.Server.Burst <= 0 {
		bad("server.burst must be positive when rate_limit is set")
	}
	if c.Binary.TTL < 0 || c.Binary.SweepInterval < 0 {
		bad("binary.ttl and binary.sweep_interval must not be negative")
	}
	if c.Binary.MaxChunkBytes <= 0 {
		bad("binary.max_chunk_bytes must be positive, got %d", c.Binary.MaxChunkBytes)
	}
	if c.Binary.MaxChunkBytes > 0 && c.Server.MaxFrameBytes > 0 {
		if need := ChunkFrameBytes(c.Binary.MaxChunkBytes); need > int64(c.Server.MaxFrameBytes) {
			bad("binary.max_chunk_bytes (%d) encodes to up to %d bytes, above server.max_frame_bytes (%d)",
				c.Binary.MaxChunkBytes, need, c.Server.MaxFrameBytes)
		}
	}
	if c.Binary.MaxStoreBytes < 0 {
		bad("binary.max_store_bytes must not be negative")
	}
	if c.Registry.Enabled() && c.Registry.TTL <= 0 {
		bad("registry.ttl must be positive when endpoints are set")
	}
	return errors.Join(errs...)
}

type fileConfig struct {
	Server struct {
		Listen         string  `toml:"listen"`
		Advertise      string  `toml:"advertise"`
		GRPCListen     string  `toml:"grpc_listen"`
		MaxFrameBytes  int     `toml:"max_frame_bytes"`
		RequestTimeout string  `toml:"request_timeout"`
		RateLimit      float64 `toml:"rate_limit"`
		Burst          int     `toml:"burst"`
	} `toml:"server"`
	Binary struct {
		TTL           string `toml:"ttl"`
		SweepInterval string `toml:"sweep_interval"`
		MaxChunkBytes int    `toml:"max_chunk_bytes"`
		MaxStoreBytes int64  `toml:"max_store_bytes"`
	} `toml:"binary"`
	Registry struct {
		Endpoints   []string `toml:"endpoints"`
		TTL         string   `toml:"ttl"`
		DialTimeout string   `toml:"dial_timeout"`
		Prefix      string   `toml:"prefix"`
	} `toml:"registry"`
	Log struct {
		Level   string `toml:"level"`
		JSON    bool   `toml:"json"`
		NoColor bool   `toml:"no_color"`
	} `toml:"log"`
}

// Load reads path over the defaults and validates the result.
func Load(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return fromFile(raw, meta)
}

// Parse is Load for an in-memory document.
func Parse(doc string) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(doc, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return fromFile(raw, meta)
}

func fromFile(raw fileConfig, meta toml.MetaData) (Config, error) {
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%w: unknown key %s", ErrInvalid, undecoded[0])
	}
	cfg := Default()
	duration := func(dst *time.Duration, raw string, key ...string) error {
		if !meta.IsDefined(key...) {
			return nil
		}
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("parse %s: %w", strings.Join(key, "."), err)
		}
		*dst = d
		return nil
	}

	if meta.IsDefined("server", "listen") {
		cfg.Server.Listen = strings.TrimSpace(raw.Server.Listen)
	}
	if meta.IsDefined("server", "advertise") {
		cfg.Server.Advertise = strings.TrimSpace(raw.Server.Advertise)
	}
	if meta.IsDefined("server", "grpc_listen") {
		cfg.Server.GRPCListen = strings.TrimSpace(raw.Server.GRPCListen)
	}
	if meta.IsDefined("server", "max_frame_bytes") {
		cfg.Server.MaxFrameBytes = raw.Server.MaxFrameBytes
	}
	if err := duration(&cfg.Server.RequestTimeout, raw.Server.RequestTimeout, "server", "request_timeout"); err != nil {
		return Config{}, err
	}
	if meta.IsDefined("server", "rate_limit") {
		cfg.Server.RateLimit = raw.Server.RateLimit
	}
	if meta.IsDefined("server", "burst") {
		cfg.Server.Burst = raw.Server.Burst
	}

	if err := duration(&cfg.Binary.TTL, raw.Binary.TTL, "binary", "ttl"); err != nil {
		return Config{}, err
	}
	if err := duration(&cfg.Binary.SweepInterval, raw.Binary.SweepInterval, "binary", "sweep_interval"); err != nil {
		return Config{}, err
	}
	if meta.IsDefined("binary", "max_chunk_bytes") {
		cfg.Binary.MaxChunkBytes = raw.Binary.MaxChunkBytes
	}
	if meta.IsDefined("binary", "max_store_bytes") {
		cfg.Binary.MaxStoreBytes = raw.Binary.MaxStoreBytes
	}

	if meta.IsDefined("registry", "endpoints") {
		cfg.Registry.Endpoints = normalize(raw.Registry.Endpoints)
	}
	if err := duration(&cfg.Registry.TTL, raw.Registry.TTL, "registry", "ttl"); err != nil {
		return Config{}, err
	}
	if err := duration(&cfg.Registry.DialTimeout, raw.Registry.DialTimeout, "registry", "dial_timeout"); err != nil {
		return Config{}, err
	}
	if meta.IsDefined("registry", "prefix") {
		cfg.Registry.Prefix = strings.TrimSpace(raw.Registry.Prefix)
	}

	if meta.IsDefined("log", "level") {
		lvl, ok := logging.ParseLevel(raw.Log.Level)
		if !ok {
			return Config{}, fmt.Errorf("%w: log.level %q", ErrInvalid, raw.Log.Level)
		}
		cfg.Log.Level = lvl
	}
	if meta.IsDefined("log", "json") {
		cfg.Log.JSON = raw.Log.JSON
	}
	if meta.IsDefined("log", "no_color") {
		cfg.Log.NoColor = raw.Log.NoColor
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func normalize(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
