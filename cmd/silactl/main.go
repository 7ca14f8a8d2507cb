// Command silactl moves files in and out of a silad binary store.
//
//	silactl [flags] upload <file> [parameter]
//	silactl [flags] download <id> <file>
//	silactl [flags] info <id>
//	silactl [flags] delete <id>
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"sila-rpc/binarytransfer"
	"sila-rpc/client"
	"sila-rpc/codec"
	"sila-rpc/loadbalance"
	"sila-rpc/logging"
	"sila-rpc/middleware"
	"sila-rpc/registry"
)

func main() {
	logging.ConfigureRuntime()
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "silactl: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	addrs     string
	etcd      string
	prefix    string
	balancer  string
	codec     string
	chunkSize int
	retries   int
	timeout   time.Duration
}

func run(args []string, stdout io.Writer) error {
	var opts options
	fs := flag.NewFlagSet("silactl", flag.ContinueOnError)
	fs.StringVar(&opts.addrs, "addr", "127.0.0.1:7400", "comma-separated server addresses")
	fs.StringVar(&opts.etcd, "etcd", "", "comma-separated etcd endpoints; overrides -addr")
	fs.StringVar(&opts.prefix, "prefix", registry.DefaultPrefix, "etcd key prefix")
	fs.StringVar(&opts.balancer, "balancer", "consistent_hash", "round_robin | weighted_random | consistent_hash")
	fs.StringVar(&opts.codec, "codec", "json", "json | binary")
	fs.IntVar(&opts.chunkSize, "chunk", binarytransfer.DefaultChunkSize, "chunk size in bytes")
	fs.IntVar(&opts.retries, "retries", 0, "retries for unavailable servers and timeouts; upload never retries")
	fs.DurationVar(&opts.timeout, "timeout", 5*time.Minute, "overall deadline")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) < 2 {
		return fmt.Errorf("usage: silactl [flags] upload|download|info|delete <args>")
	}

	cli, closeFn, err := dial(opts, idempotent(rest[0]))
	if err != nil {
		return err
	}
	defer closeFn()

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	switch cmd, arg := rest[0], rest[1]; cmd {
	case "upload":
		data, err := os.ReadFile(arg)
		if err != nil {
			return err
		}
		parameter := ""
		if len(rest) > 2 {
			parameter = rest[2]
		}
		id, err := binarytransfer.Upload(ctx, cli, parameter, data, opts.chunkSize)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, id)
	case "download":
		if len(rest) < 3 {
			return fmt.Errorf("usage: silactl download <id> <file>")
		}
		data, err := binarytransfer.Download(ctx, cli, arg, opts.chunkSize)
		if err != nil {
			return err
		}
		if err := os.WriteFile(rest[2], data, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%d bytes\n", len(data))
	case "info":
		info, err := binarytransfer.Info(ctx, cli, arg)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "size=%d lifetime=%ds\n", info.Size, info.LifetimeSeconds)
	case "delete":
		return binarytransfer.Delete(ctx, cli, arg)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

// idempotent reports whether a command may be resent after a transport failure.
// Upload chunks may not: a duplicated chunk arrives at the wrong offset.
func idempotent(cmd string) bool {
	switch cmd {
	case "download", "info", "delete":
		return true
	}
	return false
}

func dial(opts options, retry bool) (*client.Client, func(), error) {
	ct, err := codec.ParseCodecType(opts.codec)
	if err != nil {
		return nil, nil, err
	}
	bal, err := loadbalance.New(opts.balancer)
	if err != nil {
		return nil, nil, err
	}
	clientOpts := []client.Option{
		client.WithCodec(ct),
		client.WithBalancer(bal),
		client.WithCatalog(binarytransfer.Catalog()),
		client.WithMiddleware(middleware.LoggingMiddleware(nil)),
	}
	if retry && opts.retries > 0 {
		clientOpts = append(clientOpts, client.WithMiddleware(middleware.RetryMiddleware(opts.retries, 100*time.Millisecond)))
	}

	closeReg := func() {}
	if opts.etcd != "" {
		reg, err := registry.NewEtcdRegistry(registry.EtcdConfig{
			Endpoints: splitList(opts.etcd),
			Prefix:    opts.prefix,
		})
		if err != nil {
			return nil, nil, err
		}
		closeReg = func() { reg.Close() }
		clientOpts = append(clientOpts, client.WithRegistry(reg))
	} else {
		clientOpts = append(clientOpts, client.WithAddrs(splitList(opts.addrs)...))
	}

	cli, err := client.NewClient(clientOpts...)
	if err != nil {
		closeReg()
		return nil, nil, err
	}
	return cli, func() {
		cli.Close()
		closeReg()
	}, nil
}

func splitList(raw string) []string {
	var out []string
	for _, v := range strings.Split(raw, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
