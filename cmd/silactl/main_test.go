package main

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"sila-rpc/binarytransfer"
	"sila-rpc/blob"
	"sila-rpc/internal/testlog"
	"sila-rpc/server"
)

func startStore(t *testing.T) string {
	t.Helper()
	testlog.Start(t)
	svr := server.NewServer()
	if err := binarytransfer.Register(svr, blob.New()); err != nil {
		t.Fatal(err)
	}
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go svr.ServeListener(l)
	t.Cleanup(func() { svr.Shutdown(time.Second) })
	return l.Addr().String()
}

func TestUploadInfoDownloadDelete(t *testing.T) {
	addr := startStore(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "in.bin")
	data := bytes.Repeat([]byte("0123456789abcdef"), 4096)
	if err := os.WriteFile(src, data, 0o600); err != nil {
		t.Fatal(err)
	}
	base := []string{"-addr", addr, "-chunk", "10000", "-codec", "binary", "-retries", "1"}

	var out bytes.Buffer
	if err := run(append(base, "upload", src, "Test/Data"), &out); err != nil {
		t.Fatal(err)
	}
	id := strings.TrimSpace(out.String())

	out.Reset()
	if err := run(append(base, "info", id), &out); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.String(), "size=65536 ") {
		t.Fatalf("info = %q", out.String())
	}

	dst := filepath.Join(dir, "out.bin")
	out.Reset()
	if err := run(append(base, "download", id, dst), &out); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("downloaded file differs")
	}

	if err := run(append(base, "delete", id), &out); err != nil {
		t.Fatal(err)
	}
	err = run(append(base, "info", id), &out)
	if !blob.IsInvalidUUID(err) {
		t.Fatalf("expect InvalidBinaryTransferUUID after delete, got %v", err)
	}
}

func TestUsageErrors(t *testing.T) {
	cases := [][]string{
		{},
		{"upload"},
		{"-codec", "xml", "info", "x"},
		{"-balancer", "random", "info", "x"},
		{"frobnicate", "x"},
		{"download", "x"},
	}
	for _, args := range cases {
		if err := run(args, &bytes.Buffer{}); err == nil {
			t.Fatalf("%q: expect error", args)
		}
	}
}

func TestRetriesOnlyForIdempotentCommands(t *testing.T) {
	for cmd, want := range map[string]bool{
		"upload":   false,
		"download": true,
		"info":     true,
		"delete":   true,
		"bogus":    false,
	} {
		if got := idempotent(cmd); got != want {
			t.Errorf("idempotent(%q) = %v, want %v", cmd, got, want)
		}
	}
}
