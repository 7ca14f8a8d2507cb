package binarytransfer

import (
	"context"
	"testing"
)

func BenchmarkUploadDownload1MiB(b *testing.B) {
	cli, _ := startTransferServer(b)
	ctx := context.Background()
	data := pattern(1 << 20)
	b.SetBytes(int64(len(data)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		id, err := Upload(ctx, cli, "Bench/Data", data, 64*1024)
		if err != nil {
			b.Fatal(err)
		}
		if _, err := Download(ctx, cli, id, 64*1024); err != nil {
			b.Fatal(err)
		}
		if err := Delete(ctx, cli, id); err != nil {
			b.Fatal(err)
		}
	}
}
