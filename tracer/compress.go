package tracer

import (
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
)

// CompressTraceFile writes a zstd-compressed copy of path alongside it, at
// path+".zst". The primary trace file is left untouched and uncompressed,
// so replay never depends on zstd being available; the copy is purely an
// optional secondary artifact for large traces' on-disk footprint.
func CompressTraceFile(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(path + ".zst")
	if err != nil {
		return err
	}
	defer dst.Close()

	enc, err := zstd.NewWriter(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(enc, src); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}
