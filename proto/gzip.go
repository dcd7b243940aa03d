package proto

import (
	"bytes"
	"compress/gzip"
	"io"
)

// Compress gzips payload for a `z:"1"` block. Compression is an external
// collaborator per spec.md §1 ("specified only at the interface level");
// the standard library's implementation is the one named there, not a
// domain dependency to source from the example pack.
func Compress(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(payload); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decompress reverses Compress.
func Decompress(payload []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
