package filter

import (
	"bytes"
	"compress/gzip"
	"testing"
)

func TestDecompressReaderGzip(t *testing.T) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	want := []byte("the quick brown fox jumps over the lazy dog")
	if _, err := gw.Write(want); err != nil {
		t.Fatalf("gzip.Write: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("gzip.Close: %v", err)
	}

	dr := NewDecompressReader(EncodingGzip)
	got, err := dr.Decompress(buf.Bytes())
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestDecompressReaderInvalidData(t *testing.T) {
	dr := NewDecompressReader(EncodingGzip)
	if _, err := dr.Decompress([]byte("not gzip data")); err == nil {
		t.Fatal("expected error decompressing garbage")
	}
}
