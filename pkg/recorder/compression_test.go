package recorder

import (
	"bytes"
	"testing"
)

func TestCompression(t *testing.T) {
	testData := bytes.Repeat([]byte("mov [0x1000],al; "), 64)

	compressed, err := CompressData(testData, ZstdCompression)
	if err != nil {
		t.Fatalf("Failed to compress data: %v", err)
	}
	if len(compressed) >= len(testData) {
		t.Errorf("Compressed data (%d bytes) is not smaller than original (%d bytes)", len(compressed), len(testData))
	}

	decompressed, err := DecompressData(compressed, ZstdCompression)
	if err != nil {
		t.Fatalf("Failed to decompress data: %v", err)
	}
	if !bytes.Equal(decompressed, testData) {
		t.Fatalf("Decompressed data does not match original")
	}

	// No compression passes data through
	plain, err := CompressData(testData, NoCompression)
	if err != nil || !bytes.Equal(plain, testData) {
		t.Errorf("Expected NoCompression to return the input unchanged, err=%v", err)
	}

	if _, err := CompressData(testData, CompressionType(9)); err == nil {
		t.Error("Expected error for unknown compression type")
	}
}

func TestParseCompression(t *testing.T) {
	testCases := []struct {
		name    string
		want    CompressionType
		wantErr bool
	}{
		{name: "", want: NoCompression},
		{name: "none", want: NoCompression},
		{name: "zstd", want: ZstdCompression},
		{name: "gzip", wantErr: true},
	}

	for _, tc := range testCases {
		got, err := ParseCompression(tc.name)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseCompression(%q): expected error", tc.name)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("ParseCompression(%q) = %v, %v; want %v", tc.name, got, err, tc.want)
		}
		if tc.name != "" && got.String() != tc.name {
			t.Errorf("Expected %v.String() to be %q, got %q", got, tc.name, got.String())
		}
	}
}
