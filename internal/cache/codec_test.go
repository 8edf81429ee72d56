package cache

import (
	"strings"
	"testing"
)

func TestEncodeCompressionThreshold(t *testing.T) {
	small := map[string]string{"k": "v"}
	large := map[string]string{"k": strings.Repeat("x", 500)}

	tests := []struct {
		name       string
		value      any
		threshold  int
		compressed bool
	}{
		{"small stays json", small, 100, false},
		{"large compressed", large, 100, true},
		{"threshold disabled", large, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(tt.value, tt.threshold)
			if err != nil {
				t.Fatalf("Encode error: %v", err)
			}
			if IsCompressed(data) != tt.compressed {
				t.Errorf("IsCompressed = %v, want %v", IsCompressed(data), tt.compressed)
			}

			var out map[string]string
			if err := Decode(data, &out); err != nil {
				t.Fatalf("Decode error: %v", err)
			}
			if out["k"] != tt.value.(map[string]string)["k"] {
				t.Error("decoded value differs")
			}
		})
	}
}

func TestDecodeCorruptFrame(t *testing.T) {
	corrupt := append(append([]byte{}, zstdMagic...), 0x00, 0x01, 0x02)
	var out map[string]string
	if err := Decode(corrupt, &out); err == nil {
		t.Error("expected error for corrupt zstd frame")
	}
	if err := Decode([]byte("{broken"), &out); err == nil {
		t.Error("expected error for broken JSON")
	}
}

func TestEncodeUnsupportedValue(t *testing.T) {
	if _, err := Encode(make(chan int), 0); err == nil {
		t.Error("expected error encoding a channel")
	}
}
