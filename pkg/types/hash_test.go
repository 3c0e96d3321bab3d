package types

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestHash_Accessors(t *testing.T) {
	var zero Hash
	if !zero.IsZero() || zero.String() != strings.Repeat("0", 64) {
		t.Errorf("zero hash = %s, IsZero %v", zero, zero.IsZero())
	}

	h := Hash{0xde, 0xad, 0xbe, 0xef}
	h[31] = 0xcd
	if h.IsZero() {
		t.Error("non-zero hash reported zero")
	}
	if got := h.Short(); got != "deadbeef00000000" {
		t.Errorf("Short() = %s", got)
	}
	if s := h.String(); !strings.HasPrefix(s, "deadbeef") || !strings.HasSuffix(s, "cd") {
		t.Errorf("String() = %s", s)
	}

	b := h.Bytes()
	b[0] = 0
	if h[0] != 0xde {
		t.Error("Bytes() should return a copy")
	}
}

func TestParseHash(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid", "af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262", false},
		{"zeros", strings.Repeat("0", 64), false},
		{"too short", "abcd", true},
		{"too long", strings.Repeat("a", 66), true},
		{"not hex", strings.Repeat("g", 64), true},
		{"empty", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := ParseHash(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseHash(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && h.String() != tt.input {
				t.Errorf("String() = %s, want %s", h, tt.input)
			}
		})
	}
}

func TestHash_JSON(t *testing.T) {
	h := Hash{0x01, 0x02}

	// Map keys go through MarshalText as well.
	data, err := json.Marshal(map[Hash]Hash{h: h})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"` + h.String() + `":"` + h.String() + `"}`
	if string(data) != want {
		t.Errorf("Marshal = %s, want %s", data, want)
	}

	var got map[Hash]Hash
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got[h] != h {
		t.Errorf("decoded = %v", got)
	}

	empty := Hash{0xff}
	if err := json.Unmarshal([]byte(`""`), &empty); err != nil || !empty.IsZero() {
		t.Errorf("empty string = %s, %v; want zero hash", empty, err)
	}
	if err := json.Unmarshal([]byte(`"abcd"`), &empty); err == nil {
		t.Error("short hex should fail to decode")
	}
}
