package blob

import (
	"testing"
)

// TestParseMode tests open mode parsing
func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{in: "", want: Mode{Base: 'r', Readable: true}},
		{in: "r", want: Mode{Base: 'r', Readable: true}},
		{in: "rb", want: Mode{Base: 'r', Binary: true, Readable: true}},
		{in: "rt", want: Mode{Base: 'r', Readable: true}},
		{in: "r+", want: Mode{Base: 'r', Plus: true, Readable: true, Writable: true}},
		{in: "w", want: Mode{Base: 'w', Writable: true}},
		{in: "wb", want: Mode{Base: 'w', Binary: true, Writable: true}},
		{in: "w+", want: Mode{Base: 'w', Plus: true, Readable: true, Writable: true}},
		{in: "a", want: Mode{Base: 'a', Writable: true}},
		{in: "ab", want: Mode{Base: 'a', Binary: true, Writable: true}},
		{in: "x", want: Mode{Base: 'x', Writable: true}},
		{in: "xb", want: Mode{Base: 'x', Binary: true, Writable: true}},
		{in: "z", wantErr: true},
		{in: "rq", wantErr: true},
		{in: "w!", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseMode(%q) expected error, got %+v", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseMode(%q) unexpected error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseMode(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}
