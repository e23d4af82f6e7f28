package serial

import "testing"

func TestResolveAddr(t *testing.T) {
	tests := []struct {
		in      string
		addr    [4]byte
		port    int
		wantErr bool
	}{
		{"127.0.0.1:5555", [4]byte{127, 0, 0, 1}, 5555, false},
		{"10.1.2.3:9600", [4]byte{10, 1, 2, 3}, 9600, false},
		{":8080", [4]byte{127, 0, 0, 1}, 8080, false},
		{"localhost:8899", [4]byte{127, 0, 0, 1}, 8899, false},
		{"noport", [4]byte{}, 0, true},
		{"127.0.0.1:0", [4]byte{}, 0, true},
		{"256.0.0.1:80", [4]byte{}, 0, true},
	}
	for _, tt := range tests {
		sa, err := resolveAddr(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("resolveAddr(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err == nil && (sa.Addr != tt.addr || sa.Port != tt.port) {
			t.Errorf("resolveAddr(%q) = %v:%d, want %v:%d",
				tt.in, sa.Addr, sa.Port, tt.addr, tt.port)
		}
	}
}
