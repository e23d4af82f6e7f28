package axis

import "testing"

func TestParseLetter(t *testing.T) {
	tests := []struct {
		in   byte
		want ID
		ok   bool
	}{
		{'R', R, true},
		{'r', R, true},
		{'T', T, true},
		{'Z', Z, true},
		{'a', A, true},
		{'X', 0, false},
		{'0', 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseLetter(tt.in)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("ParseLetter(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestPositional(t *testing.T) {
	for _, id := range []ID{R, T, Z} {
		if !id.Positional() {
			t.Errorf("%v.Positional() = false, want true", id)
		}
	}
	if A.Positional() {
		t.Error("A.Positional() = true, want false")
	}
}

func TestProfileBounds(t *testing.T) {
	for _, s := range []Settings{RTProfile(), ZProfile()} {
		if err := s.Validate(); err != nil {
			t.Errorf("reference profile rejected: %v", err)
		}
	}
}
