package validators

import "testing"

func TestSanitizeString(t *testing.T) {
	cases := []struct {
		in   string
		max  int
		want string
	}{
		{"  Siti   Aminah \n", 0, "Siti Aminah"},
		{"Jl.\tMelati\x00 2", 0, "Jl. Melati 2"},
		{"Bandung", 4, "Band"},
		{"ab cd", 3, "ab"},
		{"Ñandú ñandú", 5, "Ñandú"},
		{"   ", 10, ""},
	}
	for _, tc := range cases {
		if got := SanitizeString(tc.in, tc.max); got != tc.want {
			t.Fatalf("SanitizeString(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
		}
	}
}
