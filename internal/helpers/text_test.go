package helpers

import "testing"

func TestTruncateWords(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		max  int
		want string
	}{
		{"one two three", 5, "one two three"},
		{"  one\ttwo\n three  four ", 3, "one two three"},
		{"anything", 0, ""},
	}
	for _, tc := range cases {
		if got := TruncateWords(tc.in, tc.max); got != tc.want {
			t.Fatalf("TruncateWords(%q, %d) = %q want %q", tc.in, tc.max, got, tc.want)
		}
	}
	if WordCount("a  b\nc") != 3 {
		t.Fatalf("word count")
	}
	if TruncateRunes("héllo", 2) != "hé" {
		t.Fatalf("truncate runes")
	}
}
