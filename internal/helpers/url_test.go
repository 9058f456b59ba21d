package helpers

import (
	"reflect"
	"testing"
)

func TestCanonicalURL(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "defaults https and cleans path",
			in:   "Example.com/history/../qwerty/layout",
			want: "https://example.com/qwerty/layout",
		},
		{
			name: "removes default port, fragment and tracking params",
			in:   "http://docs.example.com:80/article?id=123&utm_source=rss#section",
			want: "http://docs.example.com/article?id=123",
		},
		{
			name: "sorts query and keeps trailing slash",
			in:   "https://example.com/path/?b=2&a=1&fbclid=xyz",
			want: "https://example.com/path/?a=1&b=2",
		},
		{
			name: "drops www and keeps custom port",
			in:   "https://WWW.example.org:8443/a//b",
			want: "https://example.org:8443/a/b",
		},
		{
			name: "schemeless double slash",
			in:   "//blog.example.com/post/42?utm_medium=email",
			want: "https://blog.example.com/post/42",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := CanonicalURL(tt.in)
			if err != nil {
				t.Fatalf("CanonicalURL() error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("CanonicalURL() got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCanonicalURLErrors(t *testing.T) {
	t.Parallel()
	for _, in := range []string{"", "   ", "ftp://example.com/file", "javascript://alert(1)"} {
		if _, err := CanonicalURL(in); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}

func TestDedupeURLs(t *testing.T) {
	t.Parallel()
	in := []string{
		"https://www.example.com/a?utm_campaign=x",
		"https://example.com/a",
		"not a url ::",
		"https://other.example.com/b#top",
		"https://third.example.com/",
	}
	got := DedupeURLs(in, 2)
	want := []string{"https://example.com/a", "https://other.example.com/b"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}
