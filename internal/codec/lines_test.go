package codec

import (
	"slices"
	"strings"
	"testing"
)

func TestEncodeLine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"VIBRATE_TRIGGER", "VIBRATE_TRIGGER\n"},
		{"already\n", "already\n"},
		{"crlf\r\n", "crlf\n"},
		{"", "\n"},
	}
	for _, tc := range tests {
		if got := string(EncodeLine(tc.in)); got != tc.want {
			t.Errorf("EncodeLine(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestTokens(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want []string
	}{
		{"fire, horn", []string{"fire", "horn"}},
		{" siren ,, ,boom,", []string{"siren", "boom"}},
		{"", []string{}},
		{"single", []string{"single"}},
	}
	for _, tc := range tests {
		got := Tokens(tc.in)
		if !slices.Equal(got, tc.want) {
			t.Errorf("Tokens(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestLineSplitter_Fragments(t *testing.T) {
	t.Parallel()

	s := NewLineSplitter(0)
	var got []string
	for _, chunk := range []string{"hel", "lo\r", "\nwor", "ld\npar", "tial"} {
		got = append(got, s.Feed([]byte(chunk))...)
	}
	if want := []string{"hello", "world"}; !slices.Equal(got, want) {
		t.Errorf("lines = %q, want %q", got, want)
	}
	if s.Pending() != len("partial") {
		t.Errorf("Pending = %d, want %d", s.Pending(), len("partial"))
	}
	s.Reset()
	if s.Pending() != 0 {
		t.Error("Reset did not clear pending bytes")
	}
}

func TestLineSplitter_MultipleLinesInOneChunk(t *testing.T) {
	t.Parallel()

	s := NewLineSplitter(0)
	got := s.Feed([]byte("a\nb\r\n\nc\n"))
	if want := []string{"a", "b", "", "c"}; !slices.Equal(got, want) {
		t.Errorf("lines = %q, want %q", got, want)
	}
}

func TestLineSplitter_Oversize(t *testing.T) {
	t.Parallel()

	s := NewLineSplitter(8)
	if got := s.Feed([]byte(strings.Repeat("x", 20))); len(got) != 0 {
		t.Fatalf("unexpected lines %q", got)
	}
	if s.Pending() != 0 || s.Dropped() != 20 {
		t.Errorf("Pending = %d, Dropped = %d", s.Pending(), s.Dropped())
	}
	if got := s.Feed([]byte("xx\nok\n")); !slices.Equal(got, []string{"ok"}) {
		t.Errorf("after overflow lines = %q, want the tail of the long line dropped", got)
	}
	if s.Dropped() != 23 {
		t.Errorf("Dropped = %d, want 23", s.Dropped())
	}
}

func TestDecodeLine_InvalidUTF8(t *testing.T) {
	t.Parallel()

	line, ok := DecodeLine([]byte{'h', 0xff, 'i', '\r'})
	if ok {
		t.Error("expected invalid UTF-8 to be reported")
	}
	if line != "h�i" {
		t.Errorf("line = %q", line)
	}
}
