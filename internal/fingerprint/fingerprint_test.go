package fingerprint

import (
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "identifiers masked keywords kept",
			in:   "if count > 3 { return total }",
			want: "if ID > NUM { return ID }",
		},
		{
			name: "string literals masked",
			in:   `log("user admin logged in")`,
			want: "ID ( STR )",
		},
		{
			name: "line comments stripped",
			in:   "x = 1 // set x\ny = 2 # set y",
			want: "ID = NUM ID = NUM",
		},
		{
			name: "block comments stripped",
			in:   "a /* multi\nline */ b",
			want: "ID ID",
		},
		{
			name: "whitespace collapsed",
			in:   "for \t i \n\n in   items",
			want: "for ID ID ID",
		},
		{
			name: "empty input",
			in:   "",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Normalize(tt.in); got != tt.want {
				t.Fatalf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFingerprintInvariants(t *testing.T) {
	t.Parallel()

	// Renamed identifiers and changed literals share a fingerprint.
	a := Fingerprint("func sum(a, b int) int { return a + b }")
	b := Fingerprint("func add(x, y int) int { return x + y }")
	if a != b {
		t.Fatalf("renamed variants must share a fingerprint: %s vs %s", a, b)
	}

	// Structural change breaks the match.
	c := Fingerprint("func sum(a, b int) int { return a - b + 1 }")
	if a == c {
		t.Fatalf("structurally different chunks must not collide")
	}

	// Deterministic across calls and total over empty input.
	if Fingerprint("x") != Fingerprint("x") {
		t.Fatal("Fingerprint not deterministic")
	}
	if got := Fingerprint(""); len(got) != 64 {
		t.Fatalf("Fingerprint(\"\") = %q, want 64 hex chars", got)
	}
}

func TestFingerprintCommentInsensitive(t *testing.T) {
	t.Parallel()

	plain := "return cache.Get(key)"
	commented := "// fast path\nreturn cache.Get(key) /* hit */"
	if Fingerprint(plain) != Fingerprint(commented) {
		t.Fatal("comments must not affect the fingerprint")
	}
}

func TestTokenEstimate(t *testing.T) {
	t.Parallel()

	if got := TokenEstimate(""); got != 0 {
		t.Fatalf("TokenEstimate(\"\") = %d, want 0", got)
	}
	norm := Normalize("if a > 1 { return b }")
	if got := TokenEstimate(norm); got != len(strings.Fields(norm)) {
		t.Fatalf("TokenEstimate(%q) = %d", norm, got)
	}
}
