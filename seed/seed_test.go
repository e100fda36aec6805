package seed

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

type failingReader struct{}

func (failingReader) Read(p []byte) (int, error) { return 0, errors.New("entropy pool closed") }

func TestGenerate_Shape(t *testing.T) {
	g := New()
	s, err := g.Generate("user-1")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !Valid(s) {
		t.Fatalf("malformed seed %q", s)
	}
}

func TestGenerate_UniqueAcrossCalls(t *testing.T) {
	g := New()
	seen := make(map[string]bool, 1000)
	for i := 0; i < 1000; i++ {
		s, err := g.Generate("same-user")
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		if seen[s] {
			t.Fatalf("seed %s repeated after %d draws", s, i)
		}
		seen[s] = true
	}
}

func TestGenerate_DeterministicWithFixedInputs(t *testing.T) {
	fixed := time.UnixMilli(1_700_000_000_000)
	mk := func() *Generator {
		return New(WithEntropy(bytes.NewReader(make([]byte, 16))), WithClock(func() time.Time { return fixed }))
	}
	a, err := mk().Generate("u")
	if err != nil {
		t.Fatal(err)
	}
	b, err := mk().Generate("u")
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatalf("fixed inputs produced %s and %s", a, b)
	}
	c, err := mk().Generate("v")
	if err != nil {
		t.Fatal(err)
	}
	if a == c {
		t.Fatal("salt did not change the seed")
	}
}

func TestGenerate_EntropyFailure(t *testing.T) {
	g := New(WithEntropy(failingReader{}))
	if _, err := g.Generate("u"); !errors.Is(err, ErrEntropy) {
		t.Fatalf("expected ErrEntropy, got %v", err)
	}

	// A short read is also a failure.
	g = New(WithEntropy(bytes.NewReader([]byte{1, 2, 3})))
	if _, err := g.Generate("u"); !errors.Is(err, ErrEntropy) {
		t.Fatalf("expected ErrEntropy on short read, got %v", err)
	}
}

func TestRetrySalt(t *testing.T) {
	now := time.UnixMilli(1234)
	if got := RetrySalt("u1", now, 2); got != "u1_1234_2" {
		t.Fatalf("RetrySalt = %q", got)
	}
}

func TestValid(t *testing.T) {
	cases := map[string]bool{
		"s_0123456789ab":  true,
		"s_0123456789AB":  false,
		"s_0123456789a":   false,
		"x_0123456789ab":  false,
		"s_0123456789abc": false,
	}
	for in, want := range cases {
		if got := Valid(in); got != want {
			t.Errorf("Valid(%q) = %v, want %v", in, got, want)
		}
	}
}
