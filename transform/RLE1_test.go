package transform

import (
	"bytes"
	"math/rand"
	"testing"
)

func expandAll(encoded []byte) []byte {
	e := NewRLE1Expander()
	dst := make([]byte, 0, len(encoded)*2)
	srcPos := 0

	for srcPos < len(encoded) {
		dstPos := len(dst)
		grown := append(dst, make([]byte, 64)...)
		e.Feed(encoded, &srcPos, grown, &dstPos)
		dst = grown[:dstPos]
	}

	return dst
}

func TestRLE1ForwardExpanderRoundTrip(t *testing.T) {
	cases := [][]byte{
		nil,
		[]byte("a"),
		[]byte("aaa"),
		[]byte("aaaa"),
		[]byte("aaaaa"),
		bytes.Repeat([]byte("b"), 300),
		[]byte("abcabcabc"),
		[]byte("aaaabaaaabaaaac"),
	}

	for _, src := range cases {
		enc := NewRLE1().Forward(src)
		got := expandAll(enc)

		if !bytes.Equal(got, src) {
			t.Fatalf("round trip mismatch for %q: encoded=%v got=%q", src, enc, got)
		}
	}
}

func TestRLE1RandomRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for trial := 0; trial < 20; trial++ {
		n := rng.Intn(2000)
		src := make([]byte, n)

		// Bias toward runs so the length-byte escape path gets exercised.
		for i := range src {
			if i > 0 && rng.Intn(3) == 0 {
				src[i] = src[i-1]
			} else {
				src[i] = byte(rng.Intn(4))
			}
		}

		enc := NewRLE1().Forward(src)
		got := expandAll(enc)

		if !bytes.Equal(got, src) {
			t.Fatalf("trial %d: round trip mismatch, len(src)=%d", trial, n)
		}
	}
}

// TestRLE1ExpanderResumesByteAtATime feeds the encoded stream one byte at a
// time with a fresh srcPos-bounded slice each call, confirming the expander
// never loses track of a partially-seen run or length byte across calls.
func TestRLE1ExpanderResumesByteAtATime(t *testing.T) {
	src := []byte("aaaaxaaaaaaaabbbbbbccccccccccccccc")
	enc := NewRLE1().Forward(src)

	e := NewRLE1Expander()
	out := make([]byte, 0, len(src))

	for i := 0; i < len(enc); i++ {
		chunk := enc[i : i+1]
		srcPos := 0

		for srcPos < len(chunk) || e.Pending() {
			dstPos := len(out)
			grown := append(out, make([]byte, 8)...)
			before := dstPos
			e.Feed(chunk, &srcPos, grown, &dstPos)
			out = grown[:dstPos]

			if dstPos == before && srcPos >= len(chunk) {
				break
			}
		}
	}

	if !bytes.Equal(out, src) {
		t.Fatalf("byte-at-a-time round trip mismatch: got %q want %q", out, src)
	}
}

func TestRLE1MaxEncodedLen(t *testing.T) {
	r := NewRLE1()

	if got := r.MaxEncodedLen(100); got < 100 {
		t.Fatalf("MaxEncodedLen(100) = %d, want >= 100", got)
	}
}
