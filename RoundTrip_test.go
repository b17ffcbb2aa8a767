package bz_test

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/kanzicore/bz"
	"github.com/kanzicore/bz/compress"
	"github.com/kanzicore/bz/decompress"
)

// compressAll drives an Encoder to completion over data and returns the
// full compressed stream.
func compressAll(t *testing.T, data []byte, level int) []byte {
	t.Helper()

	enc, err := compress.NewEncoder(level, 0, 0)

	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}

	var out bytes.Buffer
	buf := make([]byte, 4096)
	in := data

	for len(in) > 0 {
		nIn, nOut, _, err := enc.Compress(bz.Run, in, buf)

		if err != nil {
			t.Fatalf("Compress(Run): %v", err)
		}

		out.Write(buf[:nOut])
		in = in[nIn:]
	}

	for {
		_, nOut, status, err := enc.Compress(bz.Finish, nil, buf)

		if err != nil {
			t.Fatalf("Compress(Finish): %v", err)
		}

		out.Write(buf[:nOut])

		if status == bz.StatusStreamEnd {
			break
		}
	}

	enc.End()
	return out.Bytes()
}

// decompressAll drives a Decoder to completion over compressed and returns
// the decoded plaintext.
func decompressAll(t *testing.T, compressed []byte, small bool) []byte {
	t.Helper()

	dec, err := decompress.NewDecoder(small, 0)

	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}

	var out bytes.Buffer
	buf := make([]byte, 4096)
	in := compressed

	for {
		nIn, nOut, status, err := dec.Decompress(in, buf)

		if err != nil {
			t.Fatalf("Decompress: %v", err)
		}

		out.Write(buf[:nOut])
		in = in[nIn:]

		if status == bz.StatusStreamEnd {
			break
		}

		if nIn == 0 && nOut == 0 {
			t.Fatalf("Decompress made no progress with %d input bytes remaining", len(in))
		}
	}

	dec.End()
	return out.Bytes()
}

func TestRoundTripEmpty(t *testing.T) {
	compressed := compressAll(t, nil, 1)
	got := decompressAll(t, compressed, false)

	if len(got) != 0 {
		t.Fatalf("expected empty output, got %d bytes", len(got))
	}
}

func TestRoundTripShortPhrase(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	compressed := compressAll(t, data, 1)
	got := decompressAll(t, compressed, false)

	if !bytes.Equal(got, data) {
		t.Fatalf("round trip mismatch: got %q want %q", got, data)
	}
}

func TestRoundTripRepeatedByteMultiBlock(t *testing.T) {
	// level 1 -> 100000 byte blocks; 250000 bytes spans three blocks.
	data := bytes.Repeat([]byte{'x'}, 250000)
	compressed := compressAll(t, data, 1)
	got := decompressAll(t, compressed, false)

	if !bytes.Equal(got, data) {
		t.Fatalf("round trip mismatch for repeated byte input (lengths: got %d want %d)", len(got), len(data))
	}
}

func TestRoundTripLargeRandomMultipleLevels(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	data := make([]byte, 300000)
	rng.Read(data)

	for _, level := range []int{1, 5, 9} {
		compressed := compressAll(t, data, level)
		got := decompressAll(t, compressed, false)

		if !bytes.Equal(got, data) {
			t.Fatalf("level %d: round trip mismatch", level)
		}

		gotSmall := decompressAll(t, compressed, true)

		if !bytes.Equal(gotSmall, data) {
			t.Fatalf("level %d: InverseSmall round trip mismatch", level)
		}
	}
}

func TestRoundTripSmallOutputBufferBackpressure(t *testing.T) {
	data := bytes.Repeat([]byte("backpressure test data "), 5000)
	compressed := compressAll(t, data, 3)

	dec, err := decompress.NewDecoder(false, 0)

	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}

	var out bytes.Buffer
	tiny := make([]byte, 3)
	in := compressed

	for {
		nIn, nOut, status, err := dec.Decompress(in, tiny)

		if err != nil {
			t.Fatalf("Decompress: %v", err)
		}

		out.Write(tiny[:nOut])
		in = in[nIn:]

		if status == bz.StatusStreamEnd {
			break
		}
	}

	if !bytes.Equal(out.Bytes(), data) {
		t.Fatalf("small-output-buffer round trip mismatch")
	}
}

func TestRoundTripByteAtATimeInput(t *testing.T) {
	data := []byte("resumability must hold even when only one byte arrives per call")
	compressed := compressAll(t, data, 1)

	dec, err := decompress.NewDecoder(false, 0)

	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}

	var out bytes.Buffer
	buf := make([]byte, 64)

	for i := 0; i < len(compressed); i++ {
		chunk := compressed[i : i+1]

		for len(chunk) > 0 {
			nIn, nOut, status, err := dec.Decompress(chunk, buf)

			if err != nil {
				t.Fatalf("Decompress at byte %d: %v", i, err)
			}

			out.Write(buf[:nOut])
			chunk = chunk[nIn:]

			if status == bz.StatusStreamEnd {
				if !bytes.Equal(out.Bytes(), data) {
					t.Fatalf("byte-at-a-time round trip mismatch: got %q want %q", out.Bytes(), data)
				}

				return
			}

			if nIn == 0 {
				break
			}
		}
	}

	t.Fatalf("stream never reached STREAM_END")
}

func TestDecompressTruncatedStreamNeverFalselyCompletes(t *testing.T) {
	data := bytes.Repeat([]byte("truncate me please "), 2000)
	compressed := compressAll(t, data, 1)
	truncated := compressed[:len(compressed)-50]

	dec, err := decompress.NewDecoder(false, 0)

	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}

	buf := make([]byte, 4096)
	in := truncated

	for len(in) > 0 {
		nIn, _, status, err := dec.Decompress(in, buf)

		if err != nil {
			// A data error while starved of the final bytes is an acceptable
			// outcome for a truncated stream.
			return
		}

		if status == bz.StatusStreamEnd {
			t.Fatalf("truncated stream falsely reported STREAM_END")
		}

		if nIn == 0 {
			break
		}

		in = in[nIn:]
	}

	// Exhausted all available bytes without error or stream end: the decoder
	// is correctly still waiting for more input that will never arrive,
	// which is the expected behaviour for a push-style API fed a short read.
}

func TestDecompressRejectsBadMagic(t *testing.T) {
	dec, err := decompress.NewDecoder(false, 0)

	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}

	bad := []byte("NOTBZIP2DATA0000000000000000000")
	buf := make([]byte, 64)
	_, _, _, derr := dec.Decompress(bad, buf)

	if derr == nil {
		t.Fatalf("expected an error decoding a non-bzip2 stream")
	}

	var bzErr *bz.Error

	if !errorsAs(derr, &bzErr) {
		t.Fatalf("expected a *bz.Error, got %T", derr)
	}
}

func errorsAs(err error, target **bz.Error) bool {
	if e, ok := err.(*bz.Error); ok {
		*target = e
		return true
	}

	return false
}

func TestConcatenatedStreamsDecodeIndependently(t *testing.T) {
	first := []byte("first member of a concatenated stream")
	second := []byte("second member, decoded with a fresh handle")

	c1 := compressAll(t, first, 1)
	c2 := compressAll(t, second, 1)

	got1 := decompressAll(t, c1, false)
	got2 := decompressAll(t, c2, false)

	if !bytes.Equal(got1, first) {
		t.Fatalf("member 1 mismatch: got %q want %q", got1, first)
	}

	if !bytes.Equal(got2, second) {
		t.Fatalf("member 2 mismatch: got %q want %q", got2, second)
	}
}

func TestDecoderReturnsSequenceErrorAfterStreamEnd(t *testing.T) {
	compressed := compressAll(t, []byte("short"), 1)

	dec, err := decompress.NewDecoder(false, 0)

	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}

	buf := make([]byte, 64)
	in := compressed

	for {
		nIn, _, status, derr := dec.Decompress(in, buf)

		if derr != nil {
			t.Fatalf("unexpected error: %v", derr)
		}

		in = in[nIn:]

		if status == bz.StatusStreamEnd {
			break
		}
	}

	_, _, _, derr := dec.Decompress(nil, buf)

	if derr == nil {
		t.Fatalf("expected a sequence error calling Decompress after STREAM_END")
	}
}
