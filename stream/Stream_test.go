package stream

import (
	"bytes"
	"io"
	"testing"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	data := []byte("round tripping through the blocking io.Writer/io.Reader wrappers")

	var buf bytes.Buffer
	w, err := NewWriter(&buf, 1)

	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	if _, err := w.Write(data); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := NewReader(&buf)

	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}

	got, err := io.ReadAll(r)

	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}

	if !bytes.Equal(got, data) {
		t.Fatalf("round trip mismatch: got %q want %q", got, data)
	}

	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestReaderSmallReadBufferBackpressure(t *testing.T) {
	data := bytes.Repeat([]byte("tiny reads exercise backpressure "), 3000)

	var buf bytes.Buffer
	w, err := NewWriter(&buf, 2)

	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	if _, err := w.Write(data); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := NewReader(&buf)

	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}

	var out bytes.Buffer
	tiny := make([]byte, 5)

	for {
		n, err := r.Read(tiny)
		out.Write(tiny[:n])

		if err == io.EOF {
			break
		}

		if err != nil {
			t.Fatalf("Read: %v", err)
		}
	}

	if !bytes.Equal(out.Bytes(), data) {
		t.Fatalf("backpressure round trip mismatch")
	}
}

func TestReaderMultistreamConcatenation(t *testing.T) {
	var buf bytes.Buffer

	parts := [][]byte{
		[]byte("first concatenated member"),
		[]byte("second concatenated member, longer than the first one"),
		[]byte("third"),
	}

	for _, p := range parts {
		w, err := NewWriter(&buf, 1)

		if err != nil {
			t.Fatalf("NewWriter: %v", err)
		}

		if _, err := w.Write(p); err != nil {
			t.Fatalf("Write: %v", err)
		}

		if err := w.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}

	r, err := NewReader(&buf, WithMultistream(true))

	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}

	got, err := io.ReadAll(r)

	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}

	var want bytes.Buffer

	for _, p := range parts {
		want.Write(p)
	}

	if !bytes.Equal(got, want.Bytes()) {
		t.Fatalf("multistream concatenation mismatch: got %q want %q", got, want.Bytes())
	}
}

func TestReaderSingleStreamModeStopsAtFirstMember(t *testing.T) {
	var buf bytes.Buffer

	for _, p := range [][]byte{[]byte("member one"), []byte("member two")} {
		w, err := NewWriter(&buf, 1)

		if err != nil {
			t.Fatalf("NewWriter: %v", err)
		}

		if _, err := w.Write(p); err != nil {
			t.Fatalf("Write: %v", err)
		}

		if err := w.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}

	r, err := NewReader(&buf, WithMultistream(false))

	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}

	got, err := io.ReadAll(r)

	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}

	if string(got) != "member one" {
		t.Fatalf("expected only the first member, got %q", got)
	}

	if len(r.Unused()) == 0 {
		t.Fatalf("expected leftover bytes from the second member to be available via Unused()")
	}
}

func TestReaderSmallOption(t *testing.T) {
	data := []byte("low-memory inverse BWT path")

	var buf bytes.Buffer
	w, err := NewWriter(&buf, 1)

	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	if _, err := w.Write(data); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := NewReader(&buf, WithSmall(true))

	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}

	got, err := io.ReadAll(r)

	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}

	if !bytes.Equal(got, data) {
		t.Fatalf("small-variant round trip mismatch: got %q want %q", got, data)
	}
}
