/*
Copyright 2024-2026 The Bz Authors
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
you may obtain a copy of the License at

                http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package stream

import (
	"errors"
	"io"

	"github.com/kanzicore/bz"
	"github.com/kanzicore/bz/decompress"
	"github.com/kanzicore/bz/internal"
)

// Reader wraps a decompress.Decoder and an io.Reader, feeding it bytes as
// needed and exposing decompressed bytes through the standard io.Reader
// contract.
type Reader struct {
	r           io.Reader
	dec         *decompress.Decoder
	small       bool
	multistream bool

	in    *internal.BufferStream
	chunk []byte
	eof   bool
	done  bool

	closed bool
}

// ReaderOption configures a Reader beyond its defaults.
type ReaderOption func(*Reader)

// WithSmall selects the low-memory inverse-BWT variant.
func WithSmall(small bool) ReaderOption {
	return func(r *Reader) { r.small = small }
}

// WithMultistream controls whether additional concatenated members are
// transparently decoded after the first one ends (default true, spec §8
// "Concatenation").
func WithMultistream(enabled bool) ReaderOption {
	return func(r *Reader) { r.multistream = enabled }
}

// NewReader creates a Reader that decompresses bytes read from r.
func NewReader(r io.Reader, opts ...ReaderOption) (*Reader, error) {
	sr := &Reader{
		r:           r,
		multistream: true,
		in:          internal.NewBufferStream(),
		chunk:       make([]byte, defaultBufferSize),
	}

	for _, opt := range opts {
		opt(sr)
	}

	dec, err := decompress.NewDecoder(sr.small, 0)

	if err != nil {
		return nil, err
	}

	sr.dec = dec
	return sr, nil
}

// fill reads one chunk from the underlying reader into the lookahead
// buffer. It is only called when the buffer is empty.
func (sr *Reader) fill() error {
	n, err := sr.r.Read(sr.chunk)

	if n > 0 {
		sr.in.Write(sr.chunk[:n])
	}

	if err != nil {
		if err == io.EOF {
			sr.eof = true
			return nil
		}

		return err
	}

	return nil
}

// Read decompresses bytes from the underlying reader into p, blocking on
// the source as needed, and transparently continuing into the next
// concatenated member once the current one ends if multistream decoding is
// enabled.
func (sr *Reader) Read(p []byte) (int, error) {
	if sr.closed {
		return 0, bz.NewError("Read", bz.ErrSequenceError, errors.New("reader closed"))
	}

	if sr.done {
		return 0, io.EOF
	}

	total := 0

	for total < len(p) {
		if sr.in.Len() == 0 && !sr.eof {
			if err := sr.fill(); err != nil {
				return total, bz.NewError("Read", bz.ErrIOError, err)
			}
		}

		window := sr.in.Bytes()
		nIn, nOut, status, err := sr.dec.Decompress(window, p[total:])
		sr.in.Discard(nIn)
		total += nOut

		if err != nil {
			return total, err
		}

		if status == bz.StatusStreamEnd {
			if sr.multistream && sr.in.Len() == 0 && !sr.eof {
				if err := sr.fill(); err != nil {
					return total, bz.NewError("Read", bz.ErrIOError, err)
				}
			}

			if !sr.multistream || (sr.in.Len() == 0 && sr.eof) {
				sr.done = true
				return total, nil
			}

			nd, derr := decompress.NewDecoder(sr.small, 0)

			if derr != nil {
				return total, derr
			}

			sr.dec = nd
			continue
		}

		if nIn == 0 && nOut == 0 {
			if sr.in.Len() == 0 && sr.eof {
				return total, bz.NewError("Read", bz.ErrUnexpectedEOF, io.ErrUnexpectedEOF)
			}
		}
	}

	return total, nil
}

// Unused returns up to N_UNUSED bytes of look-ahead consumed from the
// underlying reader but not yet needed by the decoder, for callers that
// want to hand off the remainder of the source to something else after
// Read starts returning io.EOF.
func (sr *Reader) Unused() []byte {
	n := sr.in.Len()

	if n > bz.NUnused {
		n = bz.NUnused
	}

	return append([]byte(nil), sr.in.Bytes()[:n]...)
}

// Close releases the decoder.
func (sr *Reader) Close() error {
	if sr.closed {
		return nil
	}

	sr.closed = true
	sr.dec.End()
	return nil
}
