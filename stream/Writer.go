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

// Package stream provides the blocking io.Writer/io.Reader convenience
// wrappers (spec §6) around compress.Encoder and decompress.Decoder,
// matching the teacher's io.Writer/io.Reader public surface shape in
// io/CompressedStream.go.
package stream

import (
	"errors"
	"io"

	"github.com/kanzicore/bz"
	"github.com/kanzicore/bz/compress"
)

const defaultBufferSize = 256 * 1024

// Writer wraps a compress.Encoder and an io.Writer, draining compressed
// bytes as they are produced.
type Writer struct {
	enc    *compress.Encoder
	w      io.Writer
	outBuf []byte
	closed bool
}

// NewWriter creates a Writer that compresses everything written to it at
// the given level and writes the framed result to w.
func NewWriter(w io.Writer, level int) (*Writer, error) {
	enc, err := compress.NewEncoder(level, 0, 0)

	if err != nil {
		return nil, err
	}

	return &Writer{enc: enc, w: w, outBuf: make([]byte, defaultBufferSize)}, nil
}

// Write compresses p and writes the compressed bytes to the underlying
// io.Writer, blocking until all of p has been consumed.
func (sw *Writer) Write(p []byte) (int, error) {
	if sw.closed {
		return 0, bz.NewError("Write", bz.ErrSequenceError, errors.New("writer closed"))
	}

	total := 0

	for total < len(p) {
		nIn, nOut, _, err := sw.enc.Compress(bz.Run, p[total:], sw.outBuf)

		if err != nil {
			return total, err
		}

		total += nIn

		if nOut > 0 {
			if _, werr := sw.w.Write(sw.outBuf[:nOut]); werr != nil {
				return total, bz.NewError("Write", bz.ErrIOError, werr)
			}
		}
	}

	return total, nil
}

// Close finishes the stream (writing the end marker and combined CRC) and
// releases the encoder. It does not close the underlying io.Writer.
func (sw *Writer) Close() error {
	if sw.closed {
		return nil
	}

	for {
		_, nOut, status, err := sw.enc.Compress(bz.Finish, nil, sw.outBuf)

		if err != nil {
			return err
		}

		if nOut > 0 {
			if _, werr := sw.w.Write(sw.outBuf[:nOut]); werr != nil {
				return bz.NewError("Close", bz.ErrIOError, werr)
			}
		}

		if status == bz.StatusStreamEnd {
			break
		}
	}

	sw.closed = true
	sw.enc.End()
	return nil
}
