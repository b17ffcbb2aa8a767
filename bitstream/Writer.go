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

package bitstream

import "fmt"

// Writer is a resumable MSB-first bit writer. Completed bytes are queued
// internally rather than written straight into a caller buffer, because the
// caller's output window can be smaller than what one PutBits call
// produces (or can be empty entirely, under backpressure); the compression
// state machine drains Pending()/Drain() into its own output window at its
// own pace, never losing queued bytes across suspensions.
type Writer struct {
	buff    uint32 // live bits of the byte in progress, MSB first, right-justified in the low 'live' bits
	live    uint   // number of live bits in buff, in [0, 8)
	queue   []byte
	written uint64 // total bits queued so far, for diagnostics
}

// NewWriter creates a Writer with an empty bit register and byte queue.
func NewWriter() *Writer {
	return &Writer{}
}

// PutBits writes the low n (1..32) bits of v, MSB first. Panics if n is
// outside [1,32]; that is a programming error in the caller, not a data
// condition (mirrors the source library's panic-on-invalid-bit-count
// convention for OutputBitStream.WriteBits).
func (w *Writer) PutBits(n uint, v uint32) {
	if n < 1 || n > 32 {
		panic(fmt.Errorf("bitstream: invalid bit count %d (must be in [1..32])", n))
	}

	v &= (uint32(1) << n) - 1
	w.written += uint64(n)

	for n > 0 {
		take := 8 - w.live

		if take > n {
			take = n
		}

		w.buff = (w.buff << take) | (v >> (n - take))
		w.live += take
		n -= take
		v &= (uint32(1) << n) - 1

		if w.live == 8 {
			w.queue = append(w.queue, byte(w.buff))
			w.buff = 0
			w.live = 0
		}
	}
}

// PutBit writes a single bit.
func (w *Writer) PutBit(bit uint32) {
	w.PutBits(1, bit)
}

// PutUChar writes a whole byte.
func (w *Writer) PutUChar(c byte) {
	w.PutBits(8, uint32(c))
}

// PutUInt32 writes a 32-bit value MSB first.
func (w *Writer) PutUInt32(v uint32) {
	w.PutBits(32, v)
}

// FlushFinal pads the in-progress byte with zero bits up to the next byte
// boundary and queues it, if any bits are pending. Safe to call more than
// once; a second call is a no-op.
func (w *Writer) FlushFinal() {
	if w.live == 0 {
		return
	}

	w.queue = append(w.queue, byte(w.buff<<(8-w.live)))
	w.buff = 0
	w.live = 0
}

// Pending returns the number of whole bytes queued and not yet drained.
func (w *Writer) Pending() int {
	return len(w.queue)
}

// Drain copies up to len(dst) queued bytes into dst, removes them from the
// queue, and returns the number of bytes copied.
func (w *Writer) Drain(dst []byte) int {
	n := copy(dst, w.queue)
	w.queue = w.queue[n:]
	return n
}

// Written returns the total number of bits queued so far (including bytes
// already drained).
func (w *Writer) Written() uint64 {
	return w.written
}
