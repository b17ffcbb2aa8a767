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

package bz

import (
	"fmt"
	"time"
)

// Event types emitted by compress.Encoder and decompress.Decoder when a
// Listener is attached with their WithListener option. Unlike a pluggable
// multi-codec pipeline, this engine has one fixed stage order, so there is
// no need for the teacher's per-transform/per-entropy-stage granularity:
// only stream- and block-level checkpoints are reported.
const (
	EvtCompressionStart   = 0 // Compression starts
	EvtDecompressionStart = 1 // Decompression starts
	EvtBlockInfo          = 2 // One block finished encoding/decoding
	EvtCompressionEnd     = 3 // Compression ends
	EvtDecompressionEnd   = 4 // Decompression ends

	EvtHashNone   = 0
	EvtHash32Bits = 32
)

// Event a compression/decompression event
type Event struct {
	eventType int
	id        int
	size      int64
	hash      uint64
	hashType  int
	eventTime time.Time
	msg       string
}

// NewEventFromString creates a new Event instance that wraps a message
func NewEventFromString(evtType, id int, msg string, evtTime time.Time) *Event {
	if evtTime.IsZero() {
		evtTime = time.Now()
	}

	return &Event{eventType: evtType, id: id, size: 0, msg: msg, eventTime: evtTime}
}

// NewEvent creates a new Event instance with size and hash info.
// Returns nil if hashType is not one of EvtHashNone or EvtHash32Bits.
func NewEvent(evtType, id int, size int64, hash uint64, hashType int, evtTime time.Time) *Event {
	if evtTime.IsZero() {
		evtTime = time.Now()
	}

	if hashType != EvtHashNone && hashType != EvtHash32Bits {
		return nil
	}

	return &Event{eventType: evtType, id: id, size: size, hash: hash,
		hashType: hashType, eventTime: evtTime}
}

// Type returns the type info
func (this *Event) Type() int {
	return this.eventType
}

// ID returns the id info
func (this *Event) ID() int {
	return this.id
}

// Time returns the time info
func (this *Event) Time() time.Time {
	return this.eventTime
}

// Size returns the size info
func (this *Event) Size() int64 {
	return this.size
}

// Hash returns the hash info
func (this *Event) Hash() uint64 {
	return this.hash
}

// HashType returns EvtHashNone or EvtHash32Bits
func (this *Event) HashType() int {
	return this.hashType
}

// String returns a string representation of this event.
// If the event wraps a message, the the message is returned.
// Owtherwise a string is built from the fields.
func (this *Event) String() string {
	if len(this.msg) > 0 {
		return this.msg
	}

	hash := ""
	t := ""
	id := ""

	if this.hashType != EvtHashNone {
		hash = fmt.Sprintf(", \"hash\": %x", this.hash)
	}

	if this.id >= 0 {
		id = fmt.Sprintf(", \"id\": %d", this.id)
	}

	switch this.eventType {
	case EvtCompressionStart:
		t = "COMPRESSION_START"

	case EvtDecompressionStart:
		t = "DECOMPRESSION_START"

	case EvtBlockInfo:
		t = "BLOCK_INFO"

	case EvtCompressionEnd:
		t = "COMPRESSION_END"

	case EvtDecompressionEnd:
		t = "DECOMPRESSION_END"
	}

	return fmt.Sprintf("{ \"type\":\"%s\"%s, \"size\":%d, \"time\":%d%s }", t, id, this.size,
		this.eventTime.UnixNano()/1000000, hash)
}

// Listener is an interface implemented by event processors
type Listener interface {
	// ProcessEvent is the method called whenever a Listener receives an event.
	ProcessEvent(evt *Event)
}
