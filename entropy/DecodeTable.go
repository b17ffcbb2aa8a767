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

package entropy

import (
	"fmt"

	"github.com/kanzicore/bz/bitstream"
)

// DecodeTable holds the canonical decode aids (base/limit/perm) for one
// prefix-code group, per spec §4.3: a prefix code of length zn whose
// integer value is zvec maps to symbol perm[zvec-base[zn]] iff zvec <=
// limit[zn].
type DecodeTable struct {
	Lens    []byte
	Perm    []int32
	Base    [MaxDecodeLen + 2]int32
	Limit   [MaxDecodeLen + 2]int32
	MinLen  int
	MaxLen  int
	Alpha   int
}

// BuildDecodeTable derives base/limit/perm from a per-symbol length vector.
func BuildDecodeTable(lens []byte, alphaSize int) (*DecodeTable, error) {
	t := &DecodeTable{Lens: lens, Alpha: alphaSize}
	t.MinLen = MaxDecodeLen + 1
	t.MaxLen = 0

	for _, l := range lens[:alphaSize] {
		if int(l) > t.MaxLen {
			t.MaxLen = int(l)
		}

		if int(l) < t.MinLen {
			t.MinLen = int(l)
		}
	}

	if t.MaxLen > MaxDecodeLen {
		return nil, fmt.Errorf("entropy: code length %d exceeds %d bits", t.MaxLen, MaxDecodeLen)
	}

	if t.MaxLen == 0 {
		return nil, fmt.Errorf("entropy: empty code length table")
	}

	// perm lists symbols sorted by (length, symbol), matching the
	// canonical assignment order used by AssignCodes.
	t.Perm = make([]int32, alphaSize)
	pp := 0

	for l := t.MinLen; l <= t.MaxLen; l++ {
		for sym := 0; sym < alphaSize; sym++ {
			if int(lens[sym]) == l {
				t.Perm[pp] = int32(sym)
				pp++
			}
		}
	}

	var count [MaxDecodeLen + 2]int32

	for _, l := range lens[:alphaSize] {
		count[l+1]++
	}

	for i := 1; i <= MaxDecodeLen+1; i++ {
		count[i] += count[i-1]
	}

	copy(t.Base[:], count[:])

	vec := int32(0)

	for l := t.MinLen; l <= t.MaxLen; l++ {
		vec += count[l+1] - count[l]
		t.Limit[l] = vec - 1
		vec <<= 1
	}

	for l := t.MinLen + 1; l <= t.MaxLen; l++ {
		t.Base[l] = ((t.Limit[l-1] + 1) << 1) - t.Base[l]
	}

	return t, nil
}

// SymbolState is the caller-owned checkpoint for one in-progress symbol
// decode. A decompress.Decoder keeps one of these per pending GET_MTF_VAL
// call and passes the same pointer across suspend/resume cycles; the zero
// value means "no symbol in progress yet".
type SymbolState struct {
	zn      int
	zvec    uint32
	started bool
}

// Decode reads one symbol from src using r, widening the candidate code one
// bit at a time starting at MinLen, per spec §4.3/§4.6 GET_MTF_VAL.
//
// st must point at state the caller keeps alive across calls for this
// particular symbol; bits returned by bitstream.Reader.GetBits leave its
// register, so the accumulated zvec/zn of a multi-bit code in progress
// has to live in st, not be re-derived by re-reading from the stream start.
// Decode resets *st once a symbol is successfully decoded.
//
// Returns ok=false if src starved before a full symbol could be read (the
// caller must retry later with the same st pointer), and an error if the
// code would require more than MaxDecodeLen bits.
func (t *DecodeTable) Decode(r *bitstream.Reader, src *bitstream.Source, st *SymbolState) (int32, bool, error) {
	if !st.started {
		v, ok := r.GetBits(src, uint(t.MinLen))

		if !ok {
			return 0, false, nil
		}

		st.zvec = v
		st.zn = t.MinLen
		st.started = true
	}

	for {
		if st.zn > MaxDecodeLen {
			return 0, true, fmt.Errorf("entropy: prefix code exceeds %d bits", MaxDecodeLen)
		}

		if int32(st.zvec) <= t.Limit[st.zn] {
			sym := t.Perm[int32(st.zvec)-t.Base[st.zn]]
			*st = SymbolState{}
			return sym, true, nil
		}

		bit, ok := r.GetBits(src, 1)

		if !ok {
			return 0, false, nil
		}

		st.zvec = (st.zvec << 1) | bit
		st.zn++
	}
}
