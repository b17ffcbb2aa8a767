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

// Package decompress implements the decompression state machine (spec
// §4.6): a resumable, byte-driven parser that consumes the bzip2-family
// wire format field by field, rebuilds each block's canonical Huffman
// tables, decodes the MTF/RUNA-RUNB symbol stream, runs the inverse block
// sort, and emits plaintext through a caller-bounded output window while
// validating CRCs.
package decompress

import (
	"errors"
	"time"

	"github.com/kanzicore/bz"
	"github.com/kanzicore/bz/bitstream"
	"github.com/kanzicore/bz/entropy"
	"github.com/kanzicore/bz/hash"
	"github.com/kanzicore/bz/transform"
)

// Option configures a Decoder beyond its required small/verbosity
// parameters.
type Option func(*Decoder)

// WithAllocator records a on the Decoder. The Decoder's per-block working
// buffers are allocated with make; none of them is obtained through a.
func WithAllocator(a bz.Allocator) Option {
	return func(d *Decoder) { d.alloc = a }
}

// WithListener attaches a Listener that receives decompression lifecycle
// events (spec §6 verbosity hook).
func WithListener(l bz.Listener) Option {
	return func(d *Decoder) { d.listener = l }
}

type state int

const (
	stStreamMagic state = iota
	stBlockOrEnd
	stBlockOrEndResume
	stBlockCRC
	stRandomised
	stOrigPtr
	stInUseCoarse
	stInUseFine
	stGroupCount
	stSelectorCount
	stSelectors
	stTableLengths
	stSymbols
	stEmit
	stEndCRC
	stIdle
)

// Decoder is the resumable decompression handle (spec §4.6, §6). Decompress
// is called repeatedly with caller-owned input/output windows; all working
// variables needed to resume mid-field, mid-symbol or mid-block live on the
// Decoder itself.
type Decoder struct {
	small     bool
	verbosity int
	alloc     bz.Allocator
	listener  bz.Listener

	bitr *bitstream.Reader
	bwt  *transform.BWT

	state state

	level      int
	magicIdx   int
	magicBytes [4]byte

	// Block header fields.
	blockCRC    uint32
	randomised  bool
	origPtr     int32
	coarse      uint32
	coarseIdx   int
	inUse       [256]bool
	alphabet    []byte
	nInUse      int
	alphaSize   int
	eob         int32

	nGroups    int
	nSelectors int
	selMtf     []int
	selRank    int
	selectors  []int

	tableIdx      int
	tableCurr     int
	tableAwaitDir bool
	symIdx        int
	lens          [][]byte
	tables        []*entropy.DecodeTable

	symState   entropy.SymbolState
	groupIdx   int
	groupPos   int
	mtf        *transform.MTF
	run        *transform.RunAccumulator
	inRun      bool
	decodedMTF []byte

	rle        []byte
	rlePos     int
	expander   *transform.RLE1Expander
	outCRC     *hash.BlockCRC

	combinedCRC   uint32
	totalIn       uint64
	totalOut      uint64
	blockIndex    int
	closed        bool
	sticky        *bz.Error
}

// NewDecoder creates a Decoder. small selects the low-memory inverse-BWT
// variant (InverseSmall) over the faster, more memory-hungry one
// (InverseFast).
func NewDecoder(small bool, verbosity int, opts ...Option) (*Decoder, error) {
	d := &Decoder{
		small:     small,
		verbosity: verbosity,
		alloc:     bz.DefaultAllocator,
		bitr:      bitstream.NewReader(),
		bwt:       transform.NewBWT(),
		state:     stStreamMagic,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d, nil
}

// NewDecoderWithCtx creates a Decoder from a map[string]any configuration,
// for parity with the teacher's NewReaderWithCtx convention. Recognised
// keys: "small" (bool, optional), "verbosity" (int, optional).
func NewDecoderWithCtx(ctx map[string]any) (*Decoder, error) {
	small, _ := ctx["small"].(bool)
	verbosity, _ := ctx["verbosity"].(int)

	var opts []Option

	if a, ok := ctx["allocator"].(bz.Allocator); ok {
		opts = append(opts, WithAllocator(a))
	}

	if l, ok := ctx["listener"].(bz.Listener); ok {
		opts = append(opts, WithListener(l))
	}

	return NewDecoder(small, verbosity, opts...)
}

// End releases the decoder's working buffers (spec §6 endDecompress).
func (d *Decoder) End() {
	d.closed = true
	d.decodedMTF = nil
	d.rle = nil
	d.tables = nil
	d.lens = nil
}

func (d *Decoder) notify(evtType int, size int64) {
	if d.listener == nil {
		return
	}

	d.listener.ProcessEvent(bz.NewEvent(evtType, d.blockIndex, size, 0, bz.EvtHashNone, time.Time{}))
}

func dataErr(op string, cause error) *bz.Error {
	return bz.NewError(op, bz.ErrDataError, cause)
}

func magicErr(op string, cause error) *bz.Error {
	return bz.NewError(op, bz.ErrDataErrorMagic, cause)
}

// Decompress advances the decoder: it consumes bytes from in, producing
// decoded bytes into out, until in is exhausted, out fills, the stream ends
// cleanly, or a data error is found (spec §6 feedDecompress).
func (d *Decoder) Decompress(in, out []byte) (int, int, bz.Status, error) {
	if d.sticky != nil {
		return 0, 0, bz.StatusOK, d.sticky
	}

	if d.closed {
		err := bz.NewError("Decompress", bz.ErrSequenceError, errors.New("decoder already finished"))
		d.sticky = err
		return 0, 0, bz.StatusOK, err
	}

	src := &bitstream.Source{Buf: in}
	dstPos := 0

	for {
		switch d.state {
		case stStreamMagic:
			if !d.readStreamMagic(src) {
				return src.Pos, dstPos, bz.StatusOK, nil
			}

			if d.magicBytes[0] != bz.StreamMagicB || d.magicBytes[1] != bz.StreamMagicZ || d.magicBytes[2] != bz.StreamMagicH {
				err := magicErr("Decompress", errors.New("bad stream magic"))
				d.sticky = err
				return src.Pos, dstPos, bz.StatusOK, err
			}

			if d.level < bz.MinBlockSize100k || d.level > bz.MaxBlockSize100k {
				err := magicErr("Decompress", errors.New("bad block size level byte"))
				d.sticky = err
				return src.Pos, dstPos, bz.StatusOK, err
			}

			d.notify(bz.EvtDecompressionStart, 0)
			d.state = stBlockOrEnd

		case stBlockOrEnd:
			hi, ok := d.bitr.GetBits(src, 24)

			if !ok {
				return src.Pos, dstPos, bz.StatusOK, nil
			}

			lo, ok := d.bitr.GetBits(src, 24)

			if !ok {
				// hi has already been taken out of bitstream.Reader's
				// register, so retrying GetBits(src, 24) for hi on the next
				// call would read the wrong bits. Keep hi in d.coarse (not
				// used again until stInUseCoarse) and let
				// stBlockOrEndResume read only lo.
				d.coarse = hi
				d.state = stBlockOrEndResume
				return src.Pos, dstPos, bz.StatusOK, nil
			}

			magic := (uint64(hi) << 24) | uint64(lo)

			if magic == bz.BlockMagic48 {
				d.blockIndex++
				d.state = stBlockCRC
			} else if magic == bz.EndMagic48 {
				d.state = stEndCRC
			} else {
				err := dataErr("Decompress", errors.New("bad block magic"))
				d.sticky = err
				return src.Pos, dstPos, bz.StatusOK, err
			}

		case stBlockOrEndResume:
			lo, ok := d.bitr.GetBits(src, 24)

			if !ok {
				return src.Pos, dstPos, bz.StatusOK, nil
			}

			magic := (uint64(d.coarse) << 24) | uint64(lo)
			d.coarse = 0

			if magic == bz.BlockMagic48 {
				d.blockIndex++
				d.state = stBlockCRC
			} else if magic == bz.EndMagic48 {
				d.state = stEndCRC
			} else {
				err := dataErr("Decompress", errors.New("bad block magic"))
				d.sticky = err
				return src.Pos, dstPos, bz.StatusOK, err
			}

		case stBlockCRC:
			v, ok := d.bitr.GetBits(src, 32)

			if !ok {
				return src.Pos, dstPos, bz.StatusOK, nil
			}

			d.blockCRC = v
			d.state = stRandomised

		case stRandomised:
			v, ok := d.bitr.GetBits(src, 1)

			if !ok {
				return src.Pos, dstPos, bz.StatusOK, nil
			}

			d.randomised = v != 0
			d.state = stOrigPtr

		case stOrigPtr:
			v, ok := d.bitr.GetBits(src, 24)

			if !ok {
				return src.Pos, dstPos, bz.StatusOK, nil
			}

			d.origPtr = int32(v)
			d.coarseIdx = 0
			d.coarse = 0
			d.inUse = [256]bool{}
			d.state = stInUseCoarse

		case stInUseCoarse:
			v, ok := d.bitr.GetBits(src, 16)

			if !ok {
				return src.Pos, dstPos, bz.StatusOK, nil
			}

			d.coarse = v
			d.coarseIdx = 0
			d.state = stInUseFine

		case stInUseFine:
			done := true

			for d.coarseIdx < 16 {
				if d.coarse&(1<<uint(15-d.coarseIdx)) == 0 {
					d.coarseIdx++
					continue
				}

				v, ok := d.bitr.GetBits(src, 16)

				if !ok {
					done = false
					break
				}

				for j := 0; j < 16; j++ {
					if v&(1<<uint(15-j)) != 0 {
						d.inUse[d.coarseIdx*16+j] = true
					}
				}

				d.coarseIdx++
			}

			if !done {
				return src.Pos, dstPos, bz.StatusOK, nil
			}

			d.alphabet = d.alphabet[:0]

			for i := 0; i < 256; i++ {
				if d.inUse[i] {
					d.alphabet = append(d.alphabet, byte(i))
				}
			}

			d.nInUse = len(d.alphabet)

			if d.nInUse == 0 {
				err := dataErr("Decompress", errors.New("empty in-use map"))
				d.sticky = err
				return src.Pos, dstPos, bz.StatusOK, err
			}

			d.alphaSize = d.nInUse + 2
			d.eob = int32(d.nInUse + 1)
			d.state = stGroupCount

		case stGroupCount:
			v, ok := d.bitr.GetBits(src, 3)

			if !ok {
				return src.Pos, dstPos, bz.StatusOK, nil
			}

			d.nGroups = int(v)

			if d.nGroups < bz.MinGroups || d.nGroups > bz.MaxGroups {
				err := dataErr("Decompress", errors.New("group count out of range"))
				d.sticky = err
				return src.Pos, dstPos, bz.StatusOK, err
			}

			d.state = stSelectorCount

		case stSelectorCount:
			v, ok := d.bitr.GetBits(src, 15)

			if !ok {
				return src.Pos, dstPos, bz.StatusOK, nil
			}

			d.nSelectors = int(v)

			if d.nSelectors < 1 || d.nSelectors > bz.MaxSelectors {
				err := dataErr("Decompress", errors.New("selector count out of range"))
				d.sticky = err
				return src.Pos, dstPos, bz.StatusOK, err
			}

			d.selMtf = make([]int, d.nGroups)

			for i := range d.selMtf {
				d.selMtf[i] = i
			}

			d.selectors = make([]int, 0, d.nSelectors)
			d.selRank = 0
			d.state = stSelectors

		case stSelectors:
			for len(d.selectors) < d.nSelectors {
				bit, ok := d.bitr.GetBits(src, 1)

				if !ok {
					return src.Pos, dstPos, bz.StatusOK, nil
				}

				if bit == 1 {
					d.selRank++

					if d.selRank >= d.nGroups {
						err := dataErr("Decompress", errors.New("selector MTF rank out of range"))
						d.sticky = err
						return src.Pos, dstPos, bz.StatusOK, err
					}

					continue
				}

				sel := d.selMtf[d.selRank]

				for i := d.selRank; i > 0; i-- {
					d.selMtf[i] = d.selMtf[i-1]
				}

				d.selMtf[0] = sel
				d.selectors = append(d.selectors, sel)
				d.selRank = 0
			}

			d.lens = make([][]byte, d.nGroups)
			d.tableIdx = 0
			d.state = stTableLengths

		case stTableLengths:
			if !d.readTableLengths(src) {
				return src.Pos, dstPos, bz.StatusOK, nil
			}

			d.tables = make([]*entropy.DecodeTable, d.nGroups)

			for t := 0; t < d.nGroups; t++ {
				tbl, err := entropy.BuildDecodeTable(d.lens[t], d.alphaSize)

				if err != nil {
					werr := dataErr("Decompress", err)
					d.sticky = werr
					return src.Pos, dstPos, bz.StatusOK, werr
				}

				d.tables[t] = tbl
			}

			d.mtf = transform.NewMTF(d.alphabet)
			d.run = transform.NewRunAccumulator()
			d.inRun = false
			d.groupIdx = 0
			d.groupPos = 0
			d.symState = entropy.SymbolState{}
			d.decodedMTF = d.decodedMTF[:0]
			d.state = stSymbols

		case stSymbols:
			done, err := d.readSymbols(src)

			if err != nil {
				werr := dataErr("Decompress", err)
				d.sticky = werr
				return src.Pos, dstPos, bz.StatusOK, werr
			}

			if !done {
				return src.Pos, dstPos, bz.StatusOK, nil
			}

			if err := d.invertBlock(); err != nil {
				werr := dataErr("Decompress", err)
				d.sticky = werr
				return src.Pos, dstPos, bz.StatusOK, werr
			}

			d.state = stEmit

		case stEmit:
			for dstPos < len(out) {
				before, beforeSrc := dstPos, d.rlePos
				d.expander.Feed(d.rle, &d.rlePos, out, &dstPos)
				d.outCRC.Update(out[before:dstPos])

				if dstPos == before && d.rlePos == beforeSrc {
					break
				}
			}

			if d.rlePos >= len(d.rle) && !d.expander.Pending() {
				crc := d.outCRC.Value()

				if crc != d.blockCRC {
					err := dataErr("Decompress", errors.New("block CRC mismatch"))
					d.sticky = err
					return src.Pos, dstPos, bz.StatusOK, err
				}

				d.combinedCRC = hash.CombineCRC(d.combinedCRC, crc)
				d.notify(bz.EvtBlockInfo, int64(len(d.rle)))
				d.state = stBlockOrEnd
				continue
			}

			return src.Pos, dstPos, bz.StatusOK, nil

		case stEndCRC:
			v, ok := d.bitr.GetBits(src, 32)

			if !ok {
				return src.Pos, dstPos, bz.StatusOK, nil
			}

			if v != d.combinedCRC {
				err := dataErr("Decompress", errors.New("combined CRC mismatch"))
				d.sticky = err
				return src.Pos, dstPos, bz.StatusOK, err
			}

			d.totalIn += uint64(src.Pos)
			d.totalOut += uint64(dstPos)
			d.notify(bz.EvtDecompressionEnd, int64(d.totalOut))
			d.state = stIdle
			return src.Pos, dstPos, bz.StatusStreamEnd, nil

		case stIdle:
			// A stream has already ended cleanly on this handle; multistream
			// concatenation is handled by the stream package via a fresh
			// Decoder per member, not by feeding more bytes to this one.
			err := bz.NewError("Decompress", bz.ErrSequenceError, errors.New("stream already ended"))
			d.sticky = err
			return 0, 0, bz.StatusOK, err
		}
	}
}

// readStreamMagic consumes the four-byte "BZh<level>" stream header,
// resuming at whichever of the four bytes starvation last interrupted.
func (d *Decoder) readStreamMagic(src *bitstream.Source) bool {
	for d.magicIdx < 4 {
		v, ok := d.bitr.GetBits(src, 8)

		if !ok {
			return false
		}

		d.magicBytes[d.magicIdx] = byte(v)

		if d.magicIdx == 3 {
			d.level = int(v) - '0'
		}

		d.magicIdx++
	}

	return true
}

// readTableLengths decodes the per-table canonical code length deltas,
// resuming across starvation at the exact symbol and step it left off at.
func (d *Decoder) readTableLengths(src *bitstream.Source) bool {
	for d.tableIdx < d.nGroups {
		if d.lens[d.tableIdx] == nil {
			v, ok := d.bitr.GetBits(src, 5)

			if !ok {
				return false
			}

			d.tableCurr = int(v)
			d.lens[d.tableIdx] = make([]byte, d.alphaSize)
			d.symIdx = 0
		}

		lens := d.lens[d.tableIdx]

		for d.symIdx < d.alphaSize {
			for {
				if !d.tableAwaitDir {
					bit, ok := d.bitr.GetBits(src, 1)

					if !ok {
						return false
					}

					if bit == 0 {
						break
					}

					d.tableAwaitDir = true
				}

				dir, ok := d.bitr.GetBits(src, 1)

				if !ok {
					return false
				}

				d.tableAwaitDir = false

				if dir == 0 {
					d.tableCurr++
				} else {
					d.tableCurr--
				}

				if d.tableCurr < 1 || d.tableCurr > entropy.MaxDecodeLen {
					d.tableCurr = 1
				}
			}

			lens[d.symIdx] = byte(d.tableCurr)
			d.symIdx++
		}

		d.tableIdx++
	}

	return true
}

// readSymbols decodes the MTF+RUNA/RUNB symbol stream for the current
// block into d.decodedMTF (already in pre-BWT/post-MTF-inverse byte form),
// stopping cleanly once EOB is consumed.
func (d *Decoder) readSymbols(src *bitstream.Source) (bool, error) {
	for {
		if d.groupPos == 0 {
			if d.groupIdx >= d.nSelectors {
				return false, errors.New("symbol stream ran past its selector count")
			}
		}

		t := d.selectors[d.groupIdx]
		sym, ok, err := d.tables[t].Decode(d.bitr, src, &d.symState)

		if err != nil {
			return false, err
		}

		if !ok {
			return false, nil
		}

		d.groupPos++

		if d.groupPos == bz.GroupSize {
			d.groupPos = 0
			d.groupIdx++
		}

		if sym == d.eob {
			if d.inRun {
				d.flushRun()
			}

			return true, nil
		}

		if sym == transform.RUNA || sym == transform.RUNB {
			d.inRun = true
			d.run.Add(sym)
			continue
		}

		if d.inRun {
			d.flushRun()
		}

		rank := int(sym) - 1
		c := d.mtf.At(rank)
		d.mtf.Promote(rank)
		d.decodedMTF = append(d.decodedMTF, c)
	}
}

func (d *Decoder) flushRun() {
	n := d.run.Len()
	c := d.mtf.At(0)

	for i := 0; i < n; i++ {
		d.decodedMTF = append(d.decodedMTF, c)
	}

	d.run.Reset()
	d.inRun = false
}

// invertBlock runs the inverse block sort over the fully MTF-decoded block,
// applies de-randomisation if the block header requested it, and sets up
// the RLE-1 expander that stEmit streams through into the caller's output
// window.
func (d *Decoder) invertBlock() error {
	n := len(d.decodedMTF)

	if int(d.origPtr) >= n {
		return errors.New("origPtr out of range for block size")
	}

	var rle []byte
	var err error

	if d.small {
		rle, err = d.bwt.InverseSmall(d.decodedMTF, d.origPtr)
	} else {
		rle, err = d.bwt.InverseFast(d.decodedMTF, d.origPtr)
	}

	if err != nil {
		return err
	}

	if d.randomised {
		mask := transform.NewRandMask()

		for i := range rle {
			rle[i] ^= mask.Next()
		}
	}

	d.rle = rle
	d.rlePos = 0
	d.expander = transform.NewRLE1Expander()
	d.outCRC = hash.NewBlockCRC()
	return nil
}
