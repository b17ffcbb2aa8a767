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

// Package compress implements the compression state machine (spec §4.5): a
// resumable, push-style encoder that buffers raw bytes into blocks, runs
// each block through RLE-1, the block-sort engine, move-to-front and
// RUNA/RUNB zero-run coding, iterative selector/table assignment and
// canonical Huffman coding, and frames the result into the bzip2-family
// wire format.
package compress

import (
	"errors"
	"time"

	"github.com/kanzicore/bz"
	"github.com/kanzicore/bz/bitstream"
	"github.com/kanzicore/bz/entropy"
	"github.com/kanzicore/bz/hash"
	"github.com/kanzicore/bz/transform"
)

// Option configures an Encoder beyond its required level/workFactor/
// verbosity parameters, following the teacher's functional-option style.
type Option func(*Encoder)

// WithAllocator overrides the allocator the raw block buffer (blockCap
// bytes, obtained once in NewEncoder) comes from. The RLE-1, block-sort and
// symbol buffers of each block are allocated with make.
func WithAllocator(a bz.Allocator) Option {
	return func(e *Encoder) { e.alloc = a }
}

// WithListener attaches a Listener that receives compression lifecycle
// events (spec §6 verbosity hook).
func WithListener(l bz.Listener) Option {
	return func(e *Encoder) { e.listener = l }
}

// Encoder is the push-style compression handle (spec §4.5, §6). Compress is
// called repeatedly with an Action and caller-owned input/output windows;
// it never allocates unbounded memory per call beyond one block's working
// tables, and all state needed to resume across calls lives on the Encoder
// itself.
type Encoder struct {
	level      int
	workFactor int
	verbosity  int
	alloc      bz.Allocator
	listener   bz.Listener

	blockCap int
	block    []byte

	bitw *bitstream.Writer
	bwt  *transform.BWT

	combinedCRC   uint32
	totalIn       uint64
	totalOut      uint64
	blockIndex    int
	headerWritten bool
	endWritten    bool
	closed        bool
	sticky        *bz.Error
}

// NewEncoder creates an Encoder for the given level (1..9, block size
// level*100000 bytes), workFactor (0..250, 0 maps to DefaultWorkFactor) and
// verbosity (stored on the handle; it does not change which events reach a
// Listener attached with WithListener).
func NewEncoder(level, workFactor, verbosity int, opts ...Option) (*Encoder, error) {
	if level < bz.MinBlockSize100k || level > bz.MaxBlockSize100k {
		return nil, bz.NewError("NewEncoder", bz.ErrParamError, errors.New("level out of range [1..9]"))
	}

	if workFactor < bz.MinWorkFactor || workFactor > bz.MaxWorkFactor {
		return nil, bz.NewError("NewEncoder", bz.ErrParamError, errors.New("workFactor out of range [0..250]"))
	}

	if workFactor == 0 {
		workFactor = bz.DefaultWorkFactor
	}

	e := &Encoder{
		level:      level,
		workFactor: workFactor,
		verbosity:  verbosity,
		alloc:      bz.DefaultAllocator,
		blockCap:   level * bz.BlockUnitSize,
		bitw:       bitstream.NewWriter(),
		bwt:        transform.NewBWT(),
	}

	for _, opt := range opts {
		opt(e)
	}

	e.block = e.alloc.AllocBytes(e.blockCap)[:0]
	return e, nil
}

// NewEncoderWithCtx creates an Encoder from a map[string]any configuration,
// for parity with the teacher's NewWriterWithCtx convention. Recognised
// keys: "level" (int), "workFactor" (int, optional), "verbosity" (int,
// optional).
func NewEncoderWithCtx(ctx map[string]any) (*Encoder, error) {
	level, _ := ctx["level"].(int)
	workFactor, _ := ctx["workFactor"].(int)
	verbosity, _ := ctx["verbosity"].(int)

	var opts []Option

	if a, ok := ctx["allocator"].(bz.Allocator); ok {
		opts = append(opts, WithAllocator(a))
	}

	if l, ok := ctx["listener"].(bz.Listener); ok {
		opts = append(opts, WithListener(l))
	}

	return NewEncoder(level, workFactor, verbosity, opts...)
}

func (e *Encoder) notify(evtType int, size int64) {
	if e.listener == nil {
		return
	}

	e.listener.ProcessEvent(bz.NewEvent(evtType, e.blockIndex, size, 0, bz.EvtHashNone, time.Time{}))
}

// Compress advances the encoder: it buffers in into the current block,
// emits any block that fills, and honors action as RUN/FLUSH/FINISH (spec
// §6). It returns the number of input bytes consumed, the number of output
// bytes written into out, and a status describing what was accomplished.
func (e *Encoder) Compress(action bz.Action, in, out []byte) (int, int, bz.Status, error) {
	if e.sticky != nil {
		return 0, 0, bz.StatusOK, e.sticky
	}

	if e.closed {
		err := bz.NewError("Compress", bz.ErrSequenceError, errors.New("encoder already finished"))
		e.sticky = err
		return 0, 0, bz.StatusOK, err
	}

	if !e.headerWritten {
		e.writeStreamHeader()
		e.headerWritten = true
		e.notify(bz.EvtCompressionStart, 0)
	}

	nIn := 0

	for {
		if len(e.block) < e.blockCap && nIn < len(in) {
			room := e.blockCap - len(e.block)
			take := len(in) - nIn

			if take > room {
				take = room
			}

			e.block = append(e.block, in[nIn:nIn+take]...)
			nIn += take
			e.totalIn += uint64(take)
		}

		if len(e.block) < e.blockCap {
			break
		}

		if err := e.emitBlock(); err != nil {
			e.sticky = err
			return nIn, e.bitw.Drain(out), bz.StatusOK, err
		}
	}

	if action == bz.Flush || action == bz.Finish {
		if len(e.block) > 0 {
			if err := e.emitBlock(); err != nil {
				e.sticky = err
				return nIn, e.bitw.Drain(out), bz.StatusOK, err
			}
		}
	}

	if action == bz.Finish && !e.endWritten {
		e.writeEndMarker()
		e.endWritten = true
		e.notify(bz.EvtCompressionEnd, int64(e.totalOut))
	}

	nOut := e.bitw.Drain(out)
	e.totalOut += uint64(nOut)

	status := bz.StatusRunOK

	switch {
	case action == bz.Finish && e.endWritten && e.bitw.Pending() == 0:
		e.closed = true
		status = bz.StatusStreamEnd
	case action == bz.Finish:
		status = bz.StatusFinishOK
	case action == bz.Flush && len(e.block) == 0 && e.bitw.Pending() == 0:
		status = bz.StatusFlushOK
	case action == bz.Flush:
		status = bz.StatusOK
	}

	return nIn, nOut, status, nil
}

// End releases the encoder's working buffers (spec §6 endCompress) and
// returns the total input/output byte counts seen across the handle's
// lifetime.
func (e *Encoder) End() (uint64, uint64) {
	e.closed = true
	e.block = nil
	return e.totalIn, e.totalOut
}

func (e *Encoder) writeStreamHeader() {
	e.bitw.PutUChar(bz.StreamMagicB)
	e.bitw.PutUChar(bz.StreamMagicZ)
	e.bitw.PutUChar(bz.StreamMagicH)
	e.bitw.PutUChar(byte('0' + e.level))
}

func (e *Encoder) writeEndMarker() {
	e.bitw.PutBits(24, uint32(bz.EndMagic48>>24))
	e.bitw.PutBits(24, uint32(bz.EndMagic48&0xFFFFFF))
	e.bitw.PutUInt32(e.combinedCRC)
	e.bitw.FlushFinal()
}

// emitBlock runs the full per-block pipeline over e.block and appends the
// framed result to e.bitw, then resets e.block for the next one.
func (e *Encoder) emitBlock() *bz.Error {
	raw := e.block

	blockCRC := hash.NewBlockCRC()
	blockCRC.Update(raw)
	crc := blockCRC.Value()
	e.combinedCRC = hash.CombineCRC(e.combinedCRC, crc)

	rle := transform.NewRLE1().Forward(raw)

	bwtBytes, origPtr, err := e.bwt.Forward(rle)

	if err != nil {
		return bz.NewError("Compress", bz.ErrDataError, err)
	}

	alphabet := inUseAlphabet(bwtBytes)
	nInUse := len(alphabet)

	if nInUse == 0 {
		// An empty post-RLE block (possible only for a zero-length input
		// block, which Compress never buffers) never reaches here.
		return bz.NewError("Compress", bz.ErrDataError, errors.New("empty block"))
	}

	alphaSize := nInUse + 2
	symbols := transform.Encode(alphabet, bwtBytes)
	symbols = append(symbols, int32(nInUse+1)) // EOB

	nGroups := selectGroupCount(len(symbols))
	groups := chunkSymbols(symbols, bz.GroupSize)
	selectors, tables := assignTables(groups, alphaSize, nGroups)

	e.bitw.PutBits(24, uint32(bz.BlockMagic48>>24))
	e.bitw.PutBits(24, uint32(bz.BlockMagic48&0xFFFFFF))
	e.bitw.PutUInt32(crc)
	e.bitw.PutBit(0) // block-randomised: never set by this encoder
	e.bitw.PutBits(24, uint32(origPtr))

	writeInUseMap(e.bitw, alphabet)
	e.bitw.PutBits(3, uint32(nGroups))
	e.bitw.PutBits(15, uint32(len(groups)))
	writeSelectors(e.bitw, selectors, nGroups)

	codes := make([][]uint32, nGroups)

	for t := 0; t < nGroups; t++ {
		writeDeltaLengths(e.bitw, tables[t], alphaSize)
		codes[t] = entropy.AssignCodes(tables[t], alphaSize)
	}

	for gi, group := range groups {
		t := selectors[gi]
		lens := tables[t]
		code := codes[t]

		for _, sym := range group {
			e.bitw.PutBits(uint(lens[sym]), code[sym])
		}
	}

	e.notify(bz.EvtBlockInfo, int64(len(raw)))
	e.blockIndex++
	e.block = e.block[:0]
	return nil
}

// inUseAlphabet returns the sorted distinct byte values present in bwt.
func inUseAlphabet(bwt []byte) []byte {
	var seen [256]bool

	for _, c := range bwt {
		seen[c] = true
	}

	alphabet := make([]byte, 0, 256)

	for i := 0; i < 256; i++ {
		if seen[i] {
			alphabet = append(alphabet, byte(i))
		}
	}

	return alphabet
}

// writeInUseMap encodes the 16-bit coarse map plus one 16-bit fine map per
// set coarse bit (spec §4.5 step 5).
func writeInUseMap(w *bitstream.Writer, alphabet []byte) {
	var inUse [256]bool

	for _, c := range alphabet {
		inUse[c] = true
	}

	var coarse uint32

	for i := 0; i < 16; i++ {
		for j := 0; j < 16; j++ {
			if inUse[i*16+j] {
				coarse |= 1 << uint(15-i)
				break
			}
		}
	}

	w.PutBits(16, coarse)

	for i := 0; i < 16; i++ {
		if coarse&(1<<uint(15-i)) == 0 {
			continue
		}

		var fine uint32

		for j := 0; j < 16; j++ {
			if inUse[i*16+j] {
				fine |= 1 << uint(15-j)
			}
		}

		w.PutBits(16, fine)
	}
}

// selectGroupCount applies the classic size-based heuristic for how many
// prefix-code tables to use for a block's MTF symbol stream.
func selectGroupCount(nMTF int) int {
	switch {
	case nMTF < 200:
		return 2
	case nMTF < 600:
		return 3
	case nMTF < 1200:
		return 4
	case nMTF < 2400:
		return 5
	default:
		return bz.MaxGroups
	}
}

func chunkSymbols(symbols []int32, groupSize int) [][]int32 {
	var groups [][]int32

	for i := 0; i < len(symbols); i += groupSize {
		end := i + groupSize

		if end > len(symbols) {
			end = len(symbols)
		}

		groups = append(groups, symbols[i:end])
	}

	return groups
}

// assignTables implements the seed-then-iterate table assignment of spec
// §4.5 step 4: seed nGroups pseudo-tables by splitting the alphabet's
// cumulative frequency into equal-cost regions, then for four iterations
// assign each group to its cheapest table, recompute per-table frequencies
// from the groups assigned to it, and rebuild that table's code lengths.
func assignTables(groups [][]int32, alphaSize, nGroups int) ([]int, [][]byte) {
	totalFreq := make([]int32, alphaSize)

	for _, g := range groups {
		for _, sym := range g {
			totalFreq[sym]++
		}
	}

	tables := seedTables(totalFreq, alphaSize, nGroups)
	selectors := make([]int, len(groups))

	for iter := 0; iter < 4; iter++ {
		for gi, g := range groups {
			best, bestCost := 0, groupCost(g, tables[0])

			for t := 1; t < nGroups; t++ {
				c := groupCost(g, tables[t])

				if c < bestCost {
					best, bestCost = t, c
				}
			}

			selectors[gi] = best
		}

		freqs := make([][]int32, nGroups)

		for t := range freqs {
			freqs[t] = make([]int32, alphaSize)
		}

		for gi, g := range groups {
			f := freqs[selectors[gi]]

			for _, sym := range g {
				f[sym]++
			}
		}

		for t := 0; t < nGroups; t++ {
			lens, err := entropy.BuildLengths(freqs[t], alphaSize)

			if err == nil {
				tables[t] = lens
			}
		}
	}

	return selectors, tables
}

// groupCost returns the number of coded bits a group would cost under
// lens.
func groupCost(group []int32, lens []byte) int {
	cost := 0

	for _, sym := range group {
		cost += int(lens[sym])
	}

	return cost
}

// seedTables partitions the alphabet's cumulative frequency into nGroups
// equal-cost runs and assigns each run a short seed length, everything
// else a long one, giving the first assignment pass something meaningful
// to compare against before any table has been built from real per-table
// frequencies.
func seedTables(totalFreq []int32, alphaSize, nGroups int) [][]byte {
	tables := make([][]byte, nGroups)

	var total int64

	for _, f := range totalFreq {
		total += int64(f)
	}

	remaining := total
	gs := 0
	nPart := nGroups

	for t := 0; t < nGroups; t++ {
		lens := make([]byte, alphaSize)

		for i := range lens {
			lens[i] = 15
		}

		target := remaining / int64(nPart)
		ge := gs - 1
		var acc int64

		for acc < target && ge < alphaSize-1 {
			ge++
			acc += int64(totalFreq[ge])
		}

		for i := gs; i <= ge && i < alphaSize; i++ {
			lens[i] = 1
		}

		remaining -= acc
		gs = ge + 1
		nPart--
		tables[t] = lens
	}

	return tables
}

// writeSelectors MTF-codes the per-group table indices and emits each rank
// as a unary code (rank ones then a terminating zero), per spec §4.5 step
// 5.
func writeSelectors(w *bitstream.Writer, selectors []int, nGroups int) {
	mtf := make([]int, nGroups)

	for i := range mtf {
		mtf[i] = i
	}

	for _, sel := range selectors {
		rank := 0

		for mtf[rank] != sel {
			rank++
		}

		for i := 0; i < rank; i++ {
			w.PutBit(1)
		}

		w.PutBit(0)

		for i := rank; i > 0; i-- {
			mtf[i] = mtf[i-1]
		}

		mtf[0] = sel
	}
}

// writeDeltaLengths emits one table's code lengths as a 5-bit starting
// value followed by, per symbol, a run of "another step" bits (1 then a
// direction bit: 0 to grow, 1 to shrink) until the running length matches,
// terminated by a single 0 bit (spec §4.5 step 5).
func writeDeltaLengths(w *bitstream.Writer, lens []byte, alphaSize int) {
	curr := int(lens[0])
	w.PutBits(5, uint32(curr))

	for i := 0; i < alphaSize; i++ {
		for curr < int(lens[i]) {
			w.PutBits(2, 2) // "10": another step, grow
			curr++
		}

		for curr > int(lens[i]) {
			w.PutBits(2, 3) // "11": another step, shrink
			curr--
		}

		w.PutBit(0)
	}
}
