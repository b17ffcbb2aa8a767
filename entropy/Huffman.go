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

// Package entropy implements the prefix-code (Huffman) engine (spec §4.3):
// length-limited canonical Huffman table construction and canonical code
// assignment on the encode side, and base/limit/perm canonical decode
// tables on the decode side.
package entropy

import (
	"container/heap"
	"errors"
	"fmt"
)

// MaxEncodeLen is the maximum code length the encoder ever produces.
// Exceeding it triggers the frequency-halving retry loop.
const MaxEncodeLen = 17

// MaxDecodeLen is the maximum code length the decoder will accept; a code
// that would require more bits is a data error.
const MaxDecodeLen = 20

type pqNode struct {
	weight int64
	order  int // insertion order, used to break weight ties deterministically
	left   int // -1 for a leaf
	right  int
}

type priorityQueue []int // indices into a shared nodes slice, ordered as a heap

type heapState struct {
	nodes []pqNode
	pq    priorityQueue
}

func (h *heapState) Len() int { return len(h.pq) }
func (h *heapState) Less(i, j int) bool {
	a, b := h.nodes[h.pq[i]], h.nodes[h.pq[j]]

	if a.weight != b.weight {
		return a.weight < b.weight
	}

	return a.order < b.order
}
func (h *heapState) Swap(i, j int) { h.pq[i], h.pq[j] = h.pq[j], h.pq[i] }
func (h *heapState) Push(x any)    { h.pq = append(h.pq, x.(int)) }
func (h *heapState) Pop() any {
	old := h.pq
	n := len(old)
	x := old[n-1]
	h.pq = old[:n-1]
	return x
}

// BuildLengths builds a length-limited canonical Huffman code length table
// from a per-symbol frequency vector. freq must have length alphaSize and
// every in-use symbol must carry a strictly positive frequency. On return,
// lens[i] holds the bit length assigned to symbol i, 1 <= lens[i] <=
// MaxEncodeLen.
func BuildLengths(freq []int32, alphaSize int) ([]byte, error) {
	if alphaSize < 1 || alphaSize > 258 {
		return nil, fmt.Errorf("entropy: invalid alphabet size %d", alphaSize)
	}

	work := make([]int64, alphaSize)

	for i, f := range freq[:alphaSize] {
		if f <= 0 {
			work[i] = 1
		} else {
			work[i] = int64(f)
		}
	}

	lens := make([]byte, alphaSize)

	for {
		depth, err := huffmanTreeDepths(work, alphaSize)

		if err != nil {
			return nil, err
		}

		maxLen := 0

		for _, d := range depth {
			if d > maxLen {
				maxLen = d
			}
		}

		if maxLen <= MaxEncodeLen {
			for i, d := range depth {
				lens[i] = byte(d)
			}

			return lens, nil
		}

		// Halve every frequency (rounding up) and retry, per spec §4.3.
		for i := range work {
			work[i] = (work[i] + 1) / 2

			if work[i] < 1 {
				work[i] = 1
			}
		}
	}
}

// huffmanTreeDepths builds the Huffman tree by repeatedly extracting the
// two lowest-weight roots (ties broken by insertion order) and returns the
// resulting per-leaf depth (code length) vector.
func huffmanTreeDepths(weight []int64, alphaSize int) ([]int, error) {
	if alphaSize == 1 {
		return []int{1}, nil
	}

	hs := &heapState{}
	hs.nodes = make([]pqNode, 0, 2*alphaSize)

	for i := 0; i < alphaSize; i++ {
		hs.nodes = append(hs.nodes, pqNode{weight: weight[i], order: i, left: -1, right: -1})
		hs.pq = append(hs.pq, i)
	}

	heap.Init(hs)
	order := alphaSize

	for hs.Len() > 1 {
		i1 := heap.Pop(hs).(int)
		i2 := heap.Pop(hs).(int)
		n1, n2 := hs.nodes[i1], hs.nodes[i2]
		parentIdx := len(hs.nodes)
		hs.nodes = append(hs.nodes, pqNode{
			weight: n1.weight + n2.weight,
			order:  order,
			left:   i1,
			right:  i2,
		})
		order++
		heap.Push(hs, parentIdx)
	}

	root := hs.pq[0]
	depth := make([]int, alphaSize)
	type frame struct {
		idx int
		d   int
	}
	stack := []frame{{root, 0}}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := hs.nodes[f.idx]

		if n.left < 0 && n.right < 0 {
			if f.idx >= alphaSize {
				return nil, errors.New("entropy: malformed Huffman tree")
			}

			d := f.d

			if d == 0 {
				d = 1 // single-symbol alphabet or degenerate tree
			}

			depth[f.idx] = d
			continue
		}

		stack = append(stack, frame{n.left, f.d + 1}, frame{n.right, f.d + 1})
	}

	return depth, nil
}

// AssignCodes assigns canonical codes to each symbol given its code length,
// in increasing length then increasing symbol order, per spec §4.3 ("emit
// codes in canonical order").
func AssignCodes(lens []byte, alphaSize int) []uint32 {
	var count [MaxEncodeLen + 2]int

	for _, l := range lens[:alphaSize] {
		count[l]++
	}

	var firstCode [MaxEncodeLen + 2]uint32
	code := uint32(0)

	for l := 1; l <= MaxEncodeLen+1; l++ {
		firstCode[l] = code
		code = (code + uint32(count[l])) << 1
	}

	codes := make([]uint32, alphaSize)
	next := firstCode

	for sym := 0; sym < alphaSize; sym++ {
		l := lens[sym]
		codes[sym] = next[l]
		next[l]++
	}

	return codes
}
