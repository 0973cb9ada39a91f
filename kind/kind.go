// Package kind packs a small type identity and its ancestry into a single uint64.
//
// The lowest 8 bits hold the kind's own id and each following byte holds the id of
// one base kind, so a Kind can name itself plus up to seven bases. Checking whether a
// value "is a" base kind is a handful of shifts and never allocates, which lets the
// dispatch engine tag transitions and observer steps without interface assertions.
package kind

import "sync/atomic"

const (
	length   = 64
	idLength = 8
	depthMax = length / idLength
	idMask   = (1 << idLength) - 1
)

// Kind encodes a type id in the low byte and base ids in the higher bytes.
type Kind = uint64

var n atomic.Uint64

// ID returns the kind's own id without its bases.
func ID(k Kind) Kind {
	return k & idMask
}

// Bases returns the base ids packed into k in the order they were added.
// Unused slots are zero.
func Bases(k Kind) [depthMax - 1]Kind {
	var bases [depthMax - 1]Kind
	for i := 1; i < depthMax; i++ {
		bases[i-1] = (k >> (idLength * i)) & idMask
	}
	return bases
}

// Make returns a new Kind with a fresh id that inherits every id packed into bases.
// Duplicate ids are folded. Make panics once the 8-bit id space or the seven base
// slots are exhausted, both of which are static programming errors.
func Make(bases ...Kind) Kind {
	id := n.Add(1)
	if id > idMask {
		panic("kind: id space exhausted")
	}
	var seen [depthMax - 1]Kind
	count := 0
	for _, base := range bases {
		for j := 0; j < depthMax; j++ {
			baseID := (base >> (idLength * j)) & idMask
			if baseID == 0 {
				break
			}
			if contains(seen[:count], baseID) {
				continue
			}
			if count == len(seen) {
				panic("kind: too many bases")
			}
			seen[count] = baseID
			count++
			id |= baseID << (idLength * count)
		}
	}
	return id
}

func contains(ids []Kind, id Kind) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

// Is reports whether k is, or derives from, any of bases.
func Is(k Kind, bases ...Kind) bool {
	for _, base := range bases {
		baseID := base & idMask
		if baseID == 0 {
			continue
		}
		for i := 0; i < depthMax; i++ {
			if (k>>(idLength*i))&idMask == baseID {
				return true
			}
		}
	}
	return false
}
