package smatrixdb

import (
	"sync"

	"github.com/asmuth/smatrixdb/internal/bitset"
)

// fibHash32 is 2^32 divided by the golden ratio, the same multiplier
// internal/fastmap uses, so that dense sequential ids (typical of the
// matrix's row/column space) spread evenly instead of clustering at low
// indices.
const fibHash32 = 2654435769

func fibHash(key uint32) uint32 {
	return key * fibHash32
}

// rmap is a generic open-addressed hash map from u32 key to {u64 value,
// flags}, persisted and swappable. RootIndex and RowIndex are
// both rmaps; the difference is purely in how the caller interprets the
// value field (a child fpos for RootIndex, a cell counter for RowIndex)
// and in the extra in-memory child bookkeeping RootIndex layers on top
// (index.go).
type rmap struct {
	mu sync.RWMutex

	fs   *fileSpace
	fpos uint64 // 0 until allocated

	size uint32
	used uint32

	swapped bool
	data    []slot      // nil when swapped
	usedSet *bitset.Set // occupied slot indices; nil when swapped
}

// newRMap creates a fresh, resident RMap of the given capacity, allocating
// its on-disk region immediately.
func newRMap(fs *fileSpace, size uint32) (*rmap, error) {
	bytesNeeded := uint64(rmapHeaderSize) + uint64(size)*slotSize
	fpos, err := fs.alloc(bytesNeeded)
	if err != nil {
		return nil, err
	}
	return &rmap{
		fs:      fs,
		fpos:    fpos,
		size:    size,
		data:    make([]slot, size),
		usedSet: bitset.New(size),
	}, nil
}

// loadRMapHeader reads an RMap's 16-byte on-disk header at fpos and
// returns a swapped-out handle; slot data is not read until unswapLocked.
func loadRMapHeader(fs *fileSpace, fpos uint64) (*rmap, error) {
	if fpos+rmapHeaderSize > fs.cursor {
		return nil, NewError(CorruptHeader)
	}
	var buf [rmapHeaderSize]byte
	fs.readAt(buf[:], fpos)
	for i := 0; i < 8; i++ {
		if buf[i] != rmapMagicByte {
			return nil, NewError(CorruptHeader)
		}
	}
	size := getUint64LE(buf[8:16])
	if size == 0 || fpos+rmapHeaderSize+size*slotSize > fs.cursor {
		return nil, NewError(CorruptHeader)
	}
	return &rmap{
		fs:      fs,
		fpos:    fpos,
		size:    uint32(size),
		swapped: true,
	}, nil
}

// lookupLocked returns the slot index where key currently lives, or where
// it would be inserted: the first slot with USED=0 or a matching key,
// found by linear probing from the mixed hash. The caller must hold at
// least a read lock.
func (r *rmap) lookupLocked(key uint32) uint32 {
	idx := fibHash(key) % r.size
	for i := uint32(0); i < r.size; i++ {
		if !r.data[idx].used() || r.data[idx].key == key {
			return idx
		}
		idx = (idx + 1) % r.size
	}
	return idx
}

// insertLocked returns the slot for key, resizing first if more than half
// of the slots are already used. It is idempotent on an existing key.
// The caller must hold a write lock.
func (r *rmap) insertLocked(key uint32) (uint32, error) {
	if r.used > r.size/2 {
		if err := r.resizeLocked(); err != nil {
			return 0, err
		}
	}

	idx := r.lookupLocked(key)
	s := &r.data[idx]
	if !s.used() || s.key != key {
		s.key = key
		s.value = 0
		s.markUsed()
		r.used++
		r.usedSet.Mark(idx)
	}
	return idx, nil
}

// resizeLocked doubles capacity, rehashing every occupied slot into a
// freshly allocated in-memory block and a freshly allocated on-disk
// region. The caller must hold a write lock.
func (r *rmap) resizeLocked() error {
	newSize := r.size * 2
	newData := make([]slot, newSize)
	newUsed := bitset.New(newSize)

	// Every relocated slot is DIRTY: the new on-disk region starts out
	// all-zero and must receive each occupied slot's image on next sync.
	for i := uint32(0); i < r.size; i++ {
		if !r.data[i].used() {
			continue
		}
		idx := lookupEmpty(newData, newSize, r.data[i].key)
		newData[idx] = slot{key: r.data[i].key, value: r.data[i].value, flags: slotUsed | slotDirty}
		newUsed.Mark(idx)
	}

	newBytes := uint64(rmapHeaderSize) + uint64(newSize)*slotSize
	newFpos, err := r.fs.alloc(newBytes)
	if err != nil {
		return WrapError(AllocFailure, err)
	}

	oldBytes := uint64(rmapHeaderSize) + uint64(r.size)*slotSize
	r.fs.free(r.fpos, oldBytes)

	r.fpos = newFpos
	r.size = newSize
	r.data = newData
	r.usedSet = newUsed
	return nil
}

// lookupEmpty probes a freshly sized slot array for key's slot, used only
// during resizeLocked's rehash (no USED slot for key can already exist).
func lookupEmpty(data []slot, size uint32, key uint32) uint32 {
	idx := fibHash(key) % size
	for {
		if !data[idx].used() {
			return idx
		}
		idx = (idx + 1) % size
	}
}

// syncLocked writes the header, then the 16-byte image of every slot with
// USED and DIRTY both set, clearing DIRTY on each as it is flushed.
// The caller must hold at least a read lock. DIRTY
// may be set concurrently by a writer that also holds only a read lock on
// this rmap (Engine.Incr re-marks a root slot on its fast path), which is
// why the flag lives in the slot's atomic flags word and not in usedSet;
// usedSet itself is only ever mutated under the write lock.
func (r *rmap) syncLocked() {
	var hdr [rmapHeaderSize]byte
	for i := 0; i < 8; i++ {
		hdr[i] = rmapMagicByte
	}
	putUint64LE(hdr[8:16], uint64(r.size))
	r.fs.writeAt(hdr[:], r.fpos)

	r.usedSet.ForEach(func(idx uint32) {
		if !r.data[idx].dirty() {
			return
		}
		var buf [slotSize]byte
		r.data[idx].encode(buf[:])
		r.fs.writeAt(buf[:], r.fpos+rmapHeaderSize+uint64(idx)*slotSize)
		r.data[idx].clearDirty()
	})
}

// unswapLocked reads size slots back from disk, reconstructing USED/key
// from a non-zero value. The caller must hold a write lock.
func (r *rmap) unswapLocked() {
	data := make([]slot, r.size)
	buf := make([]byte, uint64(r.size)*slotSize)
	r.fs.readAt(buf, r.fpos+rmapHeaderSize)

	usedSet := bitset.New(r.size)
	var used uint32
	for i := uint32(0); i < r.size; i++ {
		s := decodeSlot(buf[i*slotSize : (i+1)*slotSize])
		if s.used() {
			used++
			usedSet.Mark(i)
		}
		data[i] = s
	}

	r.data = data
	r.usedSet = usedSet
	r.used = used
	r.swapped = false
}

// swapLocked flushes then frees the in-memory slot array. The caller must
// hold a write lock.
func (r *rmap) swapLocked() {
	r.syncLocked()
	r.swapped = true
	r.data = nil
	r.usedSet = nil
}
