package smatrixdb

import "sync/atomic"

// slot is the in-memory image of one RMap entry: 16 bytes on disk and in
// memory. The on-disk image never carries a child pointer; for root slots
// the child handle lives one level up, in RootIndex.children (see
// index.go), keyed by row id rather than by slot position, so it survives
// a resize's rehash without any extra bookkeeping here.
type slot struct {
	key   uint32
	flags uint32 // bit 0: USED, bit 1: DIRTY (see constants.go)
	value uint64
}

func (s *slot) used() bool {
	return atomic.LoadUint32(&s.flags)&slotUsed != 0
}

func (s *slot) dirty() bool {
	return atomic.LoadUint32(&s.flags)&slotDirty != 0
}

// markDirty sets the DIRTY bit via a CAS loop. A writer may hold only a
// read lock on the owning RMap when it calls this (Engine.Incr's fast
// path re-marks the RootIndex slot dirty under a read lock), so a plain
// non-atomic |= would race with a concurrent sync clearing DIRTY on the
// same flags word.
func (s *slot) markDirty() {
	for {
		old := atomic.LoadUint32(&s.flags)
		if old&slotDirty != 0 {
			return
		}
		if atomic.CompareAndSwapUint32(&s.flags, old, old|slotDirty) {
			return
		}
	}
}

// clearDirty unsets the DIRTY bit via a CAS loop; sync runs under a read
// lock, so the clear must not clobber bits a concurrent writer sets.
func (s *slot) clearDirty() {
	for {
		old := atomic.LoadUint32(&s.flags)
		if old&slotDirty == 0 {
			return
		}
		if atomic.CompareAndSwapUint32(&s.flags, old, old&^slotDirty) {
			return
		}
	}
}

// markUsed sets USED|DIRTY in one CAS, used when a lookup turns into a
// fresh insert.
func (s *slot) markUsed() {
	for {
		old := atomic.LoadUint32(&s.flags)
		next := old | slotUsed | slotDirty
		if old == next {
			return
		}
		if atomic.CompareAndSwapUint32(&s.flags, old, next) {
			return
		}
	}
}

// encode writes the on-disk image of the slot. Flags are not persisted;
// presence of a non-zero value indicates USED.
func (s *slot) encode(buf []byte) {
	putUint32LE(buf[0:4], 0)
	putUint32LE(buf[4:8], s.key)
	putUint64LE(buf[8:16], s.value)
}

// decodeSlot reconstructs a slot from its on-disk image, following the
// same "non-zero value implies USED" rule unswap uses.
func decodeSlot(buf []byte) slot {
	s := slot{
		value: getUint64LE(buf[8:16]),
	}
	if s.value != 0 {
		s.key = getUint32LE(buf[4:8])
		s.flags = slotUsed
	}
	return s
}
