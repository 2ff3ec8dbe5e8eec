package smatrixdb

import (
	"os"
	"sync"

	mmappkg "github.com/asmuth/smatrixdb/mmap"
)

// fileSpace is a monotonic byte allocator over a single backing file:
// alloc(n) -> offset, free(offset, n). The file is kept memory-mapped and
// remapped on growth; all access goes through readAt/writeAt, which copy
// through the mapping under mapMu so that a concurrent alloc's remap
// (which may relocate or unmap the old address range) can never pull the
// mapping out from under a reader or writer on another RMap. Callers are
// responsible for region disjointness via their own RMap locks; fileSpace
// only guarantees the mapping itself is stable for the duration of each
// copy.
type fileSpace struct {
	mu     sync.Mutex // serializes alloc
	file   *os.File
	cursor uint64

	mapMu sync.RWMutex // guards mm and the mapped address range
	mm    *mmappkg.Map
}

// openFileSpace opens (creating if necessary) the backing file and reports
// whether it was newly created (size 0).
func openFileSpace(path string) (fs *fileSpace, isNew bool, err error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, false, WrapError(IoFailure, err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, false, WrapError(IoFailure, err)
	}

	size := fi.Size()
	fs = &fileSpace{file: f, cursor: uint64(size)}

	if size == 0 {
		return fs, true, nil
	}

	mm, err := mmappkg.New(int(f.Fd()), 0, int(size), true)
	if err != nil {
		f.Close()
		return nil, false, WrapError(IoFailure, err)
	}
	fs.mm = mm

	return fs, false, nil
}

// alloc extends the file by n bytes and returns the offset at which the
// new region begins. A failure to extend the file is fatal to the engine;
// the caller poisons the Engine.
func (fs *fileSpace) alloc(n uint64) (uint64, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	old := fs.cursor
	newSize := old + n

	if err := fs.file.Truncate(int64(newSize)); err != nil {
		return 0, WrapError(IoFailure, err)
	}

	// The remap may relocate the mapping; exclude every in-flight
	// readAt/writeAt while the address range is in motion.
	fs.mapMu.Lock()
	if fs.mm == nil {
		mm, err := mmappkg.New(int(fs.file.Fd()), 0, int(newSize), true)
		if err != nil {
			fs.mapMu.Unlock()
			return 0, WrapError(IoFailure, err)
		}
		fs.mm = mm
	} else if int64(newSize) > fs.mm.Size() {
		if err := fs.mm.Remap(int64(newSize)); err != nil {
			fs.mapMu.Unlock()
			return 0, WrapError(IoFailure, err)
		}
	}
	fs.mapMu.Unlock()

	fs.cursor = newSize
	return old, nil
}

// free is currently a no-op: space is reclaimed only by recreating the
// file. The interface reserves the right to maintain a free list keyed by
// size class.
func (fs *fileSpace) free(offset, n uint64) {
	_ = offset
	_ = n
}

// readAt copies len(buf) bytes out of the mapping starting at off. The
// caller must only read regions it has allocated, below the cursor.
func (fs *fileSpace) readAt(buf []byte, off uint64) {
	fs.mapMu.RLock()
	copy(buf, fs.mm.Data()[off:off+uint64(len(buf))])
	fs.mapMu.RUnlock()
}

// writeAt copies buf into the mapping at off; durable only after a later
// sync. Concurrent writeAt calls on disjoint regions are safe; callers
// keep regions disjoint through their RMap locks.
func (fs *fileSpace) writeAt(buf []byte, off uint64) {
	fs.mapMu.RLock()
	copy(fs.mm.Data()[off:off+uint64(len(buf))], buf)
	fs.mapMu.RUnlock()
}

// sync flushes the backing mapping to stable storage.
func (fs *fileSpace) sync() error {
	fs.mapMu.RLock()
	defer fs.mapMu.RUnlock()
	if fs.mm == nil {
		return nil
	}
	if err := fs.mm.Sync(); err != nil {
		return WrapError(IoFailure, err)
	}
	return nil
}

// close releases the mapping and the file descriptor.
func (fs *fileSpace) close() error {
	var err error
	fs.mapMu.Lock()
	if fs.mm != nil {
		if e := fs.mm.Close(); e != nil {
			err = e
		}
		fs.mm = nil
	}
	fs.mapMu.Unlock()
	if e := fs.file.Close(); e != nil && err == nil {
		err = e
	}
	if err != nil {
		return WrapError(IoFailure, err)
	}
	return nil
}
