package smatrixdb

import (
	"sync/atomic"
)

// Option configures Open.
type Option func(*engineConfig)

type engineConfig struct {
	rootInitialSize uint32
	rowInitialSize  uint32
}

// WithInitialRootSize overrides RootIndex's starting capacity. Only takes
// effect when creating a brand-new file.
func WithInitialRootSize(size uint32) Option {
	return func(c *engineConfig) { c.rootInitialSize = size }
}

// WithInitialRowSize overrides every freshly created RowIndex's starting
// capacity.
func WithInitialRowSize(size uint32) Option {
	return func(c *engineConfig) { c.rowInitialSize = size }
}

// Engine is the storage engine facade: open, close, incr, get row, sync,
// gc.
type Engine struct {
	fs   *fileSpace
	root *RootIndex
	cfg  engineConfig

	poisoned atomic.Bool
}

// Open opens path, creating it if it does not exist.
func Open(path string, opts ...Option) (*Engine, error) {
	cfg := engineConfig{
		rootInitialSize: defaultRootInitialSize,
		rowInitialSize:  defaultRowInitialSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.rootInitialSize == 0 || cfg.rowInitialSize == 0 {
		return nil, NewError(InvalidArgument)
	}

	fs, isNew, err := openFileSpace(path)
	if err != nil {
		return nil, err
	}

	e := &Engine{fs: fs, cfg: cfg}

	if isNew {
		if _, err := fs.alloc(metaSize); err != nil {
			fs.close()
			return nil, err
		}
		root, err := newRootIndex(fs, cfg.rootInitialSize)
		if err != nil {
			fs.close()
			return nil, err
		}
		root.rm.mu.Lock()
		root.rm.syncLocked()
		root.rm.mu.Unlock()
		writeMeta(fs, root.rm.fpos)
		e.root = root
		return e, nil
	}

	rootFpos, err := readMeta(fs)
	if err != nil {
		fs.close()
		return nil, err
	}
	root, err := loadRootIndex(fs, rootFpos)
	if err != nil {
		fs.close()
		return nil, err
	}
	e.root = root
	return e, nil
}

// poison marks the engine as failed; every subsequent call fails fast
// without touching the file again.
func (e *Engine) poison(err error) error {
	e.poisoned.Store(true)
	return err
}

func (e *Engine) checkAlive() error {
	if e.poisoned.Load() {
		return errEnginePoisoned
	}
	return nil
}

var errEnginePoisoned = &Error{Code: IoFailure, Message: "engine poisoned by a prior i/o failure"}

// Incr increments cell (x, y) by delta, creating the row and/or cell if
// absent. A completed Incr is observable by subsequent in-process reads
// but hits disk only after Sync. delta must be non-zero: the on-disk
// format keys slot occupancy off a non-zero value, so a zero-valued cell
// is unrepresentable and would silently vanish on reopen.
func (e *Engine) Incr(x, y uint32, delta uint64) error {
	if err := e.checkAlive(); err != nil {
		return err
	}
	if delta == 0 {
		return NewError(InvalidArgument)
	}

	root := e.root

	// Step 1: read-lock RootIndex, look up x.
	root.rm.mu.RLock()
	idx := root.rm.lookupLocked(x)
	found := root.rm.data[idx].used() && root.rm.data[idx].key == x

	var child *RowIndex
	var heldWrite bool

	if found {
		child = root.children[x]
	} else {
		// Step 2: drop to write-lock; insert is idempotent against racers.
		root.rm.mu.RUnlock()
		root.rm.mu.Lock()
		heldWrite = true

		var err error
		idx, err = root.rm.insertLocked(x)
		if err != nil {
			root.rm.mu.Unlock()
			return e.poison(err)
		}
		child = root.children[x]
		if child == nil {
			newChild, err := newRowIndex(e.fs, e.cfg.rowInitialSize)
			if err != nil {
				root.rm.mu.Unlock()
				return e.poison(err)
			}
			child = newChild
			root.children[x] = child
			root.rm.data[idx].value = child.rm.fpos
			root.rm.data[idx].markDirty()
		}
	}

	// Step 3: mark the root slot dirty, capture old_fpos, lock the child,
	// then release whichever root lock we are holding.
	root.rm.data[idx].markDirty()
	oldFpos := root.rm.data[idx].value

	child.rm.mu.Lock()
	if heldWrite {
		root.rm.mu.Unlock()
	} else {
		root.rm.mu.RUnlock()
	}

	// Step 4: unswap the child if needed.
	ensureResident(child)

	// Step 5: insert y, increment its value, mark dirty.
	yIdx, err := child.rm.insertLocked(y)
	if err != nil {
		child.rm.mu.Unlock()
		return e.poison(err)
	}
	child.rm.data[yIdx].value += delta
	child.rm.data[yIdx].markDirty()

	// Step 6: capture new_fpos, release the child lock.
	newFpos := child.rm.fpos
	child.rm.mu.Unlock()

	// Step 7: if the child moved on disk, write its new fpos back. The
	// fpos is re-read under the child's lock inside the root critical
	// section rather than carrying newFpos across: two racing resizes
	// would otherwise let the loser persist a stale pointer.
	if newFpos != oldFpos {
		root.rm.mu.Lock()
		idx2 := root.rm.lookupLocked(x)
		child.rm.mu.RLock()
		root.rm.data[idx2].value = child.rm.fpos
		child.rm.mu.RUnlock()
		root.rm.data[idx2].markDirty()
		root.rm.mu.Unlock()
	}

	return nil
}

// GetRow resolves x's row and returns a snapshot of its cells in slot
// order. Returns ErrNotFound if x has never been written.
func (e *Engine) GetRow(x uint32) (*RowSnapshot, error) {
	if err := e.checkAlive(); err != nil {
		return nil, err
	}

	root := e.root

	root.rm.mu.RLock()
	idx := root.rm.lookupLocked(x)
	found := root.rm.data[idx].used() && root.rm.data[idx].key == x
	var child *RowIndex
	if found {
		child = root.children[x]
	}
	root.rm.mu.RUnlock()

	if !found || child == nil {
		return nil, NewError(NotFound)
	}

	child.rm.mu.Lock()
	ensureResident(child)
	cells := make([]Cell, 0, child.rm.used)
	child.rm.usedSet.ForEach(func(i uint32) {
		s := &child.rm.data[i]
		cells = append(cells, Cell{Column: s.key, Value: s.value})
	})
	child.rm.mu.Unlock()

	return &RowSnapshot{RowID: x, Cells: cells}, nil
}

// Sync flushes every dirty slot in the tree to the backing file.
// Idempotent: sync;sync leaves the file unchanged the second time, since
// there is nothing left dirty to write.
func (e *Engine) Sync() error {
	if err := e.checkAlive(); err != nil {
		return err
	}

	root := e.root
	root.rm.mu.RLock()
	root.rm.usedSet.ForEach(func(i uint32) {
		child := root.children[root.rm.data[i].key]
		if child == nil {
			return
		}
		child.rm.mu.RLock()
		if !child.rm.swapped {
			child.rm.syncLocked()
		}
		child.rm.mu.RUnlock()
	})
	root.rm.syncLocked()
	rootFpos := root.rm.fpos
	root.rm.mu.RUnlock()

	writeMeta(e.fs, rootFpos)

	if err := e.fs.sync(); err != nil {
		return e.poison(err)
	}
	return nil
}

// GC walks the tree and swaps resident rows out of memory to reduce
// memory footprint.
func (e *Engine) GC() error {
	if err := e.checkAlive(); err != nil {
		return err
	}
	gcSweep(e.root)
	return nil
}

// Close flushes the engine and releases its resources.
func (e *Engine) Close() error {
	if e.poisoned.Load() {
		return e.fs.close()
	}
	if err := e.Sync(); err != nil {
		e.fs.close()
		return err
	}
	return e.fs.close()
}
