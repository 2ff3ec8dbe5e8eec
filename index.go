package smatrixdb

// RootIndex is the outer RMap, keyed by row id x. Its slot value field
// stores the child RowIndex's fpos; the child object itself is attached
// through children, keyed by row id rather than by slot index so that a
// RootIndex resize (which relocates every slot) never has to move a child
// pointer.
type RootIndex struct {
	rm       *rmap
	children map[uint32]*RowIndex
}

// RowIndex is the inner RMap, keyed by column id y. Its slot value field
// is the cell counter itself.
type RowIndex struct {
	rm *rmap
}

func newRootIndex(fs *fileSpace, size uint32) (*RootIndex, error) {
	rm, err := newRMap(fs, size)
	if err != nil {
		return nil, err
	}
	return &RootIndex{rm: rm, children: make(map[uint32]*RowIndex)}, nil
}

func loadRootIndex(fs *fileSpace, fpos uint64) (*RootIndex, error) {
	rm, err := loadRMapHeader(fs, fpos)
	if err != nil {
		return nil, err
	}
	root := &RootIndex{rm: rm, children: make(map[uint32]*RowIndex)}
	root.rm.unswapLocked() // the RootIndex stays resident once opened
	for i := uint32(0); i < root.rm.size; i++ {
		s := &root.rm.data[i]
		if !s.used() {
			continue
		}
		child, err := loadRMapHeader(fs, s.value)
		if err != nil {
			return nil, err
		}
		root.children[s.key] = &RowIndex{rm: child}
	}
	return root, nil
}

func newRowIndex(fs *fileSpace, size uint32) (*RowIndex, error) {
	rm, err := newRMap(fs, size)
	if err != nil {
		return nil, err
	}
	return &RowIndex{rm: rm}, nil
}

// Cell is a single (column, value) pair from a row snapshot.
type Cell struct {
	Column uint32
	Value  uint64
}

// RowSnapshot is an immutable, already-copied-out view of one row. No
// pointer into engine-internal memory is reachable from it.
type RowSnapshot struct {
	RowID uint32
	Cells []Cell // slot order, not sorted
}

// Cardinality is the row's total-occurrence counter, stored by convention
// at column 0 (reco.AddSet increments it once per appearance of the row's
// id in a set). Rows that were only ever the target of an increment may
// have no column-0 cell at all, in which case Cardinality is 0.
func (s *RowSnapshot) Cardinality() uint64 {
	for _, c := range s.Cells {
		if c.Column == 0 {
			return c.Value
		}
	}
	return 0
}

// Get returns the value stored at column y and whether it was present.
func (s *RowSnapshot) Get(y uint32) (uint64, bool) {
	for _, c := range s.Cells {
		if c.Column == y {
			return c.Value, true
		}
	}
	return 0, false
}
