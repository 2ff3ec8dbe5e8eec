package smatrixdb

// File format constants. Layout is described in full in meta.go and rmap.go.
const (
	// metaMagicByte is repeated 8 times at the start of the file.
	metaMagicByte byte = 0x17

	// rmapMagicByte is repeated 8 times at the start of every RMap header.
	rmapMagicByte byte = 0x23

	// metaSize is the fixed size of the file header (MetaBlock).
	metaSize = 64

	// rmapHeaderSize is the size of an RMap's on-disk header: 8 magic
	// bytes followed by an 8-byte little-endian slot count.
	rmapHeaderSize = 16

	// slotSize is the fixed on-disk and in-memory size of one slot:
	// 4 bytes flags (currently always zero on disk), 4 bytes key,
	// 8 bytes value.
	slotSize = 16
)

// Initial and growth parameters for RMaps.
const (
	// defaultRootInitialSize is RootIndex's starting capacity.
	defaultRootInitialSize uint32 = 16

	// defaultRowInitialSize is a freshly created RowIndex's starting
	// capacity.
	defaultRowInitialSize uint32 = 8
)

// Slot flag bits, kept in the in-memory-only flags word (see slot.go).
const (
	// slotUsed marks a slot as occupied; see Data Model invariant 2.
	slotUsed uint32 = 1 << 0

	// slotDirty marks a slot as changed since the last sync.
	slotDirty uint32 = 1 << 1
)

// MaxRowSize bounds the number of candidates a single reco.Recommend call
// returns.
const MaxRowSize = 256
