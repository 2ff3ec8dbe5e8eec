package smatrixdb

// The MetaBlock is the fixed-size file header: bytes [0,8) hold the magic
// byte repeated, bytes [8,16) hold the RootIndex fpos as little-endian
// u64, and the remainder up to metaSize is reserved zero.

// writeMeta writes the MetaBlock at offset 0, given the current RootIndex
// file position.
func writeMeta(fs *fileSpace, rootFpos uint64) {
	var buf [metaSize]byte
	for i := 0; i < 8; i++ {
		buf[i] = metaMagicByte
	}
	putUint64LE(buf[8:16], rootFpos)
	fs.writeAt(buf[:], 0)
}

// readMeta reads and validates the MetaBlock, returning the RootIndex fpos.
// A short file or a magic mismatch is CorruptHeader and fails the open.
func readMeta(fs *fileSpace) (rootFpos uint64, err error) {
	if fs.cursor < metaSize {
		return 0, NewError(CorruptHeader)
	}
	var buf [metaSize]byte
	fs.readAt(buf[:], 0)
	for i := 0; i < 8; i++ {
		if buf[i] != metaMagicByte {
			return 0, NewError(CorruptHeader)
		}
	}
	return getUint64LE(buf[8:16]), nil
}
