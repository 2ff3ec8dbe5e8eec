// Package smatrixdb is a persistent sparse 32-bit integer matrix engine.
//
// It stores a very large sparse matrix M where M[x][y] is an unsigned
// 64-bit counter, under concurrent readers and writers, as the substrate
// for collaborative-filtering co-occurrence counting and similarity
// retrieval (see the sibling reco package).
//
// The storage model is a two-level open-addressed hash index: an outer
// RootIndex keyed by row id x, whose slots point at inner RowIndex tables
// keyed by column id y, whose slots hold the u64 counters. Both levels are
// persisted in a single append-oriented file and can be swapped out of
// memory under GC pressure and reloaded on next access.
//
// Basic usage:
//
//	eng, err := smatrixdb.Open("matrix.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Close()
//
//	if err := eng.Incr(7, 42, 1); err != nil {
//	    log.Fatal(err)
//	}
//
//	row, err := eng.GetRow(7)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, cell := range row.Cells {
//	    fmt.Println(cell.Column, cell.Value)
//	}
package smatrixdb
