package smatrixdb

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func openTemp(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.smatrix")
	e, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return e
}

func TestOpenEmptyThenSync(t *testing.T) {
	e := openTemp(t)
	defer e.Close()

	if err := e.Sync(); err != nil {
		t.Fatalf("Sync on empty engine failed: %v", err)
	}

	if _, err := e.GetRow(1); err == nil {
		t.Fatal("expected NotFound on a row never written")
	}
}

func TestSingleCellRoundTrip(t *testing.T) {
	e := openTemp(t)
	defer e.Close()

	if err := e.Incr(1, 2, 5); err != nil {
		t.Fatalf("Incr failed: %v", err)
	}

	row, err := e.GetRow(1)
	if err != nil {
		t.Fatalf("GetRow failed: %v", err)
	}
	v, ok := row.Get(2)
	if !ok || v != 5 {
		t.Fatalf("expected cell (1,2)=5, got ok=%v v=%d", ok, v)
	}

	if err := e.Incr(1, 2, 3); err != nil {
		t.Fatalf("second Incr failed: %v", err)
	}
	row, err = e.GetRow(1)
	if err != nil {
		t.Fatalf("GetRow after second incr failed: %v", err)
	}
	v, ok = row.Get(2)
	if !ok || v != 8 {
		t.Fatalf("expected cell (1,2)=8 after accumulation, got ok=%v v=%d", ok, v)
	}
}

func TestRoundTripSurvivesClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.smatrix")

	e1, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := e1.Incr(10, 20, 7); err != nil {
		t.Fatalf("Incr failed: %v", err)
	}
	if err := e1.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	e2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer e2.Close()

	row, err := e2.GetRow(10)
	if err != nil {
		t.Fatalf("GetRow after reopen failed: %v", err)
	}
	v, ok := row.Get(20)
	if !ok || v != 7 {
		t.Fatalf("expected cell (10,20)=7 after reopen, got ok=%v v=%d", ok, v)
	}
}

func TestIncrAfterSyncPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.smatrix")

	e1, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := e1.Incr(3, 4, 1); err != nil {
		t.Fatalf("first Incr failed: %v", err)
	}
	if err := e1.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	// The slot is clean after the sync; the second increment must re-dirty
	// it so the close-time flush picks it up again.
	if err := e1.Incr(3, 4, 1); err != nil {
		t.Fatalf("second Incr failed: %v", err)
	}
	if err := e1.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	e2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer e2.Close()

	row, err := e2.GetRow(3)
	if err != nil {
		t.Fatalf("GetRow after reopen failed: %v", err)
	}
	if v, _ := row.Get(4); v != 2 {
		t.Fatalf("expected cell (3,4)=2 after reopen, got %d", v)
	}
}

func TestSyncIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.smatrix")

	e, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer e.Close()

	for y := uint32(0); y < 30; y++ {
		if err := e.Incr(1, y, uint64(y)+1); err != nil {
			t.Fatalf("Incr failed: %v", err)
		}
	}

	if err := e.Sync(); err != nil {
		t.Fatalf("first Sync failed: %v", err)
	}
	first, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}

	if err := e.Sync(); err != nil {
		t.Fatalf("second Sync failed: %v", err)
	}
	second, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}

	if !bytes.Equal(first, second) {
		t.Fatal("sync;sync must produce a file identical to sync alone")
	}
}

func TestBoundaryIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.smatrix")

	e1, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := e1.Incr(0, 0, 1); err != nil {
		t.Fatalf("Incr(0,0) failed: %v", err)
	}
	if err := e1.Incr(math.MaxUint32, math.MaxUint32, 1); err != nil {
		t.Fatalf("Incr(max,max) failed: %v", err)
	}
	if err := e1.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	e2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer e2.Close()

	row, err := e2.GetRow(0)
	if err != nil {
		t.Fatalf("GetRow(0) failed: %v", err)
	}
	if v, ok := row.Get(0); !ok || v != 1 {
		t.Fatalf("expected cell (0,0)=1, got ok=%v v=%d", ok, v)
	}
	row, err = e2.GetRow(math.MaxUint32)
	if err != nil {
		t.Fatalf("GetRow(max) failed: %v", err)
	}
	if v, ok := row.Get(math.MaxUint32); !ok || v != 1 {
		t.Fatalf("expected cell (max,max)=1, got ok=%v v=%d", ok, v)
	}
}

func TestCorruptHeaderFailsOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.smatrix")
	if err := os.WriteFile(path, bytes.Repeat([]byte{0xfe}, 256), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	_, err := Open(path)
	if !errors.Is(err, ErrCorruptHeader) {
		t.Fatalf("expected CorruptHeader, got %v", err)
	}
}

func TestRowGrowsPastInitialCapacity(t *testing.T) {
	e := openTemp(t, WithInitialRowSize(4))
	defer e.Close()

	const n = 200
	for y := uint32(0); y < n; y++ {
		if err := e.Incr(1, y, uint64(y)); err != nil {
			t.Fatalf("Incr(1, %d) failed: %v", y, err)
		}
	}

	row, err := e.GetRow(1)
	if err != nil {
		t.Fatalf("GetRow failed: %v", err)
	}
	if len(row.Cells) != n {
		t.Fatalf("expected %d cells, got %d", n, len(row.Cells))
	}
	for y := uint32(0); y < n; y++ {
		v, ok := row.Get(y)
		if !ok || v != uint64(y) {
			t.Fatalf("cell (1,%d): expected %d, got ok=%v v=%d", y, y, ok, v)
		}
	}
}

func TestRootGrowsPastInitialCapacity(t *testing.T) {
	e := openTemp(t, WithInitialRootSize(4))
	defer e.Close()

	const n = 500
	for x := uint32(0); x < n; x++ {
		if err := e.Incr(x, 0, 1); err != nil {
			t.Fatalf("Incr(%d, 0) failed: %v", x, err)
		}
	}

	for x := uint32(0); x < n; x++ {
		row, err := e.GetRow(x)
		if err != nil {
			t.Fatalf("GetRow(%d) failed: %v", x, err)
		}
		if row.Cardinality() != 1 {
			t.Fatalf("row %d: expected cardinality 1, got %d", x, row.Cardinality())
		}
	}
}

func TestGCRoundTrip(t *testing.T) {
	e := openTemp(t)
	defer e.Close()

	for x := uint32(0); x < 20; x++ {
		if err := e.Incr(x, x+1, 1); err != nil {
			t.Fatalf("Incr failed: %v", err)
		}
	}

	if err := e.GC(); err != nil {
		t.Fatalf("GC failed: %v", err)
	}

	for x := uint32(0); x < 20; x++ {
		row, err := e.GetRow(x)
		if err != nil {
			t.Fatalf("GetRow(%d) after GC failed: %v", x, err)
		}
		v, ok := row.Get(x + 1)
		if !ok || v != 1 {
			t.Fatalf("row %d after GC: expected cell %d=1, got ok=%v v=%d", x, x+1, ok, v)
		}
	}
}

func TestConcurrentDisjointRows(t *testing.T) {
	e := openTemp(t)
	defer e.Close()

	const numRows = 50
	const incrPerRow = 100

	var wg sync.WaitGroup
	for x := uint32(0); x < numRows; x++ {
		wg.Add(1)
		go func(x uint32) {
			defer wg.Done()
			for i := 0; i < incrPerRow; i++ {
				if err := e.Incr(x, 1, 1); err != nil {
					t.Errorf("Incr(%d) failed: %v", x, err)
				}
			}
		}(x)
	}
	wg.Wait()

	for x := uint32(0); x < numRows; x++ {
		row, err := e.GetRow(x)
		if err != nil {
			t.Fatalf("GetRow(%d) failed: %v", x, err)
		}
		v, _ := row.Get(1)
		if v != incrPerRow {
			t.Errorf("row %d: expected %d, got %d", x, incrPerRow, v)
		}
	}
}

// Growing rows force file remaps while sync and gc walk other rows; the
// mapping must stay stable under every interleaving.
func TestConcurrentGrowthSyncAndGC(t *testing.T) {
	e := openTemp(t, WithInitialRootSize(4), WithInitialRowSize(4))
	defer e.Close()

	const numRows = 8
	const colsPerRow = 300

	var writers sync.WaitGroup
	for x := uint32(0); x < numRows; x++ {
		writers.Add(1)
		go func(x uint32) {
			defer writers.Done()
			for y := uint32(0); y < colsPerRow; y++ {
				if err := e.Incr(x, y+1, 1); err != nil {
					t.Errorf("Incr(%d, %d) failed: %v", x, y+1, err)
					return
				}
			}
		}(x)
	}

	done := make(chan struct{})
	var bg sync.WaitGroup
	bg.Add(2)
	go func() {
		defer bg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			if err := e.Sync(); err != nil {
				t.Errorf("Sync failed: %v", err)
				return
			}
		}
	}()
	go func() {
		defer bg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			if err := e.GC(); err != nil {
				t.Errorf("GC failed: %v", err)
				return
			}
		}
	}()

	writers.Wait()
	close(done)
	bg.Wait()

	for x := uint32(0); x < numRows; x++ {
		row, err := e.GetRow(x)
		if err != nil {
			t.Fatalf("GetRow(%d) failed: %v", x, err)
		}
		for y := uint32(0); y < colsPerRow; y++ {
			if v, ok := row.Get(y + 1); !ok || v != 1 {
				t.Fatalf("cell (%d,%d): expected 1, got ok=%v v=%d", x, y+1, ok, v)
			}
		}
	}
}

func TestConcurrentSameCell(t *testing.T) {
	e := openTemp(t)
	defer e.Close()

	const numGoroutines = 32
	const incrPerGoroutine = 200

	var wg sync.WaitGroup
	for g := 0; g < numGoroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < incrPerGoroutine; i++ {
				if err := e.Incr(1, 1, 1); err != nil {
					t.Errorf("Incr failed: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	row, err := e.GetRow(1)
	if err != nil {
		t.Fatalf("GetRow failed: %v", err)
	}
	v, ok := row.Get(1)
	want := uint64(numGoroutines * incrPerGoroutine)
	if !ok || v != want {
		t.Fatalf("expected cell (1,1)=%d, got ok=%v v=%d", want, ok, v)
	}
}

func TestPoisonedEngineFailsFast(t *testing.T) {
	e := openTemp(t)
	defer e.Close()

	e.poisoned.Store(true)

	if err := e.Incr(1, 2, 1); err == nil {
		t.Fatal("expected error from poisoned engine")
	}
	if _, err := e.GetRow(1); err == nil {
		t.Fatal("expected error from poisoned engine")
	}
	if err := e.Sync(); err == nil {
		t.Fatal("expected error from poisoned engine")
	}
	if err := e.GC(); err == nil {
		t.Fatal("expected error from poisoned engine")
	}
}

func TestZeroDeltaRejected(t *testing.T) {
	e := openTemp(t)
	defer e.Close()

	if err := e.Incr(1, 2, 0); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected InvalidArgument for zero delta, got %v", err)
	}
	if _, err := e.GetRow(1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("rejected Incr must not create the row, got %v", err)
	}
}

func TestZeroInitialSizeRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.smatrix")

	_, err := Open(path, WithInitialRowSize(0))
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestNotFoundRow(t *testing.T) {
	e := openTemp(t)
	defer e.Close()

	_, err := e.GetRow(999)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}
