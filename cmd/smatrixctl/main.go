// Command smatrixctl is a small command-line driver for smatrixdb: incr,
// get-row, add-set, recommend, sync and gc against a single matrix file.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/asmuth/smatrixdb"
	"github.com/asmuth/smatrixdb/reco"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd, args := os.Args[1], os.Args[2:]

	var err error
	switch cmd {
	case "incr":
		err = runIncr(args)
	case "get-row":
		err = runGetRow(args)
	case "add-set":
		err = runAddSet(args)
	case "recommend":
		err = runRecommend(args)
	case "sync":
		err = runSync(args)
	case "gc":
		err = runGC(args)
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "smatrixctl %s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: smatrixctl <incr|get-row|add-set|recommend|sync|gc> [flags]")
}

func dbFlag(fs *flag.FlagSet) *string {
	return fs.String("db", "", "path to the matrix file (required)")
}

func openDB(path string) (*smatrixdb.Engine, error) {
	if path == "" {
		return nil, fmt.Errorf("--db is required")
	}
	return smatrixdb.Open(path)
}

func runIncr(args []string) error {
	fs := flag.NewFlagSet("incr", flag.ExitOnError)
	db := dbFlag(fs)
	x := fs.Uint32("x", 0, "row id")
	y := fs.Uint32("y", 0, "column id")
	delta := fs.Uint64("delta", 1, "amount to add (must be non-zero)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	e, err := openDB(*db)
	if err != nil {
		return err
	}
	defer e.Close()

	return e.Incr(*x, *y, *delta)
}

func runGetRow(args []string) error {
	fs := flag.NewFlagSet("get-row", flag.ExitOnError)
	db := dbFlag(fs)
	x := fs.Uint32("x", 0, "row id")
	if err := fs.Parse(args); err != nil {
		return err
	}

	e, err := openDB(*db)
	if err != nil {
		return err
	}
	defer e.Close()

	row, err := e.GetRow(*x)
	if err != nil {
		return err
	}

	fmt.Printf("row %d (cardinality=%d, %d cells)\n", row.RowID, row.Cardinality(), len(row.Cells))
	for _, c := range row.Cells {
		fmt.Printf("  %d -> %d\n", c.Column, c.Value)
	}
	return nil
}

func runAddSet(args []string) error {
	fs := flag.NewFlagSet("add-set", flag.ExitOnError)
	db := dbFlag(fs)
	idsFlag := fs.String("ids", "", "comma-separated list of row ids in the set")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ids, err := parseIDList(*idsFlag)
	if err != nil {
		return err
	}

	e, err := openDB(*db)
	if err != nil {
		return err
	}
	defer e.Close()

	return reco.AddSet(e, ids)
}

func runRecommend(args []string) error {
	fs := flag.NewFlagSet("recommend", flag.ExitOnError)
	db := dbFlag(fs)
	x := fs.Uint32("x", 0, "row id to recommend for")
	limit := fs.Int("limit", 10, "maximum results (0 = smatrixdb.MaxRowSize)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	e, err := openDB(*db)
	if err != nil {
		return err
	}
	defer e.Close()

	result, err := reco.Recommend(e, *x, *limit)
	if err != nil {
		return err
	}

	fmt.Printf("recommendations for %d (quality=%d)\n", result.RowID, result.Quality)
	for _, c := range result.Candidates {
		fmt.Printf("  %d  cosine=%.4f jaccard=%.4f\n", c.ID, c.Cosine, c.Jaccard)
	}
	return nil
}

func runSync(args []string) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	db := dbFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	e, err := openDB(*db)
	if err != nil {
		return err
	}
	defer e.Close()

	return e.Sync()
}

func runGC(args []string) error {
	fs := flag.NewFlagSet("gc", flag.ExitOnError)
	db := dbFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	e, err := openDB(*db)
	if err != nil {
		return err
	}
	defer e.Close()

	return e.GC()
}

func parseIDList(s string) ([]uint32, error) {
	if strings.TrimSpace(s) == "" {
		return nil, fmt.Errorf("--ids is required")
	}
	parts := strings.Split(s, ",")
	ids := make([]uint32, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q: %w", p, err)
		}
		ids = append(ids, uint32(v))
	}
	return ids, nil
}
