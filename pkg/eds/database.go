package eds

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/marel/canmaster/pkg/canerr"
	"golang.org/x/sys/unix"
)

// Database is an append-only, immutable-after-load collection of Records.
// Once LoadAll returns, readers take no lock: Find and FindByName only ever
// range over the slice built during loading.
type Database struct {
	records []*Record
}

// LoadAll walks root, parsing every file whose final extension is ".eds"
// into a Record. A parse failure for one file is logged and skipped; it
// never fails the whole load. The number of files open concurrently is
// capped at half the process' file-descriptor rlimit (3, if the rlimit
// cannot be read), matching the budget a long-running master process
// reserves for its CAN socket, REST listener, and log file.
func LoadAll(root string, logger *slog.Logger) (*Database, error) {
	if logger == nil {
		logger = slog.Default()
	}
	budget := fdBudget()
	tokens := make(chan struct{}, budget)

	db := &Database{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logger.Warn("eds: walk error", "path", path, "error", err)
			return nil
		}
		if d.IsDir() || strings.ToLower(filepath.Ext(path)) != ".eds" {
			return nil
		}

		tokens <- struct{}{}
		defer func() { <-tokens }()

		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("eds: read failed", "path", path, "error", err)
			return nil
		}
		rec, err := Parse(data)
		if err != nil {
			parseErr := &canerr.EdsParseError{Path: path, Err: err}
			logger.Warn("eds: parse failed", "error", parseErr)
			return nil
		}
		db.records = append(db.records, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return db, nil
}

// fdBudget returns half of RLIMIT_NOFILE's current soft limit, or 3 if it
// cannot be read.
func fdBudget() int {
	var lim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &lim); err != nil {
		return 3
	}
	budget := int(lim.Cur / 2)
	if budget < 1 {
		return 3
	}
	return budget
}

// Find returns the record matching vendor, product, and (if given) nearest
// revision. A zero or negative field is a wildcard. Ties in revision
// distance resolve to the first encountered record; an exact match on all
// three fields returns immediately.
func (db *Database) Find(vendor, product int64, revision int64) (*Record, bool) {
	var best *Record
	bestDist := int64(-1)

	for _, rec := range db.records {
		if vendor > 0 && int64(rec.Vendor) != vendor {
			continue
		}
		if product > 0 && int64(rec.Product) != product {
			continue
		}
		if revision <= 0 {
			return rec, true
		}

		dist := revision - int64(rec.Revision)
		if dist < 0 {
			dist = -dist
		}
		if dist == 0 {
			return rec, true
		}
		if bestDist < 0 || dist < bestDist {
			best = rec
			bestDist = dist
		}
	}
	if best == nil {
		return nil, false
	}
	return best, true
}

// FindByName returns the record whose Name is the longest prefix of name.
func (db *Database) FindByName(name string) (*Record, bool) {
	candidates := make([]*Record, 0, len(db.records))
	for _, rec := range db.records {
		if strings.HasPrefix(name, rec.Name) {
			candidates = append(candidates, rec)
		}
	}
	if len(candidates) == 0 {
		return nil, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		return len(candidates[i].Name) > len(candidates[j].Name)
	})
	return candidates[0], true
}

// Len reports the number of loaded records.
func (db *Database) Len() int { return len(db.records) }
