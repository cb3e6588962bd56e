package ledger

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/s2coastalbot/s2coastalbot/service"
)

// timeLayout is the timestamp format of the ledger file
const timeLayout = "2006-01-02T15:04:05"

var header = []string{"date", "product"}

// Entry is one processed product of the ledger
type Entry struct {
	Date    time.Time
	Product string
}

// History is an append-only ledger of processed product names, backed by a
// two-column CSV file. The file is read once when opened; the snapshot is
// what novelty checks run against. Single writer only.
type History struct {
	path    string
	entries []Entry
	names   service.StringSet
}

// Open reads the ledger snapshot from path. A missing file yields an empty
// history; the file is created on first append.
func Open(path string) (*History, error) {
	h := &History{path: path, names: service.StringSet{}}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return h, nil
	}
	if err != nil {
		return nil, fmt.Errorf("History.Open: %w", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("History.Open.ReadAll: %w", err)
	}
	for i, record := range records {
		if i == 0 && len(record) > 0 && record[0] == header[0] {
			continue
		}
		if len(record) != 2 {
			return nil, fmt.Errorf("History.Open: malformed record %d: %v", i, record)
		}
		date, err := time.Parse(timeLayout, record[0])
		if err != nil {
			return nil, fmt.Errorf("History.Open: record %d: %w", i, err)
		}
		h.entries = append(h.entries, Entry{Date: date, Product: record[1]})
		h.names.Push(record[1])
	}
	return h, nil
}

// Entries returns the snapshot entries in file order.
func (h *History) Entries() []Entry {
	return h.entries
}

// Contains reports whether the product is already in the snapshot.
// A trailing .SAFE extension is ignored on both sides.
func (h *History) Contains(product string) bool {
	return h.names.Exists(strings.TrimSuffix(product, ".SAFE"))
}

// Append records a processed product, creating the file (with its header row)
// if needed. The in-memory snapshot is updated as well.
func (h *History) Append(date time.Time, product string) error {
	product = strings.TrimSuffix(product, ".SAFE")

	writeHeader := false
	if _, err := os.Stat(h.path); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(h.path), 0766); err != nil {
			return fmt.Errorf("History.Append: %w", err)
		}
		writeHeader = true
	}

	f, err := os.OpenFile(h.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("History.Append: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if writeHeader {
		if err := w.Write(header); err != nil {
			return fmt.Errorf("History.Append.Write: %w", err)
		}
	}
	if err := w.Write([]string{date.Format(timeLayout), product}); err != nil {
		return fmt.Errorf("History.Append.Write: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("History.Append.Flush: %w", err)
	}

	h.entries = append(h.entries, Entry{Date: date, Product: product})
	h.names.Push(product)
	return nil
}
