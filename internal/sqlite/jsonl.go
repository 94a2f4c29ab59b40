package sqlite

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mesh-intelligence/questbook/pkg/types"
)

// record is one exported document line.
type record struct {
	ID        string          `json:"id"`
	Version   int64           `json:"version,omitempty"`
	UpdatedAt time.Time       `json:"updated_at,omitzero"`
	Body      json.RawMessage `json:"body"`
}

// Export writes every collection of store to <dir>/<collection>.jsonl, one
// document per line ordered by id. Each file is replaced atomically.
func Export(ctx context.Context, store types.DocumentStore, dir string) (int, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create export dir: %w", err)
	}
	total := 0
	for _, collection := range types.StandardCollections {
		docs, err := store.List(ctx, collection)
		if err != nil {
			return total, err
		}
		lines := make([]json.RawMessage, 0, len(docs))
		for _, d := range docs {
			line, err := json.Marshal(record{
				ID:        d.Ref.ID,
				Version:   d.Version,
				UpdatedAt: d.UpdatedAt,
				Body:      d.Body,
			})
			if err != nil {
				return total, fmt.Errorf("encode %s: %w", d.Ref, err)
			}
			lines = append(lines, line)
		}
		if err := writeJSONL(filepath.Join(dir, collection+".jsonl"), lines); err != nil {
			return total, err
		}
		total += len(docs)
	}
	return total, nil
}

// Import loads <dir>/<collection>.jsonl files into store, one transaction per
// collection. Missing files are skipped, as are malformed lines and lines
// without an id. Imported documents replace existing ones with the same id.
func Import(ctx context.Context, store types.DocumentStore, dir string) (int, error) {
	total := 0
	for _, collection := range types.StandardCollections {
		lines, err := readJSONL(filepath.Join(dir, collection+".jsonl"))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return total, err
		}

		var recs []record
		for _, line := range lines {
			var rec record
			if err := json.Unmarshal(line, &rec); err != nil {
				continue
			}
			if strings.TrimSpace(rec.ID) == "" || len(rec.Body) == 0 || !json.Valid(rec.Body) {
				continue
			}
			recs = append(recs, rec)
		}
		if len(recs) == 0 {
			continue
		}

		err = store.RunTx(ctx, func(tx types.Tx) error {
			for _, rec := range recs {
				if err := tx.Set(types.DocRef{Collection: collection, ID: rec.ID}, rec.Body); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return total, fmt.Errorf("import %s: %w", collection, err)
		}
		total += len(recs)
	}
	return total, nil
}

// readJSONL reads a JSONL file and returns each non-empty, parseable line as
// a json.RawMessage. Malformed lines are skipped.
func readJSONL(path string) ([]json.RawMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var records []json.RawMessage
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 || !json.Valid(line) {
			continue
		}
		cp := make([]byte, len(line))
		copy(cp, line)
		records = append(records, json.RawMessage(cp))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning %s: %w", path, err)
	}
	return records, nil
}

// writeJSONL atomically writes records to a JSONL file using the temp-file,
// fsync, rename pattern.
func writeJSONL(path string, records []json.RawMessage) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".jsonl-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	fail := func(format string, err error) error {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf(format, err)
	}

	w := bufio.NewWriter(tmp)
	for _, rec := range records {
		if _, err := w.Write(rec); err != nil {
			return fail("writing record: %w", err)
		}
		if err := w.WriteByte('\n'); err != nil {
			return fail("writing newline: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fail("flushing buffer: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
