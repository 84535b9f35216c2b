// This file provides JSONL read/write helpers with atomic persistence and the
// class definition export built on them.
package sqlite

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/flexi/pkg/types"
)

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
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
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

	w := bufio.NewWriter(tmp)
	for _, rec := range records {
		if _, err := w.Write(rec); err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return fmt.Errorf("writing record: %w", err)
		}
		if err := w.WriteByte('\n'); err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return fmt.Errorf("writing newline: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("flushing buffer: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("syncing temp file: %w", err)
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

// ExportClasses writes every class definition to classes.jsonl in dir (the
// data directory when dir is empty) and returns the number of records.
func (b *Backend) ExportClasses(ctx context.Context, dir string) (int, error) {
	if dir == "" {
		dir = b.Config().DataDir
	}

	var records []json.RawMessage
	now := time.Now().UTC().Format(time.RFC3339)
	err := b.WithTx(ctx, func(s *Store) error {
		classes, err := s.ListClasses(ctx)
		if err != nil {
			return err
		}
		for _, cls := range classes {
			rec := classJSON{
				RecordID:   generateUUID(),
				ClassID:    cls.ClassID,
				Name:       cls.Name,
				Ctlo:       cls.Ctlo,
				Properties: make(map[string]*types.PropertyDefinition, len(cls.Properties)),
				Ctlv:       make(map[string]int64, len(cls.Properties)),
				ExportedAt: now,
			}
			for _, p := range cls.Properties {
				rec.Properties[p.Name] = p
				rec.Ctlv[p.Name] = p.Ctlv
			}
			for i, id := range cls.Columns {
				if p, ok := cls.Properties[id]; ok {
					rec.Columns[i] = p.Name
				}
			}
			raw, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("encoding class %s: %w", cls.Name, err)
			}
			records = append(records, raw)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, err
	}
	path := filepath.Join(dir, ClassesJSONL)
	if err := writeJSONL(path, records); err != nil {
		return 0, err
	}
	b.logger.Info("classes exported", zap.String("path", path), zap.Int("classes", len(records)))
	return len(records), nil
}

// readClassExport parses a classes.jsonl file.
func readClassExport(path string) ([]classJSON, error) {
	raws, err := readJSONL(path)
	if err != nil {
		return nil, err
	}
	out := make([]classJSON, 0, len(raws))
	for _, raw := range raws {
		var rec classJSON
		if err := json.Unmarshal(raw, &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
