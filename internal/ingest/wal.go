// Package ingest provides the durable write path in front of the chunk
// store: rows are appended to a write-ahead log and acknowledged, then a
// background flusher folds them into sorted, published chunks. The WAL is
// the only mutable on-disk state in the engine; everything downstream of a
// flush is an immutable chunk.
package ingest

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/tesseradb/tessera/pkg/types"
)

// Entry is one acknowledged append: a batch of rows bound for one table.
type Entry struct {
	LSN       uint64      `json:"lsn"`
	Table     string      `json:"table"`
	Rows      []types.Row `json:"rows"`
	Timestamp int64       `json:"timestamp"`
}

// WAL is a segmented write-ahead log. Appends are serialized, framed as
// [length:4][crc32:4][json payload] and fsynced before the LSN is returned.
type WAL struct {
	dir        string
	segment    *os.File
	segmentID  uint64
	offset     int64
	maxSegSize int64
	currentLSN uint64
	mu         sync.Mutex
}

const segmentPrefix = "wal_"

// NewWAL opens (or creates) a log under dir, resuming the LSN sequence from
// the last entry of the newest segment.
func NewWAL(dir string, maxSegSize int64) (*WAL, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("ingest: failed to create wal directory: %w", err)
	}
	w := &WAL{dir: dir, maxSegSize: maxSegSize}
	if err := w.recoverPosition(); err != nil {
		return nil, err
	}
	if err := w.openSegment(); err != nil {
		return nil, err
	}
	return w, nil
}

func segmentName(id uint64) string {
	return fmt.Sprintf("%s%016x.log", segmentPrefix, id)
}

// recoverPosition finds the newest segment and the last LSN it holds.
func (w *WAL) recoverPosition() error {
	ids, err := listSegmentIDs(w.dir)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	w.segmentID = ids[len(ids)-1]

	entries, err := ReadSegment(filepath.Join(w.dir, segmentName(w.segmentID)))
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		w.currentLSN = entries[len(entries)-1].LSN
	}
	return nil
}

func (w *WAL) openSegment() error {
	f, err := os.OpenFile(filepath.Join(w.dir, segmentName(w.segmentID)), os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("ingest: failed to open wal segment: %w", err)
	}
	offset, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		f.Close()
		return fmt.Errorf("ingest: failed to seek wal segment: %w", err)
	}
	w.segment = f
	w.offset = offset
	return nil
}

// Append durably logs a row batch for the table and returns its LSN. The
// rows are owned by the log after the call.
func (w *WAL) Append(table string, rows []types.Row) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.currentLSN++
	entry := Entry{
		LSN:       w.currentLSN,
		Table:     table,
		Rows:      rows,
		Timestamp: time.Now().UnixNano(),
	}
	payload, err := json.Marshal(&entry)
	if err != nil {
		return 0, fmt.Errorf("ingest: failed to encode wal entry: %w", err)
	}

	var frame [8]byte
	binary.LittleEndian.PutUint32(frame[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(frame[4:8], crc32.ChecksumIEEE(payload))
	if _, err := w.segment.Write(frame[:]); err != nil {
		return 0, fmt.Errorf("ingest: failed to write wal frame: %w", err)
	}
	if _, err := w.segment.Write(payload); err != nil {
		return 0, fmt.Errorf("ingest: failed to write wal payload: %w", err)
	}
	if err := w.segment.Sync(); err != nil {
		return 0, fmt.Errorf("ingest: failed to fsync wal: %w", err)
	}
	w.offset += int64(len(frame) + len(payload))

	if w.offset >= w.maxSegSize {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}
	return entry.LSN, nil
}

// rotate closes the active segment and starts the next one. Callers hold mu.
func (w *WAL) rotate() error {
	if err := w.segment.Close(); err != nil {
		return fmt.Errorf("ingest: failed to close wal segment: %w", err)
	}
	w.segmentID++
	return w.openSegment()
}

// CurrentLSN returns the last acknowledged LSN.
func (w *WAL) CurrentLSN() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentLSN
}

// ActiveSegmentID returns the id of the segment currently appended to.
func (w *WAL) ActiveSegmentID() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.segmentID
}

// Close fsyncs and closes the active segment.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.segment == nil {
		return nil
	}
	if err := w.segment.Sync(); err != nil {
		w.segment.Close()
		return fmt.Errorf("ingest: failed to fsync wal on close: %w", err)
	}
	err := w.segment.Close()
	w.segment = nil
	return err
}

// ReadSegment decodes every intact entry of one segment. A truncated tail
// (the torn last write of a crash) ends the scan silently; an entry whose
// checksum disagrees is skipped.
func ReadSegment(path string) ([]*Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ingest: failed to open wal segment: %w", err)
	}
	defer f.Close()

	var entries []*Entry
	var frame [8]byte
	for {
		if _, err := io.ReadFull(f, frame[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return entries, nil
			}
			return nil, fmt.Errorf("ingest: failed to read wal frame: %w", err)
		}
		length := binary.LittleEndian.Uint32(frame[0:4])
		sum := binary.LittleEndian.Uint32(frame[4:8])

		payload := make([]byte, length)
		if _, err := io.ReadFull(f, payload); err != nil {
			return entries, nil // torn tail
		}
		if crc32.ChecksumIEEE(payload) != sum {
			log.Printf("ingest: checksum mismatch in %s, skipping entry", filepath.Base(path))
			continue
		}
		var entry Entry
		if err := json.Unmarshal(payload, &entry); err != nil {
			log.Printf("ingest: undecodable entry in %s, skipping", filepath.Base(path))
			continue
		}
		entries = append(entries, &entry)
	}
}

// listSegmentIDs returns the segment ids present in dir, ascending.
func listSegmentIDs(dir string) ([]uint64, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("ingest: failed to read wal directory: %w", err)
	}
	var ids []uint64
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		var id uint64
		if _, err := fmt.Sscanf(f.Name(), segmentPrefix+"%016x.log", &id); err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
