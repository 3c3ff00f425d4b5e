// Package ledger implements the FillLedger: a durable, append-only record of
// every fill, one self-contained JSON line per record, bounded by size-based
// rotation with an archival tier. Grounded on the append-only JSONL design of
// the source material's metrics/ledger.py, adapted to Go's synchronous file
// I/O and fsync-backed Append.
package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"hl-market-maker/internal/trading"
)

// Fill is the persisted representation of a single fill. Numerics are
// decimal-stringified on the wire to preserve precision across a JSON round
// trip.
type Fill struct {
	TS             time.Time       `json:"ts"`
	Market         string          `json:"market"`
	Side           trading.Side    `json:"side"`
	Role           trading.Role    `json:"role"`
	Size           decimal.Decimal `json:"size"`
	Price          decimal.Decimal `json:"price"`
	Fee            decimal.Decimal `json:"fee"`
	QuoteDelta     decimal.Decimal `json:"quote_delta"`
	InventoryAfter decimal.Decimal `json:"inventory_after"`
	OrderID        string          `json:"order_id,omitempty"`
	FillSequence   int64           `json:"fill_sequence,omitempty"`
}

// SignedSize returns the fill's size signed by side: bid = +size, ask = -size.
func (f Fill) SignedSize() decimal.Decimal {
	if f.Side == trading.SideAsk {
		return f.Size.Neg()
	}
	return f.Size
}

// Ledger is the append-only FillLedger.
type Ledger struct {
	mu         sync.Mutex
	path       string
	archiveDir string
	maxBytes   int64

	file    *os.File
	writer  *bufio.Writer
	pending []Fill // buffered fills that failed to flush, retried on next Append
}

// Open opens (creating if necessary) the live ledger segment at path.
// archiveDir may be empty, in which case rotation truncates instead of
// archiving (best-effort, matches the source's fallback behavior).
func Open(path, archiveDir string, maxBytes int64) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ledger: create dir: %w", err)
	}
	if archiveDir != "" {
		if err := os.MkdirAll(archiveDir, 0o755); err != nil {
			return nil, fmt.Errorf("ledger: create archive dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("ledger: open: %w", err)
	}
	return &Ledger{
		path:       path,
		archiveDir: archiveDir,
		maxBytes:   maxBytes,
		file:       f,
		writer:     bufio.NewWriter(f),
	}, nil
}

// Append writes fill synchronously, flushing to stable storage before
// returning success. On I/O failure the fill is retained in an in-memory
// queue and retried on the next Append call; callers are expected to surface
// PendingCount() to the Guard so maker quoting can be suspended until the
// queue drains.
func (l *Ledger) Append(fill Fill) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.rotateIfNeededLocked(); err != nil {
		l.pending = append(l.pending, fill)
		return fmt.Errorf("ledger: rotate: %w", err)
	}

	toWrite := append(l.pending, fill)
	var failedAt int
	for i, f := range toWrite {
		if err := l.writeLineLocked(f); err != nil {
			failedAt = i
			l.pending = toWrite[failedAt:]
			return fmt.Errorf("ledger: append: %w", err)
		}
	}
	l.pending = nil
	return nil
}

// PendingCount reports how many fills are buffered in memory awaiting a
// successful flush.
func (l *Ledger) PendingCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

func (l *Ledger) writeLineLocked(f Fill) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return err
	}
	if _, err := l.writer.Write(payload); err != nil {
		return err
	}
	if err := l.writer.WriteByte('\n'); err != nil {
		return err
	}
	if err := l.writer.Flush(); err != nil {
		return err
	}
	return l.file.Sync()
}

// rotateIfNeededLocked moves the current segment to the archive dir (or
// truncates it, if no archive dir is configured) once it exceeds maxBytes.
func (l *Ledger) rotateIfNeededLocked() error {
	if l.maxBytes <= 0 {
		return nil
	}
	info, err := l.file.Stat()
	if err != nil {
		return err
	}
	if info.Size() < l.maxBytes {
		return nil
	}
	return l.rotateLocked()
}

func (l *Ledger) rotateLocked() error {
	if err := l.writer.Flush(); err != nil {
		return err
	}
	if err := l.file.Close(); err != nil {
		return err
	}
	if l.archiveDir != "" {
		ts := time.Now().UTC().Format("20060102T150405Z")
		archivePath := filepath.Join(l.archiveDir, fmt.Sprintf("fills-%s.jsonl", ts))
		if err := os.Rename(l.path, archivePath); err != nil {
			return err
		}
	} else {
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	l.file = f
	l.writer = bufio.NewWriter(f)
	return nil
}

// Rotate forces a rotation regardless of current size.
func (l *Ledger) Rotate() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rotateLocked()
}

// Close flushes and closes the live segment.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.writer.Flush(); err != nil {
		return err
	}
	return l.file.Close()
}

// ReadAll iterates every fill across every archived segment (in timestamp
// order) followed by the live segment. Used at startup to rebuild the
// PnLCompositor via Replay.
func (l *Ledger) ReadAll() ([]Fill, error) {
	return l.ReadWindow(time.Time{}, time.Time{})
}

// ReadWindow iterates fills with ts in [start, end], across every archived
// segment (in timestamp order) followed by the live segment. A zero start or
// end means "unbounded" on that side.
func (l *Ledger) ReadWindow(start, end time.Time) ([]Fill, error) {
	l.mu.Lock()
	if err := l.writer.Flush(); err != nil {
		l.mu.Unlock()
		return nil, err
	}
	segments, err := l.archivedSegmentsLocked()
	path := l.path
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}
	segments = append(segments, path)

	var out []Fill
	for _, seg := range segments {
		fills, err := readSegment(seg, start, end)
		if err != nil {
			return out, err
		}
		out = append(out, fills...)
	}
	return out, nil
}

// archivedSegmentsLocked lists archiveDir's fill segments oldest-first, by
// the "20060102T150405Z" timestamp rotateLocked encodes into each filename.
func (l *Ledger) archivedSegmentsLocked() ([]string, error) {
	if l.archiveDir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(l.archiveDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names) // "fills-<RFC3339-ish>.jsonl" sorts lexically by time
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(l.archiveDir, name))
	}
	return out, nil
}

func readSegment(path string, start, end time.Time) ([]Fill, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []Fill
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var fill Fill
		if err := json.Unmarshal(line, &fill); err != nil {
			// Truncated trailing line at a crash boundary: stop reading
			// rather than failing the whole replay.
			break
		}
		if !start.IsZero() && fill.TS.Before(start) {
			continue
		}
		if !end.IsZero() && fill.TS.After(end) {
			continue
		}
		out = append(out, fill)
	}
	if err := scanner.Err(); err != nil {
		return out, err
	}
	return out, nil
}
