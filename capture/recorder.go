package capture

import (
	"encoding/binary"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/golang/snappy"
)

// Recorder keeps the most recent frames on disk as snappy-compressed raw
// dumps for post-hoc analysis of misclassifications. Enabled only in debug
// runs; recording failures are logged and never surfaced to callers.
type Recorder struct {
	dir    string
	keep   int
	logger *slog.Logger

	mu  sync.Mutex
	seq uint64
}

const dumpHeaderLen = 8 // width, height as uint32 LE

// NewRecorder creates a recorder that retains the last keep frames in dir.
func NewRecorder(dir string, keep int, logger *slog.Logger) *Recorder {
	if keep <= 0 {
		keep = 20
	}
	return &Recorder{dir: dir, keep: keep, logger: logger}
}

// Record writes the frame and prunes dumps beyond the retention count.
// Returns the path of the written dump.
func (r *Recorder) Record(f *Frame) (string, error) {
	if f == nil || f.RGBA() == nil {
		return "", fmt.Errorf("record: nil frame")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", err
	}
	img := f.RGBA()
	b := img.Bounds()
	raw := make([]byte, dumpHeaderLen+len(img.Pix))
	binary.LittleEndian.PutUint32(raw[0:4], uint32(b.Dx()))
	binary.LittleEndian.PutUint32(raw[4:8], uint32(b.Dy()))
	copy(raw[dumpHeaderLen:], img.Pix)

	r.seq++
	// zero-padded so the lexicographic prune order matches recording order
	name := fmt.Sprintf("frame-%d-%08d.rgba.sz", time.Now().Unix(), r.seq)
	path := filepath.Join(r.dir, name)
	if err := os.WriteFile(path, snappy.Encode(nil, raw), 0o644); err != nil {
		return "", err
	}
	r.prune()
	return path, nil
}

// prune removes the oldest dumps beyond the retention count. Best effort.
func (r *Recorder) prune() {
	entries, err := filepath.Glob(filepath.Join(r.dir, "frame-*.rgba.sz"))
	if err != nil || len(entries) <= r.keep {
		return
	}
	sort.Strings(entries)
	for _, old := range entries[:len(entries)-r.keep] {
		if err := os.Remove(old); err != nil && r.logger != nil {
			r.logger.Warn("frame dump prune failed", "path", old, "error", err)
		}
	}
}

// RecordedDumps lists the dump files present in dir, oldest first.
func RecordedDumps(dir string) ([]string, error) {
	entries, err := filepath.Glob(filepath.Join(dir, "frame-*.rgba.sz"))
	if err != nil {
		return nil, err
	}
	sort.Strings(entries)
	return entries, nil
}

// ReadDump decodes a dump written by Record.
func ReadDump(path string) (*Frame, error) {
	compressed, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	raw, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, fmt.Errorf("decode dump: %w", err)
	}
	if len(raw) < dumpHeaderLen {
		return nil, fmt.Errorf("dump too short: %d bytes", len(raw))
	}
	w := int(binary.LittleEndian.Uint32(raw[0:4]))
	h := int(binary.LittleEndian.Uint32(raw[4:8]))
	if w <= 0 || h <= 0 || len(raw)-dumpHeaderLen < w*h*4 {
		return nil, fmt.Errorf("dump header inconsistent with payload")
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	copy(img.Pix, raw[dumpHeaderLen:])
	return NewFrame(img, time.Time{}), nil
}
