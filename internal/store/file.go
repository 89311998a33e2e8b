package store

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog/log"
	"github.com/zeebo/blake3"

	"github.com/danmuck/edgedlt/internal/engine"
)

const envelopeVersion = 1

// envelope wraps the raw engine snapshot on disk. The digest covers the
// snapshot bytes only.
type envelope struct {
	Version  uint8     `cbor:"1,keyasint"`
	Written  time.Time `cbor:"2,keyasint"`
	Snapshot []byte    `cbor:"3,keyasint"`
	Digest   []byte    `cbor:"4,keyasint"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("store: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("store: CBOR decoder initialization failed: " + err.Error())
	}
}

var _ engine.PersistentStore = (*File)(nil)

// File persists the snapshot in a single file, replaced atomically on
// every write.
type File struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

func NewFile(path string) *File {
	return &File{path: path, now: time.Now}
}

func (f *File) Path() string {
	return f.path
}

func (f *File) Read() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, engine.ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("store: read %s: %w", f.path, err)
	}
	var env envelope
	if err := decMode.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if env.Version != envelopeVersion {
		return nil, fmt.Errorf("%w: version %d", ErrCorrupt, env.Version)
	}
	sum := blake3.Sum256(env.Snapshot)
	if !bytes.Equal(sum[:], env.Digest) {
		return nil, ErrDigest
	}
	return env.Snapshot, nil
}

func (f *File) Write(b []byte) error {
	sum := blake3.Sum256(b)
	data, err := encMode.Marshal(envelope{
		Version:  envelopeVersion,
		Written:  f.now().UTC(),
		Snapshot: b,
		Digest:   sum[:],
	})
	if err != nil {
		return fmt.Errorf("store: encode envelope: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("store: create directory: %w", err)
	}
	tmp := f.path + ".tmp"
	file, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("store: create temporary file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("store: write temporary file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("store: sync temporary file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("store: close temporary file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("store: rename into place: %w", err)
	}
	if dir, err := os.Open(filepath.Dir(f.path)); err == nil {
		dir.Sync()
		dir.Close()
	}
	log.Debug().Str("path", f.path).Int("bytes", len(b)).Msg("snapshot written")
	return nil
}

// Invalidate removes the stored snapshot. A missing file is not an error.
func (f *File) Invalidate() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("store: remove %s: %w", f.path, err)
	}
	log.Debug().Str("path", f.path).Msg("snapshot invalidated")
	return nil
}
