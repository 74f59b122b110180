package resolver

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

var fileCacheMagic = [4]byte{'T', 'M', 'V', 'C'}

const fileCacheVersion uint32 = 1

// ErrModelMismatch reports a cache snapshot written for another model.
var ErrModelMismatch = errors.New("cache snapshot belongs to another model")

// FileVectorStore keeps a single little-endian binary snapshot on disk.
type FileVectorStore struct {
	Path string
}

// NewFileVectorStore returns a store writing to path.
func NewFileVectorStore(path string) *FileVectorStore {
	return &FileVectorStore{Path: path}
}

// SaveVectors writes the snapshot atomically through a temporary file.
func (s *FileVectorStore) SaveVectors(ctx context.Context, modelID string, vectors []CachedVector) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if dir := filepath.Dir(s.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create cache dir: %w", err)
		}
	}
	buf := &bytes.Buffer{}
	buf.Write(fileCacheMagic[:])
	_ = binary.Write(buf, binary.LittleEndian, fileCacheVersion)
	writeString(buf, modelID)
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(vectors)))
	for _, cv := range vectors {
		_ = binary.Write(buf, binary.LittleEndian, cv.Seq)
		writeString(buf, cv.Text)
		_ = binary.Write(buf, binary.LittleEndian, uint32(len(cv.Vector)))
		if err := binary.Write(buf, binary.LittleEndian, cv.Vector); err != nil {
			return err
		}
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write cache: %w", err)
	}
	return os.Rename(tmp, s.Path)
}

// LoadVectors reads the snapshot. A missing file yields no vectors.
func (s *FileVectorStore) LoadVectors(ctx context.Context, modelID string) ([]CachedVector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	r := bytes.NewReader(data)
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil || magic != fileCacheMagic {
		return nil, fmt.Errorf("cache file broken: %s", s.Path)
	}
	var version uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("cache truncated: %s", s.Path)
	}
	if version != fileCacheVersion {
		return nil, fmt.Errorf("cache version %d unsupported: %s", version, s.Path)
	}
	stored, err := readString(r)
	if err != nil {
		return nil, fmt.Errorf("cache truncated: %s", s.Path)
	}
	if stored != modelID {
		return nil, fmt.Errorf("%w: %q, want %q", ErrModelMismatch, stored, modelID)
	}
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("cache truncated: %s", s.Path)
	}
	out := make([]CachedVector, 0, min(count, uint32(r.Len()/16)))
	for i := uint32(0); i < count; i++ {
		var cv CachedVector
		if err := binary.Read(r, binary.LittleEndian, &cv.Seq); err != nil {
			return nil, fmt.Errorf("cache truncated: %s", s.Path)
		}
		if cv.Text, err = readString(r); err != nil {
			return nil, fmt.Errorf("cache truncated: %s", s.Path)
		}
		var dim uint32
		if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
			return nil, fmt.Errorf("cache truncated: %s", s.Path)
		}
		if uint64(dim)*4 > uint64(r.Len()) {
			return nil, fmt.Errorf("cache truncated: %s", s.Path)
		}
		cv.Vector = make([]float32, dim)
		if err := binary.Read(r, binary.LittleEndian, cv.Vector); err != nil {
			return nil, fmt.Errorf("cache truncated: %s", s.Path)
		}
		out = append(out, cv)
	}
	return out, nil
}

// Remove deletes the snapshot file if present.
func (s *FileVectorStore) Remove() error {
	if err := os.Remove(s.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func writeString(buf *bytes.Buffer, s string) {
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(s)))
	buf.WriteString(s)
}

// readString checks the length prefix against the unread bytes before allocating.
func readString(r *bytes.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	if uint64(n) > uint64(r.Len()) {
		return "", io.ErrUnexpectedEOF
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
