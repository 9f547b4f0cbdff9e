package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/spf13/afero"
)

var (
	ErrNoSession   = errors.New("no session")
	ErrEmptyFile   = errors.New("empty file")
	ErrInvalidName = errors.New("invalid file name")
)

// WriteGzipJSON encodes v as gzip compressed JSON and replaces path
// atomically, so readers never see a partially written file.
func WriteGzipJSON(fs afero.Fs, path string, v any) error {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if err := json.NewEncoder(gz).Encode(v); err != nil {
		gz.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	return writeAtomic(fs, path, buf.Bytes())
}

// ReadGzipJSON decodes a file written by WriteGzipJSON.
func ReadGzipJSON(fs afero.Fs, path string, v any) error {
	f, err := fs.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%s: %w", path, ErrEmptyFile)
		}
		return fmt.Errorf("failed to create gzip reader for %s: %w", path, err)
	}
	defer gz.Close()
	if err := json.NewDecoder(gz).Decode(v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

// WriteJSON stores v as indented plain JSON (pattern and synthesized stores).
func WriteJSON(fs afero.Fs, path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(fs, path, data)
}

// ReadJSON decodes path into v. A missing file reports fs.ErrNotExist.
func ReadJSON(fs afero.Fs, path string, v any) error {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return fmt.Errorf("%s: %w", path, ErrEmptyFile)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

func writeAtomic(fs afero.Fs, path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp := filepath.Join(dir, "."+filepath.Base(path)+"."+uuid.NewString()+".tmp")
	if err := afero.WriteFile(fs, tmp, data, 0o644); err != nil {
		_ = fs.Remove(tmp)
		return err
	}
	if err := fs.Rename(tmp, path); err != nil {
		_ = fs.Remove(tmp)
		return err
	}
	return nil
}
