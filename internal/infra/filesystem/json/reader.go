package json

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"

	"github.com/compose-network/mortar/internal/infra/filesystem"
	"github.com/spf13/afero"
)

// Reader handles file reading operations
type Reader struct {
	fs afero.Fs
}

// NewReader creates a new filesystem reader
func NewReader(fs afero.Fs) *Reader {
	return &Reader{fs: fs}
}

// ReadJSON reads and unmarshals JSON from a file
func (r *Reader) ReadJSON(path string, target any) error {
	data, err := afero.ReadFile(r.fs, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to read file '%s': %w", path, filesystem.ErrNotExist)
		}
		return fmt.Errorf("failed to read file: %w", err)
	}

	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	return nil
}
