package registry

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/drill-ssh/drill/internal/tunnel"
	"gopkg.in/yaml.v3"
)

// Store is the persistence contract for tunnel records. Load returns an
// empty list when no backing store exists; Save fully overwrites it.
type Store interface {
	Load() ([]tunnel.Tunnel, error)
	Save([]tunnel.Tunnel) error
}

// FileStore persists tunnels as a YAML list in a single file, the
// human-editable format the desktop client used.
type FileStore struct {
	Path string
}

func NewFileStore(path string) *FileStore { return &FileStore{Path: path} }

func (s *FileStore) Load() ([]tunnel.Tunnel, error) {
	b, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", s.Path, err)
	}
	var ts []tunnel.Tunnel
	if err := yaml.Unmarshal(b, &ts); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.Path, err)
	}
	return ts, nil
}

// Save writes the full list, replacing the previous contents. The write
// goes through a temp file and rename so a crash cannot leave a
// half-written tunnels file behind.
func (s *FileStore) Save(ts []tunnel.Tunnel) error {
	if ts == nil {
		ts = []tunnel.Tunnel{}
	}
	b, err := yaml.Marshal(ts)
	if err != nil {
		return fmt.Errorf("encode tunnels: %w", err)
	}
	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tunnels-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, s.Path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", s.Path, err)
	}
	return nil
}
