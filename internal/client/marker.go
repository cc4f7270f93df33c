package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/saurabhrjk/admin-connect-chat/internal/domain"
)

// Marker is the locally cached session: the last token and the profile it
// belonged to. It only saves a login prompt at startup; Resume checks it
// with the server before it is trusted.
type Marker struct {
	Token   string       `json:"token"`
	User    *domain.User `json:"user"`
	SavedAt time.Time    `json:"saved_at"`
}

// SaveMarker writes m to path, readable by the owner only.
func SaveMarker(path string, m Marker) error {
	if m.SavedAt.IsZero() {
		m.SavedAt = time.Now().UTC()
	}
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session marker: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("write session marker: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace session marker: %w", err)
	}
	return nil
}

// LoadMarker reads the marker at path. A missing file yields (nil, nil).
func LoadMarker(path string) (*Marker, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session marker: %w", err)
	}
	var m Marker
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode session marker: %w", err)
	}
	return &m, nil
}

func ClearMarker(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove session marker: %w", err)
	}
	return nil
}
