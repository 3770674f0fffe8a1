package presenter

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"basegraph.app/coordinator/internal/model"
)

const frameWidth = 80

// RenderJSON is the snapshot's wire form, as served over HTTP.
func RenderJSON(s *model.CoordinationSnapshot) ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// FileName names a snapshot file after its generation time.
func FileName(s *model.CoordinationSnapshot) string {
	return fmt.Sprintf("snapshot_%s.md", s.GeneratedAt.UTC().Format("20060102_150405"))
}

// Save writes the rendered report into dir, creating it if needed, and
// returns the file path.
func Save(dir string, s *model.CoordinationSnapshot) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating output dir: %w", err)
	}
	path := filepath.Join(dir, FileName(s))
	if err := os.WriteFile(path, []byte(Render(s)), 0o644); err != nil {
		return "", fmt.Errorf("writing snapshot: %w", err)
	}
	return path, nil
}

// Print writes content between two rules of '=' for terminal output.
func Print(w io.Writer, content string) error {
	rule := strings.Repeat("=", frameWidth)
	_, err := fmt.Fprintf(w, "\n%s\n%s\n%s\n\n", rule, strings.TrimRight(content, "\n"), rule)
	return err
}
