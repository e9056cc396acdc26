// internal/staging/staging.go
package staging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"githarvest/internal/model"
)

// File names inside a staging directory. The crawl phase writes them, the
// load phase reads them; the directory is the only coupling between the two,
// so a crawl can succeed while the database is down.
const (
	reposFile = "repositories.json"
	statsFile = "statistics.json"
	runFile   = "run.json"
)

// Bundle is the on-disk contract between the crawl and load phases.
type Bundle struct {
	Repositories []model.Repository
	Stats        []model.StatsSnapshot
	Run          model.CrawlRun
}

// Write persists a crawl's output into dir, creating the directory if
// needed. Existing staging files are overwritten.
func Write(dir string, b *Bundle) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating staging directory: %w", err)
	}
	if err := writeJSON(filepath.Join(dir, reposFile), b.Repositories); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(dir, statsFile), b.Stats); err != nil {
		return err
	}
	return writeJSON(filepath.Join(dir, runFile), b.Run)
}

// Read loads a staging directory written by Write.
func Read(dir string) (*Bundle, error) {
	var b Bundle
	if err := readJSON(filepath.Join(dir, reposFile), &b.Repositories); err != nil {
		return nil, err
	}
	if err := readJSON(filepath.Join(dir, statsFile), &b.Stats); err != nil {
		return nil, err
	}
	if err := readJSON(filepath.Join(dir, runFile), &b.Run); err != nil {
		return nil, err
	}
	return &b, nil
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

func readJSON(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(v); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}
