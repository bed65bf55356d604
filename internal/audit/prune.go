package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// PruneFiles removes daily files in dir whose date is strictly before the
// cutoff day. It returns the removed file names.
func PruneFiles(dir, prefix string, before time.Time) ([]string, error) {
	if prefix == "" {
		prefix = defaultFilePrefix
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("audit: read log dir: %w", err)
	}
	cutoff := before.UTC().Format(dayLayout)
	var removed []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		day, ok := strings.CutPrefix(name, prefix+"-")
		if !ok {
			continue
		}
		day, ok = strings.CutSuffix(day, ".log")
		if !ok {
			continue
		}
		if _, err := time.Parse(dayLayout, day); err != nil {
			continue
		}
		if day >= cutoff {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return removed, fmt.Errorf("audit: remove %s: %w", name, err)
		}
		removed = append(removed, name)
	}
	return removed, nil
}
