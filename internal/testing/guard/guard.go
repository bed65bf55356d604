// Package guard switches the process into test mode when imported for side
// effects: binaries skip startup and configuration defaults point at in-memory
// storage and a throwaway audit directory.
package guard

import (
	"os"
	"path/filepath"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		setDefault("ODYSSEY_TEST_MODE", "1")
		setDefault("STORE_DRIVER", "memory")
		setDefault("AUDIT_SINK", "file")
		setDefault("AUDIT_DIR", filepath.Join(os.TempDir(), "odyssey-authz-audit-test"))
	})
}

func setDefault(key, value string) {
	if os.Getenv(key) == "" {
		_ = os.Setenv(key, value)
	}
}
