package app

import (
	"os"
	"sync"
)

const testModeEnv = "ODYSSEY_TEST_MODE"

// testMode is read once per process; binaries consult it before opening connections.
var testMode = sync.OnceValue(func() bool {
	return os.Getenv(testModeEnv) == "1"
})

// InTestMode reports whether binaries should skip startup side effects.
func InTestMode() bool {
	return testMode()
}
