package app

import (
	"os"
	"strconv"
	"sync"
)

// TestModeEnv, when true, makes the binaries exit before opening any
// connection. The testing package sets it for every test binary.
const TestModeEnv = "STOCKROOM_TEST_MODE"

var testMode = sync.OnceValue(func() bool {
	on, _ := strconv.ParseBool(os.Getenv(TestModeEnv))
	return on
})

// InTestMode reports whether TestModeEnv was set when first checked.
func InTestMode() bool {
	return testMode()
}
