// Package testing puts the binaries into test mode. Test packages that build
// the full router import it for its side effects.
package testing

import (
	"os"
	stdtesting "testing"
)

// testJWTSecret satisfies config validation in tests that call LoadConfig.
const testJWTSecret = "stockroom-test-secret-0123456789abcdef"

func init() {
	_ = os.Setenv("STOCKROOM_TEST_MODE", "true")
	if os.Getenv("JWT_SECRET") == "" {
		_ = os.Setenv("JWT_SECRET", testJWTSecret)
	}
}

// Main runs m after init has switched the process into test mode. Packages
// with their own TestMain can delegate to it.
func Main(m *stdtesting.M) {
	os.Exit(m.Run())
}
