package core

import (
	"testing"

	"visitmap/testutil"
)

func TestCoreIsTransportAgnostic(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.HTTPFrameworkImport,
		"internal/core must not depend on the HTTP framework")
}
