package httpapi

import (
	"strings"
	"testing"

	"studiocore/testutil"
)

// TestNoInternalCoreImports ensures production code reaches the session only
// through the Session interface.
func TestNoInternalCoreImports(t *testing.T) {
	forbidden := func(path string) bool {
		return path == "studiocore/internal/core" || strings.HasPrefix(path, "studiocore/internal/infra")
	}
	testutil.AssertNoDirectImports(t, ".", forbidden, "handlers depend on the Session and Runner interfaces")
}
