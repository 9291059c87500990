package validation

import (
	"testing"

	"studiocore/testutil"
)

func TestValidationLayerIsPure(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".",
		testutil.AnyOf(testutil.InternalImport, testutil.SideEffectImport),
		"validation must stay free of side effects and session state")
}
