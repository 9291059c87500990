package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorMessages(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{ParseError{Line: 3, Msg: "unexpected EOF"}, "parse document: line 3: unexpected EOF"},
		{ParseError{Msg: "empty document"}, "parse document: empty document"},
		{SchemaError{Kind: KindCellType, Entity: "tumor", Msg: "parent cycle"}, `schema: cell_type "tumor": parent cycle`},
		{SchemaError{Kind: KindSubstrate, Index: 2, Msg: "missing name"}, "schema: substrate #2: missing name"},
		{UnknownKeyError{Key: "dt"}, `unknown setting "dt"`},
		{UnknownKeyError{Kind: KindCellType, Entity: "tumor", Key: "wings"}, `unknown key "wings" for cell_type "tumor"`},
		{DuplicateNameError{Kind: KindSubstrate, Name: "oxygen"}, `substrate "oxygen" already exists`},
		{LastEntityError{Kind: KindSubstrate, Name: "oxygen"}, `cannot delete substrate "oxygen": at least one substrate must remain`},
		{NotFoundError{Kind: KindCellType, Name: "ghost"}, `cell_type "ghost" not found`},
	}
	for _, tc := range cases {
		if got := tc.err.Error(); got != tc.want {
			t.Errorf("%T: got %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestTypedErrorsMatchThroughWrapping(t *testing.T) {
	err := fmt.Errorf("rename: %w", DuplicateNameError{Kind: KindCellType, Name: "tumor"})
	var dup DuplicateNameError
	if !errors.As(err, &dup) || dup.Name != "tumor" {
		t.Fatalf("errors.As failed for %v", err)
	}
	if !errors.Is(fmt.Errorf("start: %w", ErrAlreadyRunning), ErrAlreadyRunning) {
		t.Fatalf("errors.Is failed for ErrAlreadyRunning")
	}
}

func TestValidateName(t *testing.T) {
	for _, name := range []string{"tumor", "cell_def01", "CD8 T cell"} {
		if err := ValidateName(KindCellType, name); err != nil {
			t.Errorf("%q: unexpected error %v", name, err)
		}
	}
	for _, name := range []string{"", "  ", " tumor", "a'b", `a"b`, "a[b]", "a/b"} {
		var invalid InvalidNameError
		if err := ValidateName(KindCellType, name); !errors.As(err, &invalid) {
			t.Errorf("%q: expected InvalidNameError, got %v", name, err)
		}
	}
}

func TestKindsOrder(t *testing.T) {
	kinds := Kinds()
	if len(kinds) != 2 || kinds[0] != KindSubstrate || kinds[1] != KindCellType {
		t.Fatalf("unexpected kinds %v", kinds)
	}
}
