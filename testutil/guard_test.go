package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestInternalImportForbiddenPredicate(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"sliptacore/internal/core", true},
		{"example.com/mod/internal/x", true},
		{"sliptacore/pkg/domain", false},
		{"github.com/spf13/viper", false},
	}
	for _, c := range cases {
		if got := InternalImportForbidden(c.in); got != c.want {
			t.Fatalf("InternalImportForbidden(%q)=%v want %v", c.in, got, c.want)
		}
	}
}

func TestModuleImportsExcept(t *testing.T) {
	forbidden := ModuleImportsExcept("sliptacore/pkg/domain", "sliptacore/internal/catalog")
	cases := []struct {
		in   string
		want bool
	}{
		{"sliptacore/pkg/domain", false},
		{"sliptacore/internal/catalog", false},
		{"sliptacore/internal/core", true},
		{"sliptacore/internal/infra/persistence/memory", true},
		{"sliptacoreextra/pkg", false},
		{"strings", false},
	}
	for _, c := range cases {
		if got := forbidden(c.in); got != c.want {
			t.Fatalf("ModuleImportsExcept(%q)=%v want %v", c.in, got, c.want)
		}
	}
}

type recorder struct{ msg string }

func (r *recorder) Fatalf(format string, args ...any) { r.msg = fmt.Sprintf(format, args...) }

func TestDirectImportViolations(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	write("a.go", "package p\n\nimport (\n\t\"fmt\"\n\t\"sliptacore/internal/core\"\n)\n\nvar _ = fmt.Sprint\n")
	write("a_test.go", "package p\n\nimport \"sliptacore/internal/infra/blob/fs\"\n")

	viols, err := directImportViolations(dir, InternalImportForbidden)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(viols) != 1 || viols[0] != "sliptacore/internal/core (in a.go)" {
		t.Fatalf("unexpected violations %v", viols)
	}

	var r recorder
	failIfDirectViolations(&r, "engines stay pure", viols)
	if r.msg == "" {
		t.Fatalf("expected failure message")
	}
	r.msg = ""
	failIfDirectViolations(&r, "none", nil)
	if r.msg != "" {
		t.Fatalf("unexpected failure %q", r.msg)
	}
}

func TestDirectImportViolationsMissingDir(t *testing.T) {
	if _, err := directImportViolations(filepath.Join(t.TempDir(), "missing"), InternalImportForbidden); err == nil {
		t.Fatalf("expected error for missing directory")
	}
}
