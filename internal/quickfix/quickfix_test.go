package quickfix

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMatchModuleNotFound(t *testing.T) {
	tests := []struct {
		name    string
		errText string
		wantNil bool
		wantCmd string
	}{
		{"simple missing package", `ModuleNotFoundError: No module named 'requests'`, false, "{package_manager} requests"},
		{"aliased package", `ModuleNotFoundError: No module named 'PIL'`, false, "{package_manager} Pillow"},
		{"stdlib module skipped", `ModuleNotFoundError: No module named 'os'`, true, ""},
		{"no match", "all tests passed", true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fix := matchModuleNotFound(tt.errText)
			if tt.wantNil {
				if fix != nil {
					t.Fatalf("expected nil, got %+v", fix)
				}
				return
			}
			if fix == nil {
				t.Fatal("expected a fix, got nil")
			}
			if fix.Command != tt.wantCmd {
				t.Errorf("Command = %q, want %q", fix.Command, tt.wantCmd)
			}
			if fix.Kind != KindInstallPackage {
				t.Errorf("Kind = %q, want %q", fix.Kind, KindInstallPackage)
			}
		})
	}
}

func TestMatchCannotImportName(t *testing.T) {
	fix := matchCannotImportName(`cannot import name 'foo' from 'bar.baz'`)
	if fix == nil {
		t.Fatal("expected a fix")
	}
	if fix.Kind != KindAddImport {
		t.Errorf("Kind = %q, want %q", fix.Kind, KindAddImport)
	}
	if fix.InsertContent != "from bar.baz import foo\n" {
		t.Errorf("InsertContent = %q", fix.InsertContent)
	}
}

func TestMatchNameNotDefined(t *testing.T) {
	fix := matchNameNotDefined(`NameError: name 'Optional' is not defined`)
	if fix == nil {
		t.Fatal("expected a fix")
	}
	if fix.InsertContent != "from typing import Optional\n" {
		t.Errorf("InsertContent = %q", fix.InsertContent)
	}

	if fix := matchNameNotDefined(`NameError: name 'totally_unknown_thing' is not defined`); fix != nil {
		t.Errorf("expected nil for unknown name, got %+v", fix)
	}
}

func TestMatchSyntaxErrorMissingColon(t *testing.T) {
	content := "def foo()\n    pass\n"
	fix := matchSyntaxError("SyntaxError: invalid syntax", content)
	// lineNumberPattern requires "line N" text; simulate a typical traceback line.
	fix = matchSyntaxError("line 1: SyntaxError: invalid syntax", content)
	if fix == nil {
		t.Fatal("expected a fix")
	}
	if fix.NewContent != "def foo():" {
		t.Errorf("NewContent = %q, want %q", fix.NewContent, "def foo():")
	}
}

func TestMatchIndentationErrorMixedTabs(t *testing.T) {
	content := "def foo():\n\t    pass\n"
	fix := matchIndentationError("line 2: IndentationError: inconsistent use of tabs", content)
	if fix == nil {
		t.Fatal("expected a fix")
	}
	if fix.Kind != KindFixIndentation {
		t.Errorf("Kind = %q, want %q", fix.Kind, KindFixIndentation)
	}
}

func TestDetectPackageManager(t *testing.T) {
	tests := []struct {
		name string
		lock string
		want string
	}{
		{"uv", "uv.lock", "uv pip install"},
		{"pip", "requirements.txt", "pip install"},
		{"pipenv", "Pipfile", "pipenv install"},
		{"poetry", "poetry.lock", "poetry add"},
		{"npm", "package-lock.json", "npm install"},
		{"yarn", "yarn.lock", "yarn add"},
		{"pnpm", "pnpm-lock.yaml", "pnpm add"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			if err := os.WriteFile(filepath.Join(dir, tt.lock), []byte(""), 0o644); err != nil {
				t.Fatal(err)
			}
			if got := DetectPackageManager(dir); got != tt.want {
				t.Errorf("DetectPackageManager() = %q, want %q", got, tt.want)
			}
		})
	}

	t.Run("default", func(t *testing.T) {
		dir := t.TempDir()
		if got := DetectPackageManager(dir); got != "pip install" {
			t.Errorf("DetectPackageManager() = %q, want %q", got, "pip install")
		}
	})
}

func TestFindResolvesPackageManager(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "requirements.txt"), []byte(""), 0o644); err != nil {
		t.Fatal(err)
	}
	fix := Find(`ModuleNotFoundError: No module named 'requests'`, "", dir)
	if fix == nil {
		t.Fatal("expected a fix")
	}
	if fix.Command != "pip install requests" {
		t.Errorf("Command = %q, want %q", fix.Command, "pip install requests")
	}
}

func TestApplyAddImport(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mod.py")
	if err := os.WriteFile(path, []byte("def foo():\n    pass\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	fix := &Fix{
		Kind:          KindAddImport,
		FilePath:      "mod.py",
		InsertLine:    1,
		InsertContent: "import os\n",
	}
	ok, msg := Apply(nil, fix, dir)
	_ = msg
	if !ok {
		t.Fatalf("Apply failed: %s", msg)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "import os\ndef foo():\n    pass\n"
	if string(data) != want {
		t.Errorf("content = %q, want %q", string(data), want)
	}
}

func TestApplyRejectsPathEscape(t *testing.T) {
	dir := t.TempDir()
	fix := &Fix{
		Kind:       KindFixSyntax,
		FilePath:   "../../etc/passwd",
		OldContent: "a",
		NewContent: "b",
	}
	ok, msg := Apply(nil, fix, dir)
	if ok {
		t.Fatal("expected Apply to reject path escape")
	}
	if msg == "" {
		t.Error("expected a non-empty error message")
	}
}

func TestApplyRequiresExactOldContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mod.py")
	if err := os.WriteFile(path, []byte("x = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	fix := &Fix{
		Kind:       KindFixSyntax,
		FilePath:   "mod.py",
		OldContent: "y = 2",
		NewContent: "y = 3",
	}
	ok, _ := Apply(nil, fix, dir)
	if ok {
		t.Fatal("expected Apply to fail when OldContent is not present")
	}
}
