package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDir(t *testing.T) {
	t.Setenv(HomeEnv, "")
	home, _ := os.UserHomeDir()
	got := Dir("main")
	want := filepath.Join(home, ".wppimport", "instances", "main")
	if got != want {
		t.Errorf("Dir(main) = %q, want %q", got, want)
	}
}

func TestBaseDirOverride(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv(HomeEnv, tmpDir)

	if got := BaseDir(); got != tmpDir {
		t.Errorf("BaseDir() = %q, want %q", got, tmpDir)
	}
	if got := LedgerPath(); got != filepath.Join(tmpDir, "ledger.db") {
		t.Errorf("LedgerPath() = %q", got)
	}
}

func TestSessionDBPath(t *testing.T) {
	got := SessionDBPath("test")
	if !strings.HasSuffix(got, filepath.Join("instances", "test", "session.db")) {
		t.Errorf("SessionDBPath(test) = %q, want suffix instances/test/session.db", got)
	}
}

func TestEnsureDir(t *testing.T) {
	t.Setenv(HomeEnv, t.TempDir())

	if err := EnsureDir("test"); err != nil {
		t.Fatalf("EnsureDir() error = %v", err)
	}
	for _, dir := range []string{Dir("test"), LogDir()} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("%s not created: %v", dir, err)
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", dir)
		}
		if perm := info.Mode().Perm(); perm != 0700 {
			t.Errorf("%s permissions = %o, want 0700", dir, perm)
		}
	}
}
