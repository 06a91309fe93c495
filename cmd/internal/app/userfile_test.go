package app

import (
	"os"
	"path/filepath"
	"testing"

	apiv1 "devmatch/contracts/api/v1"
)

func TestUserFileRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "user.json")

	uf, err := loadUserFile(path)
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if uf.User.ID != "" {
		t.Fatalf("expected zero value, got %+v", uf)
	}

	want := userFile{User: apiv1.User{ID: "alice", FirstName: "Alice"}, SessionToken: "tok"}
	if err := saveUserFile(path, want); err != nil {
		t.Fatalf("saveUserFile: %v", err)
	}

	st, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if st.Mode().Perm() != 0o600 {
		t.Fatalf("perm=%v", st.Mode().Perm())
	}

	got, err := loadUserFile(path)
	if err != nil {
		t.Fatalf("loadUserFile: %v", err)
	}
	if got != want {
		t.Fatalf("got=%+v want=%+v", got, want)
	}
}

func TestLoadUserFile_Corrupt(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "user.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := loadUserFile(path); err == nil {
		t.Fatalf("expected parse error")
	}
}
