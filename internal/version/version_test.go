package version

import "testing"

func TestGet_Defaults(t *testing.T) {
	info := Get()
	if info.Version == "" {
		t.Fatal("Version should never be empty")
	}
	if info.Commit == "" {
		t.Fatal("Commit should never be empty")
	}
}
