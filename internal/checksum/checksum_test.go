package checksum

import "testing"

func TestGitBlobMatchesGit(t *testing.T) {
	// printf 'hello\n' | git hash-object --stdin
	if got := GitBlob([]byte("hello\n")); got != "ce013625030ba8dba906f756967f9e9ca394464a" {
		t.Errorf("GitBlob = %s", got)
	}
	// git hash-object /dev/null
	if got := GitBlob(nil); got != "e69de29bb2d1d6434b8b29ae775ad8c2e48c5391" {
		t.Errorf("GitBlob(empty) = %s", got)
	}
}
