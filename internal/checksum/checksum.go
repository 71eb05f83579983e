// Package checksum computes version tokens for stored content.
package checksum

import "github.com/go-git/go-git/v5/plumbing"

// GitBlob returns the git blob object id of data. It is the same value the
// GitHub Contents API reports as a file's sha, so tokens computed locally
// are accepted by the remote store when the content is current.
func GitBlob(data []byte) string {
	return plumbing.ComputeHash(plumbing.BlobObject, data).String()
}
