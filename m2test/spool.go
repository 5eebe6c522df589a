package m2test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/Zereker/mongrel2"
)

// WriteSpoolFile writes content to a uniquely named spool file in dir and
// returns its path. The file is removed when the test ends if the handler
// under test has not already done so.
func WriteSpoolFile(tb testing.TB, dir, content string) string {
	tb.Helper()
	path := filepath.Join(dir, "mongrel2.upload."+uuid.NewString())
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		tb.Fatalf("write spool file: %v", err)
	}
	tb.Cleanup(func() { _ = os.Remove(path) })
	return path
}

// UploadHeaders returns the header pairs of a finished upload spooled to
// path, for RequestFactory methods.
func UploadHeaders(path string) []string {
	return []string{mongrel2.HeaderUploadStart, path, mongrel2.HeaderUploadDone, path}
}

// UploadStartedHeaders returns the header pairs of an upload that has just
// started.
func UploadStartedHeaders(path string) []string {
	return []string{mongrel2.HeaderUploadStart, path}
}
