package mongrel2

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Headers the server adds to the two notifications of an asynchronous upload.
const (
	HeaderUploadStart = "x-mongrel2-upload-start"
	HeaderUploadDone  = "x-mongrel2-upload-done"
)

var errUploadMismatch = &UploadError{Msg: "upload headers don't match"}

// UploadStarted reports whether h belongs to an "upload started"
// notification: the start header without the done header.
func UploadStarted(h *Table) bool {
	return h.Has(HeaderUploadStart) && !h.Has(HeaderUploadDone)
}

// UploadDone reports whether both upload headers are present.
func UploadDone(h *Table) bool {
	return h.Has(HeaderUploadStart) && h.Has(HeaderUploadDone)
}

// UploadHeadersMatch reports whether both upload headers are present and
// name the same spool file.
func UploadHeadersMatch(h *Table) bool {
	return UploadDone(h) && h.Get(HeaderUploadStart) == h.Get(HeaderUploadDone)
}

// ValidUpload reports a finished upload whose headers agree.
func ValidUpload(h *Table) bool {
	return UploadDone(h) && UploadHeadersMatch(h)
}

// ResolveSpoolPath finds the spool file named by the upload headers, first
// under the server's chroot and then as given.
func ResolveSpoolPath(h *Table, chroot string) (string, error) {
	if !UploadHeadersMatch(h) {
		return "", errUploadMismatch
	}

	rel := h.Get(HeaderUploadDone)
	candidates := []string{rel}
	if chroot != "" {
		candidates = []string{filepath.Join(chroot, rel), rel}
	}

	for _, p := range candidates {
		if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
			return p, nil
		}
	}
	return "", &UploadError{Msg: "couldn't find the path to uploaded body " + rel}
}

// CleanupSpool closes and deletes the spool file behind req's body. It does
// nothing for requests that were not asynchronous uploads.
func CleanupSpool(req Request) error {
	b := req.base()
	path := b.spooled()
	if path == "" {
		return nil
	}

	closeErr := b.body.Close()
	b.body = NewBufferBody(nil)
	b.spoolPath = ""

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "remove spool file %s", path)
	}
	if closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
		return errors.Wrapf(closeErr, "close spool file %s", path)
	}
	return nil
}
