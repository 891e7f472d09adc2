// Package userfile registers uploaded files and keeps their blobs in object
// storage. File field cells reference files by their unique name.
package userfile

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"
	"time"
	"unicode"

	"github.com/sirupsen/logrus"
	"github.com/spaolacci/murmur3"

	"github.com/gridbase/gridbase/internal/catalog"
	"github.com/gridbase/gridbase/internal/errors"
	"github.com/gridbase/gridbase/internal/logging"
	"github.com/gridbase/gridbase/internal/storage"
	"github.com/gridbase/gridbase/pkg/types"
)

// ObjectPrefix is the storage prefix of all user file blobs.
const ObjectPrefix = "user_files"

// maxNameLength bounds the sanitised part of a unique name.
const maxNameLength = 64

// Handler uploads and serves user files.
type Handler struct {
	cat     *catalog.Catalog
	store   storage.ObjectStorage
	tmpDir  string
	maxSize int64

	now func() time.Time
	log *logrus.Entry
}

// NewHandler returns a handler staging uploads under tmpDir (the system
// temp directory when empty).
func NewHandler(cat *catalog.Catalog, store storage.ObjectStorage, tmpDir string) *Handler {
	return &Handler{
		cat:    cat,
		store:  store,
		tmpDir: tmpDir,
		now:    time.Now,
		log:    logging.For("userfile"),
	}
}

// SetMaxSize limits the size of an upload in bytes. Zero means unlimited.
func (h *Handler) SetMaxSize(n int64) { h.maxSize = n }

// SetClock replaces the time source.
func (h *Handler) SetClock(now func() time.Time) { h.now = now }

// ObjectPath returns the storage path of a unique file name.
func ObjectPath(name string) string { return path.Join(ObjectPrefix, name) }

// UploadUserFile stores the content read from r. The unique name is derived
// from the content hash and the sanitised original name, so uploading the
// same content under the same name twice returns the existing record.
func (h *Handler) UploadUserFile(ctx context.Context, user types.UserID, name string, r io.Reader) (*types.UserFile, error) {
	original := strings.TrimSpace(name)
	if original == "" {
		return nil, errors.NewValidationError(errors.CodeInvalidName, "name", "file name must not be empty")
	}

	tmp, err := os.CreateTemp(h.tmpDir, "gridbase-upload-*")
	if err != nil {
		return nil, errors.NewStorageError(errors.CodeUploadFailed, "failed to stage upload", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	hasher := murmur3.New128()
	src := r
	if h.maxSize > 0 {
		src = io.LimitReader(r, h.maxSize+1)
	}
	head := &sniffer{}
	size, err := io.Copy(io.MultiWriter(tmp, hasher, head), src)
	if err != nil {
		return nil, errors.NewStorageError(errors.CodeUploadFailed, "failed to read upload", err)
	}
	if h.maxSize > 0 && size > h.maxSize {
		return nil, errors.NewValidationError(errors.CodeInvalidValue, "file",
			fmt.Sprintf("file exceeds the maximum size of %d bytes", h.maxSize))
	}
	if err := tmp.Close(); err != nil {
		return nil, errors.NewStorageError(errors.CodeUploadFailed, "failed to stage upload", err)
	}

	uniqueName := UniqueName(hasher.Sum(nil), original)
	objectPath := ObjectPath(uniqueName)
	exists, err := h.store.Exists(ctx, objectPath)
	if err != nil {
		return nil, errors.NewStorageError(errors.CodeUploadFailed, "failed to check object", err)
	}
	if !exists {
		if err := h.store.Upload(ctx, tmp.Name(), objectPath); err != nil {
			return nil, err
		}
	}

	f := &types.UserFile{
		Name:         uniqueName,
		OriginalName: original,
		Size:         size,
		MimeType:     http.DetectContentType(head.buf),
		UploadedBy:   user,
		UploadedAt:   h.now().UTC(),
	}
	err = h.cat.WithTx(ctx, func(tx *catalog.Tx) error {
		return tx.InsertUserFile(ctx, f)
	})
	if err != nil {
		return nil, err
	}

	h.log.WithFields(logrus.Fields{
		"name":  f.Name,
		"size":  f.Size,
		"user":  user,
		"reuse": exists,
	}).Info("uploaded user file")
	return f, nil
}

// GetUserFile returns the record of a unique name.
func (h *Handler) GetUserFile(ctx context.Context, name string) (*types.UserFile, error) {
	return h.cat.Read().GetUserFileByName(ctx, name)
}

// Download copies the blob of a registered file to localPath.
func (h *Handler) Download(ctx context.Context, name, localPath string) (*types.UserFile, error) {
	f, err := h.GetUserFile(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := h.store.Download(ctx, ObjectPath(f.Name), localPath); err != nil {
		return nil, err
	}
	return f, nil
}

// DeleteOrphans removes stored blobs that no file record references, such
// as those left behind by an upload whose record was never written.
func (h *Handler) DeleteOrphans(ctx context.Context) (int, error) {
	names, err := h.cat.Read().ListUserFileNames(ctx)
	if err != nil {
		return 0, err
	}
	known := make(map[string]struct{}, len(names))
	for _, n := range names {
		known[ObjectPath(n)] = struct{}{}
	}

	objects, err := h.store.ListObjects(ctx, ObjectPrefix)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, obj := range objects {
		if _, ok := known[obj]; ok {
			continue
		}
		if err := h.store.Delete(ctx, obj); err != nil {
			return deleted, err
		}
		deleted++
	}
	if deleted > 0 {
		h.log.WithField("count", deleted).Info("deleted orphaned user file blobs")
	}
	return deleted, nil
}

// UniqueName joins the hex encoded content hash and the sanitised name.
func UniqueName(sum []byte, original string) string {
	return hex.EncodeToString(sum) + "_" + SanitizeName(original)
}

// SanitizeName keeps letters, digits, dots, dashes and underscores, maps
// everything else to an underscore and shortens long names while keeping
// the extension.
func SanitizeName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "file"
	}
	if len(out) > maxNameLength {
		ext := path.Ext(out)
		if len(ext) > 16 {
			ext = ""
		}
		out = out[:maxNameLength-len(ext)] + ext
	}
	return out
}

// sniffer keeps the first bytes written for content type detection.
type sniffer struct {
	buf []byte
}

func (s *sniffer) Write(p []byte) (int, error) {
	if room := 512 - len(s.buf); room > 0 {
		if len(p) < room {
			room = len(p)
		}
		s.buf = append(s.buf, p[:room]...)
	}
	return len(p), nil
}
