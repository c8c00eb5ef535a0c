// Package attachment stores uploaded files out of band. Messages only keep
// the returned reference.
package attachment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidObject is returned for uploads without a usable name.
var ErrInvalidObject = errors.New("invalid attachment")

// Object is one upload.
type Object struct {
	Reader      io.Reader
	Filename    string
	ContentType string
	Size        int64
}

// Stored describes a saved object. Ref is the opaque value carried by
// messages.
type Stored struct {
	Ref  string `json:"ref"`
	URL  string `json:"url"`
	Size int64  `json:"size"`
}

type Store interface {
	Put(ctx context.Context, obj Object) (*Stored, error)
}

// extension picks the file extension from the name, falling back to the
// content type.
func extension(obj Object) (string, error) {
	ext := strings.ToLower(path.Ext(obj.Filename))
	if ext == "" {
		ext = extensionFromContentType(obj.ContentType)
	}
	if ext == "" {
		return "", fmt.Errorf("%w: file must have an extension", ErrInvalidObject)
	}
	return ext, nil
}

func newKey(now time.Time, ext string) string {
	return fmt.Sprintf("%s/%s%s", now.Format("2006/01/02"), uuid.NewString(), ext)
}

func extensionFromContentType(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	case "application/pdf":
		return ".pdf"
	default:
		return ""
	}
}
