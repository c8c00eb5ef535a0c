package attachment

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Disk keeps attachments in a flat directory served by the upload routes.
type Disk struct {
	dir     string
	baseURL string
}

var _ Store = (*Disk)(nil)

// NewDisk creates dir if needed. baseURL prefixes the URL of stored files,
// e.g. "/api/uploads".
func NewDisk(dir, baseURL string) (*Disk, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Disk{dir: dir, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

func (d *Disk) Put(ctx context.Context, obj Object) (*Stored, error) {
	ext, err := extension(obj)
	if err != nil {
		return nil, err
	}
	name := uuid.NewString() + ext

	out, err := os.Create(filepath.Join(d.dir, name))
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}
	defer out.Close()

	n, err := io.Copy(out, obj.Reader)
	if err != nil {
		_ = os.Remove(out.Name())
		return nil, fmt.Errorf("save file: %w", err)
	}
	return &Stored{Ref: name, URL: d.baseURL + "/" + name, Size: n}, nil
}

// Path resolves a stored name to its file. Names with path separators are
// rejected.
func (d *Disk) Path(name string) (string, error) {
	if name == "" || filepath.Base(name) != name || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: bad name %q", ErrInvalidObject, name)
	}
	return filepath.Join(d.dir, name), nil
}
