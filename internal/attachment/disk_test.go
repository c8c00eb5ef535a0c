package attachment

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskPut(t *testing.T) {
	d, err := NewDisk(t.TempDir(), "/api/uploads/")
	require.NoError(t, err)

	stored, err := d.Put(context.Background(), Object{
		Reader:   strings.NewReader("hello"),
		Filename: "Note.TXT",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(stored.Ref, ".txt"))
	assert.Equal(t, "/api/uploads/"+stored.Ref, stored.URL)
	assert.EqualValues(t, 5, stored.Size)

	p, err := d.Path(stored.Ref)
	require.NoError(t, err)
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestDiskPutUsesContentType(t *testing.T) {
	d, err := NewDisk(t.TempDir(), "/u")
	require.NoError(t, err)

	stored, err := d.Put(context.Background(), Object{
		Reader:      strings.NewReader("x"),
		Filename:    "blob",
		ContentType: "image/png",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(stored.Ref, ".png"))

	_, err = d.Put(context.Background(), Object{Reader: strings.NewReader("x"), Filename: "blob"})
	assert.ErrorIs(t, err, ErrInvalidObject)
}

func TestDiskPathRejectsTraversal(t *testing.T) {
	d, err := NewDisk(t.TempDir(), "/u")
	require.NoError(t, err)

	for _, name := range []string{"", "../secret", "a/b.png", ".hidden"} {
		_, err := d.Path(name)
		assert.ErrorIs(t, err, ErrInvalidObject, name)
	}
}

func TestNewKeyIsDatePrefixed(t *testing.T) {
	key := newKey(time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC), ".jpg")
	assert.True(t, strings.HasPrefix(key, "2024/05/06/"))
	assert.True(t, strings.HasSuffix(key, ".jpg"))
}
