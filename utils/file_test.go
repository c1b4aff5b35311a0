package utils

import (
	"bytes"
	"mime/multipart"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fileHeader(t *testing.T, contentType string, data []byte) *multipart.FileHeader {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="image"; filename="upload.bin"`)
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	form, err := multipart.NewReader(&buf, w.Boundary()).ReadForm(int64(len(data)) + 1024)
	require.NoError(t, err)
	t.Cleanup(func() { _ = form.RemoveAll() })
	require.Len(t, form.File["image"], 1)
	return form.File["image"][0]
}

func TestImageKey(t *testing.T) {
	key, err := ImageKey(fileHeader(t, "image/PNG", []byte("png")), "badges")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "badges/"))
	assert.True(t, strings.HasSuffix(key, ".png"))

	_, err = ImageKey(fileHeader(t, "application/pdf", []byte("pdf")), "badges")
	assert.Error(t, err)

	big := fileHeader(t, "image/jpeg", []byte("x"))
	big.Size = MaxImageBytes + 1
	_, err = ImageKey(big, "events")
	assert.Error(t, err)
}

func TestLocalStoreUploadImage(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir, "/uploads/")
	require.NoError(t, err)

	url, err := store.UploadImage(t.Context(), fileHeader(t, "image/webp", []byte("webp-bytes")), "events")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, "/uploads/events/"))

	saved, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(strings.TrimPrefix(url, "/uploads/"))))
	require.NoError(t, err)
	assert.Equal(t, "webp-bytes", string(saved))

	_, err = store.UploadImage(t.Context(), fileHeader(t, "text/plain", []byte("nope")), "events")
	assert.Error(t, err)
}

func TestR2ConfigEnabled(t *testing.T) {
	assert.False(t, R2Config{}.Enabled())
	assert.False(t, R2Config{AccountID: "a", AccessKeyID: "k", AccessKeySecret: "s"}.Enabled())
	assert.True(t, R2Config{AccountID: "a", AccessKeyID: "k", AccessKeySecret: "s", Bucket: "b"}.Enabled())
}
