package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/flipbook/internal/render"
)

func TestKeys(t *testing.T) {
	a, err := NewArchive(context.Background(), Options{Bucket: "b", Region: "us-east-1", Prefix: "/flipbook/", AccessKeyID: "k", SecretAccessKey: "s"})
	require.NoError(t, err)

	assert.Equal(t, "flipbook/documents/", a.documentsPrefix())
	assert.Equal(t, "flipbook/documents/abc/source.pdf", a.sourceKey("abc"))
	assert.Equal(t, "flipbook/documents/abc/pages/0007.jpg", a.pageKey("abc", render.Page{Index: 7, Format: render.FormatJPEG}))
	assert.Equal(t, "flipbook/documents/abc/pages/0012.png", a.pageKey("abc", render.Page{Index: 12, Format: render.FormatPNG}))
}

func TestMetadataHelpers(t *testing.T) {
	assert.Equal(t, "book.pdf", metaName(map[string]string{"Name": "book.pdf"}))
	assert.True(t, metaEncrypted(map[string]string{"encrypted": "true"}))
	assert.False(t, metaEncrypted(nil))
}
