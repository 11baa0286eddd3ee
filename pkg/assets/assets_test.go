package assets

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlabs/weft/pkg/models"
)

func TestBuildAndParseRef(t *testing.T) {
	tests := []struct {
		name      string
		namespace string
		id        string
		want      string
	}{
		{"with namespace", "kb:thread:01ABC", "01XYZ", "asset://kb:thread:01ABC/01XYZ"},
		{"no namespace", "", "01XYZ", "asset://01XYZ"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref := BuildRef(tt.namespace, tt.id)
			assert.Equal(t, tt.want, ref)

			ns, id, err := ParseRef(ref)
			require.NoError(t, err)
			assert.Equal(t, tt.namespace, ns)
			assert.Equal(t, tt.id, id)
		})
	}
}

func TestParseRefInvalid(t *testing.T) {
	for _, ref := range []string{"", "asset://", "asset://ns/", "http://example.com/x"} {
		t.Run(ref, func(t *testing.T) {
			_, _, err := ParseRef(ref)
			assert.ErrorIs(t, err, ErrInvalidRef)
		})
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	asset, err := store.Put(ctx, PutInput{
		Namespace: "ns1",
		Name:      "report.txt",
		MIME:      "text/plain",
		Data:      strings.NewReader("hello world"),
	})
	require.NoError(t, err)
	require.NotEmpty(t, asset.ID)
	assert.Equal(t, int64(11), asset.Size)
	assert.NotEmpty(t, asset.SHA256)

	got, rc, err := store.Get(ctx, "ns1", asset.ID)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
	assert.Equal(t, "text/plain", got.MIME)
	assert.Equal(t, "report.txt", got.Name)

	// Namespaces partition assets.
	_, _, err = store.Get(ctx, "other", asset.ID)
	assert.ErrorIs(t, err, ErrAssetNotFound)

	ok, err := store.Exists(ctx, "ns1", asset.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.Delete(ctx, "ns1", asset.ID))
	ok, err = store.Exists(ctx, "ns1", asset.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFSStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	payload := bytes.Repeat([]byte("weft"), 256)
	asset, err := store.Put(ctx, PutInput{
		Namespace: "kb:global:docs",
		Name:      "chunked.dat",
		MIME:      "application/octet-stream",
		Data:      bytes.NewReader(payload),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), asset.Size)

	got, rc, err := store.Get(ctx, "kb:global:docs", asset.ID)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
	assert.Equal(t, asset.SHA256, got.SHA256)

	_, _, err = store.Get(ctx, "kb:global:docs", models.NewID())
	assert.ErrorIs(t, err, ErrAssetNotFound)

	require.NoError(t, store.Delete(ctx, "kb:global:docs", asset.ID))
	ok, err := store.Exists(ctx, "kb:global:docs", asset.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting again is a no-op.
	require.NoError(t, store.Delete(ctx, "kb:global:docs", asset.ID))
}

func TestResolveMessagesInlines(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	asset, err := store.Put(ctx, PutInput{
		Namespace: "ns1",
		MIME:      "image/png",
		Data:      bytes.NewReader([]byte{0x89, 'P', 'N', 'G'}),
	})
	require.NoError(t, err)

	msgs := []models.ChatMessage{
		{
			Role:    models.RoleUser,
			Content: "look at this",
			Parts: []models.ContentPart{
				{Kind: models.PartImage, AssetRef: asset.Ref()},
			},
		},
	}

	resolved := ResolveMessages(ctx, store, msgs, 1024)
	require.Len(t, resolved, 1)
	require.Len(t, resolved[0].Parts, 1)
	part := resolved[0].Parts[0]
	assert.Empty(t, part.AssetRef)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, part.Data)
	assert.Equal(t, "image/png", part.MIME)

	// Caller's slice is untouched.
	assert.Equal(t, asset.Ref(), msgs[0].Parts[0].AssetRef)
	assert.Nil(t, msgs[0].Parts[0].Data)
}

func TestResolveMessagesPlaceholderOnMiss(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	ref := BuildRef("ns1", models.NewID())
	msgs := []models.ChatMessage{
		{Role: models.RoleUser, Parts: []models.ContentPart{{Kind: models.PartFile, AssetRef: ref}}},
	}

	resolved := ResolveMessages(ctx, store, msgs, 1024)
	part := resolved[0].Parts[0]
	assert.Equal(t, models.PartText, part.Kind)
	assert.Contains(t, part.Text, "unavailable")
}

func TestResolveMessagesOversizeWithoutURL(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	asset, err := store.Put(ctx, PutInput{
		Namespace: "ns1",
		MIME:      "application/pdf",
		Data:      bytes.NewReader(bytes.Repeat([]byte{1}, 64)),
	})
	require.NoError(t, err)

	msgs := []models.ChatMessage{
		{Role: models.RoleUser, Parts: []models.ContentPart{{Kind: models.PartFile, AssetRef: asset.Ref()}}},
	}

	// Limit below the asset size and the memory store has no URL form.
	resolved := ResolveMessages(ctx, store, msgs, 16)
	part := resolved[0].Parts[0]
	assert.Equal(t, models.PartText, part.Kind)
	assert.Contains(t, part.Text, "unavailable")
}

func TestStripParts(t *testing.T) {
	msgs := []models.ChatMessage{
		{
			Role: models.RoleUser,
			Parts: []models.ContentPart{
				{Kind: models.PartText, Text: "keep me"},
				{Kind: models.PartImage, AssetRef: "asset://ns1/01ABC"},
				{Kind: models.PartImage, Data: []byte{1, 2, 3}, MIME: "image/png"},
			},
		},
	}

	stripped := StripParts(msgs)
	require.Len(t, stripped[0].Parts, 2)
	assert.Equal(t, "keep me", stripped[0].Parts[0].Text)
	assert.Contains(t, stripped[0].Parts[1].Text, "asset://ns1/01ABC")

	// Original untouched.
	assert.Len(t, msgs[0].Parts, 3)
}
