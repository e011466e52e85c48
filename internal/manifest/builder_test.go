package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/JonMunkholm/manifestgen/internal/blobstore"
	"github.com/JonMunkholm/manifestgen/internal/errs"
	"github.com/JonMunkholm/manifestgen/internal/staging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBlobs struct {
	uploads []string
	err     error
}

func (r *recordingBlobs) Download(context.Context, string, string, string) error { return nil }

func (r *recordingBlobs) Upload(_ context.Context, _, bucket, key string) error {
	if r.err != nil {
		return r.err
	}
	r.uploads = append(r.uploads, bucket+"/"+key)
	return nil
}

func TestKey(t *testing.T) {
	if got := Key("B1", "orders", "x.gz"); got != "manifest/B1/orders/x.gz" {
		t.Errorf("Key() = %q", got)
	}
}

func TestPublish_UploadsManifestAndCombined(t *testing.T) {
	blobs, err := blobstore.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	area, err := staging.New(t.TempDir())
	require.NoError(t, err)

	combined := area.File("c0ffee.gz")
	require.NoError(t, os.WriteFile(combined, []byte("0123456789"), 0o644))
	entries := []Entry{{URL: "bkt/a.gz", Mandatory: true}, {URL: "bkt/b.gz", Mandatory: true}}

	pub, err := NewBuilder(blobs, "bkt").Publish(context.Background(), area, "B1", "orders", entries, combined)
	require.NoError(t, err)
	require.NotNil(t, pub)

	assert.True(t, strings.HasPrefix(pub.ManifestKey, "manifest/B1/orders/"))
	assert.True(t, strings.HasSuffix(pub.ManifestKey, ".manifest"))
	assert.Equal(t, "manifest/B1/orders/c0ffee.gz", pub.CombinedKey)
	assert.Equal(t, int64(10), pub.CombinedSize)

	uploaded, err := os.Stat(blobs.Path("bkt", pub.CombinedKey))
	require.NoError(t, err)
	assert.Equal(t, pub.CombinedSize, uploaded.Size())

	raw, err := os.ReadFile(blobs.Path("bkt", pub.ManifestKey))
	require.NoError(t, err)
	var doc Document
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, entries, doc.Entries)
	assert.Contains(t, string(raw), `"mandatory":true`)
}

func TestPublish_NoEntriesUploadsNothing(t *testing.T) {
	blobs := &recordingBlobs{}
	area, err := staging.New(t.TempDir())
	require.NoError(t, err)

	pub, err := NewBuilder(blobs, "bkt").Publish(context.Background(), area, "B1", "orders", nil, "")
	require.NoError(t, err)
	assert.Nil(t, pub)
	assert.Empty(t, blobs.uploads)
}

func TestPublish_UploadFailureIsTransferError(t *testing.T) {
	blobs := &recordingBlobs{err: errors.New("denied")}
	area, err := staging.New(t.TempDir())
	require.NoError(t, err)
	combined := area.File("c.gz")
	require.NoError(t, os.WriteFile(combined, []byte("x"), 0o644))

	_, err = NewBuilder(blobs, "bkt").Publish(context.Background(), area, "B1", "orders", []Entry{{URL: "bkt/a.gz", Mandatory: true}}, combined)
	assert.Equal(t, errs.CodeTransfer, errs.CodeOf(err))
}
