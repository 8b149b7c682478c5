package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPutObjectStoresAndReturnsURL(t *testing.T) {
	t.Parallel()

	s := NewBlobStore()
	url, err := s.PutObject(context.Background(), "job-ads/a/doc.pdf", "application/pdf", []byte("%PDF-1.7"))
	require.NoError(t, err)
	require.Equal(t, "memory://job-ads/a/doc.pdf", url)

	obj, ok := s.Get("job-ads/a/doc.pdf")
	require.True(t, ok)
	require.Equal(t, "application/pdf", obj.ContentType)
	require.Equal(t, []byte("%PDF-1.7"), obj.Data)
}

func TestPutObjectIsIdempotent(t *testing.T) {
	t.Parallel()

	s := NewBlobStore()
	_, err := s.PutObject(context.Background(), "p", "application/pdf", []byte("first"))
	require.NoError(t, err)
	url, err := s.PutObject(context.Background(), "p", "application/pdf", []byte("second"))
	require.NoError(t, err)
	require.Equal(t, "memory://p", url)

	obj, _ := s.Get("p")
	// The first write wins, matching the GCS DoesNotExist condition.
	require.Equal(t, []byte("first"), obj.Data)
	require.Equal(t, 1, s.Len())
}
