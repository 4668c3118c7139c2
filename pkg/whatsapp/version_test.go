package whatsapp

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow/store"
)

func TestVersionRefreshThrottles(t *testing.T) {
	var calls int32
	r := NewVersionRefresher()
	r.fetch = func(ctx context.Context, _ *http.Client) (*store.WAVersionContainer, error) {
		atomic.AddInt32(&calls, 1)
		v := store.GetWAVersion()
		return &v, nil
	}

	_, fetched, err := r.Refresh(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, fetched)

	_, fetched, err = r.Refresh(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, fetched, "second refresh inside the interval is skipped")

	_, fetched, err = r.Refresh(context.Background(), true)
	require.NoError(t, err)
	assert.True(t, fetched)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestVersionRefreshRecordsError(t *testing.T) {
	r := NewVersionRefresher()
	r.fetch = func(ctx context.Context, _ *http.Client) (*store.WAVersionContainer, error) {
		return nil, errors.New("endpoint down")
	}

	status, fetched, err := r.Refresh(context.Background(), true)
	assert.Error(t, err)
	assert.True(t, fetched)
	assert.Equal(t, "endpoint down", status.LastError)
	assert.NotNil(t, status.LastRefreshed)
}
