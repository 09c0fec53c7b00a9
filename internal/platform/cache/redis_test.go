package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestNewAcceptsAddrAndURL(t *testing.T) {
	srv := miniredis.RunT(t)
	ctx := context.Background()

	client, err := New(ctx, srv.Addr())
	require.NoError(t, err)
	require.NoError(t, client.Set(ctx, "k", "v", 0).Err())
	require.NoError(t, client.Close())

	client, err = New(ctx, "redis://"+srv.Addr()+"/0")
	require.NoError(t, err)
	got, err := client.Get(ctx, "k").Result()
	require.NoError(t, err)
	require.Equal(t, "v", got)
	require.NoError(t, client.Close())

	_, err = New(ctx, "redis://"+srv.Addr()+"/notanumber")
	require.ErrorContains(t, err, "parse url")

	addr := srv.Addr()
	srv.Close()
	_, err = New(ctx, addr)
	require.ErrorContains(t, err, "ping")
}
