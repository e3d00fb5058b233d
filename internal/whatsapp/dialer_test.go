// ABOUTME: Tests for the whatsmeow dialer that need no network
// ABOUTME: Opens a real device store in a temp dir and exercises unpaired devices

package whatsapp

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestDialer(t *testing.T) *Dialer {
	t.Helper()
	d, err := Open(context.Background(), Config{
		DeviceStorePath: filepath.Join(t.TempDir(), "devices.db"),
		Logger:          testLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(context.Background(), Config{})
	require.Error(t, err)
}

func TestSocketLogout_UnpairedDevice(t *testing.T) {
	d := openTestDialer(t)

	client := whatsmeow.NewClient(d.container.NewDevice(), nil)
	sock := &socket{client: client, logger: testLogger()}

	// A session still waiting for its QR scan has no device id yet.
	require.Nil(t, client.Store.ID)
	assert.NoError(t, sock.Logout(context.Background()))
	assert.NoError(t, sock.Close())
	assert.NoError(t, sock.Close(), "close is idempotent")
}

func TestDialerDevice(t *testing.T) {
	d := openTestDialer(t)
	ctx := context.Background()

	fresh, err := d.device(ctx, nil)
	require.NoError(t, err)
	assert.Nil(t, fresh.ID)

	_, err = d.device(ctx, []byte("15551234567.0:7@s.whatsapp.net"))
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}
