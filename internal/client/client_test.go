package client_test

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"udpft/internal/client"
	"udpft/internal/config"
	"udpft/internal/server"
	"udpft/internal/storage"
	"udpft/pkg/wire"
)

func startServer(t *testing.T, dir string) (*net.UDPAddr, func()) {
	t.Helper()
	gw := storage.New(dir)
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)

	cfg := config.ServerConfig{
		Workers:      3,
		WindowSize:   4,
		SessionIdle:  time.Minute,
		JanitorEvery: 50 * time.Millisecond,
	}
	d := server.New(conn, gw, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)

	addr := conn.LocalAddr().(*net.UDPAddr)
	return addr, func() {
		cancel()
		conn.Close()
	}
}

func dial(t *testing.T, addr *net.UDPAddr) *client.Driver {
	t.Helper()
	d, err := client.Dial(config.ClientConfig{Host: addr.IP.String(), Port: addr.Port})
	require.NoError(t, err)
	return d
}

func TestUploadThenDownloadRoundTripStopAndWait(t *testing.T) {
	serverDir := t.TempDir()
	addr, cleanup := startServer(t, serverDir)
	defer cleanup()

	localDir := t.TempDir()
	srcPath := filepath.Join(localDir, "upload.txt")
	payload := bytes.Repeat([]byte("reliable transfer over udp. "), 50)
	require.NoError(t, os.WriteFile(srcPath, payload, 0o644))

	up := dial(t, addr)
	require.NoError(t, up.Upload(srcPath, "remote.txt", wire.StopAndWait))
	up.Close()

	stored, err := os.ReadFile(filepath.Join(serverDir, "remote.txt"))
	require.NoError(t, err)
	require.Equal(t, payload, stored)

	dlPath := filepath.Join(localDir, "downloaded.txt")
	down := dial(t, addr)
	require.NoError(t, down.Download("remote.txt", dlPath, wire.StopAndWait))
	down.Close()

	downloaded, err := os.ReadFile(dlPath)
	require.NoError(t, err)
	require.Equal(t, payload, downloaded)
}

func TestUploadThenDownloadRoundTripSelectiveRepeat(t *testing.T) {
	serverDir := t.TempDir()
	addr, cleanup := startServer(t, serverDir)
	defer cleanup()

	localDir := t.TempDir()
	srcPath := filepath.Join(localDir, "big.bin")
	payload := bytes.Repeat([]byte{0xAA, 0x55, 0x01, 0x02}, 2000)
	require.NoError(t, os.WriteFile(srcPath, payload, 0o644))

	up := dial(t, addr)
	require.NoError(t, up.Upload(srcPath, "big.bin", wire.SelectiveRepeat))
	up.Close()

	dlPath := filepath.Join(localDir, "big.download.bin")
	down := dial(t, addr)
	require.NoError(t, down.Download("big.bin", dlPath, wire.SelectiveRepeat))
	down.Close()

	downloaded, err := os.ReadFile(dlPath)
	require.NoError(t, err)
	require.Equal(t, payload, downloaded)
}

func TestDownloadMissingFileReturnsError(t *testing.T) {
	serverDir := t.TempDir()
	addr, cleanup := startServer(t, serverDir)
	defer cleanup()

	down := dial(t, addr)
	defer down.Close()
	err := down.Download("does-not-exist.txt", filepath.Join(t.TempDir(), "out.txt"), wire.StopAndWait)
	require.Error(t, err)
}

func TestConcurrentUploadAndDownload(t *testing.T) {
	serverDir := t.TempDir()
	addr, cleanup := startServer(t, serverDir)
	defer cleanup()

	localDir := t.TempDir()
	existing := filepath.Join(serverDir, "existing.txt")
	require.NoError(t, os.WriteFile(existing, []byte("already on the server"), 0o644))

	newSrc := filepath.Join(localDir, "new.txt")
	require.NoError(t, os.WriteFile(newSrc, []byte("freshly uploaded content"), 0o644))

	done := make(chan error, 2)
	go func() {
		up := dial(t, addr)
		defer up.Close()
		done <- up.Upload(newSrc, "new.txt", wire.StopAndWait)
	}()
	go func() {
		down := dial(t, addr)
		defer down.Close()
		done <- down.Download("existing.txt", filepath.Join(localDir, "existing.copy.txt"), wire.SelectiveRepeat)
	}()

	require.NoError(t, <-done)
	require.NoError(t, <-done)

	uploaded, err := os.ReadFile(filepath.Join(serverDir, "new.txt"))
	require.NoError(t, err)
	require.Equal(t, "freshly uploaded content", string(uploaded))

	downloaded, err := os.ReadFile(filepath.Join(localDir, "existing.copy.txt"))
	require.NoError(t, err)
	require.Equal(t, "already on the server", string(downloaded))
}
