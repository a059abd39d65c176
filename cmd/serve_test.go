package main

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/censusify/internal/config"
)

func TestServe_InvalidPort(t *testing.T) {
	cfg = &config.Config{Server: config.ServerConfig{Port: 0}}
	serveCmd.SetContext(context.Background())
	assert.ErrorContains(t, serveCmd.RunE(serveCmd, nil), "server.port")
}

func TestServe_StopsOnCancel(t *testing.T) {
	// Reserve a free port, then release it for the server.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	cfg = &config.Config{
		Server: config.ServerConfig{Port: port},
		Store:  config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "serve.db")},
	}
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)
	serveCmd.SetContext(ctx)
	assert.NoError(t, serveCmd.RunE(serveCmd, nil))
}
