package server

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
)

type countingDrainer struct{ n atomic.Int32 }

func (d *countingDrainer) Drain() { d.n.Add(1) }

func TestStartDrainsOnCancel(t *testing.T) {
	cfg := Config{
		EnableHTTP:      true,
		EnableGRPC:      true,
		HTTPPort:        "0",
		GRPCPort:        "0",
		ShutdownTimeout: time.Second,
	}
	d := &countingDrainer{}
	srv := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), chi.NewRouter(), grpc.NewServer()).
		WithDrainer(d)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.EqualValues(t, 1, d.n.Load())
}

func TestStartFailsOnBadMTLSConfig(t *testing.T) {
	cfg := Config{
		EnableHTTP:  true,
		HTTPPort:    "0",
		MTLSEnabled: true,
		MTLSCACert:  "/does/not/exist.pem",
	}
	err := New(cfg, nil, chi.NewRouter(), nil).Start(context.Background())
	assert.ErrorContains(t, err, "mTLS")
}
