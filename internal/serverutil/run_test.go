package serverutil

import (
	"context"
	"errors"
	"os"
	"syscall"
	"testing"
	"time"
)

type fakeServer struct {
	startErr error
	started  chan struct{}
	release  chan struct{}
	shutdown chan struct{}
}

func newFakeServer(startErr error) *fakeServer {
	return &fakeServer{
		startErr: startErr,
		started:  make(chan struct{}),
		release:  make(chan struct{}),
		shutdown: make(chan struct{}, 1),
	}
}

func (f *fakeServer) Start() error {
	close(f.started)
	if f.startErr != nil {
		return f.startErr
	}
	<-f.release
	return nil
}

func (f *fakeServer) Shutdown(ctx context.Context) error {
	select {
	case f.shutdown <- struct{}{}:
	default:
	}
	close(f.release)
	return nil
}

func TestRunReturnsServerError(t *testing.T) {
	boom := errors.New("listen failure")
	srv := newFakeServer(boom)

	closed := false
	err := Run(srv, Config{
		ShutdownTimeout: time.Second,
		Closers: []func(context.Context) error{
			func(context.Context) error {
				closed = true
				return nil
			},
		},
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected server error to surface, got %v", err)
	}
	select {
	case <-srv.shutdown:
	default:
		t.Fatal("expected Shutdown to be invoked")
	}
	if !closed {
		t.Fatal("expected closers to run")
	}
}

func TestRunShutsDownOnSignal(t *testing.T) {
	srv := newFakeServer(nil)

	done := make(chan error, 1)
	go func() {
		done <- Run(srv, Config{ShutdownTimeout: time.Second, Signals: []os.Signal{syscall.SIGUSR1}})
	}()

	select {
	case <-srv.started:
	case <-time.After(time.Second):
		t.Fatal("server did not start")
	}

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGUSR1); err != nil {
		t.Fatalf("sending signal failed: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the signal")
	}
}

func TestRunRejectsNilServer(t *testing.T) {
	if err := Run(nil, Config{}); err == nil {
		t.Fatal("expected error for nil server")
	}
}
