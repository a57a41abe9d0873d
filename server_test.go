package netd

import (
	"context"
	"testing"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s := New(Config{})
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return s
}

func TestInitBringsUpLoopback(t *testing.T) {
	s := newTestServer(t)
	info := s.Info()
	if info.Interfaces != 1 {
		t.Errorf("Interfaces = %d, want 1 (loopback only, no device manager configured)", info.Interfaces)
	}
}

func TestRunRejectsUninitializedServer(t *testing.T) {
	s := New(Config{})
	if err := s.Run(context.Background()); !IsCode(err, CodeNotInitialized) {
		t.Errorf("Run before Init: err = %v, want CodeNotInitialized", err)
	}
}

func TestRunStopsOnCanceledContext(t *testing.T) {
	s := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Run(ctx); err == nil {
		t.Error("expected Run to return ctx.Err() immediately")
	}
}

func TestSocketCreationIncrementsInfo(t *testing.T) {
	s := newTestServer(t)
	badge, err := s.Socket(2, 1, 0)
	if err != nil {
		t.Fatalf("Socket: %v", err)
	}
	if badge == 0 {
		t.Fatal("expected a nonzero badge")
	}
	if got := s.Info().Sockets; got != 1 {
		t.Errorf("Sockets = %d, want 1", got)
	}
}

func TestUnknownBadgeOperationsReportNotFound(t *testing.T) {
	s := newTestServer(t)
	if _, err := s.Send(999, []byte("x"), 0); !IsCode(err, CodeNotFound) {
		t.Errorf("Send on unknown badge: err = %v, want CodeNotFound", err)
	}
	if _, err := s.Recv(999, make([]byte, 4), 0); !IsCode(err, CodeNotFound) {
		t.Errorf("Recv on unknown badge: err = %v, want CodeNotFound", err)
	}
	if err := s.CloseSocket(999); !IsCode(err, CodeNotFound) {
		t.Errorf("Close on unknown badge: err = %v, want CodeNotFound", err)
	}
}

func TestConnectAndAcceptAreNotSupported(t *testing.T) {
	s := newTestServer(t)
	badge, err := s.Socket(2, 1, 0)
	if err != nil {
		t.Fatalf("Socket: %v", err)
	}
	if err := s.Connect(badge, []byte{0, 0}); !IsCode(err, CodeNotSupported) {
		t.Errorf("Connect: err = %v, want CodeNotSupported", err)
	}
	if _, err := s.Accept(badge); !IsCode(err, CodeNotSupported) {
		t.Errorf("Accept: err = %v, want CodeNotSupported", err)
	}
}
