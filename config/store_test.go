package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore(
		[]Handler{{SendIdent: "app", SendSpec: "tcp://127.0.0.1:9999", RecvSpec: "tcp://127.0.0.1:9998"}},
		[]Server{{UUID: "srv", Chroot: "/var/www"}},
	)
	ctx := context.Background()

	send, recv, err := s.HandlerSpec(ctx, "app")
	if err != nil || send != "tcp://127.0.0.1:9999" || recv != "tcp://127.0.0.1:9998" {
		t.Errorf("HandlerSpec = (%q, %q, %v)", send, recv, err)
	}
	if chroot, err := s.ServerChroot(ctx, "srv"); err != nil || chroot != "/var/www" {
		t.Errorf("ServerChroot = (%q, %v)", chroot, err)
	}

	var he *UnknownHandlerError
	if _, _, err := s.HandlerSpec(ctx, "other"); !errors.As(err, &he) || he.AppID != "other" {
		t.Errorf("unknown handler error = %v", err)
	}
	var se *UnknownServerError
	if _, err := s.ServerChroot(ctx, "other"); !errors.As(err, &se) || se.UUID != "other" {
		t.Errorf("unknown server error = %v", err)
	}
}

func TestMemoryStore_ZeroValue(t *testing.T) {
	var s MemoryStore
	if _, _, err := s.HandlerSpec(context.Background(), "app"); err == nil {
		t.Error("empty store found a handler")
	}
	s.AddServer(Server{UUID: "srv", Chroot: "/"})
	if chroot, err := s.ServerChroot(context.Background(), "srv"); err != nil || chroot != "/" {
		t.Errorf("ServerChroot = (%q, %v)", chroot, err)
	}
}

const fileConfigYAML = `
handlers:
  - send_ident: app
    send_spec: tcp://127.0.0.1:9999
    recv_spec: tcp://127.0.0.1:9998
servers:
  - uuid: srv
    chroot: /var/www
`

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mongrel2.yaml")
	if err := os.WriteFile(path, []byte(fileConfigYAML), 0o600); err != nil {
		t.Fatal(err)
	}

	s, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}
	if s.Path() != path {
		t.Errorf("Path = %q", s.Path())
	}
	if send, _, err := s.HandlerSpec(context.Background(), "app"); err != nil || send != "tcp://127.0.0.1:9999" {
		t.Errorf("HandlerSpec = (%q, %v)", send, err)
	}

	if err := os.WriteFile(path, []byte("servers:\n  - uuid: new\n    chroot: /srv\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := s.Reload(); err != nil {
		t.Fatalf("Reload error: %v", err)
	}
	if _, _, err := s.HandlerSpec(context.Background(), "app"); err == nil {
		t.Error("Reload kept a removed handler")
	}
	if chroot, err := s.ServerChroot(context.Background(), "new"); err != nil || chroot != "/srv" {
		t.Errorf("ServerChroot = (%q, %v)", chroot, err)
	}
}

func TestFileStore_Errors(t *testing.T) {
	if _, err := NewFileStore(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file accepted")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("handlers: {"), 0o600)
	if _, err := NewFileStore(path); err == nil {
		t.Error("malformed file accepted")
	}
}
