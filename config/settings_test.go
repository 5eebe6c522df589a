package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if s.LogLevel != "info" || s.Store.Kind != KindFile {
		t.Errorf("defaults = %+v", s)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m2handler.yaml")
	content := `
app_id: 34f9ceee-cd52-4b7f-b197-88bf2f0ec378
log_level: debug
watch: /var/mongrel2/config.sqlite
store:
  kind: etcd
  endpoints: [127.0.0.1:2379]
  prefix: /m2
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if s.AppID != "34f9ceee-cd52-4b7f-b197-88bf2f0ec378" || s.LogLevel != "debug" || s.Watch == "" {
		t.Errorf("settings = %+v", s)
	}
	if s.Store.Kind != KindEtcd || len(s.Store.Endpoints) != 1 || s.Store.Prefix != "/m2" {
		t.Errorf("store = %+v", s.Store)
	}
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mongrel2.yaml")
	os.WriteFile(path, []byte(fileConfigYAML), 0o600)

	store, err := Open(StoreSettings{Kind: KindFile, Path: path})
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if _, ok := store.(*FileStore); !ok {
		t.Errorf("store = %T", store)
	}
	if err := Close(store); err != nil {
		t.Errorf("Close = %v", err)
	}

	if _, err := Open(StoreSettings{Kind: "redis"}); err == nil {
		t.Error("unknown kind accepted")
	}
}
