package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// fileConfig is the layout of a YAML configuration file.
type fileConfig struct {
	Handlers []Handler `yaml:"handlers"`
	Servers  []Server  `yaml:"servers"`
}

// FileStore is a MemoryStore loaded from a YAML file:
//
//	handlers:
//	  - send_ident: 34f9ceee-cd52-4b7f-b197-88bf2f0ec378
//	    send_spec: tcp://127.0.0.1:9999
//	    recv_spec: tcp://127.0.0.1:9998
//	servers:
//	  - uuid: f400bf85-4538-4f7a-8908-67e313d515c2
//	    chroot: /var/mongrel2
type FileStore struct {
	*MemoryStore
	path string
}

// NewFileStore reads the YAML file at path.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{MemoryStore: &MemoryStore{}, path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the file the store was read from.
func (s *FileStore) Path() string { return s.path }

// Reload reads the file again, replacing everything in the store.
func (s *FileStore) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return errors.Wrap(err, "read config file")
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return errors.Wrapf(err, "parse config file %s", s.path)
	}

	fresh := NewMemoryStore(cfg.Handlers, cfg.Servers)
	s.mu.Lock()
	s.handlers, s.servers = fresh.handlers, fresh.servers
	s.mu.Unlock()
	return nil
}
