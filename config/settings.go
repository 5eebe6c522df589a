package config

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Store kinds accepted in Settings.
const (
	KindFile = "file"
	KindSQL  = "sql"
	KindEtcd = "etcd"
)

// StoreSettings selects and configures a Store.
type StoreSettings struct {
	Kind      string   `yaml:"kind"`
	Path      string   `yaml:"path,omitempty"`
	Driver    string   `yaml:"driver,omitempty"`
	DSN       string   `yaml:"dsn,omitempty"`
	Endpoints []string `yaml:"endpoints,omitempty"`
	Prefix    string   `yaml:"prefix,omitempty"`
}

// Settings are the settings of a handler process.
type Settings struct {
	AppID    string        `yaml:"app_id"`
	LogLevel string        `yaml:"log_level"`
	Watch    string        `yaml:"watch,omitempty"`
	Store    StoreSettings `yaml:"store"`
}

// DefaultPath is where Load looks when no path is given.
const DefaultPath = "m2handler.yaml"

// Load reads settings from the YAML file at path. A missing file yields
// the defaults.
func Load(path string) (*Settings, error) {
	s := &Settings{
		LogLevel: "info",
		Store:    StoreSettings{Kind: KindFile, Path: "mongrel2.yaml"},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, errors.Wrap(err, "read settings")
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, errors.Wrapf(err, "parse settings %s", path)
	}
	return s, nil
}

// Open returns the Store described by s. The store also implements
// io.Closer when it holds resources.
func Open(s StoreSettings) (Store, error) {
	switch s.Kind {
	case KindFile:
		return NewFileStore(s.Path)
	case KindSQL:
		return OpenSQLStore(s.Driver, s.DSN)
	case KindEtcd:
		return NewEtcdStore(s.Endpoints, s.Prefix)
	}
	return nil, errors.Errorf("unknown store kind %q", s.Kind)
}

// Close closes store if it holds resources.
func Close(store Store) error {
	if c, ok := store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
