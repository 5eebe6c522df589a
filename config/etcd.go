package config

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// DefaultEtcdPrefix is the key prefix used when none is given.
const DefaultEtcdPrefix = "/mongrel2"

// Getter is the part of clientv3.KV the etcd store reads with.
type Getter interface {
	Get(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error)
}

// EtcdStore keeps the configuration in etcd. Handlers live under
// <prefix>/handlers/<send ident> as JSON documents, chroots under
// <prefix>/servers/<uuid>/chroot as plain strings.
type EtcdStore struct {
	kv     Getter
	client *clientv3.Client
	prefix string
}

// NewEtcdStore dials the etcd cluster at endpoints. The caller must call
// Close when finished.
func NewEtcdStore(endpoints []string, prefix string) (*EtcdStore, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, errors.Wrap(err, "etcd dial")
	}
	s := NewEtcdStoreWithKV(client, prefix)
	s.client = client
	return s, nil
}

// NewEtcdStoreWithKV returns a store reading through kv.
func NewEtcdStoreWithKV(kv Getter, prefix string) *EtcdStore {
	if prefix == "" {
		prefix = DefaultEtcdPrefix
	}
	return &EtcdStore{kv: kv, prefix: strings.TrimSuffix(prefix, "/")}
}

func (s *EtcdStore) handlerKey(appID string) string {
	return fmt.Sprintf("%s/handlers/%s", s.prefix, appID)
}

func (s *EtcdStore) chrootKey(uuid string) string {
	return fmt.Sprintf("%s/servers/%s/chroot", s.prefix, uuid)
}

// get returns the value at k, or nil if it does not exist.
func (s *EtcdStore) get(ctx context.Context, k string) ([]byte, error) {
	resp, err := s.kv.Get(ctx, k)
	if err != nil {
		return nil, errors.Wrapf(err, "etcd get %q", k)
	}
	if len(resp.Kvs) == 0 {
		return nil, nil
	}
	return resp.Kvs[0].Value, nil
}

func (s *EtcdStore) HandlerSpec(ctx context.Context, appID string) (string, string, error) {
	data, err := s.get(ctx, s.handlerKey(appID))
	if err != nil {
		return "", "", err
	}
	if data == nil {
		return "", "", &UnknownHandlerError{AppID: appID}
	}

	var h Handler
	if err := json.Unmarshal(data, &h); err != nil {
		return "", "", errors.Wrapf(err, "decode handler %q", appID)
	}
	return h.SendSpec, h.RecvSpec, nil
}

func (s *EtcdStore) ServerChroot(ctx context.Context, uuid string) (string, error) {
	data, err := s.get(ctx, s.chrootKey(uuid))
	if err != nil {
		return "", err
	}
	if data == nil {
		return "", &UnknownServerError{UUID: uuid}
	}
	return string(data), nil
}

// Close releases the etcd client if the store dialed it.
func (s *EtcdStore) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}
