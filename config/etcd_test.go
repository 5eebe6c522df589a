package config

import (
	"context"
	"errors"
	"testing"

	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// fakeKV serves Get from a map.
type fakeKV struct {
	data map[string]string
	err  error
	keys []string
}

func (f *fakeKV) Get(_ context.Context, key string, _ ...clientv3.OpOption) (*clientv3.GetResponse, error) {
	f.keys = append(f.keys, key)
	if f.err != nil {
		return nil, f.err
	}
	resp := &clientv3.GetResponse{}
	if v, ok := f.data[key]; ok {
		resp.Kvs = []*mvccpb.KeyValue{{Key: []byte(key), Value: []byte(v)}}
	}
	return resp, nil
}

func TestEtcdStore(t *testing.T) {
	kv := &fakeKV{data: map[string]string{
		"/m2/handlers/app":       `{"send_ident":"app","send_spec":"tcp://127.0.0.1:9999","recv_spec":"tcp://127.0.0.1:9998"}`,
		"/m2/servers/srv/chroot": "/var/www",
	}}
	s := NewEtcdStoreWithKV(kv, "/m2/")
	ctx := context.Background()

	send, recv, err := s.HandlerSpec(ctx, "app")
	if err != nil || send != "tcp://127.0.0.1:9999" || recv != "tcp://127.0.0.1:9998" {
		t.Errorf("HandlerSpec = (%q, %q, %v)", send, recv, err)
	}
	if chroot, err := s.ServerChroot(ctx, "srv"); err != nil || chroot != "/var/www" {
		t.Errorf("ServerChroot = (%q, %v)", chroot, err)
	}

	var he *UnknownHandlerError
	if _, _, err := s.HandlerSpec(ctx, "nope"); !errors.As(err, &he) {
		t.Errorf("unknown handler error = %v", err)
	}
	var se *UnknownServerError
	if _, err := s.ServerChroot(ctx, "nope"); !errors.As(err, &se) {
		t.Errorf("unknown server error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close = %v", err)
	}
}

func TestEtcdStore_DefaultPrefix(t *testing.T) {
	kv := &fakeKV{}
	NewEtcdStoreWithKV(kv, "").ServerChroot(context.Background(), "srv")
	if len(kv.keys) != 1 || kv.keys[0] != "/mongrel2/servers/srv/chroot" {
		t.Errorf("keys = %v", kv.keys)
	}
}

func TestEtcdStore_Errors(t *testing.T) {
	boom := errors.New("etcdserver: request timed out")
	s := NewEtcdStoreWithKV(&fakeKV{err: boom}, "")
	if _, _, err := s.HandlerSpec(context.Background(), "app"); !errors.Is(err, boom) {
		t.Errorf("error = %v", err)
	}

	s = NewEtcdStoreWithKV(&fakeKV{data: map[string]string{"/mongrel2/handlers/app": "{"}}, "")
	if _, _, err := s.HandlerSpec(context.Background(), "app"); err == nil {
		t.Error("malformed handler accepted")
	}
}
