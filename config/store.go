// Package config answers the two questions a handler asks the server's
// configuration: which addresses a handler uses, and where a server is
// chrooted.
package config

import (
	"context"
	"fmt"
	"sync"
)

// Store looks up handler addresses and server chroots.
// It satisfies both mongrel2.AddressResolver and mongrel2.ChrootResolver.
type Store interface {
	// HandlerSpec returns the addresses of the handler whose send ident is
	// appID: send is where the server sends requests, recv where it reads
	// replies.
	HandlerSpec(ctx context.Context, appID string) (send, recv string, err error)
	// ServerChroot returns the chroot of the server with the given uuid.
	ServerChroot(ctx context.Context, uuid string) (string, error)
}

// UnknownHandlerError is returned for an app id no handler is configured for.
type UnknownHandlerError struct {
	AppID string
}

func (e *UnknownHandlerError) Error() string {
	return fmt.Sprintf("no handler configured for %q", e.AppID)
}

// UnknownServerError is returned for a server uuid that is not configured.
type UnknownServerError struct {
	UUID string
}

func (e *UnknownServerError) Error() string {
	return fmt.Sprintf("no server configured with uuid %q", e.UUID)
}

// Handler is one configured handler.
type Handler struct {
	SendIdent string `yaml:"send_ident" json:"send_ident"`
	SendSpec  string `yaml:"send_spec" json:"send_spec"`
	RecvSpec  string `yaml:"recv_spec" json:"recv_spec"`
	RecvIdent string `yaml:"recv_ident,omitempty" json:"recv_ident,omitempty"`
}

// Server is one configured server.
type Server struct {
	UUID   string `yaml:"uuid" json:"uuid"`
	Chroot string `yaml:"chroot" json:"chroot"`
	Name   string `yaml:"name,omitempty" json:"name,omitempty"`
}

// MemoryStore keeps the configuration in maps. The zero value is empty and
// ready to use.
type MemoryStore struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	servers  map[string]Server
}

// NewMemoryStore returns a MemoryStore holding handlers and servers.
func NewMemoryStore(handlers []Handler, servers []Server) *MemoryStore {
	s := &MemoryStore{}
	for _, h := range handlers {
		s.AddHandler(h)
	}
	for _, srv := range servers {
		s.AddServer(srv)
	}
	return s
}

// AddHandler adds or replaces h.
func (s *MemoryStore) AddHandler(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handlers == nil {
		s.handlers = make(map[string]Handler)
	}
	s.handlers[h.SendIdent] = h
}

// AddServer adds or replaces srv.
func (s *MemoryStore) AddServer(srv Server) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.servers == nil {
		s.servers = make(map[string]Server)
	}
	s.servers[srv.UUID] = srv
}

func (s *MemoryStore) HandlerSpec(_ context.Context, appID string) (string, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handlers[appID]
	if !ok {
		return "", "", &UnknownHandlerError{AppID: appID}
	}
	return h.SendSpec, h.RecvSpec, nil
}

func (s *MemoryStore) ServerChroot(_ context.Context, uuid string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	srv, ok := s.servers[uuid]
	if !ok {
		return "", &UnknownServerError{UUID: uuid}
	}
	return srv.Chroot, nil
}
