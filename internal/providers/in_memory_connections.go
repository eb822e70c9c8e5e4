package providers

import (
	"context"
	"sync"
	"time"

	"github.com/fitly-app/fitly/internal/fitness"
)

// InMemoryConnections is a ConnectionsStore for tests.
type InMemoryConnections struct {
	mutex       sync.Mutex
	connections map[fitness.Source]*Connection
}

var _ ConnectionsStore = (*InMemoryConnections)(nil)

func NewInMemoryConnections() *InMemoryConnections {
	return &InMemoryConnections{
		connections: make(map[fitness.Source]*Connection),
	}
}

func (s *InMemoryConnections) Get(_ context.Context, source fitness.Source) (*Connection, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	conn, ok := s.connections[source]
	if !ok || !conn.Connected {
		return nil, ErrNotConnected
	}
	connCopy := *conn
	return &connCopy, nil
}

func (s *InMemoryConnections) Save(_ context.Context, source fitness.Source, token Token) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.connections[source] = &Connection{
		Source:    source,
		Connected: true,
		Token:     token,
		UpdatedAt: time.Now(),
	}
	return nil
}

func (s *InMemoryConnections) MarkDisconnected(_ context.Context, source fitness.Source) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if conn, ok := s.connections[source]; ok {
		conn.Connected = false
		conn.Token.AccessToken = ""
	}
	return nil
}
