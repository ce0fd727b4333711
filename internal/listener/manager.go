package listener

import (
	"log/slog"
	"sync"
)

// ConnectionManager tracks live stream connections so they can be closed
// together on shutdown.
type ConnectionManager struct {
	clients map[string]*ClientConnection
	// map of all active client connections
	// key: connection ID, value: ClientConnection pointer
	mu     sync.RWMutex // read-write mutex for concurrent access
	logger *slog.Logger // structured logger shared with the listener
}

// constructor for ConnectionManager
func NewConnectionManager(logger *slog.Logger) *ConnectionManager {
	return &ConnectionManager{
		clients: make(map[string]*ClientConnection), // initialize empty map
		logger:  logger,
	}
}

// method to add a new connection
func (m *ConnectionManager) AddConnection(client *ClientConnection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[client.ID] = client // register the connection by its ID
	m.logger.Debug("client_added",
		"client_id", client.ID,
		"remote_addr", client.RemoteAddr(),
	)
}

// method to remove a connection
func (m *ConnectionManager) RemoveConnection(client *ClientConnection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.clients, client.ID) // remove the connection from the map by its ID
	m.logger.Debug("client_removed",
		"client_id", client.ID,
	)
}

// CloseAllConnections closes every tracked connection; their read loops
// then exit and remove themselves.
func (m *ConnectionManager) CloseAllConnections() {
	m.mu.RLock() // read lock is enough, entries are removed by their own read loops
	defer m.mu.RUnlock()
	for id, client := range m.clients { // iterate over all connected clients
		client.Close()
		m.logger.Debug("client_connection_closed",
			"client_id", id,
		)
	}
}

// number of live connections
func (m *ConnectionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}
