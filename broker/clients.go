package broker

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registration is what a CONNECT command and its socket tell about a client.
type Registration struct {
	Name          string
	PID           int
	AnnouncedPort int
	IP            string
	ClientPort    int
	ServerPort    int
}

// ClientInfo is the metadata of a registered connection. The zero value means
// the connection never registered.
type ClientInfo struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	PID           int       `json:"pid"`
	AnnouncedPort int       `json:"announced_port"`
	IP            string    `json:"ip"`
	ClientPort    int       `json:"client_port"`
	ServerPort    int       `json:"server_port"`
	ConnectedAt   time.Time `json:"connected_at"`
}

// ClientRegistry maps live connections to their client metadata and keeps
// display names unique among registered connections.
type ClientRegistry struct {
	lock    sync.Mutex
	clients map[uuid.UUID]ClientInfo
}

// NewClientRegistry returns an empty registry.
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{clients: make(map[uuid.UUID]ClientInfo)}
}

// Register stores the metadata of connection id and returns its effective
// name. A requested name already used by another connection becomes
// "<name>-<pid>"; if that is taken too a counter is appended until the name
// is unique. Registering the same connection again replaces its entry.
func (registry *ClientRegistry) Register(id uuid.UUID, request Registration) string {
	registry.lock.Lock()
	defer registry.lock.Unlock()

	name := request.Name
	if registry.nameTakenLocked(name, id) {
		base := name + "-" + strconv.Itoa(request.PID)
		name = base
		for suffix := 2; registry.nameTakenLocked(name, id); suffix++ {
			name = base + "-" + strconv.Itoa(suffix)
		}
	}

	registry.clients[id] = ClientInfo{
		ID:            id,
		Name:          name,
		PID:           request.PID,
		AnnouncedPort: request.AnnouncedPort,
		IP:            request.IP,
		ClientPort:    request.ClientPort,
		ServerPort:    request.ServerPort,
		ConnectedAt:   time.Now(),
	}
	return name
}

func (registry *ClientRegistry) nameTakenLocked(name string, self uuid.UUID) bool {
	for id, info := range registry.clients {
		if id != self && info.Name == name {
			return true
		}
	}
	return false
}

// Unregister removes connection id. Removing an absent connection is a no-op.
func (registry *ClientRegistry) Unregister(id uuid.UUID) (ClientInfo, bool) {
	registry.lock.Lock()
	defer registry.lock.Unlock()

	info, ok := registry.clients[id]
	if ok {
		delete(registry.clients, id)
	}
	return info, ok
}

// Lookup returns the metadata of connection id, or the zero ClientInfo when
// it never registered.
func (registry *ClientRegistry) Lookup(id uuid.UUID) (ClientInfo, bool) {
	registry.lock.Lock()
	defer registry.lock.Unlock()

	info, ok := registry.clients[id]
	return info, ok
}

// Len returns the number of registered connections.
func (registry *ClientRegistry) Len() int {
	registry.lock.Lock()
	defer registry.lock.Unlock()
	return len(registry.clients)
}

// Snapshot returns the registered clients ordered by name.
func (registry *ClientRegistry) Snapshot() []ClientInfo {
	registry.lock.Lock()
	clients := make([]ClientInfo, 0, len(registry.clients))
	for _, info := range registry.clients {
		clients = append(clients, info)
	}
	registry.lock.Unlock()

	sort.Slice(clients, func(i, j int) bool {
		return clients[i].Name < clients[j].Name
	})
	return clients
}
