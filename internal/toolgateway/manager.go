package toolgateway

import (
	"context"
	"sort"
	"sync"
)

const (
	ServiceKubernetes = "kubernetes"
	ServicePrometheus = "prometheus"
	ServiceGrafana    = "grafana"
	ServiceGitHub     = "github"
)

// Invoker is the calling surface the pipeline depends on.
type Invoker interface {
	Invoke(ctx context.Context, service, operation string, args any) (Result, error)
}

// Manager routes calls to per-service clients.
type Manager struct {
	clients map[string]*Client
}

// NewManager builds one client per entry of services (name to base URL),
// fetching all schemas concurrently.
func NewManager(ctx context.Context, services map[string]string, opts ...Option) *Manager {
	var (
		mu      sync.Mutex
		clients = make(map[string]*Client, len(services))
		wg      sync.WaitGroup
	)
	for name, baseURL := range services {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := NewClient(ctx, name, baseURL, opts...)
			mu.Lock()
			clients[name] = c
			mu.Unlock()
		}()
	}
	wg.Wait()

	return &Manager{clients: clients}
}

// Client returns the client for service.
func (m *Manager) Client(service string) (*Client, bool) {
	c, ok := m.clients[service]
	return c, ok
}

// Services returns the configured service names, sorted.
func (m *Manager) Services() []string {
	names := make([]string, 0, len(m.clients))
	for name := range m.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke calls operation on service.
func (m *Manager) Invoke(ctx context.Context, service, operation string, args any) (Result, error) {
	c, ok := m.clients[service]
	if !ok {
		return Result{}, &ToolError{
			Service:   service,
			Operation: operation,
			Message:   "service is not configured",
			Err:       ErrUnknownService,
		}
	}
	return c.Invoke(ctx, operation, args)
}

var _ Invoker = (*Manager)(nil)
