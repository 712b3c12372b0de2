package gateway

import (
	"net/http"
	"strings"
	"time"
)

// Snapshot is an immutable view of an active service and its active endpoints.
// A façade instance holds one snapshot for its whole lifetime.
type Snapshot struct {
	service   Service
	endpoints map[string]Endpoint
	loadedAt  time.Time
}

// NewSnapshot builds a snapshot, normalizing the base URL, the token and endpoint methods.
func NewSnapshot(svc Service, endpoints []Endpoint) *Snapshot {
	svc.BaseURL = strings.TrimRight(strings.TrimSpace(svc.BaseURL), "/")
	svc.AuthToken = SanitizeToken(svc.AuthToken)
	if svc.AuthScheme == "" {
		svc.AuthScheme = AuthBearer
	}

	byName := make(map[string]Endpoint, len(endpoints))
	for _, ep := range endpoints {
		if !ep.IsActive {
			continue
		}
		ep.Method = strings.ToUpper(strings.TrimSpace(ep.Method))
		if ep.Method == "" {
			ep.Method = http.MethodPost
		}
		byName[ep.Name] = ep
	}

	return &Snapshot{
		service:   svc,
		endpoints: byName,
		loadedAt:  time.Now(),
	}
}

// Service returns a copy of the service row.
func (s *Snapshot) Service() Service {
	return s.service
}

// Type is shorthand for Service().Type.
func (s *Snapshot) Type() ServiceType {
	return s.service.Type
}

// LoadedAt reports when the snapshot was taken.
func (s *Snapshot) LoadedAt() time.Time {
	return s.loadedAt
}

// Endpoint looks up an active endpoint by name.
func (s *Snapshot) Endpoint(name string) (Endpoint, bool) {
	ep, ok := s.endpoints[name]
	return ep, ok
}

// EndpointNames lists the active endpoint names.
func (s *Snapshot) EndpointNames() []string {
	names := make([]string, 0, len(s.endpoints))
	for name := range s.endpoints {
		names = append(names, name)
	}
	return names
}

// URL joins the base URL and the endpoint path.
func (s *Snapshot) URL(ep Endpoint) string {
	path := strings.TrimSpace(ep.Path)
	if path == "" || path == "/" {
		return s.service.BaseURL
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return s.service.BaseURL + path
}

// AuthorizationHeader renders the Authorization value for the configured scheme.
// An empty string means the header must be omitted.
func (s *Snapshot) AuthorizationHeader() string {
	token := s.service.AuthToken
	if token == "" {
		return ""
	}

	switch s.service.AuthScheme {
	case AuthNone:
		return ""
	case AuthToken:
		return "Token " + strings.TrimPrefix(token, "Bearer ")
	default:
		if strings.HasPrefix(token, "Bearer ") {
			return token
		}
		return "Bearer " + token
	}
}
