package mqtt

import (
	"sync"
)

// ServeMux dispatches messages to the handler registered for a matching topic filter. Every matching handler is
// called, in registration order. It implements Handler.
type ServeMux struct {
	mu     sync.RWMutex
	routes []route
}

type route struct {
	filter  string
	handler Handler
}

// NewServeMux returns an empty ServeMux.
func NewServeMux() *ServeMux {
	return &ServeMux{}
}

// Handle registers h for messages matching filter.
func (m *ServeMux) Handle(filter string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.routes = append(m.routes, route{filter: filter, handler: h})
}

// HandleFunc registers f for messages matching filter.
func (m *ServeMux) HandleFunc(filter string, f func(Writer, string, []byte)) {
	m.Handle(filter, HandlerFunc(f))
}

func (m *ServeMux) ServeMQTT(w Writer, topic string, message []byte) {
	m.mu.RLock()
	matched := make([]Handler, 0, 1)
	for _, r := range m.routes {
		if MatchTopic(r.filter, topic) {
			matched = append(matched, r.handler)
		}
	}
	m.mu.RUnlock()

	for _, h := range matched {
		h.ServeMQTT(w, topic, message)
	}
}
