// Package platform implements the platform service bridge (C3): the
// fixed set of host-provided services a handler can reach through its
// ExecutionContext, wired in-process for C4/C6 and over
// internal/platform/rpc for C5's subprocess isolation.
package platform

import (
	"log/slog"
	"sync"

	"github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/execreq"
)

// Event is published on the event bus by Analytics() and EventBus()
// callers.
type Event struct {
	Topic string
	Data  any
}

// Subscriber receives events published on a topic.
type Subscriber func(Event)

// bus is a minimal in-process pub/sub: a mutex-protected map from
// topic to subscribers.
type bus struct {
	mu   sync.RWMutex
	subs map[string][]Subscriber
}

func newBus() *bus { return &bus{subs: make(map[string][]Subscriber)} }

func (b *bus) Subscribe(topic string, fn Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = append(b.subs[topic], fn)
}

func (b *bus) Publish(topic string, data any) {
	b.mu.RLock()
	subs := append([]Subscriber{}, b.subs[topic]...)
	subs = append(subs, b.subs["*"]...)
	b.mu.RUnlock()
	for _, fn := range subs {
		fn(Event{Topic: topic, Data: data})
	}
}

// Providers holds the optional, pluggable backing clients for services
// this substrate does not itself implement business logic for (LLM,
// embeddings, vector store, document/SQL databases). A nil field means
// the capability is unconfigured for this deployment; handlers that
// need it should treat a nil return as "not available" rather than
// panicking.
type Providers struct {
	LLM         any
	Embeddings  any
	VectorStore any
	DocumentDB  any
	SQLDB       any
}

// Services is the in-process implementation of execreq.PlatformServices,
// handed directly to C4 (in-process runner) and C6 (worker pool) without
// crossing a socket. C5 (subprocess runner) exposes the same surface to
// a handler process through internal/platform/rpc instead.
type Services struct {
	logger    *slog.Logger
	cache     *Cache
	storage   *Storage
	bus       *bus
	providers Providers
}

// NewServices builds the in-process platform façade for one execution.
func NewServices(logger *slog.Logger, storageRoot string, providers Providers) *Services {
	return &Services{
		logger:    logger,
		cache:     NewCache(),
		storage:   NewStorage(storageRoot),
		bus:       newBus(),
		providers: providers,
	}
}

func (s *Services) Logger() execreq.Logger           { return execreq.SlogLogger{L: s.logger} }
func (s *Services) LLM() any                         { return s.providers.LLM }
func (s *Services) Embeddings() any                  { return s.providers.Embeddings }
func (s *Services) VectorStore() any                 { return s.providers.VectorStore }
func (s *Services) Cache() any                       { return s.cache }
func (s *Services) DocumentDB() any                  { return s.providers.DocumentDB }
func (s *Services) SQLDB() any                       { return s.providers.SQLDB }
func (s *Services) Storage() any                     { return s.storage }
func (s *Services) Analytics() any                   { return analyticsFacade{s.bus} }
func (s *Services) EventBus() any                    { return eventBusFacade{s.bus} }

// analyticsFacade and eventBusFacade are thin, distinctly-named views
// over the same bus so handler code doing a type switch on
// ctx.Platform.Analytics() vs ctx.Platform.EventBus() sees two different
// concrete types even though they share an implementation.
type analyticsFacade struct{ b *bus }

func (a analyticsFacade) Emit(event string, data any) { a.b.Publish("analytics."+event, data) }

type eventBusFacade struct{ b *bus }

func (e eventBusFacade) Publish(topic string, data any)        { e.b.Publish(topic, data) }
func (e eventBusFacade) Subscribe(topic string, fn Subscriber) { e.b.Subscribe(topic, fn) }

var _ execreq.PlatformServices = (*Services)(nil)
