package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/systemshift/relgraph/internal/server/graph"
	"github.com/systemshift/relgraph/internal/server/logging"
)

// ErrNotFound is returned for unknown subscription ids.
var ErrNotFound = errors.New("subscription not found")

// EventEmitter is a function that receives events from the relationship layer
type EventEmitter func(Event)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithExecutor enables Cypher subscription patterns.
func WithExecutor(exec graph.Executor) Option {
	return func(m *Manager) {
		m.exec = exec
	}
}

// WithPublisher forwards every event to NATS under prefix.<event type>
// and enables per-subscription subjects.
func WithPublisher(p Publisher, prefix string) Option {
	return func(m *Manager) {
		m.publisher = p
		m.subjectPrefix = prefix
	}
}

// WithBufferSize sets the event channel capacity.
func WithBufferSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.bufferSize = n
		}
	}
}

// Manager handles subscription lifecycle and event processing
type Manager struct {
	subscriptions map[string]*Subscription
	eventChan     chan Event
	notifier      *Notifier
	matcher       *Matcher
	exec          graph.Executor
	publisher     Publisher
	subjectPrefix string
	bufferSize    int
	logger        *slog.Logger
	mu            sync.RWMutex
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

// NewManager creates a new subscription manager
func NewManager(opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		subscriptions: make(map[string]*Subscription),
		bufferSize:    1000,
		logger:        slog.Default(),
		ctx:           ctx,
		cancel:        cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(logging.Scope("subscriptions"))
	m.eventChan = make(chan Event, m.bufferSize)
	m.notifier = NewNotifier(m.publisher, m.logger)
	m.matcher = NewMatcher(m.exec, m.logger)
	return m
}

// Start begins processing events
func (m *Manager) Start(ctx context.Context) error {
	m.wg.Add(1)
	go m.processEvents()

	m.mu.RLock()
	count := len(m.subscriptions)
	m.mu.RUnlock()
	m.logger.Info("subscription manager started", slog.Int("subscriptions", count))
	return nil
}

// Stop drains queued events and waits for in-flight notifications
func (m *Manager) Stop() {
	m.cancel()
	m.wg.Wait()
	m.logger.Info("subscription manager stopped")
}

// EmitEvent queues an event for matching. It never blocks; events are
// dropped when the buffer is full or the manager is stopped.
func (m *Manager) EmitEvent(event Event) {
	if m.ctx.Err() != nil {
		return
	}
	select {
	case m.eventChan <- event:
	default:
		m.logger.Warn("event channel full, dropping event", slog.String("event_id", event.ID))
	}
}

// GetEmitter returns a function that can be used to emit events
func (m *Manager) GetEmitter() EventEmitter {
	return m.EmitEvent
}

// Register adds a new subscription
func (m *Manager) Register(ctx context.Context, req *CreateSubscriptionRequest) (*Subscription, error) {
	now := time.Now().UTC()
	sub := &Subscription{
		ID:          uuid.New().String(),
		Name:        req.Name,
		Description: req.Description,
		Pattern:     req.Pattern,
		Webhook:     req.Webhook,
		Subject:     req.Subject,
		Enabled:     true,
		Created:     now,
		Modified:    now,
	}

	if err := m.validate(sub); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.subscriptions[sub.ID] = sub
	m.mu.Unlock()

	m.logger.Info("registered subscription", slog.String("id", sub.ID), slog.String("name", sub.Name))
	return copySubscription(sub), nil
}

func (m *Manager) validate(sub *Subscription) error {
	if sub.Name == "" {
		return fmt.Errorf("subscription name is required")
	}
	if sub.Webhook == "" && sub.Subject == "" {
		return fmt.Errorf("subscription must have a webhook URL or a subject")
	}
	if sub.Subject != "" && m.publisher == nil {
		return fmt.Errorf("subscription subject %q needs a NATS connection", sub.Subject)
	}
	if sub.Pattern.Cypher != "" {
		if err := validateCypher(sub.Pattern.Cypher); err != nil {
			return err
		}
	}
	return nil
}

// Unregister removes a subscription
func (m *Manager) Unregister(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.subscriptions[id]; !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(m.subscriptions, id)

	m.logger.Info("unregistered subscription", slog.String("id", id))
	return nil
}

// Update modifies an existing subscription
func (m *Manager) Update(ctx context.Context, id string, req *UpdateSubscriptionRequest) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, exists := m.subscriptions[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	sub := copySubscription(existing)
	if req.Name != nil {
		sub.Name = *req.Name
	}
	if req.Description != nil {
		sub.Description = *req.Description
	}
	if req.Pattern != nil {
		sub.Pattern = *req.Pattern
	}
	if req.Webhook != nil {
		sub.Webhook = *req.Webhook
	}
	if req.Subject != nil {
		sub.Subject = *req.Subject
	}
	if req.Enabled != nil {
		sub.Enabled = *req.Enabled
	}
	sub.Modified = time.Now().UTC()

	if err := m.validate(sub); err != nil {
		return nil, err
	}
	m.subscriptions[id] = sub

	return copySubscription(sub), nil
}

// Get returns a subscription by ID
func (m *Manager) Get(id string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sub, exists := m.subscriptions[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return copySubscription(sub), nil
}

// List returns all subscriptions ordered by creation time
func (m *Manager) List() []*Subscription {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Subscription, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		result = append(result, copySubscription(sub))
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Created.Equal(result[j].Created) {
			return result[i].ID < result[j].ID
		}
		return result[i].Created.Before(result[j].Created)
	})
	return result
}

type subscriptionFile struct {
	Subscriptions []struct {
		Subscription `yaml:",inline"`
		Enabled      *bool `yaml:"enabled"`
	} `yaml:"subscriptions"`
}

// LoadFile registers the subscriptions declared in a YAML file. Entries
// without an id get a generated one; entries are enabled unless they say
// otherwise.
func (m *Manager) LoadFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading subscriptions file: %w", err)
	}

	var file subscriptionFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return 0, fmt.Errorf("parsing subscriptions file: %w", err)
	}

	now := time.Now().UTC()
	loaded := make([]*Subscription, 0, len(file.Subscriptions))
	for i, entry := range file.Subscriptions {
		sub := entry.Subscription
		if sub.ID == "" {
			sub.ID = uuid.New().String()
		}
		sub.Enabled = entry.Enabled == nil || *entry.Enabled
		sub.Created = now
		sub.Modified = now
		if err := m.validate(&sub); err != nil {
			return 0, fmt.Errorf("subscription %d (%s): %w", i, sub.Name, err)
		}
		loaded = append(loaded, &sub)
	}

	m.mu.Lock()
	for _, sub := range loaded {
		m.subscriptions[sub.ID] = sub
	}
	m.mu.Unlock()

	m.logger.Info("loaded subscriptions", slog.String("path", path), slog.Int("count", len(loaded)))
	return len(loaded), nil
}

// processEvents is the main event processing loop
func (m *Manager) processEvents() {
	defer m.wg.Done()

	for {
		select {
		case event := <-m.eventChan:
			m.handleEvent(event)
		case <-m.ctx.Done():
			for {
				select {
				case event := <-m.eventChan:
					m.handleEvent(event)
				default:
					return
				}
			}
		}
	}
}

// handleEvent processes a single event against all subscriptions
func (m *Manager) handleEvent(event Event) {
	if m.subjectPrefix != "" {
		if err := m.notifier.Publish(m.subjectPrefix+"."+event.Type, event); err != nil {
			m.logger.Warn("event publish failed", logging.Err(err))
		}
	}

	m.mu.RLock()
	subs := make([]*Subscription, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		if sub.Enabled {
			subs = append(subs, copySubscription(sub))
		}
	}
	m.mu.RUnlock()

	for _, sub := range subs {
		m.evaluateSubscription(event, sub)
	}
}

// evaluateSubscription checks if an event matches a subscription and fires notification
func (m *Manager) evaluateSubscription(event Event, sub *Subscription) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	matched, results := m.matcher.Match(ctx, event, sub.Pattern)
	if !matched {
		return
	}

	now := time.Now().UTC()
	notification := Notification{
		SubscriptionID:   sub.ID,
		SubscriptionName: sub.Name,
		Event:            event,
		MatchedAt:        now,
		QueryResults:     results,
	}

	m.mu.Lock()
	if s, exists := m.subscriptions[sub.ID]; exists {
		s.LastFired = &now
		s.FireCount++
	}
	m.mu.Unlock()

	if sub.Subject != "" {
		if err := m.notifier.Publish(sub.Subject, notification); err != nil {
			m.logger.Warn("subscription publish failed",
				slog.String("id", sub.ID), logging.Err(err))
		}
	}
	if sub.Webhook != "" {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			_ = m.notifier.SendWebhook(ctx, sub.Webhook, notification)
		}()
	}

	m.logger.Debug("subscription fired", slog.String("id", sub.ID), slog.String("event", event.Type))
}

func copySubscription(sub *Subscription) *Subscription {
	c := *sub
	if sub.LastFired != nil {
		t := *sub.LastFired
		c.LastFired = &t
	}
	return &c
}
