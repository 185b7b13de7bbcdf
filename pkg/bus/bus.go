// Package bus announces answered submissions to the outside world. The
// REPL itself never reads from the bus; publishing is best effort.
package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubject is where results are published when none is configured
const DefaultSubject = "chanrepl.results"

// SubmissionIDHeader carries the submission id on every NATS message
const SubmissionIDHeader = "X-Submission-ID"

// ErrPublisherClosed is returned by Publish after Close
var ErrPublisherClosed = errors.New("bus: publisher is closed")

// ResultEvent is one result the coordinator printed.
type ResultEvent struct {
	ID   string    `json:"id"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Publisher sends result events somewhere.
type Publisher interface {
	Publish(event ResultEvent) error
	Close() error
}

// NopPublisher drops every event
type NopPublisher struct{}

func (NopPublisher) Publish(ResultEvent) error { return nil }
func (NopPublisher) Close() error              { return nil }

// NATSConfig configures a NATSPublisher.
type NATSConfig struct {
	// URL is the NATS server URL. Empty uses nats.DefaultURL.
	URL string

	// Subject receives every event. Empty uses DefaultSubject.
	Subject string

	// Name is an optional NATS connection name.
	Name string

	// FlushTimeout bounds the final flush in Close.
	FlushTimeout time.Duration
}

// NATSPublisher publishes JSON encoded result events on a NATS subject.
type NATSPublisher struct {
	nc           *nats.Conn
	subject      string
	flushTimeout time.Duration

	mu     sync.Mutex
	closed bool
}

// NewNATSPublisher connects to cfg.URL.
func NewNATSPublisher(cfg NATSConfig) (*NATSPublisher, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	subject := cfg.Subject
	if subject == "" {
		subject = DefaultSubject
	}
	flushTimeout := cfg.FlushTimeout
	if flushTimeout <= 0 {
		flushTimeout = 2 * time.Second
	}

	nc, err := nats.Connect(url, func(o *nats.Options) error {
		if cfg.Name != "" {
			o.Name = cfg.Name
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bus: connect %s: %w", url, err)
	}

	return &NATSPublisher{
		nc:           nc,
		subject:      subject,
		flushTimeout: flushTimeout,
	}, nil
}

// Subject returns the subject events are published on
func (p *NATSPublisher) Subject() string {
	return p.subject
}

// Publish implements Publisher. It does not wait for the server.
func (p *NATSPublisher) Publish(event ResultEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPublisherClosed
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("bus: encode event: %w", err)
	}

	msg := &nats.Msg{
		Subject: p.subject,
		Data:    data,
		Header:  nats.Header{},
	}
	if event.ID != "" {
		msg.Header.Set(SubmissionIDHeader, event.ID)
	}
	return p.nc.PublishMsg(msg)
}

// Close flushes pending events and closes the connection. Closing twice
// is a no-op.
func (p *NATSPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	err := p.nc.FlushTimeout(p.flushTimeout)
	p.nc.Close()
	return err
}
