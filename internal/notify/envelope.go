package notify

import (
	"strings"
	"time"

	"github.com/Domenick1991/carpool/internal/domain"
	"github.com/google/uuid"
)

const MessageTypeEmail = "email"

type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

type Recipient struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name,omitempty"`
}

type Payload struct {
	Template string         `json:"template"`
	Subject  string         `json:"subject"`
	Data     map[string]any `json:"data"`
}

type Metadata struct {
	CorrelationID string    `json:"correlation_id"`
	Source        string    `json:"source"`
	Priority      Priority  `json:"priority"`
	CreatedAt     time.Time `json:"created_at"`
}

// Envelope is the message handed to the transport. Builder copies Data, so a
// built envelope shares no mutable state with its caller.
type Envelope struct {
	MessageID string    `json:"message_id"`
	Type      string    `json:"type"`
	Recipient Recipient `json:"recipient"`
	Payload   Payload   `json:"payload"`
	Metadata  Metadata  `json:"metadata"`
}

// Fact is a domain occurrence worth telling someone about.
type Fact struct {
	// Kind names the fact, e.g. "booking.cancelled".
	Kind       string
	EntityType domain.EntityType
	EntityID   string
	// ChangeID identifies the change that produced the fact. Redelivery of
	// that change yields the same correlation id.
	ChangeID string
	Template string
	Subject  string
	Data     map[string]any
	Priority Priority
}

var correlationNamespace = uuid.MustParse("3f5b8c2e-6a41-4d0f-9c7e-2b8e1a9d4c11")

type Builder struct {
	source string
	now    func() time.Time
	newID  func() string
}

func NewBuilder(source string, now func() time.Time) *Builder {
	if now == nil {
		now = time.Now
	}
	return &Builder{source: source, now: now, newID: uuid.NewString}
}

func (b *Builder) Build(f Fact, to Recipient) Envelope {
	data := make(map[string]any, len(f.Data)+2)
	for k, v := range f.Data {
		data[k] = v
	}
	data["entity_type"] = string(f.EntityType)
	data["entity_id"] = f.EntityID

	priority := f.Priority
	if priority == "" {
		priority = PriorityNormal
	}

	return Envelope{
		MessageID: b.newID(),
		Type:      MessageTypeEmail,
		Recipient: to,
		Payload: Payload{
			Template: f.Template,
			Subject:  f.Subject,
			Data:     data,
		},
		Metadata: Metadata{
			CorrelationID: b.correlationID(f, to),
			Source:        b.source,
			Priority:      priority,
			CreatedAt:     b.now(),
		},
	}
}

func (b *Builder) correlationID(f Fact, to Recipient) string {
	if f.ChangeID == "" {
		return b.newID()
	}
	name := strings.Join([]string{string(f.EntityType), f.EntityID, f.ChangeID, f.Kind, to.UserID}, "|")
	return uuid.NewSHA1(correlationNamespace, []byte(name)).String()
}
