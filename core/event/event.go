package event

import (
	"time"

	"github.com/google/uuid"
)

// Event wraps a published payload. Handlers are selected by Name, which is the
// payload's type name, for example "MFADisabled".
type Event struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Payload   any       `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

// NewEvent stamps payload with an ID and the current time.
func NewEvent(payload any) Event {
	return Event{ID: uuid.New(), Name: getEventName(payload), Payload: payload, CreatedAt: time.Now()}
}
