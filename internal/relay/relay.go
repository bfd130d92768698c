// Package relay дублирует события брокера во внешние системы обмена сообщениями.
package relay

import (
	"encoding/json"
	"time"

	"cafeorders/internal/notify"
)

// envelope формат сообщения во внешней системе
type envelope struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Channels  []string  `json:"channels"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

func encode(e notify.Event) ([]byte, error) {
	return json.Marshal(envelope{
		ID:        e.ID,
		Type:      e.Name,
		Channels:  e.Channels,
		Payload:   e.Payload,
		Timestamp: e.Timestamp,
	})
}
