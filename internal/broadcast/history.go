package broadcast

import (
	"context"

	"bluecast/internal/storage"
)

// HistorySink records each message in a storage.Store.
type HistorySink struct {
	store storage.Store
}

func NewHistorySink(store storage.Store) *HistorySink { return &HistorySink{store: store} }

func (s *HistorySink) Name() string { return "history" }

func (s *HistorySink) Send(ctx context.Context, msg Message) error {
	return s.store.AppendMessage(ctx, storage.Record{
		ID:     msg.ID,
		At:     msg.ReceivedAt,
		Sender: msg.Sender,
		Kind:   msg.Kind,
		Text:   msg.Text,
	})
}
