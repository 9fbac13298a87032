package collection

import (
	"context"

	"github.com/menta2k/cardscan/pkg/types"
)

// Store persists cards. Implementations must keep insertion order in Load.
type Store interface {
	// Load returns every stored card in insertion order.
	Load(ctx context.Context) ([]types.Card, error)
	// Put inserts the card, or replaces the stored card with the same ID.
	Put(ctx context.Context, card types.Card) error
	// Delete removes a card. It returns ErrCardNotFound for unknown IDs.
	Delete(ctx context.Context, id string) error
	Close() error
}
