package collection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/menta2k/cardscan/pkg/types"
)

// JSONStore keeps all cards in a single JSON file. Every write rewrites the
// file through a temporary file and a rename.
type JSONStore struct {
	filePath string
	mu       sync.RWMutex
}

var _ Store = (*JSONStore)(nil)

// NewJSONStore creates a store backed by path. The file is created on first write.
func NewJSONStore(path string) (*JSONStore, error) {
	if path == "" {
		return nil, errors.New("json store: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("json store: create directory: %w", err)
	}
	return &JSONStore{filePath: path}, nil
}

// Load reads every card. A missing file is an empty collection.
func (s *JSONStore) Load(ctx context.Context) ([]types.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read()
}

// Put inserts or replaces a card.
func (s *JSONStore) Put(ctx context.Context, card types.Card) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cards, err := s.read()
	if err != nil {
		return err
	}
	replaced := false
	for i := range cards {
		if cards[i].ID == card.ID {
			cards[i] = card
			replaced = true
			break
		}
	}
	if !replaced {
		cards = append(cards, card)
	}
	return s.write(cards)
}

// Delete removes a card.
func (s *JSONStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cards, err := s.read()
	if err != nil {
		return err
	}
	for i := range cards {
		if cards[i].ID == id {
			return s.write(append(cards[:i], cards[i+1:]...))
		}
	}
	return ErrCardNotFound
}

// Close is a no-op.
func (s *JSONStore) Close() error { return nil }

func (s *JSONStore) read() ([]types.Card, error) {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []types.Card{}, nil
		}
		return nil, fmt.Errorf("json store: read: %w", err)
	}
	var cards []types.Card
	if err := json.Unmarshal(data, &cards); err != nil {
		return nil, fmt.Errorf("json store: decode %s: %w", s.filePath, err)
	}
	return cards, nil
}

func (s *JSONStore) write(cards []types.Card) error {
	data, err := json.MarshalIndent(cards, "", "  ")
	if err != nil {
		return fmt.Errorf("json store: encode: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.filePath), ".cards-*.json")
	if err != nil {
		return fmt.Errorf("json store: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("json store: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("json store: write: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.filePath); err != nil {
		return fmt.Errorf("json store: replace: %w", err)
	}
	return nil
}
