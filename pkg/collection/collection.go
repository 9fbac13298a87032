// Package collection keeps the persisted set of scanned cards and derives the
// tag and search views over it.
package collection

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/menta2k/cardscan/pkg/types"
)

var (
	// ErrCardNotFound is returned for unknown card IDs.
	ErrCardNotFound = errors.New("card not found")
	// ErrInvalidCard is returned when a card would be left without a name.
	ErrInvalidCard = errors.New("card name is required")
)

// Collection is the in-memory card index, written through to a Store.
// Cards are held in insertion order; views are computed on demand.
type Collection struct {
	mu     sync.RWMutex
	store  Store
	cards  []types.Card
	logger *zap.Logger
	now    func() time.Time
}

// Open loads every card from store.
func Open(ctx context.Context, store Store, logger *zap.Logger) (*Collection, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cards, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load cards: %w", err)
	}
	logger.Debug("collection loaded", zap.Int("cards", len(cards)))
	return &Collection{store: store, cards: cards, logger: logger, now: time.Now}, nil
}

// Close closes the underlying store.
func (c *Collection) Close() error {
	return c.store.Close()
}

// Len returns the number of cards.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cards)
}

// Add stores a new card. A missing ID or capture time is filled in. Cards are
// never merged with existing ones, even when their fields match.
func (c *Collection) Add(ctx context.Context, card types.Card) (types.Card, error) {
	card = card.Clone()
	card.Name = strings.TrimSpace(card.Name)
	if card.Name == "" {
		return types.Card{}, ErrInvalidCard
	}
	if card.ID == "" {
		card.ID = uuid.NewString()
	}
	if card.CapturedAt.IsZero() {
		card.CapturedAt = c.now()
	}
	card.Tags = NormalizeTags(card.Tags)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.indexOf(card.ID) >= 0 {
		return types.Card{}, fmt.Errorf("card %s already exists", card.ID)
	}
	if err := c.store.Put(ctx, card); err != nil {
		return types.Card{}, fmt.Errorf("store card: %w", err)
	}
	c.cards = append(c.cards, card)
	c.logger.Debug("card added", zap.String("id", card.ID))
	return card.Clone(), nil
}

// Get returns a copy of the card with the given ID.
func (c *Collection) Get(id string) (types.Card, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i := c.indexOf(id)
	if i < 0 {
		return types.Card{}, ErrCardNotFound
	}
	return c.cards[i].Clone(), nil
}

// Patch lists user edits. Nil fields are left unchanged.
type Patch struct {
	Company  *string  `json:"company,omitempty"`
	Name     *string  `json:"name,omitempty"`
	Position *string  `json:"position,omitempty"`
	Email    *string  `json:"email,omitempty"`
	Notes    *string  `json:"notes,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// Update applies a patch in place.
func (c *Collection) Update(ctx context.Context, id string, p Patch) (types.Card, error) {
	return c.mutate(ctx, id, func(card *types.Card) (bool, error) {
		if p.Name != nil {
			name := strings.TrimSpace(*p.Name)
			if name == "" {
				return false, ErrInvalidCard
			}
			card.Name = name
		}
		set := func(dst *string, v *string) {
			if v != nil {
				*dst = strings.TrimSpace(*v)
			}
		}
		set(&card.Company, p.Company)
		set(&card.Position, p.Position)
		set(&card.Email, p.Email)
		if p.Notes != nil {
			card.Notes = *p.Notes
		}
		if p.Tags != nil {
			card.Tags = NormalizeTags(p.Tags)
		}
		return true, nil
	})
}

// Delete removes a card.
func (c *Collection) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexOf(id)
	if i < 0 {
		return ErrCardNotFound
	}
	if err := c.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete card: %w", err)
	}
	c.cards = append(c.cards[:i], c.cards[i+1:]...)
	return nil
}

// AddTag adds a tag to one card. Adding a tag the card has is a no-op.
func (c *Collection) AddTag(ctx context.Context, id, tag string) (types.Card, error) {
	return c.mutate(ctx, id, func(card *types.Card) (bool, error) {
		var changed bool
		card.Tags, changed = AddTag(card.Tags, tag)
		return changed, nil
	})
}

// RemoveTag removes a tag from one card. Removing an absent tag is a no-op.
func (c *Collection) RemoveTag(ctx context.Context, id, tag string) (types.Card, error) {
	return c.mutate(ctx, id, func(card *types.Card) (bool, error) {
		var changed bool
		card.Tags, changed = RemoveTag(card.Tags, tag)
		return changed, nil
	})
}

// ApplyTags adds and removes tags across several cards. Unknown IDs fail the
// call before anything is changed. If the store rejects a write, the cards
// already written are put back as they were and nothing changes in memory.
func (c *Collection) ApplyTags(ctx context.Context, ids []string, add, remove []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := make([]int, 0, len(ids))
	for _, id := range ids {
		i := c.indexOf(id)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrCardNotFound, id)
		}
		idx = append(idx, i)
	}

	updated := make(map[int]types.Card, len(idx))
	order := make([]int, 0, len(idx))
	for _, i := range idx {
		if _, seen := updated[i]; seen {
			continue
		}
		card := c.cards[i].Clone()
		changed := false
		for _, t := range add {
			var ok bool
			card.Tags, ok = AddTag(card.Tags, t)
			changed = changed || ok
		}
		for _, t := range remove {
			var ok bool
			card.Tags, ok = RemoveTag(card.Tags, t)
			changed = changed || ok
		}
		if changed {
			updated[i] = card
			order = append(order, i)
		}
	}

	for n, i := range order {
		if err := c.store.Put(ctx, updated[i]); err != nil {
			c.restore(ctx, order[:n])
			return fmt.Errorf("store card: %w", err)
		}
	}
	for _, i := range order {
		c.cards[i] = updated[i]
	}
	return nil
}

// restore writes the in-memory version of the given cards back to the store.
func (c *Collection) restore(ctx context.Context, idx []int) {
	ctx = context.WithoutCancel(ctx)
	for _, i := range idx {
		if err := c.store.Put(ctx, c.cards[i]); err != nil {
			c.logger.Error("restore card after failed tag update",
				zap.String("id", c.cards[i].ID), zap.Error(err))
		}
	}
}

// mutate edits a copy of the card and writes it through when fn reports a change.
func (c *Collection) mutate(ctx context.Context, id string, fn func(*types.Card) (bool, error)) (types.Card, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexOf(id)
	if i < 0 {
		return types.Card{}, ErrCardNotFound
	}

	card := c.cards[i].Clone()
	changed, err := fn(&card)
	if err != nil {
		return types.Card{}, err
	}
	if !changed {
		return card, nil
	}
	if err := c.store.Put(ctx, card); err != nil {
		return types.Card{}, fmt.Errorf("store card: %w", err)
	}
	c.cards[i] = card
	return card.Clone(), nil
}

func (c *Collection) indexOf(id string) int {
	for i := range c.cards {
		if c.cards[i].ID == id {
			return i
		}
	}
	return -1
}

// Order is the sort order of List.
type Order int

const (
	NewestFirst Order = iota
	OldestFirst
)

// Query filters and orders List.
type Query struct {
	// Tag keeps cards carrying this exact tag.
	Tag string
	// Search keeps cards where any of name, company, email, position, notes or
	// tags contains the text, ignoring case.
	Search string
	Order  Order
	// Limit caps the result; zero means no limit.
	Limit int
}

// List returns copies of the matching cards sorted by capture time.
func (c *Collection) List(q Query) []types.Card {
	c.mu.RLock()
	defer c.mu.RUnlock()

	needle := strings.ToLower(strings.TrimSpace(q.Search))
	out := make([]types.Card, 0, len(c.cards))
	for _, card := range c.cards {
		if q.Tag != "" && !contains(card.Tags, q.Tag) {
			continue
		}
		if needle != "" && !matches(card, needle) {
			continue
		}
		out = append(out, card.Clone())
	}

	sort.SliceStable(out, func(i, j int) bool {
		if q.Order == OldestFirst {
			return out[i].CapturedAt.Before(out[j].CapturedAt)
		}
		return out[i].CapturedAt.After(out[j].CapturedAt)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func matches(card types.Card, needle string) bool {
	fields := []string{card.Name, card.Company, card.Email, card.Position, card.Notes}
	fields = append(fields, card.Tags...)
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), needle) {
			return true
		}
	}
	return false
}

// AllTags returns every tag in use, sorted.
func (c *Collection) AllTags() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return AllTags(c.cards)
}

// RecentTags ranks tags from the newest cards, leaving out applied.
func (c *Collection) RecentTags(applied []string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return RecentTags(c.cards, RecentWindow, applied)
}

// Suggestions groups tag suggestions for a card that already has applied.
type Suggestions struct {
	Recent      []string `json:"recent"`
	Other       []string `json:"other"`
	OtherHidden int      `json:"other_hidden"`
}

// Suggest returns recent tags and the folded list of other tags.
func (c *Collection) Suggest(applied []string) Suggestions {
	c.mu.RLock()
	defer c.mu.RUnlock()
	recent := RecentTags(c.cards, RecentWindow, applied)
	other, hidden := Fold(OtherTags(AllTags(c.cards), recent, applied), FoldThreshold)
	return Suggestions{Recent: recent, Other: other, OtherHidden: hidden}
}

// OtherTags returns the tags that are neither recent nor applied.
func (c *Collection) OtherTags(applied []string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	all := AllTags(c.cards)
	return OtherTags(all, RecentTags(c.cards, RecentWindow, applied), applied)
}

// Autocomplete matches input against every tag in use.
func (c *Collection) Autocomplete(input string, applied []string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Autocomplete(AllTags(c.cards), input, applied, AutocompleteLimit)
}
