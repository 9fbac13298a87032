package collection

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/menta2k/cardscan/pkg/types"
)

func openTestCollection(t *testing.T) (*Collection, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cards.json")
	store, err := NewJSONStore(path)
	require.NoError(t, err)
	c, err := Open(context.Background(), store, zaptest.NewLogger(t))
	require.NoError(t, err)
	return c, path
}

func strPtr(s string) *string { return &s }

func TestAddAssignsIdentityAndNeverMerges(t *testing.T) {
	c, _ := openTestCollection(t)
	ctx := context.Background()

	jane := types.Card{Name: " Jane Doe ", Company: "Acme Corp", Tags: []string{"a", "a", " b"}}
	first, err := c.Add(ctx, jane)
	require.NoError(t, err)
	second, err := c.Add(ctx, jane)
	require.NoError(t, err)

	assert.NotEmpty(t, first.ID)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, "Jane Doe", first.Name)
	assert.Equal(t, []string{"a", "b"}, first.Tags)
	assert.False(t, first.CapturedAt.IsZero())
	assert.Equal(t, 2, c.Len())

	_, err = c.Add(ctx, types.Card{Name: "  "})
	assert.ErrorIs(t, err, ErrInvalidCard)

	_, err = c.Add(ctx, types.Card{ID: first.ID, Name: "dup"})
	assert.Error(t, err)
}

func TestPersistenceAcrossOpen(t *testing.T) {
	c, path := openTestCollection(t)
	ctx := context.Background()

	added, err := c.Add(ctx, types.Card{Name: "Jane Doe", ImageBytes: []byte{1, 2, 3}, Tags: []string{"vip"}})
	require.NoError(t, err)
	_, err = c.Update(ctx, added.ID, Patch{Notes: strPtr("met at booth 12")})
	require.NoError(t, err)

	store, err := NewJSONStore(path)
	require.NoError(t, err)
	reopened, err := Open(ctx, store, nil)
	require.NoError(t, err)

	got, err := reopened.Get(added.ID)
	require.NoError(t, err)
	assert.Equal(t, "met at booth 12", got.Notes)
	assert.Equal(t, []byte{1, 2, 3}, got.ImageBytes)
	assert.Equal(t, []string{"vip"}, got.Tags)
	assert.True(t, added.CapturedAt.Equal(got.CapturedAt))
}

func TestGetReturnsCopy(t *testing.T) {
	c, _ := openTestCollection(t)
	added, err := c.Add(context.Background(), types.Card{Name: "Jane", Tags: []string{"a"}})
	require.NoError(t, err)

	got, err := c.Get(added.ID)
	require.NoError(t, err)
	got.Tags[0] = "mutated"

	again, err := c.Get(added.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, again.Tags)

	_, err = c.Get("nope")
	assert.ErrorIs(t, err, ErrCardNotFound)
}

func TestUpdate(t *testing.T) {
	c, _ := openTestCollection(t)
	ctx := context.Background()
	added, err := c.Add(ctx, types.Card{Name: "Jeft Fu", Email: "jeff.fu@example.com"})
	require.NoError(t, err)

	updated, err := c.Update(ctx, added.ID, Patch{
		Name:     strPtr("Jeff Fu"),
		Position: strPtr(" CTO "),
		Tags:     []string{"x", "x", "y"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Jeff Fu", updated.Name)
	assert.Equal(t, "CTO", updated.Position)
	assert.Equal(t, "jeff.fu@example.com", updated.Email)
	assert.Equal(t, []string{"x", "y"}, updated.Tags)

	_, err = c.Update(ctx, added.ID, Patch{Name: strPtr("")})
	assert.ErrorIs(t, err, ErrInvalidCard)
	_, err = c.Update(ctx, "nope", Patch{})
	assert.ErrorIs(t, err, ErrCardNotFound)
}

func TestDelete(t *testing.T) {
	c, _ := openTestCollection(t)
	ctx := context.Background()
	added, err := c.Add(ctx, types.Card{Name: "Jane"})
	require.NoError(t, err)

	require.NoError(t, c.Delete(ctx, added.ID))
	assert.Zero(t, c.Len())
	assert.ErrorIs(t, c.Delete(ctx, added.ID), ErrCardNotFound)
}

func TestCardTags(t *testing.T) {
	c, _ := openTestCollection(t)
	ctx := context.Background()
	added, err := c.Add(ctx, types.Card{Name: "Jane"})
	require.NoError(t, err)

	card, err := c.AddTag(ctx, added.ID, "vip")
	require.NoError(t, err)
	card, err = c.AddTag(ctx, added.ID, "vip")
	require.NoError(t, err)
	assert.Equal(t, []string{"vip"}, card.Tags)

	card, err = c.RemoveTag(ctx, added.ID, "absent")
	require.NoError(t, err)
	assert.Equal(t, []string{"vip"}, card.Tags)

	card, err = c.RemoveTag(ctx, added.ID, "vip")
	require.NoError(t, err)
	assert.Empty(t, card.Tags)
}

func TestApplyTags(t *testing.T) {
	c, _ := openTestCollection(t)
	ctx := context.Background()
	a, err := c.Add(ctx, types.Card{Name: "A", Tags: []string{"old"}})
	require.NoError(t, err)
	b, err := c.Add(ctx, types.Card{Name: "B", Tags: []string{"new"}})
	require.NoError(t, err)
	other, err := c.Add(ctx, types.Card{Name: "C", Tags: []string{"old"}})
	require.NoError(t, err)

	require.NoError(t, c.ApplyTags(ctx, []string{a.ID, b.ID}, []string{"new"}, []string{"old"}))

	got, _ := c.Get(a.ID)
	assert.Equal(t, []string{"new"}, got.Tags)
	got, _ = c.Get(b.ID)
	assert.Equal(t, []string{"new"}, got.Tags)
	got, _ = c.Get(other.ID)
	assert.Equal(t, []string{"old"}, got.Tags)

	err = c.ApplyTags(ctx, []string{a.ID, "missing"}, []string{"x"}, nil)
	assert.ErrorIs(t, err, ErrCardNotFound)
	got, _ = c.Get(a.ID)
	assert.Equal(t, []string{"new"}, got.Tags, "nothing applied when an id is unknown")
}

// flakyStore fails the failOn-th Put after it is armed.
type flakyStore struct {
	Store
	armed  bool
	puts   int
	failOn int
}

func (s *flakyStore) Put(ctx context.Context, card types.Card) error {
	if s.armed {
		s.puts++
		if s.puts == s.failOn {
			return errors.New("disk full")
		}
	}
	return s.Store.Put(ctx, card)
}

func TestApplyTagsRollsBackOnStoreFailure(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cards.json")
	inner, err := NewJSONStore(path)
	require.NoError(t, err)
	store := &flakyStore{Store: inner, failOn: 2}
	c, err := Open(ctx, store, zaptest.NewLogger(t))
	require.NoError(t, err)

	a, err := c.Add(ctx, types.Card{Name: "A"})
	require.NoError(t, err)
	b, err := c.Add(ctx, types.Card{Name: "B"})
	require.NoError(t, err)

	store.armed = true
	err = c.ApplyTags(ctx, []string{a.ID, b.ID}, []string{"x"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	for _, id := range []string{a.ID, b.ID} {
		got, err := c.Get(id)
		require.NoError(t, err)
		assert.Empty(t, got.Tags, "memory unchanged for %s", got.Name)
	}

	reloaded, err := NewJSONStore(path)
	require.NoError(t, err)
	cards, err := reloaded.Load(ctx)
	require.NoError(t, err)
	require.Len(t, cards, 2)
	for _, card := range cards {
		assert.Empty(t, card.Tags, "store restored for %s", card.Name)
	}
}

func TestListQueries(t *testing.T) {
	c, _ := openTestCollection(t)
	ctx := context.Background()
	t0 := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	mk := func(name, company string, offset time.Duration, tags ...string) types.Card {
		card, err := c.Add(ctx, types.Card{Name: name, Company: company, CapturedAt: t0.Add(offset), Tags: tags})
		require.NoError(t, err)
		return card
	}
	jane := mk("Jane Doe", "Acme Corp", time.Hour, "vip")
	jeff := mk("Jeff Fu", "Globex", 3*time.Hour, "berlin")
	ana := mk("Ana Lima", "Initech", 2*time.Hour, "berlin", "vip")
	_, err := c.Update(ctx, jeff.ID, Patch{Notes: strPtr("Follow up about ACME merger")})
	require.NoError(t, err)

	names := func(cards []types.Card) []string {
		var out []string
		for _, card := range cards {
			out = append(out, card.Name)
		}
		return out
	}

	assert.Equal(t, []string{"Jeff Fu", "Ana Lima", "Jane Doe"}, names(c.List(Query{})))
	assert.Equal(t, []string{"Jane Doe", "Ana Lima", "Jeff Fu"}, names(c.List(Query{Order: OldestFirst})))
	assert.Equal(t, []string{"Ana Lima", "Jane Doe"}, names(c.List(Query{Tag: "vip"})))
	assert.Empty(t, c.List(Query{Tag: "VIP"}), "tag filter is exact")
	assert.Equal(t, []string{"Jeff Fu", "Jane Doe"}, names(c.List(Query{Search: "acme"})))
	assert.Equal(t, []string{"Jeff Fu", "Ana Lima"}, names(c.List(Query{Search: "BERLIN"})))
	assert.Equal(t, []string{"Ana Lima"}, names(c.List(Query{Tag: "vip", Search: "init"})))
	assert.Equal(t, []string{"Jeff Fu"}, names(c.List(Query{Limit: 1})))
	_ = jane
	_ = ana
}

func TestCollectionTagViews(t *testing.T) {
	c, _ := openTestCollection(t)
	ctx := context.Background()
	t0 := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	sets := [][]string{{"a", "b"}, {"a"}, {"c"}, {"a", "c"}, {}, {"d", "e", "f", "g", "h", "i", "j", "k", "l"}}
	for i, tags := range sets {
		_, err := c.Add(ctx, types.Card{Name: "n", CapturedAt: t0.Add(-time.Duration(i) * time.Minute), Tags: tags})
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"a", "c", "b"}, c.RecentTags(nil))
	assert.Equal(t, []string{"c", "b"}, c.RecentTags([]string{"a"}))
	assert.Len(t, c.AllTags(), 12)
	assert.Equal(t, []string{"d", "e", "f", "g", "h", "i", "j", "k", "l"}, c.OtherTags(nil))

	s := c.Suggest([]string{"a"})
	assert.Equal(t, []string{"c", "b"}, s.Recent)
	assert.Equal(t, []string{"d", "e", "f", "g", "h", "i", "j", "k"}, s.Other)
	assert.Equal(t, 1, s.OtherHidden)

	assert.Equal(t, []string{"c"}, c.Autocomplete("C", nil))
}

func TestJSONStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cards.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	store, err := NewJSONStore(path)
	require.NoError(t, err)
	_, err = Open(context.Background(), store, nil)
	assert.Error(t, err)
}

func TestJSONStoreDeleteUnknown(t *testing.T) {
	store, err := NewJSONStore(filepath.Join(t.TempDir(), "nested", "cards.json"))
	require.NoError(t, err)
	assert.ErrorIs(t, store.Delete(context.Background(), "x"), ErrCardNotFound)
	require.NoError(t, store.Put(context.Background(), types.Card{ID: "x", Name: "X"}))
	require.NoError(t, store.Put(context.Background(), types.Card{ID: "x", Name: "Y"}))

	cards, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, "Y", cards[0].Name)
	require.NoError(t, store.Delete(context.Background(), "x"))
}
