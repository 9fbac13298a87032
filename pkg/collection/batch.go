package collection

// BatchItem is one scanned card waiting to be saved from a batch.
type BatchItem struct {
	Source   string
	Included bool
	Tags     []string
}

// BatchTagger keeps batch-level tags and propagates every change to the
// included items. Excluded items are left alone.
type BatchTagger struct {
	Tags  []string
	Items []*BatchItem
}

// NewBatchTagger creates a tagger over items.
func NewBatchTagger(items []*BatchItem) *BatchTagger {
	return &BatchTagger{Items: items}
}

// Add applies tag to the batch and to every included item that lacks it.
// It returns the number of items changed.
func (b *BatchTagger) Add(tag string) int {
	b.Tags, _ = AddTag(b.Tags, tag)
	changed := 0
	for _, it := range b.Items {
		if !it.Included {
			continue
		}
		var ok bool
		if it.Tags, ok = AddTag(it.Tags, tag); ok {
			changed++
		}
	}
	return changed
}

// Remove drops tag from the batch and from every included item that has it.
// It returns the number of items changed.
func (b *BatchTagger) Remove(tag string) int {
	b.Tags, _ = RemoveTag(b.Tags, tag)
	changed := 0
	for _, it := range b.Items {
		if !it.Included {
			continue
		}
		var ok bool
		if it.Tags, ok = RemoveTag(it.Tags, tag); ok {
			changed++
		}
	}
	return changed
}
