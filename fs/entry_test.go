package fs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSortEntries(t *testing.T) {
	entries := []Entry{
		{Name: "zebra.txt", Kind: KindFile},
		{Name: "Apple", IsDir: true, Kind: KindDir},
		{Name: "banana.txt", Kind: KindFile},
		{Name: "cherry", IsDir: true, Kind: KindDir},
		{Name: "Alpha.txt", Kind: KindFile},
	}
	SortEntries(entries)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"Apple", "cherry", "Alpha.txt", "banana.txt", "zebra.txt"}, names)
}

func TestPageEntries(t *testing.T) {
	entries := make([]Entry, 0, 10)
	for i := 0; i < 10; i++ {
		entries = append(entries, Entry{Name: string(rune('a' + i))})
	}

	page := PageEntries(entries, 1, 3)
	assert.Len(t, page, 3)
	assert.Equal(t, "a", page[0].Name)

	page = PageEntries(entries, 4, 3)
	assert.Len(t, page, 1)
	assert.Equal(t, "j", page[0].Name)

	assert.Empty(t, PageEntries(entries, 5, 3))
	// Out-of-range values clamp rather than panic.
	assert.Len(t, PageEntries(entries, 0, 0), 1)
}
