package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCacheKeyFor(t *testing.T) {
	base := &SearchInput{Query: "budget", Type: "fuzzy", Limit: 50}

	assert.Equal(t, cacheKeyFor(base), cacheKeyFor(&SearchInput{Query: "budget", Type: "fuzzy", Limit: 50}))

	variants := []*SearchInput{
		{Query: "budget", Type: "exact", Limit: 50},
		{Query: "budget", Type: "fuzzy", Limit: 10},
		{Query: "budget", Type: "fuzzy", Limit: 50, Offset: 10},
		{Query: "budget", Type: "fuzzy", Limit: 50, IncludeContent: true},
		{Query: "budget", Type: "fuzzy", Limit: 50, FileTypes: []string{".pdf"}},
		{Query: "budget", Type: "fuzzy", Limit: 50, Categories: []string{"document"}},
		{Query: "budget", Type: "fuzzy", Limit: 50, MinSize: 1024},
		{Query: "budget", Type: "fuzzy", Limit: 50, DateStart: "2024-01-01T00:00:00Z"},
	}
	seen := map[string]bool{cacheKeyFor(base): true}
	for _, v := range variants {
		key := cacheKeyFor(v)
		assert.False(t, seen[key], "parameter change must change the key: %+v", v)
		seen[key] = true
	}
}
