package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stoa-labs/stoa/internal/knowledge"
)

// MarcusPersona is the stock fixture persona used across retrieval tests.
func MarcusPersona() knowledge.Persona {
	return knowledge.Persona{
		ID:            "marcus",
		Name:          "Marcus Aurelius",
		Tradition:     "stoicism",
		KnowledgeTags: []string{"marcus", "stoic"},
	}
}

// SeedChunks returns a small corpus spanning two traditions, with staggered
// creation times so recency scoring is deterministic.
func SeedChunks(now time.Time) []knowledge.Chunk {
	return []knowledge.Chunk{
		{
			ID:          "meditations-2-1",
			Work:        "Meditations",
			Author:      "Marcus Aurelius",
			Tradition:   "stoicism",
			Section:     "2.1",
			Virtue:      "temperance",
			PersonaTags: []string{"marcus", "stoic"},
			Content:     "Begin each day by telling yourself: today I shall meet with interference, ingratitude, insolence.",
			Citation:    "Meditations 2.1",
			CreatedAt:   now.Add(-1 * time.Hour),
		},
		{
			ID:          "meditations-5-16",
			Work:        "Meditations",
			Author:      "Marcus Aurelius",
			Tradition:   "stoicism",
			Section:     "5.16",
			Virtue:      "wisdom",
			PersonaTags: []string{"marcus", "stoic"},
			Content:     "The soul becomes dyed with the colour of its thoughts.",
			Citation:    "Meditations 5.16",
			CreatedAt:   now.Add(-24 * time.Hour),
		},
		{
			ID:          "enchiridion-1",
			Work:        "Enchiridion",
			Author:      "Epictetus",
			Tradition:   "stoicism",
			Section:     "1",
			Virtue:      "wisdom",
			PersonaTags: []string{"epictetus", "stoic"},
			Content:     "Some things are within our power, while others are not.",
			Citation:    "Enchiridion 1",
			CreatedAt:   now.Add(-48 * time.Hour),
		},
		{
			ID:          "analects-4-17",
			Work:        "Analects",
			Author:      "Confucius",
			Tradition:   "confucianism",
			Section:     "4.17",
			Virtue:      "humility",
			PersonaTags: []string{"kongzi"},
			Content:     "When we see men of worth, we should think of equaling them.",
			Citation:    "Analects 4.17",
			CreatedAt:   now.Add(-72 * time.Hour),
		},
	}
}

// SeedStore inserts the stock corpus into the store.
func SeedStore(t *testing.T, ctx context.Context, store *knowledge.Store) {
	t.Helper()
	for _, chunk := range SeedChunks(time.Now()) {
		if err := store.Add(ctx, chunk); err != nil {
			t.Fatalf("Failed to seed chunk %q: %v", chunk.ID, err)
		}
	}
}
