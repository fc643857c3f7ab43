package cache

import (
	"fmt"

	"github.com/medisync/medisync/internal/store"
)

// Assumed average record sizes in bytes, for the display-only size estimate.
// Consultations carry free-text notes and dominate.
var avgRecordSize = map[store.Collection]int{
	store.Patients:      2048,
	store.Consultations: 4096,
	store.Prescriptions: 1024,
}

// Stats summarizes what the cache currently holds.
type Stats struct {
	Counts        map[store.Collection]int
	QueueDepth    int
	EstimatedSize string // rough, counts x assumed averages; display only
}

// Stats returns per-collection counts and a human-readable size estimate.
func (c *Cache) Stats() (*Stats, error) {
	stats := &Stats{Counts: make(map[store.Collection]int)}
	totalBytes := 0
	for _, col := range store.RecordCollections {
		n, err := c.db.Count(col)
		if err != nil {
			return nil, fmt.Errorf("count %s: %w", col, err)
		}
		stats.Counts[col] = n
		totalBytes += n * avgRecordSize[col]
	}
	depth, err := c.db.CountQueue()
	if err != nil {
		return nil, err
	}
	stats.QueueDepth = depth
	stats.EstimatedSize = humanSize(totalBytes)
	return stats, nil
}

func humanSize(n int) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%d B", n)
}
