package ai

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAnalysisCacheTTL(t *testing.T) {
	now := time.Unix(1000, 0)
	c := newAnalysisCache(10, time.Minute)
	c.now = func() time.Time { return now }

	key := cacheKey("src/a.js", 120, 8)
	assert.Equal(t, "src/a.js-120-8", key)

	c.Put(key, &Analysis{Summary: "ok"})
	got, ok := c.Get(key)
	assert.True(t, ok)
	assert.Equal(t, "ok", got.Summary)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get(key)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestAnalysisCacheSweepAndEviction(t *testing.T) {
	now := time.Unix(1000, 0)
	c := newAnalysisCache(2, time.Minute)
	c.now = func() time.Time { return now }

	c.Put("a", &Analysis{})
	now = now.Add(30 * time.Second)
	c.Put("b", &Analysis{})
	c.Put("c", &Analysis{}) // evicts a
	assert.Equal(t, 2, c.Len())
	assert.Len(t, c.expires, 2)

	now = now.Add(45 * time.Second)
	assert.Equal(t, 0, c.Sweep(), "b and c are younger than the TTL")

	now = now.Add(time.Minute)
	assert.Equal(t, 2, c.Sweep())
	assert.Equal(t, 0, c.Len())
}

func TestAnalysisCacheDisabled(t *testing.T) {
	c := newAnalysisCache(10, 0)
	c.Put("a", &Analysis{})
	_, ok := c.Get("a")
	assert.False(t, ok)
}
