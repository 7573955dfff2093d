package chat

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
)

// DefaultVoiceCacheTTL is how long a synthesized announcement is reused.
const DefaultVoiceCacheTTL = 30 * time.Minute

// SpeechSynthesizer renders text to playable audio.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// CachedSynthesizer memoizes announcements. The planner emits a small set of
// fixed patient messages, so most calls after warm-up are cache hits.
type CachedSynthesizer struct {
	next  SpeechSynthesizer
	cache *cache.Cache
}

// NewCachedSynthesizer wraps next. A zero ttl selects DefaultVoiceCacheTTL.
func NewCachedSynthesizer(next SpeechSynthesizer, ttl time.Duration) *CachedSynthesizer {
	if ttl <= 0 {
		ttl = DefaultVoiceCacheTTL
	}
	return &CachedSynthesizer{
		next:  next,
		cache: cache.New(ttl, ttl/2),
	}
}

// Synthesize returns cached audio for text, or synthesizes and stores it.
// Failures are not cached.
func (c *CachedSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if v, ok := c.cache.Get(text); ok {
		log.Debug().Int("text_length", len(text)).Msg("Voice cache hit")
		return v.([]byte), nil
	}

	audio, err := c.next.Synthesize(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(text, audio)
	return audio, nil
}

// Len returns the number of cached announcements.
func (c *CachedSynthesizer) Len() int {
	return c.cache.ItemCount()
}
