// Package catalog serves the read-only story archetypes and system prompts.
//
// Both data sets are loaded from JSON on first use, independently and at
// most once per Catalog; concurrent first readers share one load.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	StoriesFile = "story_types.json"
	PromptsFile = "story_system_prompts.json"
	PosterDir   = "posters"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrUnreadable = errors.New("cannot be read")
)

type Catalog struct {
	fsys fs.FS
	log  *zap.Logger

	group singleflight.Group

	mu      sync.RWMutex
	stories []Story
	prompts []Prompt
}

type Option func(*Catalog)

func WithLogger(log *zap.Logger) Option {
	return func(c *Catalog) {
		if log != nil {
			c.log = log
		}
	}
}

// New returns a catalog reading StoriesFile, PromptsFile and PosterDir from
// fsys. Nothing is read until the first lookup.
func New(fsys fs.FS, opts ...Option) *Catalog {
	c := &Catalog{fsys: fsys, log: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Story returns the archetype whose declared id is id.
func (c *Catalog) Story(id int) (Story, error) {
	stories, err := c.loadStories()
	if err != nil {
		return Story{}, err
	}
	for _, s := range stories {
		if s.ID == id {
			return s, nil
		}
	}
	return Story{}, fmt.Errorf("story %d: %w", id, ErrNotFound)
}

// Prompt returns the system prompt whose declared id is id.
func (c *Catalog) Prompt(id int) (Prompt, error) {
	prompts, err := c.loadPrompts()
	if err != nil {
		return Prompt{}, err
	}
	for _, p := range prompts {
		if p.ID == id {
			return p, nil
		}
	}
	return Prompt{}, fmt.Errorf("prompt %d: %w", id, ErrNotFound)
}

func (c *Catalog) AllStories() ([]Story, error) {
	stories, err := c.loadStories()
	if err != nil {
		return nil, err
	}
	return cloneStories(stories), nil
}

// StoriesByID returns the stories with the given ids in the order asked for.
// Unknown ids are skipped; an empty selection yields an empty result.
func (c *Catalog) StoriesByID(ids []int) ([]Story, error) {
	if len(ids) == 0 {
		return []Story{}, nil
	}
	stories, err := c.loadStories()
	if err != nil {
		return nil, err
	}
	byID := make(map[int]Story, len(stories))
	for _, s := range stories {
		byID[s.ID] = s
	}
	out := make([]Story, 0, len(ids))
	for _, id := range ids {
		s, ok := byID[id]
		if !ok {
			c.log.Warn("unknown story id", zap.Int("story_id", id))
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (c *Catalog) AllPrompts() ([]Prompt, error) {
	prompts, err := c.loadPrompts()
	if err != nil {
		return nil, err
	}
	out := make([]Prompt, len(prompts))
	for i, p := range prompts {
		out[i] = p.clone()
	}
	return out, nil
}

// Close drops the cached data sets. A later lookup loads them again.
func (c *Catalog) Close() error {
	c.mu.Lock()
	c.stories = nil
	c.prompts = nil
	c.mu.Unlock()
	return nil
}

func (c *Catalog) loadStories() ([]Story, error) {
	return load(c, StoriesFile, &c.stories)
}

func (c *Catalog) loadPrompts() ([]Prompt, error) {
	return load(c, PromptsFile, &c.prompts)
}

// load returns *slot, reading it from file on first use. A failed load is
// not cached.
func load[T any](c *Catalog, file string, slot *[]T) ([]T, error) {
	c.mu.RLock()
	cached := *slot
	c.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	v, err, _ := c.group.Do(file, func() (any, error) {
		c.mu.RLock()
		cached := *slot
		c.mu.RUnlock()
		if cached != nil {
			return cached, nil
		}

		data, err := fs.ReadFile(c.fsys, file)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", file, err)
		}
		records := []T{}
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("decode %s: %w", file, err)
		}
		if records == nil {
			records = []T{}
		}

		c.mu.Lock()
		*slot = records
		c.mu.Unlock()
		c.log.Debug("catalog loaded", zap.String("file", file), zap.Int("records", len(records)))
		return records, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]T), nil
}

func cloneStories(stories []Story) []Story {
	return append([]Story(nil), stories...)
}
