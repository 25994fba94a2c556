package catalog_test

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"
	"io/fs"
	"sync"
	"sync/atomic"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sealor/storyteller/pkg/catalog"
)

const storiesJSON = `[
  {"id": 1, "characters": {"protagonist": "The Reluctant Hero", "description": "Called to adventure against their will."},
   "setting": "A quiet farming valley", "plot": "A stranger brings a map", "conflict": "Duty versus comfort",
   "theme": "Courage", "point_of_view": "Third person limited"},
  {"id": 3, "characters": {"protagonist": "The Tortured Genius", "description": "Brilliant and haunted."},
   "setting": "A crumbling observatory", "plot": "An invention that works too well", "conflict": "Ambition versus conscience",
   "theme": "The price of brilliance", "point_of_view": "First person"},
  {"id": 2, "characters": {"protagonist": "The Anti Hero", "description": "Does the right thing for the wrong reasons."},
   "setting": "A rain-soaked port city", "plot": "A job gone wrong", "conflict": "Self-interest versus loyalty",
   "theme": "Redemption", "point_of_view": "Third person"}
]`

const promptsJSON = `[
  {"prompt_id": 2, "label": "Noir Narrator", "best_for": "Morally grey stories",
   "system_prompt": "You narrate in hard-boiled noir.", "story_ids": [2, 3]},
  {"prompt_id": 1, "label": "Classic Storyteller", "best_for": "Adventure",
   "system_prompt": "You are a classic fairy-tale storyteller.", "story_ids": [1, 9]}
]`

// countingFS counts file opens by name.
type countingFS struct {
	fs.FS
	mu    sync.Mutex
	opens map[string]int
}

func (c *countingFS) Open(name string) (fs.File, error) {
	c.mu.Lock()
	c.opens[name]++
	c.mu.Unlock()
	return c.FS.Open(name)
}

func (c *countingFS) count(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opens[name]
}

func jpegBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2)), nil))
	return buf.Bytes()
}

func newCatalog(t *testing.T) (*catalog.Catalog, *countingFS) {
	t.Helper()
	fsys := &countingFS{
		FS: fstest.MapFS{
			catalog.StoriesFile:                 {Data: []byte(storiesJSON)},
			catalog.PromptsFile:                 {Data: []byte(promptsJSON)},
			"posters/01_The_Reluctant_Hero.jpg": {Data: jpegBytes(t)},
			"posters/02_The_Anti_Hero.jpg":      {Data: []byte("definitely not a jpeg")},
		},
		opens: map[string]int{},
	}
	return catalog.New(fsys), fsys
}

func TestStoryByDeclaredID(t *testing.T) {
	c, _ := newCatalog(t)

	s, err := c.Story(3)
	require.NoError(t, err)
	assert.Equal(t, 3, s.ID)
	assert.Equal(t, "The Tortured Genius", s.Protagonist)
	assert.Equal(t, "Brilliant and haunted.", s.Description)
	assert.Equal(t, "First person", s.PointOfView)

	_, err = c.Story(42)
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestPromptByDeclaredID(t *testing.T) {
	c, _ := newCatalog(t)

	p, err := c.Prompt(1)
	require.NoError(t, err)
	assert.Equal(t, "Classic Storyteller", p.Label)
	assert.Equal(t, []int{1, 9}, p.StoryIDs)

	_, err = c.Prompt(7)
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestStoriesByID(t *testing.T) {
	c, _ := newCatalog(t)

	empty, err := c.StoriesByID(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
	assert.NotNil(t, empty)

	empty, err = c.StoriesByID([]int{})
	require.NoError(t, err)
	assert.Empty(t, empty)

	got, err := c.StoriesByID([]int{3, 99, 1})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 3, got[0].ID)
	assert.Equal(t, 1, got[1].ID)

	all, err := c.AllStories()
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestLoadsLazilyAndOnce(t *testing.T) {
	c, fsys := newCatalog(t)
	assert.Zero(t, fsys.count(catalog.StoriesFile))

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Story(1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, fsys.count(catalog.StoriesFile))
	assert.Zero(t, fsys.count(catalog.PromptsFile), "data sets load independently")

	_, err := c.AllPrompts()
	require.NoError(t, err)
	_, err = c.Prompt(2)
	require.NoError(t, err)
	assert.Equal(t, 1, fsys.count(catalog.PromptsFile))
}

func TestCloseDropsCache(t *testing.T) {
	c, fsys := newCatalog(t)
	_, err := c.AllStories()
	require.NoError(t, err)

	require.NoError(t, c.Close())
	_, err = c.AllStories()
	require.NoError(t, err)
	assert.Equal(t, 2, fsys.count(catalog.StoriesFile))
}

func TestLoadFailureIsNotCached(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	fsys := failingFS{fail: &fail, FS: fstest.MapFS{catalog.StoriesFile: {Data: []byte(storiesJSON)}}}
	c := catalog.New(fsys)

	_, err := c.AllStories()
	require.Error(t, err)

	fail.Store(false)
	all, err := c.AllStories()
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

type failingFS struct {
	fs.FS
	fail *atomic.Bool
}

func (f failingFS) Open(name string) (fs.File, error) {
	if f.fail.Load() {
		return nil, errors.New("disk on fire")
	}
	return f.FS.Open(name)
}

func TestMissingDataFile(t *testing.T) {
	c := catalog.New(fstest.MapFS{})
	_, err := c.AllPrompts()
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestReturnedSlicesAreCopies(t *testing.T) {
	c, _ := newCatalog(t)

	prompts, err := c.AllPrompts()
	require.NoError(t, err)
	prompts[0].StoryIDs[0] = 100
	prompts[0].Label = "changed"

	again, err := c.Prompt(2)
	require.NoError(t, err)
	assert.Equal(t, "Noir Narrator", again.Label)
	assert.Equal(t, []int{2, 3}, again.StoryIDs)
}

func TestStoryIsComparable(t *testing.T) {
	c, _ := newCatalog(t)
	a, err := c.Story(1)
	require.NoError(t, err)
	b, err := c.Story(1)
	require.NoError(t, err)

	outputs := map[catalog.Story]string{a: "generated"}
	assert.Equal(t, "generated", outputs[b])
}

func TestPoster(t *testing.T) {
	c, _ := newCatalog(t)

	p, err := c.Poster(1, "The Reluctant Hero")
	require.NoError(t, err)
	assert.Equal(t, "posters/01_The_Reluctant_Hero.jpg", p.Path)
	assert.NotEmpty(t, p.Data)

	_, err = c.Poster(3, "The Tortured Genius")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
	assert.Equal(t, "File not found.", catalog.Message(err))

	_, err = c.StoryPoster(2)
	assert.ErrorIs(t, err, catalog.ErrUnreadable)
	assert.Equal(t, "Cannot open the image.", catalog.Message(err))
}

func TestPosterName(t *testing.T) {
	assert.Equal(t, "03_The_Tortured_Genius.jpg", catalog.PosterName(3, "The Tortured Genius"))
	assert.Equal(t, "10_The_Innocent.jpg", catalog.PosterName(10, "The Innocent"))
}
