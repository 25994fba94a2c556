package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/sealor/storyteller/pkg/catalog"
	"github.com/sealor/storyteller/pkg/story"
	"github.com/sealor/storyteller/pkg/studio"
)

type Handler struct {
	studio *studio.Studio
	log    *zap.Logger
}

func NewHandler(st *studio.Studio, log *zap.Logger) *Handler {
	return &Handler{studio: st, log: log}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/", h.Index)
	e.GET("/posters/:id", h.Poster)

	api := e.Group("/api")
	api.GET("/prompts", h.ListPrompts)
	api.GET("/stories", h.ListStories)
	api.GET("/stories/:id", h.GetStory)

	cards := api.Group("/cards")
	cards.POST("/generate", h.Generate)
	cards.GET("/stream", h.Stream)
	cards.POST("/revise", h.Revise)
	cards.GET("/history", h.History)
	cards.DELETE("", h.Discard)
}

type promptView struct {
	catalog.Prompt
	Cards   []cardView
	Missing []int
}

type cardView struct {
	catalog.Story
	Poster  string
	Message string
	Output  string
}

// Index renders every system prompt with its linked stories.
// GET /
func (h *Handler) Index(c echo.Context) error {
	cat := h.studio.Catalog()
	prompts, err := cat.AllPrompts()
	if err != nil {
		return errorJSON(c, err)
	}
	stories, err := cat.AllStories()
	if err != nil {
		return errorJSON(c, err)
	}
	byID := make(map[int]catalog.Story, len(stories))
	for _, s := range stories {
		byID[s.ID] = s
	}

	views := make([]promptView, 0, len(prompts))
	for _, p := range prompts {
		view := promptView{Prompt: p}
		for _, id := range p.StoryIDs {
			s, ok := byID[id]
			if !ok {
				view.Missing = append(view.Missing, id)
				continue
			}
			card := cardView{Story: s}
			if _, err := cat.Poster(s.ID, s.Protagonist); err != nil {
				card.Message = catalog.Message(err)
			} else {
				card.Poster = fmt.Sprintf("/posters/%d", s.ID)
			}
			card.Output, _ = h.studio.Output(studio.Card{PromptID: p.ID, Story: s})
			view.Cards = append(view.Cards, card)
		}
		views = append(views, view)
	}
	return c.Render(http.StatusOK, "index.html", views)
}

// Poster returns the poster of a story.
// GET /posters/:id
func (h *Handler) Poster(c echo.Context) error {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid story id"})
	}
	poster, err := h.studio.Catalog().StoryPoster(id)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) || errors.Is(err, catalog.ErrUnreadable) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": catalog.Message(err)})
		}
		return errorJSON(c, err)
	}
	return c.Blob(http.StatusOK, "image/jpeg", poster.Data)
}

// GET /api/prompts
func (h *Handler) ListPrompts(c echo.Context) error {
	prompts, err := h.studio.Catalog().AllPrompts()
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"prompts": prompts})
}

// GET /api/stories
func (h *Handler) ListStories(c echo.Context) error {
	stories, err := h.studio.Catalog().AllStories()
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"stories": stories})
}

// GET /api/stories/:id
func (h *Handler) GetStory(c echo.Context) error {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid story id"})
	}
	s, err := h.studio.Catalog().Story(id)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, s)
}

type cardRequest struct {
	PromptID  int              `json:"prompt_id" query:"prompt_id"`
	StoryID   int              `json:"story_id" query:"story_id"`
	Outline   bool             `json:"outline" query:"outline"`
	Revisions []story.Revision `json:"revisions"`
}

func (r cardRequest) mode() studio.Mode {
	if r.Outline {
		return studio.ModeOutline
	}
	return studio.ModeStory
}

type cardResponse struct {
	PromptID int    `json:"prompt_id"`
	StoryID  int    `json:"story_id"`
	Text     string `json:"text"`
}

// Generate writes a first draft for a card.
// POST /api/cards/generate
func (h *Handler) Generate(c echo.Context) error {
	var req cardRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	card, text, err := h.studio.Generate(c.Request().Context(), req.PromptID, req.StoryID, req.mode())
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, cardResponse{PromptID: card.PromptID, StoryID: card.Story.ID, Text: text})
}

// Stream writes a first draft as server-sent events: one "data" event per
// chunk and a final "done" or "error" event.
// GET /api/cards/stream?prompt_id=1&story_id=3
func (h *Handler) Stream(c echo.Context) error {
	var req cardRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid query"})
	}
	_, st, err := h.studio.Stream(c.Request().Context(), req.PromptID, req.StoryID, req.mode())
	if err != nil {
		return errorJSON(c, err)
	}
	defer st.Close()

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.WriteHeader(http.StatusOK)

	for st.Next() {
		data, _ := json.Marshal(st.Current())
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return nil
		}
		w.Flush()
	}
	if err := st.Err(); err != nil {
		h.log.Warn("stream failed", zap.Error(err))
		data, _ := json.Marshal(map[string]string{"error": err.Error()})
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", data)
	} else {
		data, _ := json.Marshal(map[string]string{"text": st.Text()})
		fmt.Fprintf(w, "event: done\ndata: %s\n\n", data)
	}
	w.Flush()
	return nil
}

// Revise updates the story of a card.
// POST /api/cards/revise
func (h *Handler) Revise(c echo.Context) error {
	var req cardRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	card, _, err := h.studio.Card(req.PromptID, req.StoryID)
	if err != nil {
		return errorJSON(c, err)
	}
	text, err := h.studio.Revise(c.Request().Context(), card, req.Revisions...)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, cardResponse{PromptID: card.PromptID, StoryID: card.Story.ID, Text: text})
}

// History returns the conversation of a card.
// GET /api/cards/history?prompt_id=1&story_id=3&pretty=true
func (h *Handler) History(c echo.Context) error {
	card, err := h.card(c)
	if err != nil {
		return errorJSON(c, err)
	}
	session, ok := h.studio.Session(card)
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "no story generated for this card"})
	}
	if c.QueryParam("pretty") == "true" {
		return c.String(http.StatusOK, session.PrettyHistory())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"session_id": session.ID(),
		"messages":   session.History(),
	})
}

// Discard closes the session of a card.
// DELETE /api/cards?prompt_id=1&story_id=3
func (h *Handler) Discard(c echo.Context) error {
	card, err := h.card(c)
	if err != nil {
		return errorJSON(c, err)
	}
	if err := h.studio.Discard(card); err != nil {
		return errorJSON(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) card(c echo.Context) (studio.Card, error) {
	promptID, err := strconv.Atoi(c.QueryParam("prompt_id"))
	if err != nil {
		return studio.Card{}, fmt.Errorf("prompt_id: %w", catalog.ErrNotFound)
	}
	storyID, err := strconv.Atoi(c.QueryParam("story_id"))
	if err != nil {
		return studio.Card{}, fmt.Errorf("story_id: %w", catalog.ErrNotFound)
	}
	card, _, err := h.studio.Card(promptID, storyID)
	return card, err
}

func errorJSON(c echo.Context, err error) error {
	return c.JSON(statusOf(err), map[string]string{"error": err.Error()})
}

func statusOf(err error) int {
	var (
		seqErr       *story.SequenceError
		protoErr     *story.ProtocolError
		transportErr *story.TransportError
	)
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &seqErr):
		return http.StatusConflict
	case errors.As(err, &protoErr):
		return http.StatusBadGateway
	case errors.As(err, &transportErr):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
