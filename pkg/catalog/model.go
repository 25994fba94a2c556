package catalog

import (
	"encoding/json"
	"slices"
)

// Story is a story archetype. It is comparable and can key a map.
type Story struct {
	ID          int
	Protagonist string
	Description string
	Setting     string
	Plot        string
	Conflict    string
	Theme       string
	PointOfView string
}

type storyJSON struct {
	ID         int `json:"id"`
	Characters struct {
		Protagonist string `json:"protagonist"`
		Description string `json:"description"`
	} `json:"characters"`
	Setting     string `json:"setting"`
	Plot        string `json:"plot"`
	Conflict    string `json:"conflict"`
	Theme       string `json:"theme"`
	PointOfView string `json:"point_of_view"`
}

func (s *Story) UnmarshalJSON(data []byte) error {
	var raw storyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = Story{
		ID:          raw.ID,
		Protagonist: raw.Characters.Protagonist,
		Description: raw.Characters.Description,
		Setting:     raw.Setting,
		Plot:        raw.Plot,
		Conflict:    raw.Conflict,
		Theme:       raw.Theme,
		PointOfView: raw.PointOfView,
	}
	return nil
}

func (s Story) MarshalJSON() ([]byte, error) {
	var raw storyJSON
	raw.ID = s.ID
	raw.Characters.Protagonist = s.Protagonist
	raw.Characters.Description = s.Description
	raw.Setting = s.Setting
	raw.Plot = s.Plot
	raw.Conflict = s.Conflict
	raw.Theme = s.Theme
	raw.PointOfView = s.PointOfView
	return json.Marshal(raw)
}

// Field is a labelled archetype attribute, in display order.
type Field struct {
	Label string
	Value string
}

func (s Story) Fields() []Field {
	return []Field{
		{"Setting", s.Setting},
		{"Plot", s.Plot},
		{"Conflict", s.Conflict},
		{"Theme", s.Theme},
		{"Point of View", s.PointOfView},
	}
}

// Prompt is a system prompt and the stories it suits.
type Prompt struct {
	ID           int    `json:"prompt_id"`
	Label        string `json:"label"`
	BestFor      string `json:"best_for"`
	SystemPrompt string `json:"system_prompt"`
	StoryIDs     []int  `json:"story_ids"`
}

func (p Prompt) clone() Prompt {
	p.StoryIDs = slices.Clone(p.StoryIDs)
	return p
}
