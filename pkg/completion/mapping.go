package completion

import (
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/sealor/storyteller/pkg/story"
)

// NewParams maps a story request onto chat completion parameters.
func NewParams(req story.Request) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:       req.Model,
		Messages:    NewMessages(req.Messages),
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	return params
}

func NewMessages(messages []story.Message) []openai.ChatCompletionMessageParamUnion {
	params := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case story.RoleSystem:
			params = append(params, openai.SystemMessage(m.Content))
		case story.RoleAssistant:
			params = append(params, openai.AssistantMessage(m.Content))
		default:
			params = append(params, openai.UserMessage(m.Content))
		}
	}
	return params
}

// requestOptions adds the OpenRouter "models" list, which the router tries
// in order when the primary model is unavailable.
func requestOptions(req story.Request) []option.RequestOption {
	if len(req.FallbackModels) == 0 {
		return nil
	}
	return []option.RequestOption{option.WithJSONSet("models", req.FallbackModels)}
}
