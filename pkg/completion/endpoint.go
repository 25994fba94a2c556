// Package completion connects sessions to an OpenAI compatible chat
// completion API such as OpenRouter.
package completion

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/ssestream"
	"go.uber.org/zap"

	"github.com/sealor/storyteller/pkg/story"
)

type Options struct {
	BaseURL string
	APIKey  string
	// Timeout bounds a single request; zero leaves the transport default.
	Timeout time.Duration
	// DebugLog dumps HTTP requests and responses through the SDK logger.
	DebugLog   bool
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Endpoint is a story.Endpoint backed by the OpenAI SDK.
type Endpoint struct {
	client openai.Client
	http   *http.Client
	log    *zap.Logger
}

var _ story.Endpoint = (*Endpoint)(nil)

// Dialer returns a story.Dialer that opens a new Endpoint per session.
func Dialer(opts Options) story.Dialer {
	return func(ctx context.Context) (story.Endpoint, error) {
		return Dial(opts)
	}
}

func Dial(opts Options) (*Endpoint, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("completion: base URL is required")
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	// Resilience is left to the endpoint's fallback models, so the SDK
	// must not retry on its own.
	options := []option.RequestOption{
		option.WithBaseURL(opts.BaseURL),
		option.WithHTTPClient(hc),
		option.WithMaxRetries(0),
	}
	if opts.APIKey != "" {
		options = append(options, option.WithAPIKey(opts.APIKey))
	}
	if opts.Timeout > 0 {
		options = append(options, option.WithRequestTimeout(opts.Timeout))
	}
	if opts.DebugLog {
		options = append(options, option.WithDebugLog(nil))
	}

	return &Endpoint{
		client: openai.NewClient(options...),
		http:   hc,
		log:    log,
	}, nil
}

func (e *Endpoint) Complete(ctx context.Context, req story.Request) (string, error) {
	completion, err := e.client.Chat.Completions.New(ctx, NewParams(req), requestOptions(req)...)
	if err != nil {
		return "", classify("complete", err)
	}
	if len(completion.Choices) == 0 {
		return "", &story.ProtocolError{Op: "complete", Reason: "completion has no choices"}
	}

	choice := completion.Choices[0]
	if choice.Message.Content == "" {
		return "", &story.ProtocolError{Op: "complete", Reason: "empty completion, finish reason " + choice.FinishReason}
	}

	e.log.Debug("completion received",
		zap.String("model", completion.Model),
		zap.Int64("prompt_tokens", completion.Usage.PromptTokens),
		zap.Int64("completion_tokens", completion.Usage.CompletionTokens),
	)
	return choice.Message.Content, nil
}

func (e *Endpoint) Stream(ctx context.Context, req story.Request) (story.ChunkReader, error) {
	stream := e.client.Chat.Completions.NewStreaming(ctx, NewParams(req), requestOptions(req)...)
	if err := stream.Err(); err != nil {
		_ = stream.Close()
		return nil, classify("stream", err)
	}
	return &chunkReader{stream: stream}, nil
}

// Close drops the idle connections of the endpoint's HTTP client.
func (e *Endpoint) Close() error {
	e.http.CloseIdleConnections()
	return nil
}

// chunkReader yields the content deltas of the first choice.
type chunkReader struct {
	stream  *ssestream.Stream[openai.ChatCompletionChunk]
	current string
}

func (r *chunkReader) Next() bool {
	for r.stream.Next() {
		chunk := r.stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		r.current = chunk.Choices[0].Delta.Content
		return true
	}
	r.current = ""
	return false
}

func (r *chunkReader) Current() string { return r.current }

func (r *chunkReader) Err() error {
	if err := r.stream.Err(); err != nil {
		return classify("stream", err)
	}
	return nil
}

func (r *chunkReader) Close() error { return r.stream.Close() }

// classify maps SDK errors onto the session error kinds: undecodable
// payloads are protocol errors, everything else failed in transport.
func classify(op string, err error) error {
	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return &story.ProtocolError{Op: op, Reason: "malformed completion", Err: err}
	}
	return &story.TransportError{Op: op, Err: err}
}

// StatusCode returns the HTTP status of an API error, or 0.
func StatusCode(err error) int {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
