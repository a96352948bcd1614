// Package inference wraps the external AI services (speech-to-text, chat
// summarization, multimodal embeddings) behind one client with retries and
// circuit breaking.
package inference

import (
	"context"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/videodoc/platform/internal/config"
	"github.com/videodoc/platform/internal/errors"
	"github.com/videodoc/platform/internal/resilience"
	"github.com/videodoc/platform/internal/trace"
	"github.com/videodoc/platform/internal/transcript"
)

// Summary is the structured output of the summarization model.
type Summary struct {
	Summary   string   `json:"summary"`
	KeyPoints []string `json:"key_points"`
}

// Client talks to OpenAI-compatible endpoints.
type Client struct {
	api          *openai.Client
	chatModel    string
	whisperModel string
	embedModel   string
	timeout      time.Duration
	retry        resilience.RetryConfig
	breaker      *resilience.Breaker
}

func New(cfg *config.Config) *Client {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.APIBaseURL != "" {
		clientConfig.BaseURL = cfg.APIBaseURL
	}
	return &Client{
		api:          openai.NewClientWithConfig(clientConfig),
		chatModel:    cfg.ChatModel,
		whisperModel: cfg.WhisperModel,
		embedModel:   cfg.EmbedModel,
		timeout:      cfg.CallTimeout,
		retry:        resilience.LLMRetryConfig(),
		breaker:      resilience.NewBreaker(resilience.DefaultConfig()),
	}
}

// call runs fn with retry and circuit breaking, giving each attempt its own
// deadline. The breaker sits inside the retry loop so an open circuit fails
// fast instead of being retried.
func (c *Client) call(ctx context.Context, fn func(context.Context) error) error {
	return resilience.Retry(ctx, c.retry, func() error {
		return c.breaker.Execute(func() error {
			callCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			if err := fn(callCtx); err != nil {
				return classify(err)
			}
			return nil
		})
	})
}

// Transcribe runs speech-to-text on a WAV file and returns timestamped
// utterances with dense sequential IDs.
func (c *Client) Transcribe(ctx context.Context, audioPath string) ([]transcript.Utterance, error) {
	log := trace.Logger(ctx)

	var resp openai.AudioResponse
	err := c.call(ctx, func(callCtx context.Context) error {
		var callErr error
		resp, callErr = c.api.CreateTranscription(callCtx, openai.AudioRequest{
			Model:    c.whisperModel,
			FilePath: audioPath,
			Format:   openai.AudioResponseFormatVerboseJSON,
		})
		return callErr
	})
	if err != nil {
		err = classify(err)
		return nil, errors.Wrapf(err, errors.CodeOf(err), "transcribe %s", audioPath)
	}

	segments := make([]asrSegment, 0, len(resp.Segments))
	for _, seg := range resp.Segments {
		segments = append(segments, asrSegment{Start: seg.Start, End: seg.End, Text: seg.Text})
	}
	utterances := utterancesFrom(segments, resp.Text, resp.Duration)
	log.Info("transcription complete", "utterances", len(utterances), "audio", audioPath)
	return utterances, nil
}

// asrSegment is one timed span of the verbose-JSON transcription response.
type asrSegment struct {
	Start float64
	End   float64
	Text  string
}

// utterancesFrom maps verbose-JSON segments to utterances, dropping empty
// text and clamping occasional sub-second overlaps so downstream merging sees
// a monotonic, non-overlapping sequence.
func utterancesFrom(segments []asrSegment, fullText string, duration float64) []transcript.Utterance {
	utterances := make([]transcript.Utterance, 0, len(segments))
	var prevEnd int64
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		start, end := msec(seg.Start), msec(seg.End)
		if start < prevEnd {
			start = prevEnd
		}
		if end < start {
			end = start
		}
		utterances = append(utterances, transcript.Utterance{
			ID:      len(utterances),
			Text:    text,
			StartMS: start,
			EndMS:   end,
		})
		prevEnd = end
	}

	// Some backends return plain text without segment timing.
	if len(utterances) == 0 {
		if text := strings.TrimSpace(fullText); text != "" {
			utterances = append(utterances, transcript.Utterance{
				ID:    0,
				Text:  text,
				EndMS: msec(duration),
			})
		}
	}
	return utterances
}

func msec(seconds float64) int64 {
	return int64(seconds*1000 + 0.5)
}

// Summarize asks the chat model for a summary plus key points of a text block.
func (c *Client) Summarize(ctx context.Context, text string) (Summary, error) {
	var resp openai.ChatCompletionResponse
	err := c.call(ctx, func(callCtx context.Context) error {
		var callErr error
		resp, callErr = c.api.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
			Model:       c.chatModel,
			Temperature: summaryTemperature,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: summarySystemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: text},
			},
		})
		return callErr
	})
	if err != nil {
		err = classify(err)
		return Summary{}, errors.Wrap(err, errors.CodeOf(err), "summarize")
	}
	if len(resp.Choices) == 0 {
		return Summary{}, errors.New(errors.CodeInternal, "chat completion returned no choices")
	}
	return parseSummary(resp.Choices[0].Message.Content), nil
}

// parseSummary extracts the structured summary from model output. Models
// often wrap the JSON in markdown fences or prose, so this strips fences,
// then falls back to the outermost braces, then to treating the whole reply
// as the summary text.
func parseSummary(content string) Summary {
	candidate := strings.TrimSpace(content)
	if fenced, ok := stripFences(candidate); ok {
		candidate = fenced
	}

	var s Summary
	if err := json.Unmarshal([]byte(candidate), &s); err == nil && s.Summary != "" {
		return s
	}

	if lo, hi := strings.Index(candidate, "{"), strings.LastIndex(candidate, "}"); lo >= 0 && hi > lo {
		if err := json.Unmarshal([]byte(candidate[lo:hi+1]), &s); err == nil && s.Summary != "" {
			return s
		}
	}

	return Summary{Summary: strings.TrimSpace(content)}
}

func stripFences(s string) (string, bool) {
	if !strings.HasPrefix(s, "```") {
		return s, false
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s), true
}

// EmbedImage returns the embedding vector for an image file using a
// multimodal embedding model.
func (c *Client) EmbedImage(ctx context.Context, imagePath string) ([]float32, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeInvalidInput, "read image %s", imagePath)
	}
	encoded := base64.StdEncoding.EncodeToString(data)

	var resp openai.EmbeddingResponse
	err = c.call(ctx, func(callCtx context.Context) error {
		var callErr error
		resp, callErr = c.api.CreateEmbeddings(callCtx, openai.EmbeddingRequest{
			Model: openai.EmbeddingModel(c.embedModel),
			Input: []string{encoded},
		})
		return callErr
	})
	if err != nil {
		err = classify(err)
		return nil, errors.Wrapf(err, errors.CodeOf(err), "embed image %s", imagePath)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, errors.New(errors.CodeInternal, "embedding response empty")
	}
	return resp.Data[0].Embedding, nil
}

// classify maps transport and API failures onto the platform error taxonomy
// so retry policies can tell transient from permanent.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return err
	}

	var apiErr *openai.APIError
	if stderrors.As(err, &apiErr) {
		return errors.Wrapf(err, codeForStatus(apiErr.HTTPStatusCode), "api error: %s", apiErr.Message)
	}
	var reqErr *openai.RequestError
	if stderrors.As(err, &reqErr) {
		return errors.Wrap(err, codeForStatus(reqErr.HTTPStatusCode), "request failed")
	}

	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(err, errors.CodeTimeout, "call deadline exceeded")
	}
	if stderrors.Is(err, context.Canceled) {
		return errors.Wrap(err, errors.CodeCancelled, "call cancelled")
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return errors.Wrap(err, errors.CodeTimeout, "network timeout")
	}
	var urlErr *url.Error
	if stderrors.As(err, &urlErr) {
		return errors.Wrap(err, errors.CodeUnavailable, "endpoint unreachable")
	}
	return errors.Wrap(err, errors.CodeUnknown, "inference call failed")
}

func codeForStatus(status int) errors.Code {
	switch {
	case status == 429:
		return errors.CodeRateLimited
	case status >= 500:
		return errors.CodeUnavailable
	case status == 408:
		return errors.CodeTimeout
	case status >= 400:
		return errors.CodeInvalidInput
	default:
		return errors.CodeUnknown
	}
}
