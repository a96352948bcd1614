package inference

import (
	"context"
	stderrors "errors"
	"net/url"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/videodoc/platform/internal/errors"
)

func TestParseSummary(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		want      string
		keyPoints int
	}{
		{
			name:      "plain JSON",
			content:   `{"summary": "A talk about pipelines.", "key_points": ["stages", "retries"]}`,
			want:      "A talk about pipelines.",
			keyPoints: 2,
		},
		{
			name:      "fenced JSON",
			content:   "```json\n{\"summary\": \"Fenced.\", \"key_points\": [\"one\"]}\n```",
			want:      "Fenced.",
			keyPoints: 1,
		},
		{
			name:      "JSON wrapped in prose",
			content:   "Here is the result:\n{\"summary\": \"Wrapped.\", \"key_points\": []}\nHope that helps.",
			want:      "Wrapped.",
			keyPoints: 0,
		},
		{
			name:      "unparseable falls back to raw text",
			content:   "The speaker discussed pipelines at length.",
			want:      "The speaker discussed pipelines at length.",
			keyPoints: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseSummary(tt.content)
			if got.Summary != tt.want {
				t.Errorf("summary = %q, want %q", got.Summary, tt.want)
			}
			if len(got.KeyPoints) != tt.keyPoints {
				t.Errorf("key points = %d, want %d", len(got.KeyPoints), tt.keyPoints)
			}
		})
	}
}

func TestUtterancesFromSegments(t *testing.T) {
	segments := []asrSegment{
		{Text: "Hello there.", Start: 0, End: 4.5},
		{Text: "  ", Start: 4.5, End: 5.0},           // whitespace-only gets dropped
		{Text: "Second part.", Start: 4.4, End: 9.0}, // slight overlap gets clamped
	}

	utterances := utterancesFrom(segments, "", 0)
	if len(utterances) != 2 {
		t.Fatalf("expected 2 utterances, got %d", len(utterances))
	}
	if utterances[0].ID != 0 || utterances[1].ID != 1 {
		t.Errorf("IDs not dense: %d, %d", utterances[0].ID, utterances[1].ID)
	}
	if utterances[0].StartMS != 0 || utterances[0].EndMS != 4500 {
		t.Errorf("first span = [%d, %d], want [0, 4500]", utterances[0].StartMS, utterances[0].EndMS)
	}
	if utterances[1].StartMS != 4500 {
		t.Errorf("overlap not clamped: start = %d, want 4500", utterances[1].StartMS)
	}
	if utterances[1].EndMS != 9000 {
		t.Errorf("second end = %d, want 9000", utterances[1].EndMS)
	}
}

func TestUtterancesFromPlainText(t *testing.T) {
	utterances := utterancesFrom(nil, "Whole transcript without timing.", 12.0)
	if len(utterances) != 1 {
		t.Fatalf("expected 1 utterance, got %d", len(utterances))
	}
	if utterances[0].StartMS != 0 || utterances[0].EndMS != 12000 {
		t.Errorf("span = [%d, %d], want [0, 12000]", utterances[0].StartMS, utterances[0].EndMS)
	}
}

func TestUtterancesFromEmpty(t *testing.T) {
	if got := utterancesFrom(nil, "   ", 3.0); len(got) != 0 {
		t.Errorf("expected no utterances, got %d", len(got))
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want errors.Code
	}{
		{"rate limited", &openai.APIError{HTTPStatusCode: 429, Message: "slow down"}, errors.CodeRateLimited},
		{"server error", &openai.APIError{HTTPStatusCode: 503, Message: "overloaded"}, errors.CodeUnavailable},
		{"bad request", &openai.APIError{HTTPStatusCode: 400, Message: "bad audio"}, errors.CodeInvalidInput},
		{"request error 500", &openai.RequestError{HTTPStatusCode: 502, Err: stderrors.New("bad gateway")}, errors.CodeUnavailable},
		{"deadline", context.DeadlineExceeded, errors.CodeTimeout},
		{"cancelled", context.Canceled, errors.CodeCancelled},
		{"connection refused", &url.Error{Op: "Post", URL: "http://localhost:1", Err: stderrors.New("connection refused")}, errors.CodeUnavailable},
		{"opaque", stderrors.New("mystery"), errors.CodeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err)
			if errors.CodeOf(got) != tt.want {
				t.Errorf("code = %s, want %s", errors.CodeOf(got), tt.want)
			}
		})
	}
}

func TestClassifyPreservesAppErrors(t *testing.T) {
	orig := errors.New(errors.CodeEmptyTranscript, "nothing to transcribe")
	if got := classify(orig); got != orig { //nolint:errorlint
		t.Errorf("app error rewrapped: %v", got)
	}
}

func TestClassifyRetryability(t *testing.T) {
	if !errors.IsRetryable(classify(&openai.APIError{HTTPStatusCode: 429})) {
		t.Error("429 should be retryable")
	}
	if errors.IsRetryable(classify(&openai.APIError{HTTPStatusCode: 400})) {
		t.Error("400 should not be retryable")
	}
}

func TestMsecRounds(t *testing.T) {
	if got := msec(1.2345); got != 1235 {
		t.Errorf("msec(1.2345) = %d, want 1235", got)
	}
	if got := msec(0); got != 0 {
		t.Errorf("msec(0) = %d, want 0", got)
	}
}
