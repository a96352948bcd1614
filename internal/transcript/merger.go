// Package transcript turns raw timestamped utterances into coherent paragraphs
package transcript

import (
	"strings"
	"unicode/utf8"

	"github.com/videodoc/platform/internal/errors"
)

// Utterance is a raw timestamped unit of transcribed speech.
type Utterance struct {
	ID      int    `json:"id"`
	Text    string `json:"text"`
	StartMS int64  `json:"start_ms"`
	EndMS   int64  `json:"end_ms"`
}

// Paragraph is a merged group of utterances forming a coherent block of text.
type Paragraph struct {
	Text               string `json:"text"`
	StartMS            int64  `json:"start_ms"`
	EndMS              int64  `json:"end_ms"`
	StartTime          string `json:"start_time"`
	EndTime            string `json:"end_time"`
	SourceUtteranceIDs []int  `json:"source_utterance_ids"`
}

// MergeConfig controls paragraph boundaries.
type MergeConfig struct {
	PauseThresholdMS int64 // silence gap that closes a paragraph
	MaxChars         int   // paragraph text budget, counted in runes
}

const (
	DefaultPauseThresholdMS = 2000
	DefaultMaxChars         = 1200
)

func (c MergeConfig) withDefaults() MergeConfig {
	if c.PauseThresholdMS <= 0 {
		c.PauseThresholdMS = DefaultPauseThresholdMS
	}
	if c.MaxChars <= 0 {
		c.MaxChars = DefaultMaxChars
	}
	return c
}

// Merge walks utterances in order, accumulating them into paragraphs. A
// paragraph closes on a silence gap longer than the pause threshold, or when
// appending would exceed the character budget. For budget cuts the paragraph
// prefers to close after the last utterance ending in sentence-terminal
// punctuation; without one it closes at the budget boundary. Every utterance
// lands in exactly one paragraph.
func Merge(utterances []Utterance, cfg MergeConfig) ([]Paragraph, error) {
	cfg = cfg.withDefaults()
	if err := validateUtterances(utterances); err != nil {
		return nil, err
	}
	if len(utterances) == 0 {
		return nil, nil
	}

	var paragraphs []Paragraph
	var pending []Utterance

	flush := func(group []Utterance) {
		if len(group) > 0 {
			paragraphs = append(paragraphs, toParagraph(group))
		}
	}

	for _, u := range utterances {
		if len(pending) > 0 {
			gap := u.StartMS - pending[len(pending)-1].EndMS
			if gap > cfg.PauseThresholdMS {
				flush(pending)
				pending = nil
			}
		}

		for len(pending) > 0 && runeLen(pending)+1+utf8.RuneCountInString(u.Text) > cfg.MaxChars {
			closed, rest := splitAtSentenceBoundary(pending)
			flush(closed)
			pending = rest
		}

		pending = append(pending, u)
	}
	flush(pending)

	if err := validateParagraphs(utterances, paragraphs); err != nil {
		return nil, err
	}
	return paragraphs, nil
}

// splitAtSentenceBoundary closes pending after the last utterance ending in
// sentence-terminal punctuation, carrying the remainder into the next
// paragraph. Without such an utterance the whole group closes (hard cut).
func splitAtSentenceBoundary(pending []Utterance) (closed, rest []Utterance) {
	for i := len(pending) - 1; i >= 0; i-- {
		if endsSentence(pending[i].Text) {
			return pending[:i+1], pending[i+1:]
		}
	}
	return pending, nil
}

// endsSentence reports whether text ends with sentence-terminal punctuation,
// ignoring trailing quotes and brackets.
func endsSentence(text string) bool {
	trimmed := strings.TrimRight(strings.TrimSpace(text), `"')]」』”`)
	if trimmed == "" {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(trimmed)
	switch r {
	case '.', '!', '?', '。', '！', '？', '…':
		return true
	}
	return false
}

func runeLen(group []Utterance) int {
	n := 0
	for i, u := range group {
		if i > 0 {
			n++ // joining space
		}
		n += utf8.RuneCountInString(u.Text)
	}
	return n
}

func toParagraph(group []Utterance) Paragraph {
	texts := make([]string, 0, len(group))
	ids := make([]int, 0, len(group))
	start, end := group[0].StartMS, group[0].EndMS
	for _, u := range group {
		texts = append(texts, u.Text)
		ids = append(ids, u.ID)
		if u.StartMS < start {
			start = u.StartMS
		}
		if u.EndMS > end {
			end = u.EndMS
		}
	}
	return Paragraph{
		Text:               strings.Join(texts, " "),
		StartMS:            start,
		EndMS:              end,
		StartTime:          FormatTimestamp(start),
		EndTime:            FormatTimestamp(end),
		SourceUtteranceIDs: ids,
	}
}

// validateUtterances enforces the input invariants: start times non-decreasing,
// ranges well-formed, no overlap between consecutive utterances.
func validateUtterances(utterances []Utterance) error {
	for i, u := range utterances {
		if u.EndMS < u.StartMS {
			return errors.Newf(errors.CodeInvariantViolation,
				"utterance %d has end %dms before start %dms", i, u.EndMS, u.StartMS)
		}
		if i > 0 {
			prev := utterances[i-1]
			if u.StartMS < prev.StartMS {
				return errors.Newf(errors.CodeInvariantViolation,
					"utterance %d starts at %dms before predecessor at %dms", i, u.StartMS, prev.StartMS)
			}
			if u.StartMS < prev.EndMS {
				return errors.Newf(errors.CodeInvariantViolation,
					"utterance %d overlaps predecessor (%dms < %dms)", i, u.StartMS, prev.EndMS)
			}
		}
	}
	return nil
}

// validateParagraphs checks the output invariants: ordered, non-overlapping,
// and every utterance assigned exactly once.
func validateParagraphs(utterances []Utterance, paragraphs []Paragraph) error {
	seen := make(map[int]bool, len(utterances))
	for i, p := range paragraphs {
		if i > 0 && p.StartMS < paragraphs[i-1].EndMS {
			return errors.Newf(errors.CodeInvariantViolation,
				"paragraph %d overlaps predecessor (%dms < %dms)", i, p.StartMS, paragraphs[i-1].EndMS)
		}
		for _, id := range p.SourceUtteranceIDs {
			if seen[id] {
				return errors.Newf(errors.CodeInvariantViolation, "utterance %d assigned twice", id)
			}
			seen[id] = true
		}
	}
	if len(seen) != len(utterances) {
		return errors.Newf(errors.CodeInvariantViolation,
			"%d utterances in, %d assigned", len(utterances), len(seen))
	}
	return nil
}
