// Package note assembles the final time-aligned document from merged
// paragraphs, their summaries, and the retained keyframes.
package note

import (
	"sort"
	"time"
	"unicode/utf8"

	"github.com/videodoc/platform/internal/errors"
	"github.com/videodoc/platform/internal/media"
	"github.com/videodoc/platform/internal/transcript"
)

// Summary is the per-paragraph summarization result. Its time range mirrors
// the paragraph it summarizes.
type Summary struct {
	StartMS   int64    `json:"start_ms"`
	EndMS     int64    `json:"end_ms"`
	StartTime string   `json:"start_time,omitempty"`
	EndTime   string   `json:"end_time,omitempty"`
	Text      string   `json:"summary"`
	KeyPoints []string `json:"key_points"`
}

// Segment is one time-aligned block of the note.
type Segment struct {
	SegmentID     int      `json:"segment_id"`
	StartMS       int64    `json:"start_ms"`
	EndMS         int64    `json:"end_ms"`
	StartTime     string   `json:"start_time"`
	EndTime       string   `json:"end_time"`
	DurationMS    int64    `json:"duration_ms"`
	Text          string   `json:"text"`
	Summary       string   `json:"summary"`
	KeyPoints     []string `json:"key_points"`
	KeyframePaths []string `json:"keyframe_paths"`
	FrameCount    int      `json:"frame_count"`
}

// Statistics summarizes the whole document.
type Statistics struct {
	SegmentCount    int    `json:"segment_count"`
	KeyframeCount   int    `json:"keyframe_count"`
	TotalDurationMS int64  `json:"total_duration_ms"`
	TotalDuration   string `json:"total_duration"`
	TotalTextChars  int    `json:"total_text_chars"`
}

// Document is the final structured note for one task.
type Document struct {
	TaskID      string     `json:"task_id"`
	GeneratedAt time.Time  `json:"generated_at"`
	Segments    []Segment  `json:"segments"`
	Statistics  Statistics `json:"statistics"`
}

// Assemble builds the document. Summaries must align one-to-one with
// paragraphs. Each segment gets the keyframes whose timestamps fall inside
// its span; a segment with none falls back to the nearest retained frame at
// or before its start, which may be shared with an earlier segment. A segment
// with no frame at all is still valid.
func Assemble(taskID string, paragraphs []transcript.Paragraph, summaries []Summary, keyframes []media.Frame) (*Document, error) {
	if len(summaries) != len(paragraphs) {
		return nil, errors.Newf(errors.CodeInvariantViolation,
			"%d summaries for %d paragraphs", len(summaries), len(paragraphs))
	}
	for i := 1; i < len(paragraphs); i++ {
		if paragraphs[i].StartMS < paragraphs[i-1].EndMS {
			return nil, errors.Newf(errors.CodeInvariantViolation,
				"paragraph %d overlaps predecessor", i)
		}
	}
	for i, s := range summaries {
		// A summary carrying its own range must stay within its paragraph.
		if s.EndMS > 0 && (s.StartMS < paragraphs[i].StartMS || s.EndMS > paragraphs[i].EndMS) {
			return nil, errors.Newf(errors.CodeInvariantViolation,
				"summary %d range [%d, %d] outside paragraph [%d, %d]",
				i, s.StartMS, s.EndMS, paragraphs[i].StartMS, paragraphs[i].EndMS)
		}
	}
	if !sort.SliceIsSorted(keyframes, func(i, j int) bool {
		return keyframes[i].TimestampMS < keyframes[j].TimestampMS
	}) {
		return nil, errors.New(errors.CodeInvariantViolation, "keyframes not in timestamp order")
	}

	segments := make([]Segment, 0, len(paragraphs))
	var totalChars int
	var endMS int64
	for i, p := range paragraphs {
		paths := framesWithin(keyframes, p.StartMS, p.EndMS)
		if len(paths) == 0 {
			if fallback, ok := nearestBefore(keyframes, p.StartMS); ok {
				paths = []string{fallback.Path}
			}
		}
		segments = append(segments, Segment{
			SegmentID:     i,
			StartMS:       p.StartMS,
			EndMS:         p.EndMS,
			StartTime:     p.StartTime,
			EndTime:       p.EndTime,
			DurationMS:    p.EndMS - p.StartMS,
			Text:          p.Text,
			Summary:       summaries[i].Text,
			KeyPoints:     summaries[i].KeyPoints,
			KeyframePaths: paths,
			FrameCount:    len(paths),
		})
		totalChars += utf8.RuneCountInString(p.Text)
		if p.EndMS > endMS {
			endMS = p.EndMS
		}
	}

	return &Document{
		TaskID:      taskID,
		GeneratedAt: time.Now().UTC(),
		Segments:    segments,
		Statistics: Statistics{
			SegmentCount:    len(segments),
			KeyframeCount:   len(keyframes),
			TotalDurationMS: endMS,
			TotalDuration:   transcript.FormatTimestamp(endMS),
			TotalTextChars:  totalChars,
		},
	}, nil
}

// framesWithin returns paths of keyframes with startMS <= ts <= endMS.
func framesWithin(keyframes []media.Frame, startMS, endMS int64) []string {
	var paths []string
	for _, f := range keyframes {
		if f.TimestampMS > endMS {
			break
		}
		if f.TimestampMS >= startMS {
			paths = append(paths, f.Path)
		}
	}
	return paths
}

// nearestBefore returns the latest keyframe at or before ts.
func nearestBefore(keyframes []media.Frame, ts int64) (media.Frame, bool) {
	for i := len(keyframes) - 1; i >= 0; i-- {
		if keyframes[i].TimestampMS <= ts {
			return keyframes[i], true
		}
	}
	return media.Frame{}, false
}
