package task

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/videodoc/platform/internal/errors"
	"github.com/videodoc/platform/internal/keyframe"
	"github.com/videodoc/platform/internal/media"
	"github.com/videodoc/platform/internal/note"
	"github.com/videodoc/platform/internal/trace"
	"github.com/videodoc/platform/internal/transcript"
)

// MediaProcessor probes a video file, extracts its audio, and samples frames.
type MediaProcessor interface {
	ProbeDuration(ctx context.Context, path string) (time.Duration, error)
	ExtractAudio(ctx context.Context, videoPath, outPath string) error
	SampleFrames(ctx context.Context, videoPath, outDir string, fps float64) ([]media.Frame, error)
}

// Transcriber runs speech-to-text on an audio file.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) ([]transcript.Utterance, error)
}

// Summarizer produces a summary with key points for a block of text.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (note.Summary, error)
}

// PipelineConfig carries the tunables for one pipeline instance.
type PipelineConfig struct {
	FrameFPS            float64
	PauseThresholdMS    int64
	ParagraphMaxChars   int
	SimilarityThreshold float64
	PrefilterDistance   int
	EmbedConcurrency    int
}

// Pipeline executes individual stages against a task's workspace.
type Pipeline struct {
	media       MediaProcessor
	transcriber Transcriber
	summarizer  Summarizer
	embedder    keyframe.Embedder
	ws          *Workspace
	cfg         PipelineConfig
}

func NewPipeline(m MediaProcessor, t Transcriber, s Summarizer, e keyframe.Embedder, ws *Workspace, cfg PipelineConfig) *Pipeline {
	return &Pipeline{media: m, transcriber: t, summarizer: s, embedder: e, ws: ws, cfg: cfg}
}

// RunStage executes one stage for the task, reading upstream artifacts from
// the workspace and writing the stage's own artifacts atomically.
func (p *Pipeline) RunStage(ctx context.Context, t *Task, stage Stage) error {
	ctx, span := trace.StartSpan(ctx, "stage."+string(stage))
	defer span.End()
	span.SetAttr("task_id", t.ID)

	switch stage {
	case StageExtract:
		return p.runExtract(ctx, t)
	case StageTranscribe:
		return p.runTranscribe(ctx, t)
	case StageMerge:
		return p.runMerge(ctx, t)
	case StageSummarize:
		return p.runSummarize(ctx, t)
	case StageAssemble:
		return p.runAssemble(ctx, t)
	default:
		return errors.Newf(errors.CodeInvalidInput, "unknown stage %q", stage)
	}
}

func (p *Pipeline) runExtract(ctx context.Context, t *Task) error {
	if _, err := p.ws.EnsureTaskDir(t.ID); err != nil {
		return err
	}
	duration, err := p.media.ProbeDuration(ctx, t.VideoPath)
	if err != nil {
		return err
	}
	if duration <= 0 {
		return errors.Newf(errors.CodeInvalidInput, "video %s has no duration", t.VideoPath)
	}
	trace.Logger(ctx).Info("video probed", "video", t.VideoPath, "duration", duration)

	audioPath := p.ws.ArtifactPath(t.ID, ArtifactAudio)
	if err := p.media.ExtractAudio(ctx, t.VideoPath, audioPath); err != nil {
		return err
	}
	frames, err := p.media.SampleFrames(ctx, t.VideoPath, p.ws.FramesDir(t.ID), p.cfg.FrameFPS)
	if err != nil {
		return err
	}
	return p.ws.WriteJSON(t.ID, ArtifactFrames, frames)
}

func (p *Pipeline) runTranscribe(ctx context.Context, t *Task) error {
	audioPath := p.ws.ArtifactPath(t.ID, ArtifactAudio)
	utterances, err := p.transcriber.Transcribe(ctx, audioPath)
	if err != nil {
		return err
	}
	if len(utterances) == 0 {
		return errors.New(errors.CodeEmptyTranscript, "no speech detected in audio")
	}
	return p.ws.WriteJSON(t.ID, ArtifactTranscript, utterances)
}

func (p *Pipeline) runMerge(ctx context.Context, t *Task) error {
	var utterances []transcript.Utterance
	if err := p.ws.ReadJSON(t.ID, ArtifactTranscript, &utterances); err != nil {
		return err
	}
	if len(utterances) == 0 {
		return errors.New(errors.CodeEmptyTranscript, "transcript artifact is empty")
	}
	paragraphs, err := transcript.Merge(utterances, transcript.MergeConfig{
		PauseThresholdMS: p.cfg.PauseThresholdMS,
		MaxChars:         p.cfg.ParagraphMaxChars,
	})
	if err != nil {
		return err
	}
	trace.Logger(ctx).Info("merged transcript", "utterances", len(utterances), "paragraphs", len(paragraphs))
	return p.ws.WriteJSON(t.ID, ArtifactParagraphs, paragraphs)
}

func (p *Pipeline) runSummarize(ctx context.Context, t *Task) error {
	var paragraphs []transcript.Paragraph
	if err := p.ws.ReadJSON(t.ID, ArtifactParagraphs, &paragraphs); err != nil {
		return err
	}
	summaries := make([]note.Summary, 0, len(paragraphs))
	for _, paragraph := range paragraphs {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, errors.CodeCancelled, "summarization interrupted")
		}
		s, err := p.summarizer.Summarize(ctx, paragraph.Text)
		if err != nil {
			return err
		}
		s.StartMS, s.EndMS = paragraph.StartMS, paragraph.EndMS
		s.StartTime, s.EndTime = paragraph.StartTime, paragraph.EndTime
		summaries = append(summaries, s)
	}
	return p.ws.WriteJSON(t.ID, ArtifactSummaries, summaries)
}

func (p *Pipeline) runAssemble(ctx context.Context, t *Task) error {
	var frames []media.Frame
	if err := p.ws.ReadJSON(t.ID, ArtifactFrames, &frames); err != nil {
		return err
	}
	var paragraphs []transcript.Paragraph
	if err := p.ws.ReadJSON(t.ID, ArtifactParagraphs, &paragraphs); err != nil {
		return err
	}
	var summaries []note.Summary
	if err := p.ws.ReadJSON(t.ID, ArtifactSummaries, &summaries); err != nil {
		return err
	}

	candidates := keyframe.Prefilter(ctx, frames, p.cfg.PrefilterDistance)
	dedup := keyframe.NewDeduplicator(p.embedder, p.cfg.SimilarityThreshold, p.cfg.EmbedConcurrency)
	retained, err := dedup.Dedup(ctx, candidates)
	if err != nil {
		return err
	}

	// Keyframe paths in the note are relative to the task directory so the
	// document stays valid if the data root moves.
	taskDir := p.ws.TaskDir(t.ID)
	for i := range retained {
		if rel, err := filepath.Rel(taskDir, retained[i].Path); err == nil && !strings.HasPrefix(rel, "..") {
			retained[i].Path = rel
		}
	}

	doc, err := note.Assemble(t.ID, paragraphs, summaries, retained)
	if err != nil {
		return err
	}
	return p.ws.WriteJSON(t.ID, ArtifactNote, doc)
}
