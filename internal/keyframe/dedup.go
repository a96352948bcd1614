package keyframe

import (
	"context"
	"math"
	"sync"

	"github.com/videodoc/platform/internal/errors"
	"github.com/videodoc/platform/internal/media"
	"github.com/videodoc/platform/internal/trace"
)

const (
	DefaultSimilarityThreshold = 0.9
	DefaultConcurrency         = 4
)

// Embedder produces an embedding vector for an image file.
type Embedder interface {
	EmbedImage(ctx context.Context, imagePath string) ([]float32, error)
}

// Deduplicator retains frames whose embedding differs enough from the last
// retained frame.
type Deduplicator struct {
	embedder    Embedder
	threshold   float64
	concurrency int
}

func NewDeduplicator(embedder Embedder, threshold float64, concurrency int) *Deduplicator {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultSimilarityThreshold
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Deduplicator{embedder: embedder, threshold: threshold, concurrency: concurrency}
}

// Dedup embeds frames with bounded concurrency, then walks them in timestamp
// order comparing each against the last retained frame: a frame is retained
// only when its cosine similarity to that frame is below the threshold. The
// first frame with a usable embedding is always retained. Frames whose
// embedding fails are dropped and logged, never fatal for the batch.
func (d *Deduplicator) Dedup(ctx context.Context, frames []media.Frame) ([]media.Frame, error) {
	if len(frames) == 0 {
		return nil, nil
	}
	log := trace.Logger(ctx)

	embeddings := make([][]float32, len(frames))
	failures := make([]error, len(frames))

	var wg sync.WaitGroup
	sem := make(chan struct{}, d.concurrency)
	for i := range frames {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			embeddings[i], failures[i] = d.embedder.EmbedImage(ctx, frames[i].Path)
		}(i)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeCancelled, "deduplication cancelled")
	}

	retained := make([]media.Frame, 0, len(frames))
	var lastEmbedding []float32
	for i, frame := range frames {
		if failures[i] != nil {
			log.Warn("embedding failed, dropping frame", "path", frame.Path, "error", failures[i])
			continue
		}
		if lastEmbedding != nil {
			if sim := Cosine(embeddings[i], lastEmbedding); sim >= d.threshold {
				continue
			}
		}
		retained = append(retained, frame)
		lastEmbedding = embeddings[i]
	}

	log.Info("deduplication complete", "in", len(frames), "retained", len(retained))
	return retained, nil
}

// Cosine returns the cosine similarity of two vectors. Mismatched lengths or
// zero-norm vectors yield 0, which reads as maximally dissimilar.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
