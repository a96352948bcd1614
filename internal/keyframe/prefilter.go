// Package keyframe reduces sampled video frames to a set of visually distinct
// keyframes using a perceptual-hash prescreen and embedding similarity.
package keyframe

import (
	"context"
	"image/jpeg"
	"os"

	"github.com/corona10/goimagehash"

	"github.com/videodoc/platform/internal/media"
	"github.com/videodoc/platform/internal/trace"
)

// Prefilter drops frames that are near-identical to the previously kept frame
// by perceptual hash, before any embedding calls are made. A maxDistance < 0
// disables the prescreen. Frames that fail to decode are kept; the embedding
// stage handles them.
func Prefilter(ctx context.Context, frames []media.Frame, maxDistance int) []media.Frame {
	if maxDistance < 0 || len(frames) == 0 {
		return frames
	}
	log := trace.Logger(ctx)

	kept := make([]media.Frame, 0, len(frames))
	var prevHash *goimagehash.ImageHash
	for _, frame := range frames {
		hash, err := hashFrame(frame.Path)
		if err != nil {
			log.Warn("frame hash failed, keeping frame", "path", frame.Path, "error", err)
			kept = append(kept, frame)
			prevHash = nil
			continue
		}
		if prevHash != nil {
			if dist, err := hash.Distance(prevHash); err == nil && dist <= maxDistance {
				continue
			}
		}
		kept = append(kept, frame)
		prevHash = hash
	}

	if dropped := len(frames) - len(kept); dropped > 0 {
		log.Debug("prefilter dropped near-identical frames", "dropped", dropped, "kept", len(kept))
	}
	return kept
}

func hashFrame(path string) (*goimagehash.ImageHash, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, err := jpeg.Decode(f)
	if err != nil {
		return nil, err
	}
	return goimagehash.PerceptionHash(img)
}
