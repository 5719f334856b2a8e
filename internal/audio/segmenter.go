// Package audio bridges cached recordings to the external codec service.
// The codec does the transcoding; this package's job is to hand it a
// validated source file and correctly bounded time ranges, never raw
// unchecked input.
package audio

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/scotusdata/harvester/internal/harvest"
)

// Segmenter extracts utterance spans from a cached full recording.
type Segmenter struct {
	codec  harvest.AudioCodec
	blobs  harvest.BlobLocator
	logger *zap.Logger
}

// New constructs a Segmenter.
func New(codec harvest.AudioCodec, blobs harvest.BlobLocator, logger *zap.Logger) *Segmenter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Segmenter{codec: codec, blobs: blobs, logger: logger}
}

// Segment extracts one utterance span from the cached recording for key into
// dst. Bounds are validated against the utterance invariant and, when the
// duration is known, against the recording length.
func (s *Segmenter) Segment(ctx context.Context, key harvest.WorkKey, arg *harvest.OralArgument, u harvest.Utterance, dst string) error {
	if err := validateSpan(arg, u); err != nil {
		return err
	}
	src, err := s.blobs.BlobPath(ctx, key)
	if err != nil {
		return fmt.Errorf("locate recording for %s: %w", key, err)
	}
	if err := s.codec.Extract(ctx, src, u.Start, u.End, dst); err != nil {
		return fmt.Errorf("extract [%f, %f) from %s: %w", u.Start, u.End, key, err)
	}
	return nil
}

// SegmentAll extracts every utterance, naming destinations via pathFor. The
// first failure stops the batch; partially written segments are the codec's
// concern.
func (s *Segmenter) SegmentAll(ctx context.Context, key harvest.WorkKey, arg *harvest.OralArgument, pathFor func(i int, u harvest.Utterance) string) error {
	for i, u := range arg.Utterances {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("segment batch canceled: %w", err)
		}
		if err := s.Segment(ctx, key, arg, u, pathFor(i, u)); err != nil {
			return err
		}
	}
	s.logger.Debug("segmented recording",
		zap.String("key", key.String()),
		zap.Int("segments", len(arg.Utterances)),
	)
	return nil
}

func validateSpan(arg *harvest.OralArgument, u harvest.Utterance) error {
	if u.Start < 0 {
		return fmt.Errorf("utterance start %f is negative", u.Start)
	}
	if u.End <= u.Start {
		return fmt.Errorf("utterance span [%f, %f) is empty or inverted", u.Start, u.End)
	}
	if !arg.Audio.DurationUnknown && arg.Audio.Duration > 0 && u.End > arg.Audio.Duration {
		return fmt.Errorf("utterance end %f exceeds recording duration %f", u.End, arg.Audio.Duration)
	}
	return nil
}
