package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"callqa-backend/internal/shared/telemetry"
)

const (
	defaultMaxBytes       int64 = 24 * 1024 * 1024
	defaultSegmentSeconds       = 300
)

// Normalizer prepares audio for transcription providers with upload limits.
type Normalizer struct {
	Exec           Executor
	FFmpegPath     string
	MaxBytes       int64
	SegmentSeconds int
	TempDir        string
}

// Segments is an ordered list of files ready for transcription.
type Segments struct {
	Paths []string
	dir   string
}

// Close removes every file the normalizer produced. Source files are untouched.
func (s *Segments) Close() error {
	if s == nil || s.dir == "" {
		return nil
	}
	dir := s.dir
	s.dir = ""
	return os.RemoveAll(dir)
}

// Prepare returns src as one or more segments, each within the provider size limit.
//
// Files within the limit get a best-effort re-encode to 16kHz mono; on failure the
// original file is used as-is. Larger files are cut into fixed-duration chunks,
// by stream copy when the container is known and by re-encoding otherwise, and
// that step must succeed. Copied chunks then get the same best-effort re-encode.
// A chunk still over the limit is a NormalizationError.
func (n *Normalizer) Prepare(ctx context.Context, src string) (*Segments, error) {
	info, err := os.Stat(src)
	if err != nil {
		return nil, &NormalizationError{Path: src, Err: err}
	}

	dir, err := os.MkdirTemp(n.TempDir, "call-segments-*")
	if err != nil {
		return nil, &NormalizationError{Path: src, Err: fmt.Errorf("create work dir: %w", err)}
	}
	segs := &Segments{dir: dir}

	if info.Size() <= n.maxBytes() {
		segs.Paths = []string{n.reencode(ctx, src, filepath.Join(dir, "normalized.mp3"))}
		return segs, nil
	}

	paths, encoded, err := n.split(ctx, src, dir)
	if err != nil {
		_ = segs.Close()
		return nil, &NormalizationError{Path: src, Err: err}
	}
	if !encoded {
		for i, p := range paths {
			paths[i] = n.reencode(ctx, p, filepath.Join(dir, fmt.Sprintf("norm_%05d.mp3", i)))
		}
	}
	for _, p := range paths {
		fi, err := os.Stat(p)
		if err != nil {
			_ = segs.Close()
			return nil, &NormalizationError{Path: src, Err: err}
		}
		if fi.Size() > n.maxBytes() {
			_ = segs.Close()
			return nil, &NormalizationError{Path: src, Err: fmt.Errorf("segment %s is %d bytes, limit %d", filepath.Base(p), fi.Size(), n.maxBytes())}
		}
	}
	telemetry.Info("audio.segmented", map[string]any{
		"size_bytes": info.Size(),
		"segments":   len(paths),
		"encoded":    encoded,
	})
	segs.Paths = paths
	return segs, nil
}

// reencode writes src as 16kHz mono MP3 to out and returns out, or src when
// the encoder fails.
func (n *Normalizer) reencode(ctx context.Context, src, out string) string {
	_, err := n.exec().Execute(ctx, n.ffmpeg(),
		"-y", "-i", src,
		"-ar", "16000", "-ac", "1", "-b:a", "32k",
		out,
	)
	if err == nil {
		if _, statErr := os.Stat(out); statErr == nil {
			return out
		}
		err = errors.New("encoder produced no output")
	}
	telemetry.Warn("audio.reencode_failed", map[string]any{
		"path":  src,
		"error": err.Error(),
	})
	return src
}

// copyableExts are containers whose streams can be cut without re-encoding
// into a muxer of the same name.
var copyableExts = map[string]struct{}{
	".mp3": {}, ".wav": {}, ".ogg": {}, ".oga": {}, ".opus": {},
	".flac": {}, ".m4a": {}, ".mp4": {}, ".aac": {}, ".webm": {},
}

// split cuts src into ordered chunks. encoded reports whether the chunks were
// already re-encoded while cutting.
func (n *Normalizer) split(ctx context.Context, src, dir string) ([]string, bool, error) {
	ext := strings.ToLower(filepath.Ext(src))
	if _, ok := copyableExts[ext]; ok {
		paths, err := n.segment(ctx, src, dir, "chunk_", ext, "-c", "copy")
		if err == nil {
			return paths, false, nil
		}
		// a mislabeled container fails the copy; cutting with re-encode still works
		telemetry.Warn("audio.copy_split_failed", map[string]any{
			"path":  src,
			"error": err.Error(),
		})
		removeMatching(dir, "chunk_*")
	}
	paths, err := n.segment(ctx, src, dir, "enc_", ".mp3", "-ar", "16000", "-ac", "1", "-b:a", "32k")
	if err != nil {
		return nil, false, err
	}
	return paths, true, nil
}

func (n *Normalizer) segment(ctx context.Context, src, dir, prefix, ext string, codec ...string) ([]string, error) {
	args := []string{
		"-y", "-i", src,
		"-f", "segment",
		"-segment_time", strconv.Itoa(n.segmentSeconds()),
	}
	args = append(args, codec...)
	args = append(args, filepath.Join(dir, prefix+"%05d"+ext))
	if _, err := n.exec().Execute(ctx, n.ffmpeg(), args...); err != nil {
		return nil, err
	}

	paths, err := filepath.Glob(filepath.Join(dir, prefix+"*"+ext))
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, errors.New("segmentation produced no files")
	}
	// zero-padded names sort in playback order
	sort.Strings(paths)
	return paths, nil
}

func removeMatching(dir, pattern string) {
	matches, _ := filepath.Glob(filepath.Join(dir, pattern))
	for _, m := range matches {
		_ = os.Remove(m)
	}
}

func (n *Normalizer) exec() Executor {
	if n.Exec == nil {
		return NewExecutor()
	}
	return n.Exec
}

func (n *Normalizer) ffmpeg() string {
	if n.FFmpegPath == "" {
		return "ffmpeg"
	}
	return n.FFmpegPath
}

func (n *Normalizer) maxBytes() int64 {
	if n.MaxBytes <= 0 {
		return defaultMaxBytes
	}
	return n.MaxBytes
}

func (n *Normalizer) segmentSeconds() int {
	if n.SegmentSeconds <= 0 {
		return defaultSegmentSeconds
	}
	return n.SegmentSeconds
}
