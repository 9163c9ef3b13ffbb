package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type fakeExecutor struct {
	calls [][]string
	run   func(args []string) error
}

func (f *fakeExecutor) Execute(_ context.Context, name string, args ...string) (string, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	if f.run != nil {
		return "", f.run(args)
	}
	return "", nil
}

func writeFile(t *testing.T, dir, name string, size int) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, make([]byte, size), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	return p
}

func TestPrepareSmallFileReencodes(t *testing.T) {
	src := writeFile(t, t.TempDir(), "call.wav", 100)
	exec := &fakeExecutor{run: func(args []string) error {
		return os.WriteFile(args[len(args)-1], []byte("mp3"), 0o600)
	}}
	n := &Normalizer{Exec: exec, MaxBytes: 1000, TempDir: t.TempDir()}

	segs, err := n.Prepare(context.Background(), src)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if len(segs.Paths) != 1 || filepath.Base(segs.Paths[0]) != "normalized.mp3" {
		t.Fatalf("unexpected paths %v", segs.Paths)
	}
	got := strings.Join(exec.calls[0], " ")
	if !strings.Contains(got, "-ar 16000 -ac 1 -b:a 32k") {
		t.Fatalf("unexpected ffmpeg args: %s", got)
	}

	out := segs.Paths[0]
	if err := segs.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := os.Stat(out); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected normalized file removed, stat err=%v", err)
	}
	if _, err := os.Stat(src); err != nil {
		t.Fatalf("source must survive close: %v", err)
	}
}

func TestPrepareReencodeFailureFallsBackToOriginal(t *testing.T) {
	src := writeFile(t, t.TempDir(), "call.mp3", 100)
	exec := &fakeExecutor{run: func([]string) error { return errors.New("ffmpeg missing") }}
	n := &Normalizer{Exec: exec, MaxBytes: 1000, TempDir: t.TempDir()}

	segs, err := n.Prepare(context.Background(), src)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	defer segs.Close()
	if len(segs.Paths) != 1 || segs.Paths[0] != src {
		t.Fatalf("expected original file, got %v", segs.Paths)
	}
}

func isSegmentRun(args []string) bool {
	return strings.Contains(strings.Join(args, " "), "-f segment")
}

// writeChunks creates files named by the segment pattern in the last argument.
func writeChunks(args []string, size int, order ...int) error {
	pattern := args[len(args)-1]
	for _, i := range order {
		name := strings.Replace(pattern, "%05d", fmt.Sprintf("%05d", i), 1)
		if err := os.WriteFile(name, make([]byte, size), 0o600); err != nil {
			return err
		}
	}
	return nil
}

func TestPrepareSplitsLargeFileInOrder(t *testing.T) {
	src := writeFile(t, t.TempDir(), "long.ogg", 2048)
	exec := &fakeExecutor{run: func(args []string) error {
		if isSegmentRun(args) {
			return writeChunks(args, 1, 2, 0, 1)
		}
		return errors.New("encoder unavailable")
	}}
	n := &Normalizer{Exec: exec, MaxBytes: 1024, SegmentSeconds: 60, TempDir: t.TempDir()}

	segs, err := n.Prepare(context.Background(), src)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	defer segs.Close()

	if len(segs.Paths) != 3 {
		t.Fatalf("expected 3 segments, got %v", segs.Paths)
	}
	for i, want := range []string{"chunk_00000.ogg", "chunk_00001.ogg", "chunk_00002.ogg"} {
		if filepath.Base(segs.Paths[i]) != want {
			t.Fatalf("segment %d = %s, want %s", i, segs.Paths[i], want)
		}
	}
	got := strings.Join(exec.calls[0], " ")
	if !strings.Contains(got, "-f segment -segment_time 60 -c copy") {
		t.Fatalf("unexpected ffmpeg args: %s", got)
	}
}

func TestPrepareReencodesEachSegment(t *testing.T) {
	src := writeFile(t, t.TempDir(), "pbx.mp3", 4096)
	exec := &fakeExecutor{run: func(args []string) error {
		if isSegmentRun(args) {
			return writeChunks(args, 1000, 0, 1)
		}
		return os.WriteFile(args[len(args)-1], []byte("mp3"), 0o600)
	}}
	n := &Normalizer{Exec: exec, MaxBytes: 2048, TempDir: t.TempDir()}

	segs, err := n.Prepare(context.Background(), src)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	defer segs.Close()

	if len(exec.calls) != 3 {
		t.Fatalf("expected one split and two re-encodes, got %d calls", len(exec.calls))
	}
	for i, want := range []string{"norm_00000.mp3", "norm_00001.mp3"} {
		if filepath.Base(segs.Paths[i]) != want {
			t.Fatalf("segment %d = %s, want %s", i, segs.Paths[i], want)
		}
		call := strings.Join(exec.calls[i+1], " ")
		if !strings.Contains(call, fmt.Sprintf("chunk_%05d.mp3", i)) || !strings.Contains(call, "-ar 16000 -ac 1 -b:a 32k") {
			t.Fatalf("unexpected re-encode of segment %d: %s", i, call)
		}
	}
}

func TestPrepareRejectsSegmentOverLimit(t *testing.T) {
	src := writeFile(t, t.TempDir(), "long.wav", 8192)
	workDir := t.TempDir()
	exec := &fakeExecutor{run: func(args []string) error {
		if isSegmentRun(args) {
			return writeChunks(args, 4096, 0, 1)
		}
		return errors.New("encoder unavailable")
	}}
	n := &Normalizer{Exec: exec, MaxBytes: 2048, TempDir: workDir}

	_, err := n.Prepare(context.Background(), src)
	var normErr *NormalizationError
	if !errors.As(err, &normErr) || !strings.Contains(err.Error(), "limit") {
		t.Fatalf("expected size NormalizationError, got %v", err)
	}
	if entries, _ := os.ReadDir(workDir); len(entries) != 0 {
		t.Fatalf("expected work dir cleaned up, found %d entries", len(entries))
	}
}

func TestPrepareWithoutExtensionEncodesWhileSplitting(t *testing.T) {
	src := writeFile(t, t.TempDir(), "recording", 4096)
	exec := &fakeExecutor{run: func(args []string) error {
		return writeChunks(args, 10, 0, 1)
	}}
	n := &Normalizer{Exec: exec, MaxBytes: 2048, TempDir: t.TempDir()}

	segs, err := n.Prepare(context.Background(), src)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	defer segs.Close()

	if len(exec.calls) != 1 {
		t.Fatalf("expected a single encoding split, got %d calls", len(exec.calls))
	}
	got := strings.Join(exec.calls[0], " ")
	if strings.Contains(got, "-c copy") || !strings.Contains(got, "-ar 16000") || !strings.HasSuffix(got, "enc_%05d.mp3") {
		t.Fatalf("unexpected ffmpeg args: %s", got)
	}
	if len(segs.Paths) != 2 || filepath.Base(segs.Paths[0]) != "enc_00000.mp3" {
		t.Fatalf("unexpected paths %v", segs.Paths)
	}
}

func TestPrepareFallsBackToEncodingSplitWhenCopyFails(t *testing.T) {
	src := writeFile(t, t.TempDir(), "mislabeled.mp3", 4096)
	exec := &fakeExecutor{run: func(args []string) error {
		joined := strings.Join(args, " ")
		if strings.Contains(joined, "-c copy") {
			// a partial chunk is left behind by the failed copy
			_ = writeChunks(args, 10, 0)
			return errors.New("muxer rejected stream")
		}
		return writeChunks(args, 10, 0, 1, 2)
	}}
	n := &Normalizer{Exec: exec, MaxBytes: 2048, TempDir: t.TempDir()}

	segs, err := n.Prepare(context.Background(), src)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	defer segs.Close()

	if len(segs.Paths) != 3 {
		t.Fatalf("expected 3 encoded segments, got %v", segs.Paths)
	}
	for _, p := range segs.Paths {
		if !strings.HasPrefix(filepath.Base(p), "enc_") {
			t.Fatalf("copy chunk leaked into result: %v", segs.Paths)
		}
	}
	leftovers, _ := filepath.Glob(filepath.Join(filepath.Dir(segs.Paths[0]), "chunk_*"))
	if len(leftovers) != 0 {
		t.Fatalf("partial copy chunks should be removed: %v", leftovers)
	}
}

func TestPrepareSplitFailureIsNormalizationError(t *testing.T) {
	src := writeFile(t, t.TempDir(), "long.mp3", 2048)
	workDir := t.TempDir()
	exec := &fakeExecutor{run: func([]string) error { return errors.New("invalid data") }}
	n := &Normalizer{Exec: exec, MaxBytes: 1024, TempDir: workDir}

	_, err := n.Prepare(context.Background(), src)
	var normErr *NormalizationError
	if !errors.As(err, &normErr) {
		t.Fatalf("expected NormalizationError, got %v", err)
	}

	entries, _ := os.ReadDir(workDir)
	if len(entries) != 0 {
		t.Fatalf("expected work dir cleaned up, found %d entries", len(entries))
	}
}

func TestPrepareMissingSource(t *testing.T) {
	n := &Normalizer{Exec: &fakeExecutor{}}
	_, err := n.Prepare(context.Background(), filepath.Join(t.TempDir(), "nope.mp3"))
	var normErr *NormalizationError
	if !errors.As(err, &normErr) {
		t.Fatalf("expected NormalizationError, got %v", err)
	}
}
