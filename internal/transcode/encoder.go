package transcode

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"hlsflow/internal/model"
	"hlsflow/internal/telemetry"

	"github.com/google/shlex"
	"go.uber.org/zap"
)

const stderrTail = 2048

// EncodeJob describes one HLS rendition encode.
type EncodeJob struct {
	Input          string
	OutputDir      string
	Tier           model.Tier
	SegmentSeconds int
	// Duration of the source, used for progress percentages. Zero if unknown.
	Duration time.Duration
}

// PlaylistPath is the variant playlist the encode produces.
func (j EncodeJob) PlaylistPath() string {
	return filepath.Join(j.OutputDir, j.Tier.Resolution.PlaylistName())
}

// SegmentPattern is the ffmpeg filename template for segments, e.g. hd_%03d.ts.
func (j EncodeJob) SegmentPattern() string {
	return filepath.Join(j.OutputDir, string(j.Tier.Resolution)+"_%03d.ts")
}

type Encoder interface {
	Encode(ctx context.Context, job EncodeJob, progress func(ProgressEvent)) error
}

// FFmpeg encodes with the ffmpeg binary.
type FFmpeg struct {
	Bin       string
	ExtraArgs []string
}

// NewFFmpeg splits extraArgs with shell quoting rules.
func NewFFmpeg(bin, extraArgs string) (*FFmpeg, error) {
	extra, err := shlex.Split(extraArgs)
	if err != nil {
		return nil, fmt.Errorf("parse encoder extra args: %w", err)
	}
	return &FFmpeg{Bin: bin, ExtraArgs: extra}, nil
}

// Args builds the ffmpeg command line for job.
func (f *FFmpeg) Args(job EncodeJob) []string {
	t := job.Tier
	segment := job.SegmentSeconds
	if segment <= 0 {
		segment = 6
	}
	fps := int(t.FrameRate)
	if fps <= 0 {
		fps = 30
	}
	gop := strconv.Itoa(fps * 2)
	scale := fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2",
		t.Width, t.Height, t.Width, t.Height)

	args := []string{
		"-hide_banner", "-y",
		"-i", job.Input,
		"-vf", scale,
		"-c:v", "libx264",
		"-b:v", strconv.FormatInt(t.Bitrate, 10),
		"-maxrate", strconv.FormatInt(t.Bitrate*107/100, 10),
		"-bufsize", strconv.FormatInt(t.Bitrate*3/2, 10),
		"-r", strconv.Itoa(fps),
		"-g", gop,
		"-keyint_min", gop,
		"-sc_threshold", "0",
		"-c:a", "aac",
		"-b:a", "128k",
		"-ac", "2",
	}
	args = append(args, f.ExtraArgs...)
	args = append(args,
		"-f", "hls",
		"-hls_time", strconv.Itoa(segment),
		"-hls_playlist_type", "vod",
		"-hls_segment_filename", job.SegmentPattern(),
		"-progress", "pipe:1",
		"-nostats",
		job.PlaylistPath(),
	)
	return args
}

func (f *FFmpeg) Encode(ctx context.Context, job EncodeJob, progress func(ProgressEvent)) error {
	args := f.Args(job)
	telemetry.Logger.Debug("Executing ffmpeg", zap.Strings("args", args))

	cmd := exec.CommandContext(ctx, f.Bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	parseErr := ParseProgress(stdout, job.Duration, func(ev ProgressEvent) {
		if progress != nil {
			progress(ev)
		}
	})
	// ffmpeg blocks on a full pipe if the parser gave up early
	_, _ = io.Copy(io.Discard, stdout)
	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg failed: %w: %s", err, tail(stderr.String(), stderrTail))
	}
	if parseErr != nil {
		telemetry.Logger.Warn("Could not read ffmpeg progress", zap.Error(parseErr))
	}
	return nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
