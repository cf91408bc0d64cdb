package transcode

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"hlsflow/internal/model"
)

// Prober extracts stream metadata from a local media file.
type Prober interface {
	Probe(ctx context.Context, path string) (model.VideoInfo, error)
}

// FFprobe runs the ffprobe binary with JSON output.
type FFprobe struct {
	Bin     string
	Timeout time.Duration
}

func (p *FFprobe) Probe(ctx context.Context, path string) (model.VideoInfo, error) {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, p.Bin,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return model.VideoInfo{}, fmt.Errorf("ffprobe: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return parseProbeOutput(out)
}

type probeOutput struct {
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		BitRate    string `json:"bit_rate"`
		RFrameRate string `json:"r_frame_rate"`
		Duration   string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
		BitRate  string `json:"bit_rate"`
	} `json:"format"`
}

var errNoVideoStream = errors.New("no video stream")

func parseProbeOutput(data []byte) (model.VideoInfo, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return model.VideoInfo{}, fmt.Errorf("decode ffprobe output: %w", err)
	}

	for _, s := range out.Streams {
		if s.CodecType != "video" {
			continue
		}
		info := model.VideoInfo{
			Width:     s.Width,
			Height:    s.Height,
			Codec:     s.CodecName,
			FrameRate: parseFrameRate(s.RFrameRate),
		}
		info.Bitrate, _ = strconv.ParseInt(s.BitRate, 10, 64)
		if info.Bitrate == 0 {
			info.Bitrate, _ = strconv.ParseInt(out.Format.BitRate, 10, 64)
		}
		info.Duration, _ = strconv.ParseFloat(out.Format.Duration, 64)
		if info.Duration == 0 {
			info.Duration, _ = strconv.ParseFloat(s.Duration, 64)
		}
		if info.Width == 0 || info.Height == 0 {
			return model.VideoInfo{}, fmt.Errorf("video stream without dimensions")
		}
		return info, nil
	}
	return model.VideoInfo{}, errNoVideoStream
}

// parseFrameRate reads ffprobe rationals such as "30000/1001".
func parseFrameRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		f, _ := strconv.ParseFloat(s, 64)
		return f
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}
