package model

import (
	"fmt"
	"strings"
)

// Resolution identifies an output tier. Its value doubles as the output
// directory and playlist basename.
type Resolution string

const (
	ResolutionSD Resolution = "sd"
	ResolutionHD Resolution = "hd"
	Resolution4K Resolution = "4k"
)

type Tier struct {
	Resolution Resolution
	Name       string
	Width      int
	Height     int
	Bitrate    int64
	FrameRate  float64
	Codec      string
}

// tiers is ordered from lowest to highest rank.
var tiers = []Tier{
	{Resolution: ResolutionSD, Name: "SD", Width: 854, Height: 480, Bitrate: 1_000_000, FrameRate: 30, Codec: "h264"},
	{Resolution: ResolutionHD, Name: "HD", Width: 1280, Height: 720, Bitrate: 2_500_000, FrameRate: 30, Codec: "h264"},
	{Resolution: Resolution4K, Name: "4K", Width: 3840, Height: 2160, Bitrate: 8_000_000, FrameRate: 30, Codec: "h264"},
}

var aliases = map[string]Resolution{
	"sd":    ResolutionSD,
	"480p":  ResolutionSD,
	"hd":    ResolutionHD,
	"720p":  ResolutionHD,
	"4k":    Resolution4K,
	"2160p": Resolution4K,
	"uhd":   Resolution4K,
}

// ParseResolution accepts tier names and their common aliases, case-insensitively.
func ParseResolution(s string) (Resolution, error) {
	r, ok := aliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("unknown resolution %q", s)
	}
	return r, nil
}

// Tiers returns a copy of the static tier table.
func Tiers() []Tier {
	out := make([]Tier, len(tiers))
	copy(out, tiers)
	return out
}

func (r Resolution) Tier() (Tier, bool) {
	for _, t := range tiers {
		if t.Resolution == r {
			return t, true
		}
	}
	return Tier{}, false
}

// Rank orders tiers by quality; unknown resolutions rank below SD.
func (r Resolution) Rank() int {
	for i, t := range tiers {
		if t.Resolution == r {
			return i + 1
		}
	}
	return 0
}

// PlaylistName is the variant playlist filename, e.g. "hd.m3u8".
func (r Resolution) PlaylistName() string {
	return string(r) + ".m3u8"
}

// VideoInfo returns the tier's nominal output parameters. The pipeline uses
// it when probing the encoded output fails.
func (t Tier) VideoInfo() VideoInfo {
	return VideoInfo{
		Width:     t.Width,
		Height:    t.Height,
		Bitrate:   t.Bitrate,
		Codec:     t.Codec,
		FrameRate: t.FrameRate,
	}
}
