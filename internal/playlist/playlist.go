package playlist

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"hlsflow/internal/model"
	"hlsflow/internal/telemetry"

	"go.uber.org/zap"
)

// ContentType is served for every playlist written to the object store.
const ContentType = "application/vnd.apple.mpegurl"

var ErrNoVariants = errors.New("no completed renditions")

// RecordLister is the slice of the ledger the generator reads.
type RecordLister interface {
	ListCompleted(ctx context.Context, contentID, group string) ([]model.ConversionRecord, error)
}

// Writer is the slice of the object store the generator writes to.
type Writer interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
}

type Variant struct {
	Resolution model.Resolution
	Name       string
	Bitrate    int64
	Width      int
	Height     int
	URI        string
}

// Manifest is the master playlist of one content and rendition group.
type Manifest struct {
	ContentID string
	Group     string
	Variants  []Variant
}

// GroupPrefix is the object prefix shared by every rendition of a group.
func GroupPrefix(contentID, group string) string {
	return path.Join(contentID, "hls", group) + "/"
}

func MasterKey(contentID, group string) string {
	return GroupPrefix(contentID, group) + "master.m3u8"
}

// VariantURI is the variant playlist location relative to the master playlist.
func VariantURI(res model.Resolution) string {
	return string(res) + "/" + res.PlaylistName()
}

// Render writes the manifest in HLS master playlist form.
func (m *Manifest) Render() []byte {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	b.WriteString("#EXT-X-INDEPENDENT-SEGMENTS\n")
	for _, v := range m.Variants {
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d,NAME=%q\n", v.Bitrate, v.Width, v.Height, v.Name)
		b.WriteString(v.URI)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

type Generator struct {
	records RecordLister
	store   Writer
}

func NewGenerator(records RecordLister, store Writer) *Generator {
	return &Generator{records: records, store: store}
}

// Generate builds the manifest from the completed records of a group. Only
// the most recently completed record of each resolution is used.
func (g *Generator) Generate(ctx context.Context, contentID, group string) (*Manifest, error) {
	records, err := g.records.ListCompleted(ctx, contentID, group)
	if err != nil {
		return nil, fmt.Errorf("list completed renditions: %w", err)
	}

	latest := make(map[model.Resolution]*model.ConversionRecord, len(records))
	for i := range records {
		rec := &records[i]
		cur, ok := latest[rec.Resolution]
		if !ok || completedAfter(rec, cur) {
			latest[rec.Resolution] = rec
		}
	}
	if len(latest) == 0 {
		return nil, fmt.Errorf("%s/%s: %w", contentID, group, ErrNoVariants)
	}

	m := &Manifest{ContentID: contentID, Group: group}
	for res, rec := range latest {
		m.Variants = append(m.Variants, variantOf(res, rec))
	}
	sort.Slice(m.Variants, func(i, j int) bool {
		a, b := m.Variants[i], m.Variants[j]
		if a.Bitrate != b.Bitrate {
			return a.Bitrate > b.Bitrate
		}
		return a.Resolution.Rank() > b.Resolution.Rank()
	})
	return m, nil
}

// Publish writes the rendered manifest and returns its object key.
func (g *Generator) Publish(ctx context.Context, m *Manifest) (string, error) {
	key := MasterKey(m.ContentID, m.Group)
	if err := g.store.Put(ctx, key, m.Render(), ContentType); err != nil {
		return "", fmt.Errorf("write master playlist %s: %w", key, err)
	}
	telemetry.Logger.Info("Master playlist published",
		zap.String("key", key), zap.Int("variants", len(m.Variants)))
	return key, nil
}

// Regenerate runs Generate and Publish.
func (g *Generator) Regenerate(ctx context.Context, contentID, group string) (string, error) {
	m, err := g.Generate(ctx, contentID, group)
	if err != nil {
		return "", err
	}
	return g.Publish(ctx, m)
}

func completedAfter(a, b *model.ConversionRecord) bool {
	switch {
	case a.CompletedAt == nil:
		return false
	case b.CompletedAt == nil:
		return true
	}
	return a.CompletedAt.After(*b.CompletedAt)
}

func variantOf(res model.Resolution, rec *model.ConversionRecord) Variant {
	tier, _ := res.Tier()
	v := Variant{
		Resolution: res,
		Name:       tier.Name,
		Bitrate:    rec.Bitrate(),
		Width:      tier.Width,
		Height:     tier.Height,
		URI:        VariantURI(res),
	}
	if v.Name == "" {
		v.Name = strings.ToUpper(string(res))
	}
	if info := rec.VideoInfo; info != nil && info.Width > 0 && info.Height > 0 {
		v.Width, v.Height = info.Width, info.Height
	}
	return v
}
