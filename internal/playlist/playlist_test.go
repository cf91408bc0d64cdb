package playlist

import (
	"context"
	"errors"
	"testing"
	"time"

	"hlsflow/internal/model"
	"hlsflow/test/fakes"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticRecords struct {
	records []model.ConversionRecord
	err     error
}

func (s *staticRecords) ListCompleted(_ context.Context, contentID, group string) ([]model.ConversionRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []model.ConversionRecord
	for _, r := range s.records {
		if r.ContentID == contentID && r.RenditionGroup == group {
			out = append(out, r)
		}
	}
	return out, nil
}

func completed(res model.Resolution, at time.Time, info *model.VideoInfo) model.ConversionRecord {
	return model.ConversionRecord{
		ID:             string(res) + at.Format("150405"),
		ContentID:      "c1",
		RenditionGroup: "primary",
		Resolution:     res,
		Status:         model.ConversionCompleted,
		VideoInfo:      info,
		CompletedAt:    &at,
	}
}

func TestGenerateOrdersByBitrate(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	orders := [][]model.Resolution{
		{model.ResolutionSD, model.ResolutionHD, model.Resolution4K},
		{model.Resolution4K, model.ResolutionSD, model.ResolutionHD},
		{model.ResolutionHD, model.Resolution4K, model.ResolutionSD},
	}
	for _, order := range orders {
		records := &staticRecords{}
		for i, res := range order {
			records.records = append(records.records, completed(res, base.Add(time.Duration(i)*time.Minute), nil))
		}
		gen := NewGenerator(records, fakes.NewObjectStore())

		m, err := gen.Generate(context.Background(), "c1", "primary")
		require.NoError(t, err)
		var got []model.Resolution
		for _, v := range m.Variants {
			got = append(got, v.Resolution)
		}
		assert.Equal(t, []model.Resolution{model.Resolution4K, model.ResolutionHD, model.ResolutionSD}, got, "insert order %v", order)
	}
}

func TestGenerateSingleVariant(t *testing.T) {
	at := time.Now()
	gen := NewGenerator(&staticRecords{records: []model.ConversionRecord{
		completed(model.ResolutionHD, at, &model.VideoInfo{Width: 1280, Height: 720, Bitrate: 2_500_000}),
	}}, fakes.NewObjectStore())

	m, err := gen.Generate(context.Background(), "c1", "primary")
	require.NoError(t, err)

	want := "#EXTM3U\n" +
		"#EXT-X-VERSION:3\n" +
		"#EXT-X-INDEPENDENT-SEGMENTS\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=2500000,RESOLUTION=1280x720,NAME=\"HD\"\n" +
		"hd/hd.m3u8\n"
	assert.Equal(t, want, string(m.Render()))
}

func TestGenerateKeepsLatestPerResolution(t *testing.T) {
	first := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)
	gen := NewGenerator(&staticRecords{records: []model.ConversionRecord{
		completed(model.ResolutionHD, second, &model.VideoInfo{Width: 1280, Height: 720, Bitrate: 3_000_000}),
		completed(model.ResolutionHD, first, &model.VideoInfo{Width: 1280, Height: 720, Bitrate: 2_000_000}),
	}}, fakes.NewObjectStore())

	m, err := gen.Generate(context.Background(), "c1", "primary")
	require.NoError(t, err)
	require.Len(t, m.Variants, 1)
	assert.Equal(t, int64(3_000_000), m.Variants[0].Bitrate)
}

func TestGenerateFallsBackToTierBitrate(t *testing.T) {
	at := time.Now()
	gen := NewGenerator(&staticRecords{records: []model.ConversionRecord{
		completed(model.ResolutionSD, at, &model.VideoInfo{}),
		completed(model.Resolution4K, at, nil),
	}}, fakes.NewObjectStore())

	m, err := gen.Generate(context.Background(), "c1", "primary")
	require.NoError(t, err)
	require.Len(t, m.Variants, 2)
	assert.Equal(t, Variant{Resolution: model.Resolution4K, Name: "4K", Bitrate: 8_000_000, Width: 3840, Height: 2160, URI: "4k/4k.m3u8"}, m.Variants[0])
	assert.Equal(t, int64(1_000_000), m.Variants[1].Bitrate)
}

func TestGenerateNoVariants(t *testing.T) {
	gen := NewGenerator(&staticRecords{records: []model.ConversionRecord{
		completed(model.ResolutionHD, time.Now(), nil),
	}}, fakes.NewObjectStore())

	_, err := gen.Generate(context.Background(), "c1", "secondary")
	assert.ErrorIs(t, err, ErrNoVariants)

	gen = NewGenerator(&staticRecords{err: errors.New("database is locked")}, fakes.NewObjectStore())
	_, err = gen.Generate(context.Background(), "c1", "primary")
	assert.ErrorContains(t, err, "database is locked")
}

func TestRegeneratePublishes(t *testing.T) {
	store := fakes.NewObjectStore()
	gen := NewGenerator(&staticRecords{records: []model.ConversionRecord{
		completed(model.ResolutionHD, time.Now(), nil),
	}}, store)

	key, err := gen.Regenerate(context.Background(), "c1", "primary")
	require.NoError(t, err)
	assert.Equal(t, "c1/hls/primary/master.m3u8", key)

	body, ok := store.Get(key)
	require.True(t, ok)
	assert.Contains(t, body, "hd/hd.m3u8")
	assert.Equal(t, ContentType, store.ContentTypes[key])

	store.PutErrs = []error{fakes.ErrAccessDenied}
	_, err = gen.Regenerate(context.Background(), "c1", "primary")
	assert.ErrorIs(t, err, fakes.ErrAccessDenied)
}
