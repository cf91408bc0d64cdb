package model

import (
	"time"
)

type ConversionStatus string

const (
	ConversionProcessing ConversionStatus = "processing"
	ConversionCompleted  ConversionStatus = "completed"
	ConversionFailed     ConversionStatus = "failed"
)

// VideoInfo describes an encoded rendition.
type VideoInfo struct {
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	Bitrate   int64   `json:"bitrate"`
	Duration  float64 `json:"duration"`
	Codec     string  `json:"codec"`
	FrameRate float64 `json:"frame_rate"`
}

// ConversionRecord is one ledger row per content, rendition group and
// resolution per pipeline run. Rows are never deleted.
type ConversionRecord struct {
	ID                 string           `gorm:"primaryKey;size:32" json:"id"`
	ContentID          string           `gorm:"not null;index:idx_conversion_lookup,priority:1" json:"content_id"`
	RenditionGroup     string           `gorm:"not null;index:idx_conversion_lookup,priority:2" json:"rendition_group"`
	Resolution         Resolution       `gorm:"size:8;not null" json:"resolution"`
	Language           string           `gorm:"size:16" json:"language"`
	Status             ConversionStatus `gorm:"size:16;not null;default:'processing';index:idx_conversion_lookup,priority:3" json:"status"`
	Error              string           `json:"error,omitempty"`
	SourceFile         string           `json:"source_file"`
	OutputPath         string           `json:"output_path,omitempty"`
	VideoInfo          *VideoInfo       `gorm:"serializer:json" json:"video_info,omitempty"`
	SegmentCount       int              `json:"segment_count"`
	MasterPlaylistPath string           `json:"master_playlist_path,omitempty"`
	StartedAt          time.Time        `json:"started_at"`
	CompletedAt        *time.Time       `json:"completed_at,omitempty"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

func (ConversionRecord) TableName() string {
	return "conversion_records"
}

// Bitrate is the recorded output bitrate, or the tier's nominal bitrate when
// the record has none.
func (r *ConversionRecord) Bitrate() int64 {
	if r.VideoInfo != nil && r.VideoInfo.Bitrate > 0 {
		return r.VideoInfo.Bitrate
	}
	if t, ok := r.Resolution.Tier(); ok {
		return t.Bitrate
	}
	return 0
}
