package transcode

import (
	"regexp"

	"hlsflow/internal/model"
	"hlsflow/internal/playlist"
	"hlsflow/internal/worker"
)

const (
	GroupPrimary   = "primary"
	GroupSecondary = "secondary"

	defaultLanguage = "und"
)

var pathSafe = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// TranscodePayload is shared by transcode, transcode_episode and
// transcode_secondary tasks.
type TranscodePayload struct {
	ContentID      string `json:"content_id" validate:"required"`
	SourceFilename string `json:"source_filename" validate:"required"`
	Resolution     string `json:"resolution" validate:"required"`
	Language       string `json:"language"`
	RenditionGroup string `json:"rendition_group"`
	EpisodeID      string `json:"episode_id"`
}

type PlaylistPayload struct {
	ContentID      string `json:"content_id" validate:"required"`
	RenditionGroup string `json:"rendition_group"`
	EpisodeID      string `json:"episode_id"`
}

// RenditionGroup picks the group a task writes into. An episode id wins over
// an explicit group, and secondary tasks default to the secondary group.
func RenditionGroup(taskType, group, episodeID string) string {
	switch {
	case episodeID != "":
		return "episode-" + episodeID
	case group != "":
		return group
	case taskType == model.TaskTranscodeSecondary:
		return GroupSecondary
	default:
		return GroupPrimary
	}
}

// Job is a validated transcode request.
type Job struct {
	TaskType   string
	ContentID  string
	Group      string
	Resolution model.Resolution
	Tier       model.Tier
	Language   string
	SourceKey  string
}

// Prefix is the object prefix the rendition is uploaded under.
func (j *Job) Prefix() string {
	return playlist.GroupPrefix(j.ContentID, j.Group) + string(j.Resolution) + "/"
}

// lockKey serialises all work on one rendition group of a content.
func lockKey(contentID, group string) string {
	return "transcode:" + contentID + ":" + group
}

func newJob(taskType string, p TranscodePayload) (*Job, error) {
	res, err := model.ParseResolution(p.Resolution)
	if err != nil {
		return nil, worker.Validation(err)
	}
	tier, _ := res.Tier()

	group := RenditionGroup(taskType, p.RenditionGroup, p.EpisodeID)
	if err := checkPathSafe(p.ContentID, group); err != nil {
		return nil, err
	}

	lang := p.Language
	if lang == "" {
		lang = defaultLanguage
	}
	return &Job{
		TaskType:   taskType,
		ContentID:  p.ContentID,
		Group:      group,
		Resolution: res,
		Tier:       tier,
		Language:   lang,
		SourceKey:  p.SourceFilename,
	}, nil
}

func checkPathSafe(contentID, group string) error {
	if !pathSafe.MatchString(contentID) || contentID == "." || contentID == ".." {
		return worker.Validationf("content_id %q is not path safe", contentID)
	}
	if !pathSafe.MatchString(group) || group == "." || group == ".." {
		return worker.Validationf("rendition group %q is not path safe", group)
	}
	return nil
}
