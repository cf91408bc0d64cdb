package transcode

import (
	"context"

	"hlsflow/internal/model"
	"hlsflow/internal/worker"
)

// Processor handles every video task type on top of a Pipeline.
type Processor struct {
	pipeline *Pipeline
}

func NewProcessor(pipeline *Pipeline) *Processor {
	return &Processor{pipeline: pipeline}
}

// Types lists the task types Process accepts.
func (p *Processor) Types() []string {
	return []string{
		model.TaskTranscode,
		model.TaskTranscodeEpisode,
		model.TaskTranscodeSecondary,
		model.TaskRegeneratePlaylist,
	}
}

// Register routes all video task types of mux to p.
func (p *Processor) Register(mux *worker.Mux) {
	for _, t := range p.Types() {
		mux.Handle(t, p)
	}
}

func (p *Processor) Process(ctx context.Context, task *model.Task) error {
	switch task.Type {
	case model.TaskTranscode, model.TaskTranscodeEpisode, model.TaskTranscodeSecondary:
		var payload TranscodePayload
		if err := worker.DecodePayload(task.Payload, &payload); err != nil {
			return err
		}
		job, err := newJob(task.Type, payload)
		if err != nil {
			return err
		}
		return p.pipeline.Run(ctx, job)

	case model.TaskRegeneratePlaylist:
		var payload PlaylistPayload
		if err := worker.DecodePayload(task.Payload, &payload); err != nil {
			return err
		}
		group := RenditionGroup(task.Type, payload.RenditionGroup, payload.EpisodeID)
		if err := checkPathSafe(payload.ContentID, group); err != nil {
			return err
		}
		return p.pipeline.RegeneratePlaylist(ctx, payload.ContentID, group)

	default:
		return worker.Validationf("transcode processor cannot handle %q", task.Type)
	}
}
