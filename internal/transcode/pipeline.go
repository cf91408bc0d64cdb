package transcode

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"hlsflow/internal/config"
	"hlsflow/internal/model"
	"hlsflow/internal/playlist"
	"hlsflow/internal/repository/ledger"
	"hlsflow/internal/repository/redis"
	"hlsflow/internal/repository/storage"
	"hlsflow/internal/telemetry"
	"hlsflow/internal/worker"

	"go.uber.org/zap"
)

// EnqueueFunc submits a task to a queue. Both the list queue and the stream
// broker satisfy it with a method value.
type EnqueueFunc func(ctx context.Context, queue string, task *model.Task) error

type Options struct {
	WorkDir          string
	SegmentSeconds   int
	MinFreeDisk      int64
	DownloadAttempts int
	DownloadBackoff  time.Duration
	LockLease        time.Duration
	LockWait         time.Duration
}

func OptionsFromConfig(tc config.TranscodeConfig, lc config.LockConfig) Options {
	return Options{
		WorkDir:          tc.WorkDir,
		SegmentSeconds:   tc.SegmentSeconds,
		MinFreeDisk:      tc.MinFreeDisk,
		DownloadAttempts: tc.DownloadAttempts,
		DownloadBackoff:  tc.DownloadBackoff,
		LockLease:        lc.Lease,
		LockWait:         lc.Wait,
	}
}

// Pipeline turns one source object into one HLS rendition and republishes
// the group's master playlist.
type Pipeline struct {
	store     storage.ObjectStore
	ledger    ledger.Ledger
	locker    redis.Locker
	playlists *playlist.Generator
	prober    Prober
	encoder   Encoder
	metrics   telemetry.MetricsClient
	enqueue   EnqueueFunc
	opts      Options

	freeSpace FreeSpaceFunc
}

func NewPipeline(
	store storage.ObjectStore,
	conversions ledger.Ledger,
	locker redis.Locker,
	prober Prober,
	encoder Encoder,
	metrics telemetry.MetricsClient,
	enqueue EnqueueFunc,
	opts Options,
) *Pipeline {
	if opts.DownloadAttempts <= 0 {
		opts.DownloadAttempts = 5
	}
	if opts.DownloadBackoff <= 0 {
		opts.DownloadBackoff = time.Second
	}
	if opts.LockLease <= 0 {
		opts.LockLease = 5 * time.Minute
	}
	if opts.LockWait <= 0 {
		opts.LockWait = 30 * time.Second
	}
	return &Pipeline{
		store:     store,
		ledger:    conversions,
		locker:    locker,
		playlists: playlist.NewGenerator(conversions, store),
		prober:    prober,
		encoder:   encoder,
		metrics:   metrics,
		enqueue:   enqueue,
		opts:      opts,
		freeSpace: diskFree,
	}
}

// Run executes the whole pipeline for job. A record created by Run always
// ends completed or failed.
func (p *Pipeline) Run(ctx context.Context, job *Job) error {
	logger := telemetry.Logger.With(
		zap.String("content_id", job.ContentID),
		zap.String("group", job.Group),
		zap.String("resolution", string(job.Resolution)),
	)

	workDir, err := os.MkdirTemp(p.opts.WorkDir, "transcode-*")
	if err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	lock, err := p.acquire(ctx, job.ContentID, job.Group)
	if err != nil {
		return err
	}
	defer p.release(lock)

	rec := &model.ConversionRecord{
		ContentID:      job.ContentID,
		RenditionGroup: job.Group,
		Resolution:     job.Resolution,
		Language:       job.Language,
		SourceFile:     job.SourceKey,
	}
	if err := p.ledger.Create(ctx, rec); err != nil {
		return err
	}
	logger = logger.With(zap.String("record_id", rec.ID))
	logger.Info("Transcode started", zap.String("source", job.SourceKey))

	stopHeartbeat := p.heartbeat(logger, rec.ID)
	completion, err := p.convert(ctx, logger, job, workDir)
	stopHeartbeat()
	if err == nil {
		err = p.ledger.Complete(ctx, rec.ID, *completion)
	}
	if err != nil {
		p.failRecord(logger, rec.ID, err)
		return err
	}
	logger.Info("Transcode completed", zap.Int("segments", completion.SegmentCount), zap.String("output", completion.OutputPath))

	if _, err := p.playlists.Regenerate(ctx, job.ContentID, job.Group); err != nil {
		return p.schedulePlaylist(ctx, job.ContentID, job.Group, err)
	}
	return nil
}

// RegeneratePlaylist republishes the master playlist of a group under the
// group lock.
func (p *Pipeline) RegeneratePlaylist(ctx context.Context, contentID, group string) error {
	lock, err := p.acquire(ctx, contentID, group)
	if err != nil {
		return err
	}
	defer p.release(lock)

	_, err = p.playlists.Regenerate(ctx, contentID, group)
	return err
}

func (p *Pipeline) acquire(ctx context.Context, contentID, group string) (*heldLock, error) {
	key := lockKey(contentID, group)
	lock, err := p.locker.Acquire(ctx, key, p.opts.LockLease, p.opts.LockWait)
	if err != nil {
		return nil, err
	}
	h := &heldLock{Lock: lock, stop: func() {}}
	if interval := p.opts.LockLease / 3; interval > 0 {
		h.stop = lock.KeepAlive(interval)
	}
	return h, nil
}

type heldLock struct {
	redis.Lock
	stop func()
}

func (p *Pipeline) release(lock *heldLock) {
	lock.stop()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := lock.Release(ctx); err != nil {
		telemetry.Logger.Error("System Error: Failed to release lock", zap.String("key", lock.Key()), zap.Error(err))
	}
}

// heartbeat touches the record at the lock keep-alive cadence until stop is
// called, so the janitor never sweeps a conversion that is still running.
func (p *Pipeline) heartbeat(logger *zap.Logger, id string) (stop func()) {
	interval := p.opts.LockLease / 3
	if interval <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), interval)
				if err := p.ledger.Touch(ctx, id); err != nil {
					logger.Warn("Failed to touch conversion record", zap.Error(err))
				}
				cancel()
			}
		}
	}()
	return func() {
		close(done)
		<-exited
	}
}

func (p *Pipeline) convert(ctx context.Context, logger *zap.Logger, job *Job, workDir string) (*ledger.Completion, error) {
	source := filepath.Join(workDir, "source"+filepath.Ext(job.SourceKey))
	if err := p.download(ctx, logger, job.SourceKey, source); err != nil {
		return nil, err
	}

	info := p.probe(ctx, logger, job, source)

	outDir := filepath.Join(workDir, "out")
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	if err := checkFreeSpace(p.freeSpace, workDir, p.opts.MinFreeDisk); err != nil {
		return nil, err
	}

	encodeJob := EncodeJob{
		Input:          source,
		OutputDir:      outDir,
		Tier:           job.Tier,
		SegmentSeconds: p.opts.SegmentSeconds,
		Duration:       time.Duration(info.Duration * float64(time.Second)),
	}
	start := time.Now()
	lastLogged := -1.0
	err := p.encoder.Encode(ctx, encodeJob, func(ev ProgressEvent) {
		p.metrics.SetEncodeProgress(job.ContentID, string(job.Resolution), ev.Percent)
		if bucket := math.Floor(ev.Percent / 10); bucket > lastLogged {
			lastLogged = bucket
			logger.Info("Encode progress", zap.Float64("percent", ev.Percent), zap.Duration("out_time", ev.OutTime), zap.String("speed", ev.Speed))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", job.Resolution, err)
	}
	p.metrics.ObserveTranscodeDuration(string(job.Resolution), time.Since(start))

	segments, err := uploadDir(ctx, p.store, outDir, job.Prefix())
	if err != nil {
		return nil, err
	}

	// the record describes the rendition produced; only the duration comes
	// from the source
	out := job.Tier.VideoInfo()
	out.Duration = info.Duration
	return &ledger.Completion{
		VideoInfo:          out,
		SegmentCount:       segments,
		OutputPath:         job.Prefix(),
		MasterPlaylistPath: playlist.MasterKey(job.ContentID, job.Group),
	}, nil
}

func (p *Pipeline) download(ctx context.Context, logger *zap.Logger, key, dst string) error {
	backoff := p.opts.DownloadBackoff
	var err error
	for attempt := 1; attempt <= p.opts.DownloadAttempts; attempt++ {
		var n int64
		n, err = p.store.Download(ctx, key, dst)
		if err == nil {
			logger.Info("Source downloaded", zap.String("key", key), zap.Int64("bytes", n), zap.Int("attempt", attempt))
			return nil
		}
		if attempt == p.opts.DownloadAttempts {
			break
		}
		logger.Warn("Download failed, retrying",
			zap.String("key", key), zap.Int("attempt", attempt), zap.Duration("backoff", backoff), zap.Error(err))
		select {
		case <-ctx.Done():
			return fmt.Errorf("download %s: %w", key, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return fmt.Errorf("download %s after %d attempts: %w", key, p.opts.DownloadAttempts, err)
}

// probe never fails: when the source cannot be probed the tier table stands
// in for it.
func (p *Pipeline) probe(ctx context.Context, logger *zap.Logger, job *Job, source string) model.VideoInfo {
	info, err := p.prober.Probe(ctx, source)
	if err != nil {
		logger.Warn("Probe failed, using tier defaults", zap.Error(err))
		return job.Tier.VideoInfo()
	}
	logger.Info("Source probed",
		zap.Int("width", info.Width), zap.Int("height", info.Height),
		zap.Int64("bitrate", info.Bitrate), zap.Float64("duration", info.Duration),
		zap.String("codec", info.Codec))
	return info
}

func (p *Pipeline) failRecord(logger *zap.Logger, id string, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.ledger.Fail(ctx, id, cause.Error()); err != nil {
		logger.Error("System Error: Failed to mark conversion failed", zap.Error(err), zap.NamedError("cause", cause))
	}
}

// schedulePlaylist queues a playlist-only retry after the rendition itself
// succeeded. The returned error is still a failure for the loop.
func (p *Pipeline) schedulePlaylist(ctx context.Context, contentID, group string, cause error) error {
	err := fmt.Errorf("regenerate master playlist: %w", cause)
	telemetry.Logger.Error("System Error: Master playlist not published",
		zap.String("content_id", contentID), zap.String("group", group), zap.Error(cause))

	queue, ok := worker.QueueFromContext(ctx)
	if !ok || p.enqueue == nil {
		return err
	}
	task := model.NewTask(model.TaskRegeneratePlaylist, map[string]any{
		"content_id":      contentID,
		"rendition_group": group,
	})
	if enqErr := p.enqueue(ctx, queue, task); enqErr != nil {
		telemetry.Logger.Error("System Error: Failed to schedule playlist regeneration",
			zap.String("queue", queue), zap.Error(enqErr))
		return err
	}
	return worker.RetryScheduled(err)
}
