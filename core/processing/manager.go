package processing

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"XtendFM/core/extender"
	"XtendFM/core/pathguard"
	"XtendFM/logger"
	"XtendFM/model"
	"XtendFM/repository"
)

// JobStatus 表示一次扩展任务的运行状态
type JobStatus struct {
	JobID     uuid.UUID
	TrackID   int64
	StartTime time.Time
	Running   bool
	Err       error

	done chan struct{}
}

// Done is closed when the job has finished, successfully or not.
func (s *JobStatus) Done() <-chan struct{} {
	return s.done
}

// StatusCache is the slice of the status cache the manager needs. Jobs only
// invalidate entries when a track changes state.
type StatusCache interface {
	Invalidate(ctx context.Context, trackID int64)
}

// Manager dispatches extension jobs and enforces single-flight per track.
// The in-memory registry is the process-local lock; the repository's
// conditional transition backs it at the storage layer.
type Manager struct {
	repo        repository.TrackRepository
	ext         extender.Extender
	guard       *pathguard.Guard
	statusCache StatusCache
	resultDir   string
	timeout     time.Duration

	mu   sync.RWMutex
	jobs map[int64]*JobStatus // keyed by track ID, holds the latest job per track
}

// NewManager 创建任务管理器
func NewManager(
	repo repository.TrackRepository,
	ext extender.Extender,
	guard *pathguard.Guard,
	statusCache StatusCache,
	resultDir string,
	timeout time.Duration,
) *Manager {
	return &Manager{
		repo:        repo,
		ext:         ext,
		guard:       guard,
		statusCache: statusCache,
		resultDir:   resultDir,
		timeout:     timeout,
		jobs:        make(map[int64]*JobStatus),
	}
}

// OutputFilename derives the deterministic output name for the given attempt
// from the original filename: {base}_extended_v{version}{ext}.
func OutputFilename(originalFilename string, version int) string {
	ext := filepath.Ext(originalFilename)
	base := strings.TrimSuffix(filepath.Base(originalFilename), ext)
	return fmt.Sprintf("%s_extended_v%d%s", base, version, ext)
}

// IsProcessing reports whether a job is currently running for the track.
func (m *Manager) IsProcessing(trackID int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, ok := m.jobs[trackID]
	return ok && status.Running
}

// JobFor returns the latest job status recorded for the track, if any.
func (m *Manager) JobFor(trackID int64) *JobStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobs[trackID]
}

// tryLock 尝试获取track的处理锁
func (m *Manager) tryLock(trackID int64) (*JobStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.jobs[trackID]; ok && existing.Running {
		return nil, false
	}
	status := &JobStatus{
		JobID:     uuid.New(),
		TrackID:   trackID,
		StartTime: time.Now(),
		Running:   true,
		done:      make(chan struct{}),
	}
	m.jobs[trackID] = status
	return status, true
}

// release 释放处理锁并记录结果
func (m *Manager) release(status *JobStatus, err error) {
	m.mu.Lock()
	status.Running = false
	status.Err = err
	m.mu.Unlock()
	close(status.done)
}

// Dispatch validates an extension request against the track lifecycle and, if
// it wins the per-track transition, starts the external job in the background.
// The caller gets an acknowledgement immediately; completion is observable by
// polling the track status.
func (m *Manager) Dispatch(ctx context.Context, track *model.Track, settings model.ProcessSettings) (*JobStatus, error) {
	// 版本上限检查：计数器在派发时递增，失败的尝试同样占用额度
	if track.VersionCount > model.VersionLimit {
		return nil, fmt.Errorf("%w: track %d already has %d attempts", model.ErrVersionLimit, track.ID, track.VersionCount)
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}

	// 源文件和输出路径都必须通过路径校验，任何拒绝都会使整个请求失败
	srcPath, err := m.guard.Validate(track.OriginalPath)
	if err != nil {
		return nil, err
	}
	outName := OutputFilename(track.OriginalFilename, track.VersionCount+1)
	outPath, err := m.guard.SafeOutputPath(m.resultDir, outName)
	if err != nil {
		return nil, err
	}

	next := model.StatusProcessing
	if len(track.Versions) > 0 {
		next = model.StatusRegenerate
	}
	// 对已在处理中的track跳过转移校验，由存储层的条件更新给出busy拒绝
	if !track.Status.InFlight() {
		if err := model.ValidateTransition(track.Status, next); err != nil {
			return nil, err
		}
	}

	status, acquired := m.tryLock(track.ID)
	if !acquired {
		return nil, fmt.Errorf("%w: track %d", model.ErrTrackBusy, track.ID)
	}

	ok, err := m.repo.TryBeginProcessing(ctx, track.ID, settings, next)
	if err != nil {
		m.release(status, err)
		return nil, err
	}
	if !ok {
		// 竞争失败：重新读取track以给出准确的拒绝原因
		m.release(status, nil)
		fresh, ferr := m.repo.GetByID(ctx, track.ID)
		if ferr != nil {
			return nil, ferr
		}
		switch {
		case fresh == nil:
			return nil, fmt.Errorf("%w: track ID %d", model.ErrNotFound, track.ID)
		case fresh.VersionCount > model.VersionLimit:
			return nil, fmt.Errorf("%w: track %d already has %d attempts", model.ErrVersionLimit, track.ID, fresh.VersionCount)
		default:
			return nil, fmt.Errorf("%w: track %d", model.ErrTrackBusy, track.ID)
		}
	}

	m.statusCache.Invalidate(ctx, track.ID)

	logger.Info("扩展任务已派发",
		logger.String("jobId", status.JobID.String()),
		logger.Int64("trackId", track.ID),
		logger.String("status", string(next)),
		logger.String("output", outPath))

	go m.run(status, srcPath, outPath, settings)

	return status, nil
}

// run 在后台执行外部扩展工具并回写结果
func (m *Manager) run(status *JobStatus, srcPath, outPath string, settings model.ProcessSettings) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	trackID := status.TrackID

	err := m.ext.Extend(ctx, extender.ExtendArgs{
		InputPath:  srcPath,
		OutputPath: outPath,
		Settings:   settings,
	})
	if err != nil {
		logger.Error("外部扩展工具执行失败",
			logger.String("jobId", status.JobID.String()),
			logger.Int64("trackId", trackID),
			logger.ErrorField(err))
		if merr := m.repo.MarkError(ctx, trackID); merr != nil {
			logger.Error("记录失败状态失败",
				logger.Int64("trackId", trackID),
				logger.ErrorField(merr))
		}
		m.statusCache.Invalidate(ctx, trackID)
		m.release(status, err)
		return
	}

	// 输出文件的时长分析是尽力而为的：解析失败只会留下空时长，不会使任务失败
	var duration *float64
	if analysis, aerr := m.ext.Analyze(ctx, outPath); aerr != nil {
		logger.Warn("输出文件分析失败，时长留空",
			logger.Int64("trackId", trackID),
			logger.String("output", outPath),
			logger.ErrorField(aerr))
	} else {
		duration = &analysis.Duration
	}

	if _, err := m.repo.AppendVersion(ctx, trackID, model.ExtendedVersion{
		Path:     outPath,
		Duration: duration,
	}); err != nil {
		logger.Error("追加版本记录失败",
			logger.Int64("trackId", trackID),
			logger.ErrorField(err))
		if merr := m.repo.MarkError(ctx, trackID); merr != nil {
			logger.Error("记录失败状态失败",
				logger.Int64("trackId", trackID),
				logger.ErrorField(merr))
		}
		m.statusCache.Invalidate(ctx, trackID)
		m.release(status, err)
		return
	}

	m.statusCache.Invalidate(ctx, trackID)
	m.release(status, nil)

	logger.Info("扩展任务完成",
		logger.String("jobId", status.JobID.String()),
		logger.Int64("trackId", trackID),
		logger.String("output", outPath),
		logger.Duration("elapsed", time.Since(status.StartTime)))
}

// Analyze runs the best-effort metadata analysis for a freshly uploaded track
// and stores the result. Failures are logged and swallowed: absence of
// metadata is not an error.
func (m *Manager) Analyze(trackID int64, path string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	safePath, err := m.guard.Validate(path)
	if err != nil {
		logger.Error("分析路径校验失败",
			logger.Int64("trackId", trackID),
			logger.String("path", path),
			logger.ErrorField(err))
		return
	}

	analysis, err := m.ext.Analyze(ctx, safePath)
	if err != nil {
		logger.Warn("音频分析失败，元数据保持为空",
			logger.Int64("trackId", trackID),
			logger.ErrorField(err))
		return
	}

	if err := m.repo.UpdateAnalysis(ctx, trackID, analysis); err != nil {
		logger.Error("保存分析结果失败",
			logger.Int64("trackId", trackID),
			logger.ErrorField(err))
	}
}
