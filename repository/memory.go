package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"XtendFM/model"
)

// MemoryTrackRepository is an in-memory TrackRepository used by tests and
// local development. It mirrors the semantics of the GORM implementation,
// including the conditional processing transition.
type MemoryTrackRepository struct {
	mu     sync.Mutex
	tracks map[int64]*model.Track
	nextID int64
}

// NewMemoryTrackRepository creates an empty in-memory repository.
func NewMemoryTrackRepository() *MemoryTrackRepository {
	return &MemoryTrackRepository{
		tracks: make(map[int64]*model.Track),
		nextID: 1,
	}
}

func cloneTrack(t *model.Track) *model.Track {
	c := *t
	c.Versions = append(model.ExtendedVersions(nil), t.Versions...)
	if t.Settings != nil {
		s := *t.Settings
		c.Settings = &s
	}
	return &c
}

func (r *MemoryTrackRepository) Create(_ context.Context, track *model.Track) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	track.ID = r.nextID
	r.nextID++
	now := time.Now()
	track.CreatedAt = now
	track.UpdatedAt = now
	r.tracks[track.ID] = cloneTrack(track)
	return track.ID, nil
}

func (r *MemoryTrackRepository) GetByID(_ context.Context, id int64) (*model.Track, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tracks[id]
	if !ok {
		return nil, nil
	}
	return cloneTrack(t), nil
}

func (r *MemoryTrackRepository) GetAllByUserID(_ context.Context, userID int64) ([]*model.Track, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tracks := make([]*model.Track, 0)
	for _, t := range r.tracks {
		if t.UserID == userID {
			tracks = append(tracks, cloneTrack(t))
		}
	}
	return tracks, nil
}

func (r *MemoryTrackRepository) UpdateAnalysis(_ context.Context, id int64, analysis *model.AudioAnalysis) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tracks[id]
	if !ok {
		return fmt.Errorf("%w: track ID %d", model.ErrNotFound, id)
	}
	t.ApplyAnalysis(analysis)
	t.UpdatedAt = time.Now()
	return nil
}

func (r *MemoryTrackRepository) TryBeginProcessing(_ context.Context, id int64, settings model.ProcessSettings, next model.Status) (bool, error) {
	if !next.InFlight() {
		return false, fmt.Errorf("%w: %s is not an in-flight status", model.ErrValidation, next)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tracks[id]
	if !ok {
		return false, nil
	}
	if t.Status.InFlight() || t.VersionCount > model.VersionLimit {
		return false, nil
	}
	s := settings
	t.Settings = &s
	t.Status = next
	t.VersionCount++
	t.UpdatedAt = time.Now()
	return true, nil
}

func (r *MemoryTrackRepository) AppendVersion(_ context.Context, id int64, version model.ExtendedVersion) (*model.Track, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tracks[id]
	if !ok {
		return nil, fmt.Errorf("%w: track ID %d", model.ErrNotFound, id)
	}
	t.Versions = append(t.Versions, version)
	t.Status = model.StatusCompleted
	t.UpdatedAt = time.Now()
	return cloneTrack(t), nil
}

func (r *MemoryTrackRepository) MarkError(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tracks[id]
	if !ok {
		return fmt.Errorf("%w: track ID %d", model.ErrNotFound, id)
	}
	t.Status = model.StatusError
	t.UpdatedAt = time.Now()
	return nil
}

func (r *MemoryTrackRepository) DeleteAllByUserID(_ context.Context, userID int64) ([]*model.Track, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	deleted := make([]*model.Track, 0)
	for id, t := range r.tracks {
		if t.UserID == userID {
			deleted = append(deleted, cloneTrack(t))
			delete(r.tracks, id)
		}
	}
	return deleted, nil
}
