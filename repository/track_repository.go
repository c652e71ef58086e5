package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"XtendFM/logger"
	"XtendFM/model"
)

// TrackRepository defines the interface for track data operations.
type TrackRepository interface {
	Create(ctx context.Context, track *model.Track) (int64, error)
	GetByID(ctx context.Context, id int64) (*model.Track, error)
	GetAllByUserID(ctx context.Context, userID int64) ([]*model.Track, error)
	UpdateAnalysis(ctx context.Context, id int64, analysis *model.AudioAnalysis) error
	// TryBeginProcessing atomically flips the track into the given in-flight
	// status, stores the settings and increments the attempt counter, but only
	// while no job is in flight and the version limit is not exceeded. It
	// reports whether the transition was won.
	TryBeginProcessing(ctx context.Context, id int64, settings model.ProcessSettings, next model.Status) (bool, error)
	// AppendVersion re-fetches the track and appends the completed version
	// under one transaction, setting status to completed.
	AppendVersion(ctx context.Context, id int64, version model.ExtendedVersion) (*model.Track, error)
	MarkError(ctx context.Context, id int64) error
	// DeleteAllByUserID removes every track of the owner and returns the
	// deleted records so the caller can clean up their files.
	DeleteAllByUserID(ctx context.Context, userID int64) ([]*model.Track, error)
}

const mysqlDuplicateEntry = 1062

// gormTrackRepository implements TrackRepository on GORM/MySQL.
type gormTrackRepository struct {
	db *gorm.DB
}

// NewGormTrackRepository creates a new instance of gormTrackRepository.
func NewGormTrackRepository(db *gorm.DB) TrackRepository {
	return &gormTrackRepository{db: db}
}

// Create adds a new track to the database.
func (r *gormTrackRepository) Create(ctx context.Context, track *model.Track) (int64, error) {
	if err := r.db.WithContext(ctx).Create(track).Error; err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
			return 0, fmt.Errorf("%w: a track with this file path already exists", model.ErrValidation)
		}
		return 0, fmt.Errorf("failed to create track: %w", err)
	}
	logger.Info("Track created",
		logger.Int64("trackId", track.ID),
		logger.String("filename", track.OriginalFilename))
	return track.ID, nil
}

// GetByID retrieves a track by its ID. Returns (nil, nil) when absent.
func (r *gormTrackRepository) GetByID(ctx context.Context, id int64) (*model.Track, error) {
	track := &model.Track{}
	err := r.db.WithContext(ctx).First(track, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil // Track not found
		}
		return nil, fmt.Errorf("failed to query track by ID %d: %w", id, err)
	}
	return track, nil
}

// GetAllByUserID retrieves all tracks owned by the given user.
func (r *gormTrackRepository) GetAllByUserID(ctx context.Context, userID int64) ([]*model.Track, error) {
	tracks := make([]*model.Track, 0)
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&tracks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query tracks for user ID %d: %w", userID, err)
	}
	return tracks, nil
}

// UpdateAnalysis stores derived audio metadata for a track.
func (r *gormTrackRepository) UpdateAnalysis(ctx context.Context, id int64, analysis *model.AudioAnalysis) error {
	updates := map[string]interface{}{
		"format":   analysis.Format,
		"bitrate":  analysis.Bitrate,
		"duration": analysis.Duration,
		"bpm":      analysis.BPM,
		"key":      analysis.Key,
	}
	if err := r.db.WithContext(ctx).Model(&model.Track{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update analysis for track ID %d: %w", id, err)
	}
	return nil
}

// TryBeginProcessing performs the conditional status transition as a single
// UPDATE so two concurrent requests cannot both win it.
func (r *gormTrackRepository) TryBeginProcessing(ctx context.Context, id int64, settings model.ProcessSettings, next model.Status) (bool, error) {
	if !next.InFlight() {
		return false, fmt.Errorf("%w: %s is not an in-flight status", model.ErrValidation, next)
	}

	// The settings column is JSON; write the same representation the
	// serializer produces on struct writes.
	settingsJSON, err := json.Marshal(settings)
	if err != nil {
		return false, fmt.Errorf("failed to marshal settings: %w", err)
	}

	res := r.db.WithContext(ctx).Model(&model.Track{}).
		Where("id = ? AND status NOT IN ? AND version_count <= ?",
			id,
			[]model.Status{model.StatusProcessing, model.StatusRegenerate},
			model.VersionLimit).
		Updates(map[string]interface{}{
			"status":        next,
			"settings":      string(settingsJSON),
			"version_count": gorm.Expr("version_count + 1"),
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to begin processing for track ID %d: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// AppendVersion appends the version record and completes the track.
func (r *gormTrackRepository) AppendVersion(ctx context.Context, id int64, version model.ExtendedVersion) (*model.Track, error) {
	track := &model.Track{}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Re-fetch under a row lock; the job ran asynchronously and other
		// fields may have changed since dispatch.
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(track, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: track ID %d", model.ErrNotFound, id)
			}
			return fmt.Errorf("failed to re-fetch track ID %d: %w", id, err)
		}

		track.Versions = append(track.Versions, version)
		track.Status = model.StatusCompleted

		versionsJSON, err := json.Marshal(track.Versions)
		if err != nil {
			return fmt.Errorf("failed to marshal versions: %w", err)
		}
		return tx.Model(track).Updates(map[string]interface{}{
			"versions": string(versionsJSON),
			"status":   model.StatusCompleted,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	logger.Info("Version appended",
		logger.Int64("trackId", id),
		logger.Int("versions", len(track.Versions)))
	return track, nil
}

// MarkError records a failed processing attempt.
func (r *gormTrackRepository) MarkError(ctx context.Context, id int64) error {
	err := r.db.WithContext(ctx).Model(&model.Track{}).
		Where("id = ?", id).
		Update("status", model.StatusError).Error
	if err != nil {
		return fmt.Errorf("failed to mark track ID %d as errored: %w", id, err)
	}
	return nil
}

// DeleteAllByUserID removes all tracks for the owner in one transaction.
func (r *gormTrackRepository) DeleteAllByUserID(ctx context.Context, userID int64) ([]*model.Track, error) {
	tracks := make([]*model.Track, 0)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Find(&tracks).Error; err != nil {
			return fmt.Errorf("failed to list tracks for user ID %d: %w", userID, err)
		}
		if len(tracks) == 0 {
			return nil
		}
		if err := tx.Where("user_id = ?", userID).Delete(&model.Track{}).Error; err != nil {
			return fmt.Errorf("failed to delete tracks for user ID %d: %w", userID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tracks, nil
}
