package model

import "time"

// Track represents an uploaded audio asset plus its derived extended versions.
type Track struct {
	ID               int64            `json:"id" gorm:"primaryKey"`
	UserID           int64            `json:"userId" gorm:"index"`
	OriginalFilename string           `json:"originalFilename"`
	OriginalPath     string           `json:"-" gorm:"column:original_path"` // Path to the original audio file, not exposed in API directly
	Format           *string          `json:"format"`                        // Derived metadata, nil until analysis completes
	Bitrate          *int             `json:"bitrate"`
	Duration         *float64         `json:"duration"` // Duration in seconds
	BPM              *float64         `json:"bpm"`
	Key              *string          `json:"key"`
	Status           Status           `json:"status" gorm:"type:varchar(16)"`
	Settings         *ProcessSettings `json:"settings" gorm:"serializer:json;type:text"` // Last-applied processing configuration
	Versions         ExtendedVersions `json:"versions" gorm:"serializer:json;type:text"`
	VersionCount     int              `json:"versionCount"` // Attempt counter, incremented on every dispatch
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// ExtendedVersion is one successfully completed extension output. Path and
// duration travel together so the pairing cannot drift.
type ExtendedVersion struct {
	Path     string   `json:"path"`
	Duration *float64 `json:"duration"` // nil when post-processing analysis failed
}

// ExtendedVersions is the append-only, dispatch-ordered version list of a track.
type ExtendedVersions []ExtendedVersion

// AudioAnalysis is the metadata the external tool reports for an audio file.
type AudioAnalysis struct {
	Format   string   `json:"format"`
	Bitrate  int      `json:"bitrate"`
	Duration float64  `json:"duration"`
	BPM      *float64 `json:"bpm"`
	Key      *string  `json:"key"`
}

// ApplyAnalysis copies analysis results onto the track's metadata fields.
func (t *Track) ApplyAnalysis(a *AudioAnalysis) {
	if a == nil {
		return
	}
	t.Format = &a.Format
	t.Bitrate = &a.Bitrate
	t.Duration = &a.Duration
	t.BPM = a.BPM
	t.Key = a.Key
}
