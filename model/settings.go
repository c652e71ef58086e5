package model

import "fmt"

// Beat detection modes accepted by the external extension tool.
const (
	BeatDetectionAuto   = "auto"
	BeatDetectionFixed  = "fixed"
	BeatDetectionManual = "manual"
)

// maxEdgeLength bounds intro/outro lengths, in seconds.
const maxEdgeLength = 300

// ProcessSettings is the configuration for one extension request.
type ProcessSettings struct {
	IntroLength    float64 `json:"introLength"`
	OutroLength    float64 `json:"outroLength"`
	PreserveVocals bool    `json:"preserveVocals"`
	BeatDetection  string  `json:"beatDetection"`
}

// Validate checks the settings against the accepted schema.
func (s ProcessSettings) Validate() error {
	if s.IntroLength < 0 || s.IntroLength > maxEdgeLength {
		return fmt.Errorf("%w: introLength must be between 0 and %d seconds", ErrValidation, maxEdgeLength)
	}
	if s.OutroLength < 0 || s.OutroLength > maxEdgeLength {
		return fmt.Errorf("%w: outroLength must be between 0 and %d seconds", ErrValidation, maxEdgeLength)
	}
	switch s.BeatDetection {
	case BeatDetectionAuto, BeatDetectionFixed, BeatDetectionManual:
	default:
		return fmt.Errorf("%w: unknown beatDetection mode %q", ErrValidation, s.BeatDetection)
	}
	return nil
}
