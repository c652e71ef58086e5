package extender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"XtendFM/logger"
	"XtendFM/model"
)

// ExtendArgs carries one invocation of the external extension tool.
type ExtendArgs struct {
	InputPath  string
	OutputPath string
	Settings   model.ProcessSettings
}

// Extender is the boundary to the external audio tool. Extend produces an
// extended derivative of the input; Analyze reports metadata for a file.
type Extender interface {
	Extend(ctx context.Context, args ExtendArgs) error
	Analyze(ctx context.Context, path string) (*model.AudioAnalysis, error)
}

// CommandExtender implements Extender by running the configured binary.
type CommandExtender struct {
	binPath string
}

// NewCommandExtender creates a CommandExtender for the given binary path.
func NewCommandExtender(binPath string) *CommandExtender {
	return &CommandExtender{binPath: binPath}
}

// BinPath 返回外部工具的可执行文件路径
func (e *CommandExtender) BinPath() string {
	return e.binPath
}

// Extend runs the tool with positional arguments
// [input, output, introLen, outroLen, preserveVocals, beatMode].
// A non-zero exit or I/O failure is returned with the captured stderr.
func (e *CommandExtender) Extend(ctx context.Context, a ExtendArgs) error {
	// Ensure the output directory exists
	if err := os.MkdirAll(filepath.Dir(a.OutputPath), 0755); err != nil {
		return fmt.Errorf("failed to create output directory for %s: %w", a.OutputPath, err)
	}

	args := []string{
		a.InputPath,
		a.OutputPath,
		strconv.FormatFloat(a.Settings.IntroLength, 'f', -1, 64),
		strconv.FormatFloat(a.Settings.OutroLength, 'f', -1, 64),
		strconv.FormatBool(a.Settings.PreserveVocals),
		a.Settings.BeatDetection,
	}

	logger.Info("执行音频扩展命令",
		logger.String("bin", e.binPath),
		logger.Any("args", args))

	cmd := exec.CommandContext(ctx, e.binPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("extender execution failed for %s: %w\nExtender Error: %s", a.InputPath, err, stderr.String())
	}
	return nil
}

// Analyze runs the tool's analysis mode, which emits metadata JSON
// (format, bitrate, duration, bpm, key) on stdout.
func (e *CommandExtender) Analyze(ctx context.Context, path string) (*model.AudioAnalysis, error) {
	cmd := exec.CommandContext(ctx, e.binPath, "analyze", path)
	var out bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("analysis execution failed for %s: %w\nExtender Error: %s", path, err, stderr.String())
	}

	var analysis model.AudioAnalysis
	if err := json.Unmarshal(out.Bytes(), &analysis); err != nil {
		return nil, fmt.Errorf("failed to unmarshal analysis output for %s: %w\nOutput: %s", path, err, out.String())
	}

	if analysis.Format == "" && analysis.Duration == 0 {
		return nil, fmt.Errorf("no usable metadata in analysis output for %s\nOutput: %s", path, out.String())
	}

	return &analysis, nil
}
