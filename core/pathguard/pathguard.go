package pathguard

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"XtendFM/model"
)

// allowedExtensions 允许的音频文件扩展名
var allowedExtensions = map[string]struct{}{
	".mp3":  {},
	".wav":  {},
	".flac": {},
	".aiff": {},
}

// unsafeFilenameChars matches path separators and shell metacharacters that
// must never reach the filesystem from a user-influenced filename.
var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9_\-\.]`)

// Guard validates filesystem paths against a fixed set of allowed directories
// and audio extensions. Every path that originates from persisted data or user
// input must pass through it before any read, write, stream or delete.
type Guard struct {
	roots []string // resolved absolute allowed directories
}

// New creates a Guard for the given allowed directories.
func New(dirs ...string) (*Guard, error) {
	if len(dirs) == 0 {
		return nil, fmt.Errorf("pathguard: at least one allowed directory is required")
	}
	roots := make([]string, 0, len(dirs))
	for _, d := range dirs {
		abs, err := filepath.Abs(d)
		if err != nil {
			return nil, fmt.Errorf("pathguard: failed to resolve allowed directory %s: %w", d, err)
		}
		roots = append(roots, abs)
	}
	return &Guard{roots: roots}, nil
}

// Validate accepts a path only if its resolved absolute form lies strictly
// inside one of the allowed directories, its extension is on the allow-list,
// and the raw input carries no traversal or home-reference tokens. It returns
// the resolved absolute path. A rejection is never coerced to a default path.
func (g *Guard) Validate(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("%w: empty path", model.ErrUnsafePath)
	}
	if strings.Contains(path, "..") {
		return "", fmt.Errorf("%w: parent directory reference in %q", model.ErrUnsafePath, path)
	}
	if strings.Contains(path, "~") {
		return "", fmt.Errorf("%w: home directory reference in %q", model.ErrUnsafePath, path)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if _, ok := allowedExtensions[ext]; !ok {
		return "", fmt.Errorf("%w: extension %q is not allowed", model.ErrUnsafePath, ext)
	}

	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("%w: failed to resolve %q: %v", model.ErrUnsafePath, path, err)
	}

	for _, root := range g.roots {
		rel, err := filepath.Rel(root, abs)
		if err != nil {
			continue
		}
		if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		return abs, nil
	}
	return "", fmt.Errorf("%w: %q resolves outside allowed directories", model.ErrUnsafePath, path)
}

// SafeOutputPath sanitizes filename by replacing path separators and shell
// metacharacters with an inert substitute, joins it under baseDir and runs the
// result through Validate.
func (g *Guard) SafeOutputPath(baseDir, filename string) (string, error) {
	sanitized := unsafeFilenameChars.ReplaceAllString(filepath.Base(filename), "_")
	if sanitized == "" || strings.Trim(sanitized, "._") == "" {
		return "", fmt.Errorf("%w: filename %q is empty after sanitization", model.ErrUnsafePath, filename)
	}
	return g.Validate(filepath.Join(baseDir, sanitized))
}
