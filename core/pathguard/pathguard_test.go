package pathguard

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"XtendFM/model"
)

func newTestGuard(t *testing.T) (*Guard, string, string) {
	t.Helper()
	uploadDir := t.TempDir()
	resultDir := t.TempDir()
	g, err := New(uploadDir, resultDir)
	require.NoError(t, err)
	return g, uploadDir, resultDir
}

func TestValidate_AcceptsPathsInsideAllowedDirs(t *testing.T) {
	g, uploadDir, resultDir := newTestGuard(t)

	for _, p := range []string{
		filepath.Join(uploadDir, "song.mp3"),
		filepath.Join(uploadDir, "nested", "take2.flac"),
		filepath.Join(resultDir, "song_extended_v1.wav"),
		filepath.Join(resultDir, "mix.aiff"),
	} {
		got, err := g.Validate(p)
		require.NoError(t, err, p)
		require.True(t, filepath.IsAbs(got))
	}
}

func TestValidate_Rejections(t *testing.T) {
	g, uploadDir, _ := newTestGuard(t)

	cases := []struct {
		name string
		path string
	}{
		{name: "parent traversal", path: filepath.Join(uploadDir, "..", "escape.mp3")},
		{name: "embedded traversal", path: uploadDir + "/../" + filepath.Base(uploadDir) + "/song.mp3"},
		{name: "home reference", path: "~/music/song.mp3"},
		{name: "outside allowed dirs", path: "/etc/passwd.mp3"},
		{name: "disallowed extension", path: filepath.Join(uploadDir, "payload.sh")},
		{name: "no extension", path: filepath.Join(uploadDir, "song")},
		{name: "allowed dir itself", path: uploadDir + "/.mp3/.."},
		{name: "empty path", path: ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := g.Validate(tc.path)
			require.ErrorIs(t, err, model.ErrUnsafePath)
			require.Empty(t, got, "a rejection must never yield a coerced path")
		})
	}
}

func TestSafeOutputPath_SanitizesFilename(t *testing.T) {
	g, _, resultDir := newTestGuard(t)

	got, err := g.SafeOutputPath(resultDir, "my song;rm -rf $(x).mp3")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(resultDir, "my_song_rm_-rf___x_.mp3"), got)

	got, err = g.SafeOutputPath(resultDir, "sub/dir/song.mp3")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(resultDir, "song.mp3"), got)
}

func TestSafeOutputPath_RejectsUnusableNames(t *testing.T) {
	g, _, resultDir := newTestGuard(t)

	for _, name := range []string{"", "////", "song.exe"} {
		_, err := g.SafeOutputPath(resultDir, name)
		require.ErrorIs(t, err, model.ErrUnsafePath, name)
	}
}
