package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"XtendFM/model"
)

func makeAudioBytes(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func TestAudioStream_FullContent(t *testing.T) {
	f := newServerFixture(t)
	content := makeAudioBytes(1000)
	track := f.seedTrack(t, content)

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/audio/%d/original", track.ID), nil)
	rec := f.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "1000", rec.Header().Get("Content-Length"))
	require.Equal(t, "bytes", rec.Header().Get("Accept-Ranges"))
	require.Equal(t, "audio/mpeg", rec.Header().Get("Content-Type"))
	require.Equal(t, content, rec.Body.Bytes())
}

func TestAudioStream_ByteRange(t *testing.T) {
	f := newServerFixture(t)
	content := makeAudioBytes(1000)
	track := f.seedTrack(t, content)

	t.Run("bounded range", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/audio/%d/original", track.ID), nil)
		req.Header.Set("Range", "bytes=100-199")
		rec := f.do(req)

		require.Equal(t, http.StatusPartialContent, rec.Code)
		require.Equal(t, "100", rec.Header().Get("Content-Length"))
		require.Equal(t, "bytes 100-199/1000", rec.Header().Get("Content-Range"))
		require.Equal(t, content[100:200], rec.Body.Bytes())
	})

	t.Run("open-ended range", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/audio/%d/original", track.ID), nil)
		req.Header.Set("Range", "bytes=900-")
		rec := f.do(req)

		require.Equal(t, http.StatusPartialContent, rec.Code)
		require.Equal(t, "100", rec.Header().Get("Content-Length"))
		require.Equal(t, "bytes 900-999/1000", rec.Header().Get("Content-Range"))
		require.Equal(t, content[900:], rec.Body.Bytes())
	})

	t.Run("end clamped to file size", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/audio/%d/original", track.ID), nil)
		req.Header.Set("Range", "bytes=950-5000")
		rec := f.do(req)

		require.Equal(t, http.StatusPartialContent, rec.Code)
		require.Equal(t, "bytes 950-999/1000", rec.Header().Get("Content-Range"))
		require.Equal(t, "50", rec.Header().Get("Content-Length"))
	})

	t.Run("start beyond size", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/audio/%d/original", track.ID), nil)
		req.Header.Set("Range", "bytes=2000-")
		rec := f.do(req)

		require.Equal(t, http.StatusRequestedRangeNotSatisfiable, rec.Code)
		require.Equal(t, "bytes */1000", rec.Header().Get("Content-Range"))
	})

	for _, malformed := range []string{"bytes=abc-def", "bytes=-100", "chunks=0-1", "bytes=0-1,5-9", "bytes=50-10"} {
		t.Run("malformed "+malformed, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/audio/%d/original", track.ID), nil)
			req.Header.Set("Range", malformed)
			rec := f.do(req)
			require.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestAudioStream_ExtendedVersions(t *testing.T) {
	f := newServerFixture(t)
	track := f.seedTrack(t, makeAudioBytes(100))

	v1 := filepath.Join(f.cfg.ResultDir, "song_extended_v1.mp3")
	v2 := filepath.Join(f.cfg.ResultDir, "song_extended_v2.mp3")
	require.NoError(t, os.WriteFile(v1, []byte("version one"), 0644))
	require.NoError(t, os.WriteFile(v2, []byte("version two"), 0644))
	_, err := f.repo.AppendVersion(context.Background(), track.ID, model.ExtendedVersion{Path: v1})
	require.NoError(t, err)
	_, err = f.repo.AppendVersion(context.Background(), track.ID, model.ExtendedVersion{Path: v2})
	require.NoError(t, err)

	t.Run("defaults to the first version", func(t *testing.T) {
		rec := f.do(httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/audio/%d/extended", track.ID), nil))
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "version one", rec.Body.String())
	})

	t.Run("selects by index", func(t *testing.T) {
		rec := f.do(httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/audio/%d/extended?version=1", track.ID), nil))
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "version two", rec.Body.String())
	})

	t.Run("out of bounds version is a 404", func(t *testing.T) {
		rec := f.do(httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/audio/%d/extended?version=5", track.ID), nil))
		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("negative version is a 404", func(t *testing.T) {
		rec := f.do(httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/audio/%d/extended?version=-1", track.ID), nil))
		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("unknown type is a 400", func(t *testing.T) {
		rec := f.do(httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/audio/%d/remix", track.ID), nil))
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAudioStream_Rejections(t *testing.T) {
	f := newServerFixture(t)

	t.Run("unknown track", func(t *testing.T) {
		rec := f.do(httptest.NewRequest(http.MethodGet, "/api/audio/999/original", nil))
		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("tampered path does not bypass the guard", func(t *testing.T) {
		track := &model.Track{
			UserID:           DemoUserID,
			OriginalFilename: "song.mp3",
			OriginalPath:     "/etc/passwd.mp3",
			Status:           model.StatusUploaded,
		}
		_, err := f.repo.Create(context.Background(), track)
		require.NoError(t, err)

		rec := f.do(httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/audio/%d/original", track.ID), nil))
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing file is a 404", func(t *testing.T) {
		track := f.seedTrack(t, makeAudioBytes(10))
		require.NoError(t, os.Remove(track.OriginalPath))

		rec := f.do(httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/audio/%d/original", track.ID), nil))
		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestDownload_AttachmentDisposition(t *testing.T) {
	f := newServerFixture(t)
	track := f.seedTrack(t, makeAudioBytes(100))

	v1 := filepath.Join(f.cfg.ResultDir, "1700000000_ab12cd34_extended_v1.mp3")
	require.NoError(t, os.WriteFile(v1, []byte("v1 bytes"), 0644))
	_, err := f.repo.AppendVersion(context.Background(), track.ID, model.ExtendedVersion{Path: v1})
	require.NoError(t, err)

	t.Run("extended version gets a derived filename", func(t *testing.T) {
		rec := f.do(httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/tracks/%d/download?version=0", track.ID), nil))
		require.Equal(t, http.StatusOK, rec.Code)
		// The advertised name comes from the original upload, not the storage name.
		require.Equal(t, `attachment; filename="song_extended_v1.mp3"`, rec.Header().Get("Content-Disposition"))
		require.Equal(t, "v1 bytes", rec.Body.String())
	})

	t.Run("original keeps the uploaded filename", func(t *testing.T) {
		rec := f.do(httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/tracks/%d/download?type=original", track.ID), nil))
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, `attachment; filename="song.mp3"`, rec.Header().Get("Content-Disposition"))
	})
}
