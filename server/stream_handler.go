package server

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"XtendFM/core/processing"
	"XtendFM/logger"
	"XtendFM/model"
)

// audioContentTypes 按扩展名确定响应的Content-Type
var audioContentTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".flac": "audio/flac",
	".aiff": "audio/aiff",
}

// byteRange is one parsed, satisfiable range of a file.
type byteRange struct {
	start, end int64
}

func (r byteRange) length() int64 {
	return r.end - r.start + 1
}

// parseRangeHeader parses a single contiguous byte range ("bytes=start-end"
// or "bytes=start-") against the given file size. It returns (nil, nil) when
// no Range header is present.
func parseRangeHeader(header string, size int64) (*byteRange, error) {
	if header == "" {
		return nil, nil
	}
	if !strings.HasPrefix(header, "bytes=") {
		return nil, fmt.Errorf("%w: unsupported range unit in %q", model.ErrValidation, header)
	}
	spec := strings.TrimPrefix(header, "bytes=")
	if strings.Contains(spec, ",") {
		return nil, fmt.Errorf("%w: multiple ranges are not supported", model.ErrValidation)
	}

	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 || parts[0] == "" {
		return nil, fmt.Errorf("%w: malformed range %q", model.ErrValidation, header)
	}

	start, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || start < 0 {
		return nil, fmt.Errorf("%w: malformed range start in %q", model.ErrValidation, header)
	}

	end := size - 1
	if parts[1] != "" {
		end, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil || end < start {
			return nil, fmt.Errorf("%w: malformed range end in %q", model.ErrValidation, header)
		}
		if end > size-1 {
			end = size - 1
		}
	}

	if start >= size {
		return nil, errRangeNotSatisfiable
	}
	return &byteRange{start: start, end: end}, nil
}

var errRangeNotSatisfiable = fmt.Errorf("requested range not satisfiable")

// resolveVersionPath resolves a version selector against the track.
// type "original" uses the source file; "extended" indexes into the version
// list, defaulting to index 0.
func resolveVersionPath(track *model.Track, versionType string, versionParam string) (string, error) {
	switch versionType {
	case "original":
		return track.OriginalPath, nil
	case "extended":
		idx := 0
		if versionParam != "" {
			parsed, err := strconv.Atoi(versionParam)
			if err != nil {
				return "", fmt.Errorf("%w: invalid version %q", model.ErrValidation, versionParam)
			}
			idx = parsed
		}
		if idx < 0 || idx >= len(track.Versions) {
			return "", fmt.Errorf("%w: version %d of track %d", model.ErrNotFound, idx, track.ID)
		}
		return track.Versions[idx].Path, nil
	default:
		return "", fmt.Errorf("%w: unknown audio type %q", model.ErrValidation, versionType)
	}
}

// AudioStreamHandler streams a track version, honoring single-range requests
// for seekable playback.
func (h *APIHandler) AudioStreamHandler(w http.ResponseWriter, r *http.Request) {
	track, err := h.loadOwnedTrack(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	versionType := mux.Vars(r)["type"]
	path, err := resolveVersionPath(track, versionType, r.URL.Query().Get("version"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	h.serveAudioFile(w, r, track, path, "")
}

// DownloadHandler serves a track version as an attachment with a filename
// derived from the original upload, independent of the storage filename.
func (h *APIHandler) DownloadHandler(w http.ResponseWriter, r *http.Request) {
	track, err := h.loadOwnedTrack(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	versionType := r.URL.Query().Get("type")
	if versionType == "" {
		versionType = "extended"
	}
	versionParam := r.URL.Query().Get("version")
	path, err := resolveVersionPath(track, versionType, versionParam)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	downloadName := track.OriginalFilename
	if versionType == "extended" {
		idx := 0
		if versionParam != "" {
			idx, _ = strconv.Atoi(versionParam)
		}
		downloadName = processing.OutputFilename(track.OriginalFilename, idx+1)
	}

	h.serveAudioFile(w, r, track, path, downloadName)
}

// serveAudioFile 重新校验路径后输出文件内容，支持单个连续Range
func (h *APIHandler) serveAudioFile(w http.ResponseWriter, r *http.Request, track *model.Track, path, downloadName string) {
	// 元数据在写入与读取之间可能被篡改，每次访问前都重新校验
	safePath, err := h.guard.Validate(path)
	if err != nil {
		logger.Warn("流式播放路径校验失败",
			logger.Int64("trackId", track.ID),
			logger.String("path", path),
			logger.ErrorField(err))
		writeDomainError(w, err)
		return
	}

	file, err := os.Open(safePath)
	if err != nil {
		if os.IsNotExist(err) {
			writeDomainError(w, fmt.Errorf("%w: file for track %d", model.ErrNotFound, track.ID))
			return
		}
		logger.Error("打开音频文件失败",
			logger.String("path", safePath),
			logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		logger.Error("读取文件信息失败",
			logger.String("path", safePath),
			logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	size := info.Size()

	contentType := audioContentTypes[strings.ToLower(filepath.Ext(safePath))]
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Accept-Ranges", "bytes")
	if downloadName != "" {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", downloadName))
	}

	rng, err := parseRangeHeader(r.Header.Get("Range"), size)
	if err != nil {
		if err == errRangeNotSatisfiable {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
			http.Error(w, "Requested range not satisfiable", http.StatusRequestedRangeNotSatisfiable)
			return
		}
		writeDomainError(w, err)
		return
	}

	if rng == nil {
		// 无Range头，返回完整内容
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodHead {
			return
		}
		if _, err := io.Copy(w, file); err != nil {
			logger.Error("写入音频响应失败", logger.ErrorField(err))
		}
		return
	}

	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", rng.start, rng.end, size))
	w.Header().Set("Content-Length", strconv.FormatInt(rng.length(), 10))
	w.WriteHeader(http.StatusPartialContent)
	if r.Method == http.MethodHead {
		return
	}

	if _, err := file.Seek(rng.start, io.SeekStart); err != nil {
		logger.Error("定位文件偏移失败", logger.ErrorField(err))
		return
	}
	if _, err := io.CopyN(w, file, rng.length()); err != nil {
		logger.Error("写入音频分段失败", logger.ErrorField(err))
	}
}
