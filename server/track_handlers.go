package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"XtendFM/config"
	"XtendFM/core/pathguard"
	"XtendFM/core/processing"
	"XtendFM/logger"
	"XtendFM/model"
	"XtendFM/repository"
)

// allowedUploadTypes 允许上传的音频MIME类型
var allowedUploadTypes = map[string]struct{}{
	"audio/mpeg":   {},
	"audio/wav":    {},
	"audio/flac":   {},
	"audio/aiff":   {},
	"audio/x-aiff": {},
}

// TrackStatusCache is the slice of the status cache the handlers need.
// Entries carry the owning user so a cache hit still enforces ownership.
type TrackStatusCache interface {
	Get(ctx context.Context, trackID int64) (int64, model.Status, bool)
	Set(ctx context.Context, trackID, userID int64, status model.Status)
	Invalidate(ctx context.Context, trackID int64)
}

// APIHandler 处理所有API请求
type APIHandler struct {
	trackRepo   repository.TrackRepository
	manager     *processing.Manager
	guard       *pathguard.Guard
	statusCache TrackStatusCache
	cfg         *config.Config
}

// NewAPIHandler 创建新的API处理器
func NewAPIHandler(
	trackRepo repository.TrackRepository,
	manager *processing.Manager,
	guard *pathguard.Guard,
	statusCache TrackStatusCache,
	cfg *config.Config,
) *APIHandler {
	return &APIHandler{
		trackRepo:   trackRepo,
		manager:     manager,
		guard:       guard,
		statusCache: statusCache,
		cfg:         cfg,
	}
}

// RegisterRoutes 注册API路由
func (h *APIHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/tracks/upload", h.UploadTrackHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/tracks", h.GetTracksHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/tracks", h.DeleteTracksHandler).Methods(http.MethodDelete)
	router.HandleFunc("/api/tracks/{id}", h.GetTrackHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/tracks/{id}/process", h.ProcessTrackHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/tracks/{id}/status", h.TrackStatusHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/tracks/{id}/download", h.DownloadHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/audio/{id}/{type}", h.AudioStreamHandler).Methods(http.MethodGet, http.MethodHead)
}

// writeDomainError 将领域错误映射到HTTP状态码
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, model.ErrTrackBusy):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, model.ErrVersionLimit),
		errors.Is(err, model.ErrValidation),
		errors.Is(err, model.ErrUnsafePath),
		errors.Is(err, model.ErrUnsupportedMedia):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		// 详细信息只记录在服务端日志里
		logger.Error("请求处理出现未预期的错误", logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("写入响应失败", logger.ErrorField(err))
	}
}

func generateUniqueSuffix() string {
	b := make([]byte, 4)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// parseTrackID 解析路径中的track ID
func parseTrackID(r *http.Request) (int64, error) {
	vars := mux.Vars(r)
	id, err := strconv.ParseInt(vars["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid track ID %q", model.ErrValidation, vars["id"])
	}
	return id, nil
}

// loadOwnedTrack 获取track并校验归属
func (h *APIHandler) loadOwnedTrack(r *http.Request) (*model.Track, error) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		return nil, err
	}
	id, err := parseTrackID(r)
	if err != nil {
		return nil, err
	}
	track, err := h.trackRepo.GetByID(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if track == nil || track.UserID != userID {
		return nil, fmt.Errorf("%w: track ID %d", model.ErrNotFound, id)
	}
	return track, nil
}

// UploadTrackHandler handles audio file uploads.
func (h *APIHandler) UploadTrackHandler(w http.ResponseWriter, r *http.Request) {
	logger.Info("开始处理上传请求",
		logger.String("remoteAddr", r.RemoteAddr),
		logger.Int64("contentLength", r.ContentLength))

	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		logger.Error("获取用户ID失败", logger.ErrorField(err))
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	// 检查请求大小，预留1MB的multipart开销
	if r.ContentLength > h.cfg.MaxUploadSize+(1<<20) {
		logger.Warn("请求体过大，拒绝处理",
			logger.Int64("contentLength", r.ContentLength),
			logger.Int64("maxSize", h.cfg.MaxUploadSize))
		http.Error(w, fmt.Sprintf("Request too large. Maximum size is %d MB", h.cfg.MaxUploadSize>>20), http.StatusRequestEntityTooLarge)
		return
	}

	if err := r.ParseMultipartForm(h.cfg.MaxUploadSize); err != nil {
		logger.Error("解析表单失败", logger.ErrorField(err))
		http.Error(w, "Failed to parse upload form. Please check your file and try again.", http.StatusBadRequest)
		return
	}

	trackFile, trackHeader, err := r.FormFile("trackFile")
	if err != nil {
		logger.Error("获取音频文件失败", logger.ErrorField(err))
		if err == http.ErrMissingFile {
			http.Error(w, "Missing audio file. Please select a file to upload.", http.StatusBadRequest)
		} else {
			http.Error(w, "Failed to process uploaded file.", http.StatusBadRequest)
		}
		return
	}
	defer trackFile.Close()

	// 验证文件大小
	if trackHeader.Size > h.cfg.MaxUploadSize {
		logger.Warn("文件过大",
			logger.Int64("size", trackHeader.Size),
			logger.String("filename", trackHeader.Filename))
		http.Error(w, fmt.Sprintf("File too large. Maximum size is %d MB", h.cfg.MaxUploadSize>>20), http.StatusRequestEntityTooLarge)
		return
	}

	// 验证文件类型
	contentType := trackHeader.Header.Get("Content-Type")
	if _, ok := allowedUploadTypes[contentType]; !ok {
		logger.Warn("不支持的文件类型",
			logger.String("contentType", contentType),
			logger.String("filename", trackHeader.Filename))
		writeDomainError(w, fmt.Errorf("%w: %s. Supported formats: MP3, WAV, FLAC, AIFF", model.ErrUnsupportedMedia, contentType))
		return
	}

	// 生成的存储文件名与用户提供的文件名无关，避免碰撞和注入
	ext := strings.ToLower(filepath.Ext(trackHeader.Filename))
	storeName := fmt.Sprintf("%d_%s%s", time.Now().UnixNano(), generateUniqueSuffix(), ext)
	destPath, err := h.guard.SafeOutputPath(h.cfg.UploadDir, storeName)
	if err != nil {
		logger.Warn("上传路径校验失败",
			logger.String("filename", trackHeader.Filename),
			logger.ErrorField(err))
		writeDomainError(w, err)
		return
	}

	if err := saveUploadedFile(trackFile, destPath); err != nil {
		logger.Error("保存上传文件失败",
			logger.String("path", destPath),
			logger.ErrorField(err))
		http.Error(w, "Failed to store uploaded file", http.StatusInternalServerError)
		return
	}

	newTrack := &model.Track{
		UserID:           userID,
		OriginalFilename: trackHeader.Filename,
		OriginalPath:     destPath,
		Status:           model.StatusUploaded,
		Versions:         model.ExtendedVersions{},
	}
	trackID, err := h.trackRepo.Create(r.Context(), newTrack)
	if err != nil {
		os.Remove(destPath)
		logger.Error("创建曲目记录失败",
			logger.ErrorField(err),
			logger.Int64("userId", userID))
		writeDomainError(w, err)
		return
	}

	logger.Info("上传完成",
		logger.Int64("trackId", trackID),
		logger.String("filename", trackHeader.Filename),
		logger.Int64("size", trackHeader.Size))

	writeJSON(w, http.StatusCreated, newTrack)

	// 异步分析元数据，失败只记录日志，track保持空的元数据字段
	go h.manager.Analyze(trackID, destPath)
}

// saveUploadedFile 将上传内容写入目标路径
func saveUploadedFile(src io.Reader, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("failed to create upload directory: %w", err)
	}
	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, src); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// GetTracksHandler retrieves all tracks for the current user.
func (h *APIHandler) GetTracksHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	tracks, err := h.trackRepo.GetAllByUserID(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tracks)
}

// GetTrackHandler retrieves a single track by ID.
func (h *APIHandler) GetTrackHandler(w http.ResponseWriter, r *http.Request) {
	track, err := h.loadOwnedTrack(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, track)
}

// ProcessTrackHandler accepts an extension request and dispatches the job.
func (h *APIHandler) ProcessTrackHandler(w http.ResponseWriter, r *http.Request) {
	track, err := h.loadOwnedTrack(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var settings model.ProcessSettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		logger.Error("解析处理参数失败",
			logger.Int64("trackId", track.ID),
			logger.ErrorField(err))
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	job, err := h.manager.Dispatch(r.Context(), track, settings)
	if err != nil {
		logger.Warn("扩展请求被拒绝",
			logger.Int64("trackId", track.ID),
			logger.ErrorField(err))
		writeDomainError(w, err)
		return
	}

	// 任务在后台运行，立即返回确认
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"message": "Processing started",
		"trackId": track.ID,
		"jobId":   job.JobID.String(),
	})
}

// TrackStatusHandler reports the current processing status of a track.
func (h *APIHandler) TrackStatusHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	id, err := parseTrackID(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	// 缓存命中同样校验归属，归属不符时回源走完整检查
	if owner, status, ok := h.statusCache.Get(r.Context(), id); ok && owner == userID {
		writeJSON(w, http.StatusOK, map[string]string{"status": string(status)})
		return
	}

	track, err := h.loadOwnedTrack(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	h.statusCache.Set(r.Context(), id, userID, track.Status)
	writeJSON(w, http.StatusOK, map[string]string{"status": string(track.Status)})
}

// DeleteTracksHandler bulk-deletes all tracks and their files for the owner.
func (h *APIHandler) DeleteTracksHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	deleted, err := h.trackRepo.DeleteAllByUserID(r.Context(), userID)
	if err != nil {
		// 数据库删除失败需要反馈给调用方
		writeDomainError(w, err)
		return
	}

	// 文件清理是尽力而为的，文件不存在不算错误
	for _, track := range deleted {
		h.removeTrackFile(track.ID, track.OriginalPath)
		for _, v := range track.Versions {
			h.removeTrackFile(track.ID, v.Path)
		}
		h.statusCache.Invalidate(r.Context(), track.ID)
	}

	logger.Info("批量删除完成",
		logger.Int64("userId", userID),
		logger.Int("deleted", len(deleted)))

	writeJSON(w, http.StatusOK, map[string]int{"deleted": len(deleted)})
}

// removeTrackFile 删除单个文件，路径必须先通过校验
func (h *APIHandler) removeTrackFile(trackID int64, path string) {
	if path == "" {
		return
	}
	safePath, err := h.guard.Validate(path)
	if err != nil {
		logger.Warn("删除时路径校验失败，跳过",
			logger.Int64("trackId", trackID),
			logger.String("path", path),
			logger.ErrorField(err))
		return
	}
	if err := os.Remove(safePath); err != nil && !os.IsNotExist(err) {
		logger.Warn("删除文件失败",
			logger.Int64("trackId", trackID),
			logger.String("path", safePath),
			logger.ErrorField(err))
	}
}
