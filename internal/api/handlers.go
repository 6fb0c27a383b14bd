package api

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ceyewan/scribesnap/clog"
	"github.com/ceyewan/scribesnap/internal/blob"
	"github.com/ceyewan/scribesnap/internal/store"
	"github.com/ceyewan/scribesnap/internal/workflow"
	"github.com/ceyewan/scribesnap/xerrors"
)

// uploadField multipart 表单中的文件字段名
const uploadField = "file"

// multipartOverhead 请求体中除文件外的表单开销
const multipartOverhead = 1 << 20

func (h *handler) parse(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.MaxUploadSize+multipartOverhead)

	fh, err := c.FormFile(uploadField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if xerrors.As(err, &tooLarge) {
			writeError(c, http.StatusBadRequest, codeValidation,
				fmt.Sprintf("File exceeds the maximum size of %d MB", h.cfg.MaxUploadSize/(1024*1024)),
				map[string]any{"max_size_bytes": h.cfg.MaxUploadSize})
			return
		}
		writeError(c, http.StatusBadRequest, codeValidation,
			fmt.Sprintf("Missing file field '%s' in multipart form", uploadField), nil)
		return
	}

	data, err := readUpload(fh, h.cfg.MaxUploadSize)
	if err != nil {
		h.logger.WarnContext(c.Request.Context(), "failed to read upload", clog.Error(err))
		writeError(c, http.StatusBadRequest, codeValidation, "Failed to read uploaded file", nil)
		return
	}

	h.logger.InfoContext(c.Request.Context(), "received parse request",
		clog.String("filename", fh.Filename),
		clog.Int64("size", fh.Size))

	item, err := h.notes.Process(c.Request.Context(), workflow.Upload{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Data:        data,
	})
	if err != nil {
		h.writeFailure(c, err)
		return
	}

	c.JSON(http.StatusCreated, ParseResponse{
		Message:    "Note parsed successfully",
		ParsedText: item.Result,
		Note:       toNoteResponse(item),
	})
}

// readUpload 读取上传内容，超过 limit 时只读取 limit+1 字节，交给编排器判定超限
func readUpload(fh *multipart.FileHeader, limit int64) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, limit+1))
}

func (h *handler) listNotes(c *gin.Context) {
	q, details := parseListQuery(c)
	if details != nil {
		writeError(c, http.StatusBadRequest, codeValidation, "Invalid query parameters", details)
		return
	}

	result, err := h.notes.List(c.Request.Context(), q)
	if err != nil {
		h.writeFailure(c, err)
		return
	}

	resp := NoteListResponse{
		Notes:      make([]NoteListItem, 0, len(result.Items)),
		TotalCount: result.TotalCount,
		HasMore:    result.HasMore,
	}
	for _, item := range result.Items {
		resp.Notes = append(resp.Notes, toListItem(item))
	}
	if result.NextCursor != "" {
		resp.NextCursor = &result.NextCursor
	}

	c.Header(HeaderTotalCount, strconv.FormatInt(result.TotalCount, 10))
	c.JSON(http.StatusOK, resp)
}

// parseListQuery 解析列表参数，返回非空 details 表示参数非法
func parseListQuery(c *gin.Context) (workflow.Query, map[string]any) {
	q := workflow.Query{
		Cursor: c.Query("cursor"),
		Sort:   c.DefaultQuery("sort", store.SortCreatedDesc),
		Status: c.Query("status"),
	}

	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > store.MaxPageSize {
			return q, map[string]any{"field": "limit", "reason": fmt.Sprintf("must be an integer between 1 and %d", store.MaxPageSize)}
		}
		q.Limit = n
	}

	var err error
	if q.From, err = parseDate(c.Query("from_date"), false); err != nil {
		return q, map[string]any{"field": "from_date", "reason": "must be an ISO 8601 date or datetime"}
	}
	if q.To, err = parseDate(c.Query("to_date"), true); err != nil {
		return q, map[string]any{"field": "to_date", "reason": "must be an ISO 8601 date or datetime"}
	}
	return q, nil
}

// parseDate 接受 RFC 3339 时间或 YYYY-MM-DD 日期；日期作为结束条件时取当天最后一刻
func parseDate(raw string, endOfDay bool) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Microsecond)
	}
	return t, nil
}

func (h *handler) getNote(c *gin.Context) {
	item, err := h.notes.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeFailure(c, err)
		return
	}
	if item.Status == store.StatusCompleted {
		c.Header("Cache-Control", fmt.Sprintf("private, max-age=%d", int(h.cfg.NoteCacheMaxAge.Seconds())))
	}
	c.JSON(http.StatusOK, toNoteResponse(item))
}

func (h *handler) serveFile(c *gin.Context) {
	raw := strings.TrimPrefix(c.Param("path"), "/")
	ref, err := h.blobs.Resolve(raw)
	if err != nil {
		writeError(c, http.StatusBadRequest, codeValidation, "Invalid file path", nil)
		return
	}

	f, err := h.blobs.Open(c.Request.Context(), ref)
	switch {
	case xerrors.Is(err, blob.ErrNotFound):
		writeError(c, http.StatusNotFound, codeNotFound, "File not found", map[string]any{"path": ref.String()})
		return
	case err != nil:
		h.logger.ErrorContext(c.Request.Context(), "failed to open file", clog.String("ref", ref.String()), clog.Error(err))
		writeError(c, http.StatusInternalServerError, codeServerError, "Failed to read file", nil)
		return
	}
	defer f.Close()

	var modTime time.Time
	if info, err := f.Stat(); err == nil {
		modTime = info.ModTime()
	}
	c.Header("Cache-Control", fmt.Sprintf("public, max-age=%d", int(h.cfg.FileCacheMaxAge.Seconds())))
	http.ServeContent(c.Writer, c.Request, path.Base(ref.String()), modTime, f)
}

func (h *handler) health(c *gin.Context) {
	report := h.notes.Health(c.Request.Context())
	status := http.StatusOK
	if !report.Healthy() {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, HealthResponse{
		Status:        report.Status,
		Timestamp:     report.Timestamp,
		Version:       h.cfg.Version,
		UptimeSeconds: time.Since(h.started).Round(10 * time.Millisecond).Seconds(),
		Services: map[string]string{
			"database":   report.Database,
			"extraction": report.Extraction,
		},
	})
}
