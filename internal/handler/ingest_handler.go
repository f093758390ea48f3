// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"ta-content-pipeline/internal/model"
	"ta-content-pipeline/internal/repository"
	"ta-content-pipeline/internal/service"
	"ta-content-pipeline/pkg/log"
)

// IngestHandler 负责处理摄取、分块预览和运行状态查询的 API 请求。
type IngestHandler struct {
	ingestService service.IngestService
}

// NewIngestHandler 创建一个新的 IngestHandler 实例。
func NewIngestHandler(ingestService service.IngestService) *IngestHandler {
	return &IngestHandler{ingestService: ingestService}
}

// IngestRequest 是 POST /ingest 的请求体：内联单元或 MinIO 对象名二选一。
type IngestRequest struct {
	Units  []model.ContentUnit `json:"units"`
	Object string              `json:"object"`
}

// PreviewRequest 是 POST /chunks/preview 的请求体。
type PreviewRequest struct {
	Units []model.ContentUnit `json:"units" binding:"required"`
}

// Ingest 把摄取任务投递到队列，立即返回 202 和运行 ID。
func (h *IngestHandler) Ingest(c *gin.Context) {
	var req IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求体格式错误: " + err.Error()})
		return
	}

	summary, err := h.ingestService.Submit(c.Request.Context(), req.Units, req.Object)
	if err != nil {
		if errors.Is(err, service.ErrNoInput) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		log.Error("Ingest: failed to submit task", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "摄取任务提交失败"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"code":    http.StatusAccepted,
		"message": "摄取任务已提交",
		"data": gin.H{
			"runId":  summary.RunID,
			"status": summary.Status,
		},
	})
}

// PreviewChunks 同步返回分块结果，不调用向量化服务。
func (h *IngestHandler) PreviewChunks(c *gin.Context) {
	var req PreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求体格式错误: " + err.Error()})
		return
	}

	result := h.ingestService.Preview(req.Units)
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "分块预览成功",
		"data":    result,
	})
}

// GetRun 查询一次运行的状态和汇总。
func (h *IngestHandler) GetRun(c *gin.Context) {
	runID := c.Param("id")
	if runID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少运行 ID"})
		return
	}

	summary, err := h.ingestService.GetRun(c.Request.Context(), runID)
	if err != nil {
		if errors.Is(err, repository.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "运行不存在或已过期"})
			return
		}
		log.Error("GetRun: failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询运行状态失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "查询运行状态成功",
		"data":    summary,
	})
}
