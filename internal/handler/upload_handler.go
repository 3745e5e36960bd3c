package handler

import (
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"lex-assist-go/internal/config"
	"lex-assist-go/pkg/log"
	"lex-assist-go/pkg/storage"
)

// 附件大小上限：20MB
const maxAttachmentSize = 20 << 20

// 预签名下载链接的有效期
const presignExpiry = 24 * time.Hour

// UploadHandler 处理消息附件的上传与下载链接签发。
type UploadHandler struct {
	minioCfg config.MinIOConfig
}

// NewUploadHandler 创建一个新的 UploadHandler。
func NewUploadHandler(minioCfg config.MinIOConfig) *UploadHandler {
	return &UploadHandler{minioCfg: minioCfg}
}

// Upload 处理 POST /attachments 请求：把 multipart 文件写入对象存储，
// 返回对象键与预签名下载链接，供消息片段引用。
func (h *UploadHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少文件字段"})
		return
	}
	if fileHeader.Size > maxAttachmentSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "文件超出大小限制"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		log.Errorf("打开上传文件失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read file"})
		return
	}
	defer file.Close()

	objectName := fmt.Sprintf("attachments/%s%s", uuid.NewString(), filepath.Ext(fileHeader.Filename))
	contentType := fileHeader.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	if err := storage.UploadObject(c.Request.Context(), h.minioCfg.BucketName, objectName, file, fileHeader.Size, contentType); err != nil {
		log.Errorf("上传附件失败: object=%s, error: %v", objectName, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store attachment"})
		return
	}

	url, err := storage.GetPresignedURL(h.minioCfg.BucketName, objectName, presignExpiry)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to sign attachment url"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data": gin.H{
			"objectKey": objectName,
			"url":       url,
			"fileName":  fileHeader.Filename,
		},
	})
}

// PresignURL 处理 GET /attachments/url 请求，为已存在的对象重新签发下载链接。
func (h *UploadHandler) PresignURL(c *gin.Context) {
	objectKey := c.Query("key")
	if objectKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "查询参数 key 不能为空"})
		return
	}

	url, err := storage.GetPresignedURL(h.minioCfg.BucketName, objectKey, presignExpiry)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to sign attachment url"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    gin.H{"url": url},
	})
}
