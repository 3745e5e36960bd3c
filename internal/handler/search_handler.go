package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"lex-assist-go/internal/service"
	"lex-assist-go/pkg/log"
)

// SearchHandler 处理聊天历史归档的搜索请求。
type SearchHandler struct {
	searchService service.SearchService
}

// NewSearchHandler 创建一个新的 SearchHandler。
func NewSearchHandler(searchService service.SearchService) *SearchHandler {
	return &SearchHandler{searchService: searchService}
}

// Search 处理 GET /chats/search 请求，在当前用户的归档消息中做全文检索。
func (h *SearchHandler) Search(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "查询参数 q 不能为空"})
		return
	}

	topK := 10
	if v := c.Query("topK"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			topK = parsed
		}
	}

	user := currentUser(c)
	hits, err := h.searchService.SearchMessages(c.Request.Context(), query, topK, user.ID)
	if err != nil {
		log.Errorf("搜索归档消息失败: user=%d, error: %v", user.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to search messages"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    hits,
	})
}
