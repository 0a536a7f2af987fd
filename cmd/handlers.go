package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"lessonlift/core"
	"lessonlift/models"
)

const serviceName = "LessonLift"

// App 所有 handler 共享的依赖
type App struct {
	db       *gorm.DB
	log      *logrus.Logger
	lessons  *core.LessonService
	users    *core.UserStore
	registry *core.ProviderRegistry
	provider string
}

// parseAndValidateID 解析并验证字符串ID为uint
func parseAndValidateID(idStr string, paramName string) (uint, error) {
	if idStr == "" {
		return 0, fmt.Errorf("missing %s parameter", paramName)
	}

	id, err := strconv.ParseUint(idStr, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: must be a number", paramName)
	}

	return uint(id), nil
}

func newErrorResponse(message, errType string) models.ErrorResponse {
	return models.ErrorResponse{Error: models.ErrorDetail{Message: message, Type: errType}}
}

// classifyError 把业务错误映射为 HTTP 状态码和错误详情
func classifyError(err error) (int, models.ErrorDetail) {
	var limitErr *core.LimitError
	var invalidated *core.ProviderInvalidatedError

	switch {
	case errors.As(err, &limitErr):
		return 429, models.ErrorDetail{Message: limitErr.Error(), Type: "limit_reached", Limit: limitErr.Check}
	case errors.Is(err, core.ErrInvalidRequest),
		errors.Is(err, core.ErrEmailTaken),
		errors.Is(err, core.ErrEncryptionDisabled):
		return 400, models.ErrorDetail{Message: err.Error(), Type: "invalid_request_error"}
	case errors.Is(err, core.ErrLessonNotFound),
		errors.Is(err, core.ErrSectionNotFound),
		errors.Is(err, core.ErrUserNotFound),
		errors.Is(err, core.ErrCredentialNotFound):
		return 404, models.ErrorDetail{Message: err.Error(), Type: "not_found_error"}
	case errors.Is(err, core.ErrFormatNotInPlan):
		return 403, models.ErrorDetail{Message: err.Error(), Type: "permission_error"}
	case errors.Is(err, core.ErrNoProviderAvailable):
		return 503, models.ErrorDetail{Message: "Lesson generation is temporarily unavailable. Please try again later.", Type: "service_unavailable"}
	case errors.As(err, &invalidated):
		return 502, models.ErrorDetail{Message: "The lesson writer failed to respond. Please try again.", Type: "api_error"}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return 408, models.ErrorDetail{Message: "request cancelled", Type: "timeout_error"}
	}
	return 500, models.ErrorDetail{Message: "internal server error", Type: "server_error"}
}

func (a *App) fail(c *gin.Context, err error) {
	status, detail := classifyError(err)
	if status >= 500 {
		a.log.WithError(err).WithField("path", c.Request.URL.Path).Error("Request failed")
	}
	c.JSON(status, models.ErrorResponse{Error: detail})
}

// handleRoot 处理根路径请求
func handleRoot(a *App) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(200, gin.H{
			"name":     serviceName,
			"provider": a.provider,
			"endpoints": gin.H{
				"lessons":   "/v1/lessons",
				"usage":     "/v1/usage",
				"websocket": "/v1/ws/lessons",
				"health":    "/health",
			},
			"timestamp": time.Now().Unix(),
		})
	}
}

// handleHealth 处理健康检查
func handleHealth(a *App) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap := a.registry.Selector().Snapshot()
		c.JSON(200, gin.H{
			"status":          "healthy",
			"service":         serviceName,
			"credentials":     snap.Credentials,
			"provider_active": snap.Active,
			"timestamp":       time.Now().Unix(),
		})
	}
}

// handleGenerateLesson POST /v1/lessons
func handleGenerateLesson(a *App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.LessonRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(400, newErrorResponse("Invalid request: "+err.Error(), "invalid_request_error"))
			return
		}
		resp, err := a.lessons.Generate(c.Request.Context(), currentUser(c), req, nil)
		if err != nil {
			a.fail(c, err)
			return
		}
		c.JSON(200, resp)
	}
}

// handleListLessons GET /v1/lessons
func handleListLessons(a *App) gin.HandlerFunc {
	return func(c *gin.Context) {
		views, err := a.lessons.History(currentUser(c))
		if err != nil {
			a.fail(c, err)
			return
		}
		c.JSON(200, gin.H{"lessons": views, "total": len(views)})
	}
}

func handleGetLesson(a *App) gin.HandlerFunc {
	return func(c *gin.Context) {
		view, err := a.lessons.GetLesson(currentUser(c), c.Param("id"))
		if err != nil {
			a.fail(c, err)
			return
		}
		c.JSON(200, view)
	}
}

func handleDeleteLesson(a *App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := a.lessons.Delete(currentUser(c), c.Param("id")); err != nil {
			a.fail(c, err)
			return
		}
		c.JSON(200, gin.H{"message": "Lesson deleted successfully"})
	}
}

// handleRefineSection POST /v1/lessons/:id/sections/:section/refine
func handleRefineSection(a *App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.RefineRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(400, newErrorResponse("Invalid request: "+err.Error(), "invalid_request_error"))
			return
		}
		sec, err := a.lessons.Refine(c.Request.Context(), currentUser(c), c.Param("id"), c.Param("section"), req.Mode)
		if err != nil {
			a.fail(c, err)
			return
		}
		c.JSON(200, gin.H{"success": true, "section": sec})
	}
}

// handleResetSection DELETE /v1/lessons/:id/sections/:section/refine
func handleResetSection(a *App) gin.HandlerFunc {
	return func(c *gin.Context) {
		sec, err := a.lessons.ResetSection(currentUser(c), c.Param("id"), c.Param("section"))
		if err != nil {
			a.fail(c, err)
			return
		}
		c.JSON(200, gin.H{"success": true, "section": sec})
	}
}

// handleExportLesson GET /v1/lessons/:id/export?format=
func handleExportLesson(a *App) gin.HandlerFunc {
	return func(c *gin.Context) {
		exp, err := a.lessons.Export(currentUser(c), c.Param("id"), c.DefaultQuery("format", "txt"))
		if err != nil {
			a.fail(c, err)
			return
		}
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, exp.Filename))
		c.Data(200, exp.ContentType, exp.Body)
	}
}

// handleUsage GET /v1/usage
func handleUsage(a *App) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := currentUser(c)
		check, err := a.lessons.Usage(user)
		if err != nil {
			a.fail(c, err)
			return
		}
		c.JSON(200, gin.H{
			"usage":         check,
			"exportFormats": a.lessons.ExportFormats(user.Plan),
		})
	}
}

// userView 管理接口返回的用户信息，创建时附带访问令牌
type userView struct {
	models.User
	Token string `json:"token,omitempty"`
}

func handleCreateUser(a *App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.CreateUserRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(400, newErrorResponse("Invalid request: "+err.Error(), "invalid_request_error"))
			return
		}
		user, err := a.users.Create(req.Email, req.Plan)
		if err != nil {
			a.fail(c, err)
			return
		}
		a.log.Infof("👤 Created user %s (plan: %s)", user.Email, user.Plan)
		c.JSON(201, userView{User: *user, Token: user.Token})
	}
}

func handleListUsers(a *App) gin.HandlerFunc {
	return func(c *gin.Context) {
		users, err := a.users.List()
		if err != nil {
			a.fail(c, err)
			return
		}
		c.JSON(200, gin.H{"users": users, "total": len(users)})
	}
}

// handleUpdatePlan PUT /admin/users/:id/plan
func handleUpdatePlan(a *App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.UpdatePlanRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(400, newErrorResponse("Invalid request: "+err.Error(), "invalid_request_error"))
			return
		}
		user, err := a.users.UpdatePlan(c.Param("id"), req.Plan)
		if err != nil {
			a.fail(c, err)
			return
		}
		c.JSON(200, user)
	}
}

// handleCreateCredential 录入上游 Key 并立即重建凭证池
func handleCreateCredential(a *App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.CreateCredentialRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(400, newErrorResponse("Invalid request: "+err.Error(), "invalid_request_error"))
			return
		}
		cred, err := a.registry.AddCredential(req.Name, req.Key)
		if err != nil {
			a.fail(c, err)
			return
		}
		if err := a.registry.Refresh(); err != nil {
			a.fail(c, err)
			return
		}
		c.JSON(201, gin.H{
			"id":      cred.ID,
			"name":    cred.Name,
			"message": "Credential stored, provider pool reloaded",
		})
	}
}

func handleListCredentials(a *App) gin.HandlerFunc {
	return func(c *gin.Context) {
		views, err := a.registry.ListCredentials()
		if err != nil {
			a.fail(c, err)
			return
		}
		c.JSON(200, gin.H{"credentials": views, "total": len(views)})
	}
}

func handleDeleteCredential(a *App) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := parseAndValidateID(c.Param("id"), "id")
		if err != nil {
			c.JSON(400, newErrorResponse(err.Error(), "invalid_request_error"))
			return
		}
		if err := a.registry.DeleteCredential(id); err != nil {
			a.fail(c, err)
			return
		}
		if err := a.registry.Refresh(); err != nil {
			a.fail(c, err)
			return
		}
		c.JSON(200, gin.H{"message": "Credential deleted, provider pool reloaded"})
	}
}

// handleReload 重新读取凭证并重建选择器
func handleReload(a *App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := a.registry.Refresh(); err != nil {
			a.fail(c, err)
			return
		}
		c.JSON(200, gin.H{
			"message":     "Provider pool reloaded",
			"credentials": a.registry.Pool().Count(),
		})
	}
}

func handleProviderSnapshot(a *App) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(200, a.registry.Selector().Snapshot())
	}
}

// handleInvalidateProvider 手动让当前 handle 失效，下一次请求会重新搜索
func handleInvalidateProvider(a *App) gin.HandlerFunc {
	return func(c *gin.Context) {
		sel := a.registry.Selector()
		h := sel.Active()
		if h == nil {
			c.JSON(200, gin.H{"message": "No active provider", "invalidated": false})
			return
		}
		_ = sel.Invalidate(h, errors.New("invalidated by administrator"))
		c.JSON(200, gin.H{
			"message":     "Provider invalidated",
			"invalidated": true,
			"snapshot":    sel.Snapshot(),
		})
	}
}

// handleStats GET /admin/stats
func handleStats(a *App) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := core.ListProviderStats(a.db)
		if err != nil {
			a.fail(c, err)
			return
		}
		recent, err := core.ListRecentAttempts(a.db, 50)
		if err != nil {
			a.fail(c, err)
			return
		}
		c.JSON(200, gin.H{
			"stats":    stats,
			"recent":   recent,
			"selector": a.registry.Selector().Snapshot(),
		})
	}
}
