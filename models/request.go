package models

import "time"

// LessonRequest 教案生成请求
type LessonRequest struct {
	YearGroup               string `json:"yearGroup" binding:"required"`
	AbilityLevel            string `json:"abilityLevel" binding:"required"`
	LessonDuration          int    `json:"lessonDuration"`
	Subject                 string `json:"subject" binding:"required"`
	Topic                   string `json:"topic" binding:"required"`
	LearningObjective       string `json:"learningObjective,omitempty"`
	SenEalNotes             string `json:"senEalNotes,omitempty"`
	RegenerationInstruction string `json:"regenerationInstruction,omitempty"`
}

// RefineRequest 小节改写请求
type RefineRequest struct {
	Mode string `json:"mode" binding:"required,oneof=enhance simplify"`
}

// CreateUserRequest 管理员创建用户
type CreateUserRequest struct {
	Email string `json:"email" binding:"required,email"`
	Plan  Plan   `json:"plan"`
}

// UpdatePlanRequest 修改用户计划
type UpdatePlanRequest struct {
	Plan Plan `json:"plan" binding:"required"`
}

// CreateCredentialRequest 管理员录入上游 Key
type CreateCredentialRequest struct {
	Name string `json:"name"`
	Key  string `json:"key" binding:"required"`
}

// LimitCheck 配额检查结果
type LimitCheck struct {
	Allowed          bool   `json:"allowed"`
	Message          string `json:"message,omitempty"`
	IsTrial          bool   `json:"isTrial"`
	Plan             Plan   `json:"plan"`
	LimitType        string `json:"limitType,omitempty"` // daily / monthly / trial
	ExpiredBy        string `json:"expiredBy,omitempty"` // time / lessons
	LessonsUsed      int    `json:"lessonsUsed,omitempty"`
	LessonsRemaining int    `json:"lessonsRemaining,omitempty"`
	DailyCount       int    `json:"dailyCount,omitempty"`
	DailyMax         int    `json:"dailyMax,omitempty"`
	MonthlyCount     int    `json:"monthlyCount,omitempty"`
	MonthlyMax       int    `json:"monthlyMax,omitempty"`
}

// Section 教案中按标题切分出的小节
type Section struct {
	Key     string `json:"key"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Refined bool   `json:"refined"`
}

// LessonView 返回给客户端的教案
type LessonView struct {
	ID                string    `json:"id"`
	YearGroup         string    `json:"yearGroup"`
	AbilityLevel      string    `json:"abilityLevel"`
	LessonDuration    int       `json:"lessonDuration"`
	Subject           string    `json:"subject"`
	Topic             string    `json:"topic"`
	LearningObjective string    `json:"learningObjective,omitempty"`
	SenEalNotes       string    `json:"senEalNotes,omitempty"`
	HTML              string    `json:"html"`
	Text              string    `json:"text"`
	Model             string    `json:"model"`
	WordCount         int       `json:"wordCount"`
	Sections          []Section `json:"sections,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
}

// GenerateLessonResponse 生成接口返回
type GenerateLessonResponse struct {
	Success bool        `json:"success"`
	Lesson  *LessonView `json:"lesson,omitempty"`
	Usage   *LimitCheck `json:"usage,omitempty"`
}

// ProgressEvent WebSocket 推送的进度事件
type ProgressEvent struct {
	Type    string      `json:"type"` // progress / result / error
	Stage   string      `json:"stage,omitempty"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail 错误详情
type ErrorDetail struct {
	Message string      `json:"message"`
	Type    string      `json:"type"`
	Limit   *LimitCheck `json:"limit,omitempty"`
}
