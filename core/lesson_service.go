package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"lessonlift/core/adapter"
	"lessonlift/core/lesson"
	"lessonlift/models"
)

// historyLimit 历史列表返回的最新教案数
const historyLimit = 20

// ProgressCallback 生成过程中的阶段通知：quota / select / generate / format / done
type ProgressCallback func(stage, message string)

// GenerationOptions 生成请求的参数
type GenerationOptions struct {
	// MaxReselections 一次生成中 handle 失效后最多重新选择的次数
	MaxReselections int
	GenerateTimeout time.Duration
	MaxTokens       int
}

// LessonService 教案生成与管理
type LessonService struct {
	db        *gorm.DB
	logger    *logrus.Logger
	providers SelectorSource
	usage     *UsageTracker
	history   *HistoryCache
	opts      GenerationOptions
}

// NewLessonService 构造函数强制要求依赖注入
func NewLessonService(
	db *gorm.DB,
	logger *logrus.Logger,
	providers SelectorSource,
	usage *UsageTracker,
	history *HistoryCache,
	opts GenerationOptions,
) *LessonService {
	if opts.MaxReselections < 0 {
		opts.MaxReselections = 0
	}
	return &LessonService{
		db:        db,
		logger:    logger,
		providers: providers,
		usage:     usage,
		history:   history,
		opts:      opts,
	}
}

// ValidateLessonRequest 去除空白并补全默认课时
func ValidateLessonRequest(req *models.LessonRequest) error {
	req.YearGroup = strings.TrimSpace(req.YearGroup)
	req.AbilityLevel = strings.TrimSpace(req.AbilityLevel)
	req.Subject = strings.TrimSpace(req.Subject)
	req.Topic = strings.TrimSpace(req.Topic)
	req.LearningObjective = strings.TrimSpace(req.LearningObjective)
	req.SenEalNotes = strings.TrimSpace(req.SenEalNotes)
	req.RegenerationInstruction = strings.TrimSpace(req.RegenerationInstruction)

	var missing []string
	if req.YearGroup == "" {
		missing = append(missing, "yearGroup")
	}
	if req.AbilityLevel == "" {
		missing = append(missing, "abilityLevel")
	}
	if req.Subject == "" {
		missing = append(missing, "subject")
	}
	if req.Topic == "" {
		missing = append(missing, "topic")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidRequest, strings.Join(missing, ", "))
	}

	switch req.LessonDuration {
	case 0:
		req.LessonDuration = 60
	case 30, 45, 60:
	default:
		return fmt.Errorf("%w: lessonDuration must be 30, 45 or 60", ErrInvalidRequest)
	}
	return nil
}

func notify(progress ProgressCallback, stage, message string) {
	if progress != nil {
		progress(stage, message)
	}
}

// generateText 通过当前 handle 生成文本；handle 失效时重新选择，最多 MaxReselections 次
// 用完后返回 NoProviderAvailableError，Attempts 为每次失效的 ProviderInvalidatedError
func (s *LessonService) generateText(ctx context.Context, req adapter.GenerateRequest) (string, string, error) {
	sel := s.providers.Selector()

	var failures []error
	for try := 0; try <= s.opts.MaxReselections; try++ {
		h, err := sel.Select(ctx)
		if err != nil {
			return "", "", err
		}

		gctx, cancel := ctx, context.CancelFunc(func() {})
		if s.opts.GenerateTimeout > 0 {
			gctx, cancel = context.WithTimeout(ctx, s.opts.GenerateTimeout)
		}
		start := time.Now()
		text, err := h.Generate(gctx, req)
		cancel()

		if err == nil {
			sel.RecordGeneration(h, nil, time.Since(start))
			return text, h.Model(), nil
		}
		// 调用方取消不是上游的问题，不使 handle 失效
		if ctx.Err() != nil {
			return "", "", ctx.Err()
		}
		sel.RecordGeneration(h, err, time.Since(start))
		failures = append(failures, sel.Invalidate(h, err))
		s.logger.Warnf("🔄 Generation failed on %s (try %d/%d): %v", h.Model(), try+1, s.opts.MaxReselections+1, err)
	}
	// 重选次数用完与搜索失败同样是终止状态
	s.logger.Errorf("💀 Generation failed after %d reselections", s.opts.MaxReselections)
	return "", "", &NoProviderAvailableError{Attempts: failures}
}

// Generate 检查配额后生成教案，字数不足时最多重试 lesson.MaxAttempts 次
func (s *LessonService) Generate(ctx context.Context, user *models.User, req models.LessonRequest, progress ProgressCallback) (*models.GenerateLessonResponse, error) {
	if err := ValidateLessonRequest(&req); err != nil {
		return nil, err
	}

	notify(progress, "quota", "Checking your lesson allowance")
	check, err := s.usage.CheckAndIncrement(user.ID)
	if err != nil {
		return nil, fmt.Errorf("check usage: %w", err)
	}
	if !check.Allowed {
		s.logger.Infof("🚫 User %s reached %s limit", user.PublicID, check.LimitType)
		return nil, &LimitError{Check: check}
	}

	notify(progress, "select", "Connecting to the lesson writer")
	minWords := lesson.MinWordCount(req.LessonDuration)
	temperature := lesson.Temperature

	var content, model string
	for attempt := 1; attempt <= lesson.MaxAttempts; attempt++ {
		notify(progress, "generate", fmt.Sprintf("Writing your lesson (attempt %d/%d)", attempt, lesson.MaxAttempts))

		text, m, err := s.generateText(ctx, adapter.GenerateRequest{
			SystemPrompt: lesson.SystemPrompt,
			Prompt:       lesson.BuildLessonPrompt(req, attempt > 1),
			Temperature:  &temperature,
			MaxTokens:    s.opts.MaxTokens,
		})
		if err != nil {
			return nil, err
		}
		content, model = lesson.StripCodeFences(text), m

		words := lesson.CountWords(content)
		if words >= minWords {
			break
		}
		s.logger.Infof("📏 Lesson too short: %d/%d words (attempt %d/%d)", words, minWords, attempt, lesson.MaxAttempts)
	}

	notify(progress, "format", "Formatting your lesson")
	htmlBody, err := lesson.RenderHTML(content, req)
	if err != nil {
		return nil, err
	}

	record := &models.Lesson{
		PublicID:                uuid.NewString(),
		UserID:                  user.ID,
		YearGroup:               req.YearGroup,
		AbilityLevel:            req.AbilityLevel,
		LessonDuration:          req.LessonDuration,
		Subject:                 req.Subject,
		Topic:                   req.Topic,
		LearningObjective:       req.LearningObjective,
		SenEalNotes:             req.SenEalNotes,
		RegenerationInstruction: req.RegenerationInstruction,
		Content:                 content,
		HTML:                    htmlBody,
		Text:                    lesson.RenderText(content, req),
		ModelName:               model,
		WordCount:               lesson.CountWords(content),
	}
	if err := s.db.Create(record).Error; err != nil {
		return nil, fmt.Errorf("save lesson: %w", err)
	}
	s.history.Invalidate(user.ID)

	if missing := lesson.MissingSections(content); len(missing) > 0 {
		s.logger.Warnf("⚠️ Lesson %s is missing sections: %s", record.PublicID, strings.Join(missing, ", "))
	}
	s.logger.Infof("📚 Lesson %s generated with %s (%d words)", record.PublicID, model, record.WordCount)
	notify(progress, "done", "Lesson ready")

	view, err := s.view(record, true)
	if err != nil {
		return nil, err
	}
	return &models.GenerateLessonResponse{Success: true, Lesson: view, Usage: check}, nil
}

func requestOf(l *models.Lesson) models.LessonRequest {
	return models.LessonRequest{
		YearGroup:               l.YearGroup,
		AbilityLevel:            l.AbilityLevel,
		LessonDuration:          l.LessonDuration,
		Subject:                 l.Subject,
		Topic:                   l.Topic,
		LearningObjective:       l.LearningObjective,
		SenEalNotes:             l.SenEalNotes,
		RegenerationInstruction: l.RegenerationInstruction,
	}
}

// currentContent 应用改写后的小节和全文
func currentContent(l *models.Lesson) ([]models.Section, string) {
	sections := lesson.SplitSections(l.Content)
	if len(l.Refinements) == 0 {
		return sections, l.Content
	}
	refined := make(map[string]string, len(l.Refinements))
	for _, r := range l.Refinements {
		refined[r.SectionKey] = r.Content
	}
	sections = lesson.ApplyRefinements(sections, refined)
	return sections, lesson.JoinSections(sections)
}

func (s *LessonService) view(l *models.Lesson, withSections bool) (*models.LessonView, error) {
	v := &models.LessonView{
		ID:                l.PublicID,
		YearGroup:         l.YearGroup,
		AbilityLevel:      l.AbilityLevel,
		LessonDuration:    l.LessonDuration,
		Subject:           l.Subject,
		Topic:             l.Topic,
		LearningObjective: l.LearningObjective,
		SenEalNotes:       l.SenEalNotes,
		HTML:              l.HTML,
		Text:              l.Text,
		Model:             l.ModelName,
		WordCount:         l.WordCount,
		CreatedAt:         l.CreatedAt,
	}
	if !withSections {
		return v, nil
	}

	sections, content := currentContent(l)
	v.Sections = sections
	if len(l.Refinements) > 0 {
		req := requestOf(l)
		body, err := lesson.RenderHTML(content, req)
		if err != nil {
			return nil, err
		}
		v.HTML = body
		v.Text = lesson.RenderText(content, req)
		v.WordCount = lesson.CountWords(content)
	}
	return v, nil
}

func (s *LessonService) load(user *models.User, publicID string) (*models.Lesson, error) {
	var l models.Lesson
	err := s.db.Preload("Refinements").
		Where("public_id = ? AND user_id = ?", publicID, user.ID).
		First(&l).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLessonNotFound
		}
		return nil, err
	}
	return &l, nil
}

// GetLesson 返回应用了改写结果的教案
func (s *LessonService) GetLesson(user *models.User, publicID string) (*models.LessonView, error) {
	l, err := s.load(user, publicID)
	if err != nil {
		return nil, err
	}
	return s.view(l, true)
}

// History 最新的 20 个教案，结果按用户缓存
func (s *LessonService) History(user *models.User) ([]models.LessonView, error) {
	if views, ok := s.history.Get(user.ID); ok {
		return views, nil
	}

	var lessons []models.Lesson
	if err := s.db.Where("user_id = ?", user.ID).Order("id desc").Limit(historyLimit).Find(&lessons).Error; err != nil {
		return nil, err
	}
	views := make([]models.LessonView, 0, len(lessons))
	for i := range lessons {
		v, _ := s.view(&lessons[i], false)
		views = append(views, *v)
	}
	s.history.Set(user.ID, views)
	return views, nil
}

func (s *LessonService) Delete(user *models.User, publicID string) error {
	l, err := s.load(user, publicID)
	if err != nil {
		return err
	}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("lesson_id = ?", l.ID).Delete(&models.LessonRefinement{}).Error; err != nil {
			return err
		}
		return tx.Delete(l).Error
	})
	if err != nil {
		return fmt.Errorf("delete lesson: %w", err)
	}
	s.history.Invalidate(user.ID)
	return nil
}

func findSection(sections []models.Section, key string) (models.Section, bool) {
	for _, sec := range sections {
		if sec.Key == key {
			return sec, true
		}
	}
	return models.Section{}, false
}

// Refine 改写一个小节 (enhance / simplify)，以当前内容（可能已改写过）为基础
func (s *LessonService) Refine(ctx context.Context, user *models.User, publicID, sectionKey, mode string) (*models.Section, error) {
	if mode != lesson.ModeEnhance && mode != lesson.ModeSimplify {
		return nil, fmt.Errorf("%w: mode must be enhance or simplify", ErrInvalidRequest)
	}
	l, err := s.load(user, publicID)
	if err != nil {
		return nil, err
	}
	sections, _ := currentContent(l)
	sec, ok := findSection(sections, sectionKey)
	if !ok {
		return nil, ErrSectionNotFound
	}

	prompt, err := lesson.BuildRefinePrompt(requestOf(l), sec, mode)
	if err != nil {
		return nil, err
	}
	temperature := lesson.Temperature
	text, model, err := s.generateText(ctx, adapter.GenerateRequest{
		SystemPrompt: lesson.SystemPrompt,
		Prompt:       prompt,
		Temperature:  &temperature,
		MaxTokens:    s.opts.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	refinement := models.LessonRefinement{
		LessonID:   l.ID,
		SectionKey: sectionKey,
		Mode:       mode,
		Content:    lesson.StripCodeFences(text),
	}
	err = s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "lesson_id"}, {Name: "section_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"mode", "content", "updated_at"}),
	}).Create(&refinement).Error
	if err != nil {
		return nil, fmt.Errorf("save refinement: %w", err)
	}
	s.logger.Infof("✨ Lesson %s section %s refined (%s) with %s", publicID, sectionKey, mode, model)

	sec.Content = refinement.Content
	sec.Refined = true
	return &sec, nil
}

// ResetSection 删除改写结果，返回原始小节内容
func (s *LessonService) ResetSection(user *models.User, publicID, sectionKey string) (*models.Section, error) {
	l, err := s.load(user, publicID)
	if err != nil {
		return nil, err
	}
	sec, ok := findSection(lesson.SplitSections(l.Content), sectionKey)
	if !ok {
		return nil, ErrSectionNotFound
	}
	err = s.db.Unscoped().
		Where("lesson_id = ? AND section_key = ?", l.ID, sectionKey).
		Delete(&models.LessonRefinement{}).Error
	if err != nil {
		return nil, err
	}
	return &sec, nil
}

// Export 按计划允许的格式导出
func (s *LessonService) Export(user *models.User, publicID, format string) (*lesson.Export, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = "html"
	}
	if !s.usage.Policy().CanExport(user.Plan, format) {
		return nil, fmt.Errorf("%w: %s (allowed: %s)", ErrFormatNotInPlan, format,
			strings.Join(s.usage.Policy().Formats(user.Plan), ", "))
	}
	l, err := s.load(user, publicID)
	if err != nil {
		return nil, err
	}
	_, content := currentContent(l)
	return lesson.Render(format, content, requestOf(l))
}

func (s *LessonService) Usage(user *models.User) (*models.LimitCheck, error) {
	return s.usage.Usage(user.ID)
}

// ExportFormats 计划允许的导出格式
func (s *LessonService) ExportFormats(plan models.Plan) []string {
	return s.usage.Policy().Formats(plan)
}
