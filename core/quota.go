package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"lessonlift/models"
)

var ErrUserNotFound = errors.New("user not found")

// PlanLimit 付费计划的每日/每月上限和可导出格式
type PlanLimit struct {
	DailyMax   int
	MonthlyMax int
	Formats    []string
}

// QuotaPolicy 试用期与各计划限制
type QuotaPolicy struct {
	TrialLessons int
	TrialDays    int
	TrialFormats []string
	Plans        map[models.Plan]PlanLimit
}

// DefaultQuotaPolicy 试用 5 节 / 7 天；Starter 1/30，Standard 3/90，Pro 5/150
func DefaultQuotaPolicy() QuotaPolicy {
	return QuotaPolicy{
		TrialLessons: 5,
		TrialDays:    7,
		TrialFormats: []string{"txt", "html"},
		Plans: map[models.Plan]PlanLimit{
			models.PlanStarter:  {DailyMax: 1, MonthlyMax: 30, Formats: []string{"html"}},
			models.PlanStandard: {DailyMax: 3, MonthlyMax: 90, Formats: []string{"html", "md"}},
			models.PlanPro:      {DailyMax: 5, MonthlyMax: 150, Formats: []string{"html", "md", "txt"}},
		},
	}
}

// Formats 返回计划允许的导出格式
func (p QuotaPolicy) Formats(plan models.Plan) []string {
	if plan == models.PlanTrial {
		return p.TrialFormats
	}
	return p.Plans[plan].Formats
}

func (p QuotaPolicy) CanExport(plan models.Plan, format string) bool {
	format = strings.ToLower(format)
	for _, f := range p.Formats(plan) {
		if f == format {
			return true
		}
	}
	return false
}

// UsageTracker 在数据库中记录并检查生成次数
type UsageTracker struct {
	db     *gorm.DB
	policy QuotaPolicy
	now    func() time.Time
}

func NewUsageTracker(db *gorm.DB, policy QuotaPolicy) *UsageTracker {
	return &UsageTracker{db: db, policy: policy, now: time.Now}
}

func (u *UsageTracker) Policy() QuotaPolicy { return u.policy }

// CheckAndIncrement 在同一事务中检查限制并计数，不允许时不计数
func (u *UsageTracker) CheckAndIncrement(userID uint) (*models.LimitCheck, error) {
	var check *models.LimitCheck
	err := u.db.Transaction(func(tx *gorm.DB) error {
		var err error
		check, err = u.evaluate(tx, userID, true)
		return err
	})
	return check, err
}

// Usage 返回当前用量，不计数
func (u *UsageTracker) Usage(userID uint) (*models.LimitCheck, error) {
	return u.evaluate(u.db, userID, false)
}

func (u *UsageTracker) evaluate(tx *gorm.DB, userID uint, increment bool) (*models.LimitCheck, error) {
	var user models.User
	if err := tx.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	now := u.now()

	if user.Plan == models.PlanTrial || user.Plan == "" {
		return u.evaluateTrial(tx, &user, now, increment)
	}
	limit, ok := u.policy.Plans[user.Plan]
	if !ok {
		return nil, fmt.Errorf("unknown plan %q", user.Plan)
	}

	day := now.Format("2006-01-02")
	var daily models.UsageCounter
	if err := tx.Where("user_id = ? AND day = ?", user.ID, day).Limit(1).Find(&daily).Error; err != nil {
		return nil, err
	}
	var monthly int64
	if err := tx.Model(&models.UsageCounter{}).
		Where("user_id = ? AND day LIKE ?", user.ID, now.Format("2006-01")+"-%").
		Select("COALESCE(SUM(count), 0)").Scan(&monthly).Error; err != nil {
		return nil, err
	}

	check := &models.LimitCheck{
		Plan:         user.Plan,
		DailyCount:   daily.Count,
		DailyMax:     limit.DailyMax,
		MonthlyCount: int(monthly),
		MonthlyMax:   limit.MonthlyMax,
	}
	switch {
	case daily.Count >= limit.DailyMax:
		check.LimitType = "daily"
		check.Message = fmt.Sprintf("Daily limit of %d lessons reached for the %s plan. Try again tomorrow.", limit.DailyMax, user.Plan)
		return check, nil
	case int(monthly) >= limit.MonthlyMax:
		check.LimitType = "monthly"
		check.Message = fmt.Sprintf("Monthly limit of %d lessons reached for the %s plan.", limit.MonthlyMax, user.Plan)
		return check, nil
	}

	check.Allowed = true
	if !increment {
		return check, nil
	}

	if daily.ID == 0 {
		daily = models.UsageCounter{UserID: user.ID, Day: day, Count: 1}
		if err := tx.Create(&daily).Error; err != nil {
			return nil, err
		}
	} else if err := tx.Model(&daily).Update("count", gorm.Expr("count + 1")).Error; err != nil {
		return nil, err
	}
	if err := tx.Model(&user).Update("lessons_used", gorm.Expr("lessons_used + 1")).Error; err != nil {
		return nil, err
	}
	check.DailyCount++
	check.MonthlyCount++
	return check, nil
}

func (u *UsageTracker) evaluateTrial(tx *gorm.DB, user *models.User, now time.Time, increment bool) (*models.LimitCheck, error) {
	check := &models.LimitCheck{
		IsTrial:     true,
		Plan:        models.PlanTrial,
		LimitType:   "trial",
		LessonsUsed: user.LessonsUsed,
	}
	remaining := func() int {
		if r := u.policy.TrialLessons - check.LessonsUsed; r > 0 {
			return r
		}
		return 0
	}

	if user.TrialStartedAt != nil && now.After(user.TrialStartedAt.AddDate(0, 0, u.policy.TrialDays)) {
		check.ExpiredBy = "time"
		check.Message = fmt.Sprintf("Your %d-day free trial has ended. Choose a plan to keep generating lessons.", u.policy.TrialDays)
		return check, nil
	}
	if user.LessonsUsed >= u.policy.TrialLessons {
		check.ExpiredBy = "lessons"
		check.Message = fmt.Sprintf("You have used all %d free trial lessons. Choose a plan to keep generating lessons.", u.policy.TrialLessons)
		return check, nil
	}

	check.Allowed = true
	check.LimitType = ""
	if !increment {
		check.LessonsRemaining = remaining()
		return check, nil
	}

	updates := map[string]interface{}{"lessons_used": gorm.Expr("lessons_used + 1")}
	if user.TrialStartedAt == nil {
		updates["trial_started_at"] = now
	}
	if err := tx.Model(user).Updates(updates).Error; err != nil {
		return nil, err
	}
	check.LessonsUsed++
	check.LessonsRemaining = remaining()
	return check, nil
}
