package core

import (
	"errors"
	"fmt"
	"strings"

	"lessonlift/core/adapter"
	"lessonlift/models"
)

var (
	// ErrNoProviderAvailable every (credential, model) combination failed.
	ErrNoProviderAvailable = errors.New("no usable text-generation provider")

	ErrLessonNotFound  = errors.New("lesson not found")
	ErrSectionNotFound = errors.New("section not found in lesson")
	ErrInvalidRequest  = errors.New("invalid lesson request")
	ErrFormatNotInPlan = errors.New("export format not available on this plan")
	ErrLimitReached    = errors.New("lesson limit reached")
)

// ConstructionError 无法为该 key 构造客户端（格式错误或被直接拒绝）
type ConstructionError struct {
	CredentialIndex int
	Model           string
	Err             error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("construct client for credential #%d model %s: %v", e.CredentialIndex, e.Model, e.Err)
}

func (e *ConstructionError) Unwrap() error { return e.Err }

// ProbeRejectedError key 合法但该模型不可用（配额、权限、下线）
type ProbeRejectedError struct {
	CredentialIndex int
	Model           string
	Kind            adapter.FailureKind
	Err             error
}

func (e *ProbeRejectedError) Error() string {
	return fmt.Sprintf("probe credential #%d model %s rejected (%s): %v", e.CredentialIndex, e.Model, e.Kind, e.Err)
}

func (e *ProbeRejectedError) Unwrap() error { return e.Err }

// NoProviderAvailableError carries every attempt made by the failed search.
type NoProviderAvailableError struct {
	Attempts []error
}

func (e *NoProviderAvailableError) Error() string {
	if len(e.Attempts) == 0 {
		return ErrNoProviderAvailable.Error() + ": nothing to try"
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, a.Error())
	}
	return fmt.Sprintf("%s after %d attempts: %s", ErrNoProviderAvailable, len(e.Attempts), strings.Join(parts, "; "))
}

func (e *NoProviderAvailableError) Is(target error) bool {
	return target == ErrNoProviderAvailable
}

func (e *NoProviderAvailableError) Unwrap() []error { return e.Attempts }

// ProviderInvalidatedError 已选中的 handle 在实际使用中失败
type ProviderInvalidatedError struct {
	CredentialIndex int
	Model           string
	Cause           error
}

func (e *ProviderInvalidatedError) Error() string {
	return fmt.Sprintf("provider credential #%d model %s invalidated: %v", e.CredentialIndex, e.Model, e.Cause)
}

func (e *ProviderInvalidatedError) Unwrap() error { return e.Cause }

// LimitError 用户达到计划限制，Check 中带有详细计数
type LimitError struct {
	Check *models.LimitCheck
}

func (e *LimitError) Error() string {
	if e.Check != nil && e.Check.Message != "" {
		return e.Check.Message
	}
	return ErrLimitReached.Error()
}

func (e *LimitError) Is(target error) bool { return target == ErrLimitReached }
