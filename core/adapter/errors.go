package adapter

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// FailureKind 上游失败分类
type FailureKind string

const (
	KindInvalidCredential FailureKind = "invalid_credential"
	KindNotEntitled       FailureKind = "not_entitled"
	KindQuotaExceeded     FailureKind = "quota_exceeded"
	KindTransient         FailureKind = "transient_error"
)

var (
	ErrEmptyKey        = errors.New("api key is empty")
	ErrMalformedKey    = errors.New("api key is malformed")
	ErrEmptyModel      = errors.New("model name is empty")
	ErrUnknownProvider = errors.New("unknown provider")
)

// ProviderError 上游返回的标准化错误
type ProviderError struct {
	Provider   string
	Model      string
	Kind       FailureKind
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("[%s/%s] %s (status=%d, kind=%s)", e.Provider, e.Model, e.Message, e.StatusCode, e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s/%s] %s: %s (kind=%s)", e.Provider, e.Model, e.Message, redactedCause(e.Err), e.Kind)
	}
	return fmt.Sprintf("[%s/%s] %s (kind=%s)", e.Provider, e.Model, e.Message, e.Kind)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// redactedCause 去掉 url.Error 中的 query 和 userinfo，上游 URL 可能携带凭证
func redactedCause(err error) string {
	var ue *url.Error
	if !errors.As(err, &ue) {
		return err.Error()
	}
	u, perr := url.Parse(ue.URL)
	if perr != nil {
		return fmt.Sprintf("%s request failed: %v", ue.Op, ue.Err)
	}
	u.RawQuery = ""
	u.User = nil
	return fmt.Sprintf("%s %q: %v", ue.Op, u.String(), ue.Err)
}

// KindOf extracts the failure kind of err. Errors that did not come from a
// provider are treated as transient.
func KindOf(err error) FailureKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindTransient
}

// IsCallerCancellation reports whether err is the caller giving up rather than
// the provider failing.
func IsCallerCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}

// ClassifyStatus 根据 HTTP 状态码和错误原因判断失败类型
func ClassifyStatus(statusCode int, reason string) FailureKind {
	r := strings.ToLower(reason)

	switch {
	case strings.Contains(r, "api_key_invalid"),
		strings.Contains(r, "api key not valid"),
		strings.Contains(r, "invalid_api_key"),
		strings.Contains(r, "incorrect api key"):
		return KindInvalidCredential
	case strings.Contains(r, "resource_exhausted"),
		strings.Contains(r, "insufficient_quota"),
		strings.Contains(r, "quota"):
		return KindQuotaExceeded
	}

	switch {
	case statusCode == 401:
		return KindInvalidCredential
	case statusCode == 429:
		return KindQuotaExceeded
	case statusCode == 403, statusCode == 404, statusCode == 400:
		return KindNotEntitled
	case statusCode == 408, statusCode == 409:
		return KindTransient
	case statusCode >= 500:
		return KindTransient
	case statusCode >= 400:
		return KindNotEntitled
	default:
		return KindTransient
	}
}
