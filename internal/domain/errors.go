package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrTransientUpstream      = errors.New("transient upstream error")
	ErrInvalidCredential      = errors.New("invalid credential")
	ErrAllResourcesExhausted  = errors.New("all credentials and models exhausted")
	ErrNoCredentialsAvailable = errors.New("no credentials available")
	ErrSectionNotFound        = errors.New("section not found in document")
	ErrCancelled              = errors.New("request cancelled")

	ErrBusy               = errors.New("a request is already streaming for this session")
	ErrTerminalStage      = errors.New("stage has no next step")
	ErrReviewPending      = errors.New("section is waiting for review")
	ErrNotInReview        = errors.New("no section is ready for review")
	ErrFeedbackNotAllowed = errors.New("outline feedback is only accepted at the outline stage")
	ErrEmptyFeedback      = errors.New("feedback is empty")
	ErrSessionNotFound    = errors.New("session not found")
	ErrNothingToRetry     = errors.New("no failed action to retry")

	ErrCredentialExists  = errors.New("credential already exists")
	ErrCredentialInvalid = errors.New("credential is too short")
	ErrPoolFull          = errors.New("credential pool is full")
	ErrCredentialUnknown = errors.New("credential not found")
)

// ErrorKind classifies failures for user display and rotation decisions.
type ErrorKind string

const (
	KindTransient         ErrorKind = "transient_upstream"
	KindInvalidCredential ErrorKind = "invalid_credential"
	KindExhausted         ErrorKind = "all_resources_exhausted"
	KindNoCredentials     ErrorKind = "no_credentials"
	KindSectionNotFound   ErrorKind = "section_not_found"
	KindCancelled         ErrorKind = "cancelled"
	KindInvalidAction     ErrorKind = "invalid_action"
	KindInternal          ErrorKind = "internal"
)

// UpstreamError is a classified failure of one upstream call.
type UpstreamError struct {
	Kind       ErrorKind
	Model      string
	Credential string // masked
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Credential != "" {
		return fmt.Sprintf("%s (model %s, key %s): %v", e.Kind, e.Model, e.Credential, e.Err)
	}
	return fmt.Sprintf("%s (model %s): %v", e.Kind, e.Model, e.Err)
}

// Unwrap exposes both the kind sentinel and the cause.
func (e *UpstreamError) Unwrap() []error {
	return []error{e.Kind.sentinel(), e.Err}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindInvalidCredential:
		return ErrInvalidCredential
	case KindCancelled:
		return ErrCancelled
	default:
		return ErrTransientUpstream
	}
}

// ExhaustedError is returned when no credential/model combination succeeded.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	if e.Last == nil {
		return fmt.Sprintf("%v after %d attempts", ErrAllResourcesExhausted, e.Attempts)
	}
	return fmt.Sprintf("%v after %d attempts: %v", ErrAllResourcesExhausted, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() []error {
	if e.Last == nil {
		return []error{ErrAllResourcesExhausted}
	}
	return []error{ErrAllResourcesExhausted, e.Last}
}

// ErrorInfo is the user facing description of a failure.
type ErrorInfo struct {
	Kind        ErrorKind `json:"kind"`
	Message     string    `json:"message"`
	Remediation string    `json:"remediation"`
	Retryable   bool      `json:"retryable"`
}

// DescribeError maps an error to a category, message and suggested fix.
func DescribeError(err error) ErrorInfo {
	switch {
	case err == nil:
		return ErrorInfo{}
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return ErrorInfo{Kind: KindCancelled, Message: "Yêu cầu đã bị hủy.", Remediation: "Nhấn thử lại để tiếp tục bước đang dở.", Retryable: true}
	case errors.Is(err, ErrAllResourcesExhausted):
		if errors.Is(err, ErrNoCredentialsAvailable) {
			return ErrorInfo{Kind: KindNoCredentials, Message: "Không còn API key nào khả dụng.", Remediation: "Thêm API key mới hoặc kích hoạt lại key đã bị khóa.", Retryable: true}
		}
		return ErrorInfo{Kind: KindExhausted, Message: "Tất cả API key và model đều thất bại.", Remediation: "Thêm hoặc thay API key, chọn model khác rồi thử lại.", Retryable: true}
	case errors.Is(err, ErrNoCredentialsAvailable):
		return ErrorInfo{Kind: KindNoCredentials, Message: "Chưa có API key khả dụng.", Remediation: "Thêm API key trong phần cấu hình.", Retryable: true}
	case errors.Is(err, ErrInvalidCredential):
		return ErrorInfo{Kind: KindInvalidCredential, Message: "API key không hợp lệ.", Remediation: "Kiểm tra lại hoặc thay API key.", Retryable: true}
	case errors.Is(err, ErrTransientUpstream):
		return ErrorInfo{Kind: KindTransient, Message: "Máy chủ AI tạm thời quá tải hoặc giới hạn tốc độ.", Remediation: "Đợi một lát rồi thử lại.", Retryable: true}
	case errors.Is(err, ErrSectionNotFound):
		return ErrorInfo{Kind: KindSectionNotFound, Message: "Không tìm thấy nội dung giải pháp trong tài liệu.", Remediation: "Hãy yêu cầu viết lại giải pháp này.", Retryable: false}
	case errors.Is(err, ErrBusy), errors.Is(err, ErrTerminalStage), errors.Is(err, ErrReviewPending),
		errors.Is(err, ErrNotInReview), errors.Is(err, ErrFeedbackNotAllowed), errors.Is(err, ErrEmptyFeedback),
		errors.Is(err, ErrNothingToRetry):
		return ErrorInfo{Kind: KindInvalidAction, Message: err.Error(), Retryable: false}
	default:
		return ErrorInfo{Kind: KindInternal, Message: err.Error(), Remediation: "Thử lại sau.", Retryable: true}
	}
}
