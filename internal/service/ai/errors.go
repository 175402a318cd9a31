package ai

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrGenerationTimeout marks an attempt that exceeded the per-call deadline.
	ErrGenerationTimeout = errors.New("generation timed out")
	// ErrEmptyResponse is returned when the backend answers with no text.
	ErrEmptyResponse = errors.New("empty model response")
	// ErrUnavailable means no chat model is configured.
	ErrUnavailable = errors.New("text generation unavailable")
)

// GenerationError 表示一次生成调用最终失败。Transient 为 true 时调用方可以稍后重试。
type GenerationError struct {
	Template  string
	Attempts  int
	Transient bool
	Err       error
}

func (e *GenerationError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("generation %q failed (%s, %d attempt(s)): %v", e.Template, kind, e.Attempts, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a GenerationError worth retrying later.
func IsTransient(err error) bool {
	var genErr *GenerationError
	return errors.As(err, &genErr) && genErr.Transient
}

var permanentMarkers = []string{"401", "403", "unauthorized", "forbidden", "invalid api key", "permission denied", "invalid_argument", "not found"}

// classify 根据错误文本判断是否为不可重试的错误（鉴权、参数错误等）。
func classify(err error) (transient bool) {
	if errors.Is(err, ErrGenerationTimeout) || errors.Is(err, ErrEmptyResponse) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range permanentMarkers {
		if strings.Contains(msg, marker) {
			return false
		}
	}
	return true
}
