package services

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"trendaware-backend/internal/apperrors"
)

// Provider is a chat-completion backend able to answer in one piece or as an
// ordered stream of text fragments.
type Provider interface {
	Name() string
	Generate(ctx context.Context, p Prompt) (string, error)
	// Stream calls onChunk for every fragment in order. A non-nil error from
	// onChunk aborts the stream and is returned.
	Stream(ctx context.Context, p Prompt, onChunk func(string) error) error
}

// classifyProviderError converts throttling responses into a rate_limited
// error and leaves everything else wrapped as-is.
func classifyProviderError(provider string, err error) error {
	if err == nil {
		return nil
	}
	if apperrors.KindOf(err) != apperrors.KindUnexpected {
		return err
	}

	var gErr *googleapi.Error
	if errors.As(err, &gErr) && gErr.Code == http.StatusTooManyRequests {
		return apperrors.RateLimited(provider, parseRetryAfter(gErr.Header.Get("Retry-After")), err)
	}
	if status.Code(err) == codes.ResourceExhausted || llms.IsRateLimitError(err) {
		return apperrors.RateLimited(provider, 0, err)
	}

	// Clients that only surface the status as text.
	if throttledPattern.MatchString(err.Error()) {
		return apperrors.RateLimited(provider, 0, err)
	}
	return err
}

var throttledPattern = regexp.MustCompile(`(?i)\b(?:status(?: code)?:?|error)\s*429\b|\b429 too many requests\b|RESOURCE_EXHAUSTED|\brate limit(?:ed)?\b`)

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
