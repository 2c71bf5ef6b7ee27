package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"abada_sales/internal/apperr"

	"gorm.io/gorm"
)

var (
	ErrNotFound    = apperr.New(apperr.KindNotFound, "record not found")
	ErrDuplicate   = apperr.New(apperr.KindConflict, "duplicate record")
	ErrConflict    = apperr.New(apperr.KindConflict, "concurrent update lost the race")
	ErrUnavailable = apperr.New(apperr.KindUnavailable, "storage unavailable")
)

// classify 把 gorm / 驱动错误归到 not found / duplicate / conflict / unavailable。
func classify(err error) error {
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey), errorsLikeUnique(err):
		return fmt.Errorf("%w: %w", ErrDuplicate, err)
	case errorsLikeSerialization(err):
		return fmt.Errorf("%w: %w", ErrConflict, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	default:
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
}

// 驱动没有翻译成 gorm.ErrDuplicatedKey 时（lib/pq），按错误文本兜底。
func errorsLikeUnique(err error) bool {
	s := err.Error()
	return strings.Contains(s, "UNIQUE") || strings.Contains(s, "unique") || strings.Contains(s, "duplicate key")
}

func errorsLikeSerialization(err error) bool {
	s := err.Error()
	return strings.Contains(s, "database is locked") ||
		strings.Contains(s, "could not serialize") ||
		strings.Contains(s, "deadlock detected")
}
