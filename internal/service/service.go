package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	validation "github.com/go-ozzo/ozzo-validation"

	"github.com/sakif/geosocial/internal/apperror"
)

// maxIDAttempts bounds how often an insert is retried after another writer
// took the id computed from max+1.
const maxIDAttempts = 5

// validationError turns ozzo-validation output into an apperror. Only the
// first failing field (by name) is reported since a redirect carries a
// single message. Rules are declared with full-sentence messages.
func validationError(err error) error {
	if err == nil {
		return nil
	}

	var errs validation.Errors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return apperror.ValidationFailed("", err.Error())
	}

	fields := make([]string, 0, len(errs))
	for field := range errs {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	field := fields[0]
	return apperror.ValidationFailed(field, errs[field].Error())
}

// insertWithNextID runs insert with id = max+1, re-reading the maximum and
// retrying when the store reports the id as taken.
func insertWithNextID(
	ctx context.Context,
	logger *slog.Logger,
	maxID func(context.Context) (int64, error),
	insert func(ctx context.Context, id int64) error,
) error {
	for attempt := 1; ; attempt++ {
		last, err := maxID(ctx)
		if err != nil {
			return fmt.Errorf("reading last id: %w", err)
		}

		err = insert(ctx, last+1)
		if err == nil {
			return nil
		}
		if apperror.ConflictField(err) != "id" || attempt == maxIDAttempts {
			return err
		}
		logger.Warn("id taken, retrying", slog.Int64("id", last+1), slog.Int("attempt", attempt))
	}
}
