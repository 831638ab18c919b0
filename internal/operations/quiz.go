package operations

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"letsquiz/server/internal/model"
	"letsquiz/server/internal/repository"
)

const defaultMaxTime = 60

// checkQuizMutable enforces the write rules shared by every quiz and question
// mutation: only the owner may touch a quiz, and never while players hold
// active sessions on it.
func checkQuizMutable(quiz model.Quiz, requesterID string) *Error {
	if quiz.OwnerID != requesterID {
		return &Error{Code: ErrNotOwner}
	}
	if quiz.ActiveSessions > 0 {
		return &Error{Code: ErrQuizLive}
	}
	return nil
}

// applyQuizPatch folds the supplied fields into the quiz, leaving absent
// fields untouched. Reports whether the title actually changed so the caller
// knows to re-run the uniqueness check.
func applyQuizPatch(quiz model.Quiz, patch model.QuizPatch) (model.Quiz, bool, *Error) {
	titleChanged := false
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return quiz, false, &Error{Code: ErrEmptyTitle}
		}
		if title != quiz.Title {
			quiz.Title = title
			titleChanged = true
		}
	}
	if patch.Description != nil {
		quiz.Description = *patch.Description
	}
	if patch.MaxTime != nil {
		if *patch.MaxTime <= 0 {
			return quiz, false, &Error{Code: ErrInvalidMaxTime}
		}
		quiz.MaxTime = *patch.MaxTime
	}
	return quiz, titleChanged, nil
}

func ListQuizzes(ctx context.Context, store *repository.Store, requesterID string, mineOnly bool) ([]model.QuizSummary, error) {
	ownerID := ""
	if mineOnly {
		ownerID = requesterID
	}
	summaries, err := store.ListQuizzes(ctx, ownerID)
	if err != nil {
		return nil, &Error{Code: ErrServerError}
	}
	return summaries, nil
}

func CreateQuiz(ctx context.Context, store *repository.Store, ownerID, title, description string, maxTime *int) (model.Quiz, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return model.Quiz{}, &Error{Code: ErrEmptyTitle}
	}

	quiz := model.Quiz{
		ID:          uuid.NewString(),
		Title:       title,
		Description: description,
		MaxTime:     defaultMaxTime,
		OwnerID:     ownerID,
		CreatedAt:   time.Now().UTC(),
	}
	if maxTime != nil {
		if *maxTime <= 0 {
			return model.Quiz{}, &Error{Code: ErrInvalidMaxTime}
		}
		quiz.MaxTime = *maxTime
	}

	// Advisory pre-check for a friendly conflict before the insert; the
	// unique constraint on quizzes.title remains the source of truth.
	taken, err := store.TitleExists(ctx, title, quiz.ID)
	if err != nil {
		return model.Quiz{}, &Error{Code: ErrServerError}
	}
	if taken {
		return model.Quiz{}, &Error{Code: ErrTitleTaken}
	}

	if err := store.CreateQuiz(ctx, quiz); err != nil {
		if repository.IsUniqueViolation(err) {
			return model.Quiz{}, &Error{Code: ErrTitleTaken}
		}
		return model.Quiz{}, &Error{Code: ErrServerError}
	}
	return quiz, nil
}

func UpdateQuiz(ctx context.Context, store *repository.Store, requesterID, quizID string, patch model.QuizPatch) (model.Quiz, error) {
	if _, err := uuid.Parse(quizID); err != nil {
		return model.Quiz{}, &Error{Code: ErrQuizNotFound}
	}

	var updated model.Quiz
	err := store.WithTx(ctx, func(tx *repository.Store) error {
		quiz, err := tx.GetQuizForUpdate(ctx, quizID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return &Error{Code: ErrQuizNotFound}
			}
			return &Error{Code: ErrServerError}
		}
		if opErr := checkQuizMutable(quiz, requesterID); opErr != nil {
			return opErr
		}

		quiz, titleChanged, opErr := applyQuizPatch(quiz, patch)
		if opErr != nil {
			return opErr
		}
		if titleChanged {
			taken, err := tx.TitleExists(ctx, quiz.Title, quiz.ID)
			if err != nil {
				return &Error{Code: ErrServerError}
			}
			if taken {
				return &Error{Code: ErrTitleTaken}
			}
		}

		if err := tx.UpdateQuiz(ctx, quiz); err != nil {
			if repository.IsUniqueViolation(err) {
				return &Error{Code: ErrTitleTaken}
			}
			return &Error{Code: ErrServerError}
		}
		updated = quiz
		return nil
	})
	if err != nil {
		return model.Quiz{}, asOpError(err)
	}
	return updated, nil
}

func DeleteQuiz(ctx context.Context, store *repository.Store, requesterID, quizID string) error {
	if _, err := uuid.Parse(quizID); err != nil {
		return &Error{Code: ErrQuizNotFound}
	}

	err := store.WithTx(ctx, func(tx *repository.Store) error {
		quiz, err := tx.GetQuizForUpdate(ctx, quizID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return &Error{Code: ErrQuizNotFound}
			}
			return &Error{Code: ErrServerError}
		}
		if opErr := checkQuizMutable(quiz, requesterID); opErr != nil {
			return opErr
		}
		// Questions cascade with the quiz row.
		if err := tx.DeleteQuiz(ctx, quizID); err != nil {
			return &Error{Code: ErrServerError}
		}
		return nil
	})
	if err != nil {
		return asOpError(err)
	}
	return nil
}

// StartSession has no ownership check: any authenticated player may join any
// quiz, which is what bumps the counter.
func StartSession(ctx context.Context, store *repository.Store, quizID string) (int, error) {
	if _, err := uuid.Parse(quizID); err != nil {
		return 0, &Error{Code: ErrQuizNotFound}
	}
	count, err := store.IncrementSessions(ctx, quizID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, &Error{Code: ErrQuizNotFound}
		}
		return 0, &Error{Code: ErrServerError}
	}
	return count, nil
}

func EndSession(ctx context.Context, store *repository.Store, quizID string) (int, error) {
	if _, err := uuid.Parse(quizID); err != nil {
		return 0, &Error{Code: ErrQuizNotFound}
	}
	count, err := store.DecrementSessions(ctx, quizID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, &Error{Code: ErrQuizNotFound}
		}
		return 0, &Error{Code: ErrServerError}
	}
	return count, nil
}

func asOpError(err error) *Error {
	var opErr *Error
	if errors.As(err, &opErr) {
		return opErr
	}
	return &Error{Code: ErrServerError}
}
