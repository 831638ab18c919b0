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

// ListQuestions is an open read: any authenticated user may fetch the
// questions of any quiz, unlike the write paths below.
func ListQuestions(ctx context.Context, store *repository.Store, quizID string) ([]model.Question, error) {
	if _, err := uuid.Parse(quizID); err != nil {
		return nil, &Error{Code: ErrQuizNotFound}
	}
	if _, err := store.GetQuiz(ctx, quizID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &Error{Code: ErrQuizNotFound}
		}
		return nil, &Error{Code: ErrServerError}
	}
	questions, err := store.ListQuestions(ctx, quizID)
	if err != nil {
		return nil, &Error{Code: ErrServerError}
	}
	return questions, nil
}

func AddQuestion(ctx context.Context, store *repository.Store, requesterID, quizID, text string, answers []string, correctIndex int, imageURL *string) (model.Question, error) {
	if _, err := uuid.Parse(quizID); err != nil {
		return model.Question{}, &Error{Code: ErrQuizNotFound}
	}
	if strings.TrimSpace(text) == "" {
		return model.Question{}, &Error{Code: ErrEmptyQuestionText}
	}

	question := model.Question{
		ID:           uuid.NewString(),
		QuizID:       quizID,
		Text:         text,
		Answers:      answers,
		CorrectIndex: correctIndex,
		ImageURL:     imageURL,
		CreatedAt:    time.Now().UTC(),
	}
	if question.Answers == nil {
		question.Answers = []string{}
	}

	encoded, err := model.EncodeAnswers(question.Answers)
	if err != nil {
		return model.Question{}, &Error{Code: ErrServerError}
	}

	err = store.WithTx(ctx, func(tx *repository.Store) error {
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
		if err := tx.CreateQuestion(ctx, question, encoded); err != nil {
			return &Error{Code: ErrServerError}
		}
		return nil
	})
	if err != nil {
		return model.Question{}, asOpError(err)
	}
	return question, nil
}

// applyQuestionPatch folds the supplied fields into the question; absent
// fields are left untouched. The correct-answer index is stored as sent and
// not checked against the answer count, matching how clients already use it.
func applyQuestionPatch(question model.Question, patch model.QuestionPatch) (model.Question, *Error) {
	if patch.Text != nil {
		if strings.TrimSpace(*patch.Text) == "" {
			return question, &Error{Code: ErrEmptyQuestionText}
		}
		question.Text = *patch.Text
	}
	if patch.Answers != nil {
		answers := *patch.Answers
		if answers == nil {
			answers = []string{}
		}
		question.Answers = answers
	}
	if patch.CorrectIndex != nil {
		question.CorrectIndex = *patch.CorrectIndex
	}
	if patch.ImageURL != nil {
		question.ImageURL = patch.ImageURL
	}
	return question, nil
}

func UpdateQuestion(ctx context.Context, store *repository.Store, requesterID, questionID string, patch model.QuestionPatch) (model.Question, error) {
	if _, err := uuid.Parse(questionID); err != nil {
		return model.Question{}, &Error{Code: ErrQuestionNotFound}
	}

	var updated model.Question
	err := store.WithTx(ctx, func(tx *repository.Store) error {
		question, err := tx.GetQuestion(ctx, questionID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return &Error{Code: ErrQuestionNotFound}
			}
			return &Error{Code: ErrServerError}
		}
		quiz, err := tx.GetQuizForUpdate(ctx, question.QuizID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return &Error{Code: ErrQuizNotFound}
			}
			return &Error{Code: ErrServerError}
		}
		if opErr := checkQuizMutable(quiz, requesterID); opErr != nil {
			return opErr
		}

		question, opErr := applyQuestionPatch(question, patch)
		if opErr != nil {
			return opErr
		}
		encoded, err := model.EncodeAnswers(question.Answers)
		if err != nil {
			return &Error{Code: ErrServerError}
		}
		if err := tx.UpdateQuestion(ctx, question, encoded); err != nil {
			return &Error{Code: ErrServerError}
		}
		updated = question
		return nil
	})
	if err != nil {
		return model.Question{}, asOpError(err)
	}
	return updated, nil
}

func DeleteQuestion(ctx context.Context, store *repository.Store, requesterID, questionID string) error {
	if _, err := uuid.Parse(questionID); err != nil {
		return &Error{Code: ErrQuestionNotFound}
	}

	err := store.WithTx(ctx, func(tx *repository.Store) error {
		question, err := tx.GetQuestion(ctx, questionID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return &Error{Code: ErrQuestionNotFound}
			}
			return &Error{Code: ErrServerError}
		}
		quiz, err := tx.GetQuizForUpdate(ctx, question.QuizID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return &Error{Code: ErrQuizNotFound}
			}
			return &Error{Code: ErrServerError}
		}
		if opErr := checkQuizMutable(quiz, requesterID); opErr != nil {
			return opErr
		}
		if err := tx.DeleteQuestion(ctx, questionID); err != nil {
			return &Error{Code: ErrServerError}
		}
		return nil
	})
	if err != nil {
		return asOpError(err)
	}
	return nil
}
