package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"letsquiz/server/internal/model"
)

// Querier is the subset of pgx shared by pools and transactions, so every
// store method works inside and outside WithTx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	db   Querier
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{db: pool, pool: pool}
}

// WithTx runs fn against a transaction-bound store. Any error rolls the whole
// unit of work back; otherwise it commits.
func (s *Store) WithTx(ctx context.Context, fn func(*Store) error) error {
	if s.pool == nil {
		return errors.New("store is already transaction-bound")
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	if err := fn(&Store{db: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// Users

func (s *Store) CreateUser(ctx context.Context, user model.User) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO users (id, username, password_hash, created_at)
		VALUES ($1, $2, $3, $4)
	`, user.ID, user.Username, user.PasswordHash, user.CreatedAt)
	return err
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (model.User, error) {
	var user model.User
	row := s.db.QueryRow(ctx, `
		SELECT id, username, password_hash, created_at
		FROM users
		WHERE username = $1
	`, username)
	err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	return user, err
}

func (s *Store) GetUserByID(ctx context.Context, userID string) (model.User, error) {
	var user model.User
	row := s.db.QueryRow(ctx, `
		SELECT id, username, password_hash, created_at
		FROM users
		WHERE id = $1
	`, userID)
	err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	return user, err
}

// Quizzes

func (s *Store) CreateQuiz(ctx context.Context, quiz model.Quiz) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO quizzes (id, title, description, max_time, user_id, active_sessions, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, quiz.ID, quiz.Title, quiz.Description, quiz.MaxTime, quiz.OwnerID, quiz.ActiveSessions, quiz.CreatedAt)
	return err
}

func (s *Store) GetQuiz(ctx context.Context, quizID string) (model.Quiz, error) {
	return s.getQuiz(ctx, quizID, false)
}

// GetQuizForUpdate locks the quiz row until the surrounding transaction ends,
// keeping the session-gate check and the mutation it guards atomic.
func (s *Store) GetQuizForUpdate(ctx context.Context, quizID string) (model.Quiz, error) {
	return s.getQuiz(ctx, quizID, true)
}

func (s *Store) getQuiz(ctx context.Context, quizID string, forUpdate bool) (model.Quiz, error) {
	query := `
		SELECT id, title, description, max_time, user_id, active_sessions, created_at
		FROM quizzes
		WHERE id = $1
	`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var quiz model.Quiz
	row := s.db.QueryRow(ctx, query, quizID)
	err := row.Scan(&quiz.ID, &quiz.Title, &quiz.Description, &quiz.MaxTime, &quiz.OwnerID, &quiz.ActiveSessions, &quiz.CreatedAt)
	return quiz, err
}

func (s *Store) ListQuizzes(ctx context.Context, ownerID string) ([]model.QuizSummary, error) {
	query := `
		SELECT q.id, q.title, q.description, q.max_time, q.user_id, q.active_sessions, q.created_at, u.username
		FROM quizzes q
		JOIN users u ON u.id = q.user_id
	`
	args := []any{}
	if ownerID != "" {
		query += ` WHERE q.user_id = $1`
		args = append(args, ownerID)
	}
	query += ` ORDER BY q.created_at, q.id`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := []model.QuizSummary{}
	for rows.Next() {
		var summary model.QuizSummary
		if err := rows.Scan(
			&summary.ID,
			&summary.Title,
			&summary.Description,
			&summary.MaxTime,
			&summary.OwnerID,
			&summary.ActiveSessions,
			&summary.CreatedAt,
			&summary.OwnerName,
		); err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}
	return summaries, rows.Err()
}

func (s *Store) UpdateQuiz(ctx context.Context, quiz model.Quiz) error {
	_, err := s.db.Exec(ctx, `
		UPDATE quizzes
		SET title = $1, description = $2, max_time = $3
		WHERE id = $4
	`, quiz.Title, quiz.Description, quiz.MaxTime, quiz.ID)
	return err
}

func (s *Store) DeleteQuiz(ctx context.Context, quizID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM quizzes WHERE id = $1`, quizID)
	return err
}

func (s *Store) TitleExists(ctx context.Context, title, excludeQuizID string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM quizzes WHERE title = $1 AND id <> $2)
	`, title, excludeQuizID).Scan(&exists)
	return exists, err
}

func (s *Store) IncrementSessions(ctx context.Context, quizID string) (int, error) {
	var count int
	err := s.db.QueryRow(ctx, `
		UPDATE quizzes
		SET active_sessions = active_sessions + 1
		WHERE id = $1
		RETURNING active_sessions
	`, quizID).Scan(&count)
	return count, err
}

// DecrementSessions floors the counter at zero, so calling it on an idle quiz
// is a no-op rather than an error.
func (s *Store) DecrementSessions(ctx context.Context, quizID string) (int, error) {
	var count int
	err := s.db.QueryRow(ctx, `
		UPDATE quizzes
		SET active_sessions = GREATEST(active_sessions - 1, 0)
		WHERE id = $1
		RETURNING active_sessions
	`, quizID).Scan(&count)
	return count, err
}

// Questions

func (s *Store) CreateQuestion(ctx context.Context, question model.Question, encodedAnswers string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO questions (id, quiz_id, question_text, answers, correct_answer_index, url_image, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, question.ID, question.QuizID, question.Text, encodedAnswers, question.CorrectIndex, question.ImageURL, question.CreatedAt)
	return err
}

func (s *Store) GetQuestion(ctx context.Context, questionID string) (model.Question, error) {
	var question model.Question
	var rawAnswers string
	row := s.db.QueryRow(ctx, `
		SELECT id, quiz_id, question_text, answers, correct_answer_index, url_image, created_at
		FROM questions
		WHERE id = $1
	`, questionID)
	err := row.Scan(&question.ID, &question.QuizID, &question.Text, &rawAnswers, &question.CorrectIndex, &question.ImageURL, &question.CreatedAt)
	if err != nil {
		return question, err
	}
	question.Answers = model.DecodeAnswers(rawAnswers)
	return question, nil
}

func (s *Store) ListQuestions(ctx context.Context, quizID string) ([]model.Question, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, quiz_id, question_text, answers, correct_answer_index, url_image, created_at
		FROM questions
		WHERE quiz_id = $1
		ORDER BY created_at, id
	`, quizID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	questions := []model.Question{}
	for rows.Next() {
		var question model.Question
		var rawAnswers string
		if err := rows.Scan(
			&question.ID,
			&question.QuizID,
			&question.Text,
			&rawAnswers,
			&question.CorrectIndex,
			&question.ImageURL,
			&question.CreatedAt,
		); err != nil {
			return nil, err
		}
		question.Answers = model.DecodeAnswers(rawAnswers)
		questions = append(questions, question)
	}
	return questions, rows.Err()
}

func (s *Store) UpdateQuestion(ctx context.Context, question model.Question, encodedAnswers string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE questions
		SET question_text = $1, answers = $2, correct_answer_index = $3, url_image = $4
		WHERE id = $5
	`, question.Text, encodedAnswers, question.CorrectIndex, question.ImageURL, question.ID)
	return err
}

func (s *Store) DeleteQuestion(ctx context.Context, questionID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM questions WHERE id = $1`, questionID)
	return err
}
