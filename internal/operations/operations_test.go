package operations

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"letsquiz/server/internal/db"
	"letsquiz/server/internal/model"
	"letsquiz/server/internal/repository"
)

func openTestStore(t *testing.T) *repository.Store {
	t.Helper()
	url := os.Getenv("LETSQUIZ_TEST_DB")
	if url == "" {
		url = os.Getenv("DATABASE_URL")
	}
	if url == "" {
		t.Skip("LETSQUIZ_TEST_DB or DATABASE_URL not set")
		return nil
	}
	pool, err := db.NewPool(context.Background(), url, 2, 30*time.Second)
	if err != nil {
		t.Skipf("db unavailable: %v", err)
		return nil
	}
	t.Cleanup(pool.Close)
	if _, err := pool.Exec(context.Background(), db.Schema); err != nil {
		t.Fatalf("schema error: %v", err)
	}
	return repository.NewStore(pool)
}

func createTestUser(t *testing.T, store *repository.Store, name string) model.User {
	t.Helper()
	user := model.User{
		ID:           uuid.NewString(),
		Username:     fmt.Sprintf("%s-%s", name, uuid.NewString()[:8]),
		PasswordHash: "not-a-real-hash",
		CreatedAt:    time.Now().UTC(),
	}
	if err := store.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("create user error: %v", err)
	}
	return user
}

func uniqueTitle(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString()[:8])
}

func opCode(t *testing.T, err error) string {
	t.Helper()
	var opErr *Error
	if !errors.As(err, &opErr) {
		t.Fatalf("expected operations error, got %v", err)
	}
	return opErr.Code
}

func TestCreateQuizTitleRules(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	alice := createTestUser(t, store, "alice")
	bob := createTestUser(t, store, "bob")

	title := uniqueTitle("Geo101")
	quiz, err := CreateQuiz(ctx, store, alice.ID, "  "+title+"  ", "maps", nil)
	if err != nil {
		t.Fatalf("create error: %v", err)
	}
	if quiz.Title != title {
		t.Fatalf("expected trimmed title %q, got %q", title, quiz.Title)
	}
	if quiz.MaxTime != 60 {
		t.Fatalf("expected default max time 60, got %d", quiz.MaxTime)
	}
	if quiz.ActiveSessions != 0 {
		t.Fatalf("expected zero active sessions, got %d", quiz.ActiveSessions)
	}

	// Same title by any user is a conflict, whatever the whitespace.
	if _, err := CreateQuiz(ctx, store, bob.ID, title, "", nil); opCode(t, err) != ErrTitleTaken {
		t.Fatalf("expected title conflict")
	}

	if _, err := CreateQuiz(ctx, store, alice.ID, "   ", "", nil); opCode(t, err) != ErrEmptyTitle {
		t.Fatalf("expected empty title rejection")
	}

	if _, err := CreateQuiz(ctx, store, alice.ID, uniqueTitle("Geo102"), "", nil); err != nil {
		t.Fatalf("distinct title should succeed: %v", err)
	}
}

func TestSessionGateBlocksMutation(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	alice := createTestUser(t, store, "alice")
	bob := createTestUser(t, store, "bob")

	quiz, err := CreateQuiz(ctx, store, alice.ID, uniqueTitle("Gated"), "", nil)
	if err != nil {
		t.Fatalf("create error: %v", err)
	}

	description := "edited"

	// Non-owner is rejected before anything else.
	if _, err := UpdateQuiz(ctx, store, bob.ID, quiz.ID, model.QuizPatch{Description: &description}); opCode(t, err) != ErrNotOwner {
		t.Fatalf("expected not-owner rejection")
	}

	count, err := StartSession(ctx, store, quiz.ID)
	if err != nil || count != 1 {
		t.Fatalf("expected 1 active session, got %d (%v)", count, err)
	}

	// Owner mutations are refused while the session is live.
	if _, err := UpdateQuiz(ctx, store, alice.ID, quiz.ID, model.QuizPatch{Description: &description}); opCode(t, err) != ErrQuizLive {
		t.Fatalf("expected live-quiz rejection on update")
	}
	if err := DeleteQuiz(ctx, store, alice.ID, quiz.ID); opCode(t, err) != ErrQuizLive {
		t.Fatalf("expected live-quiz rejection on delete")
	}
	if _, err := AddQuestion(ctx, store, alice.ID, quiz.ID, "Q?", []string{"A"}, 0, nil); opCode(t, err) != ErrQuizLive {
		t.Fatalf("expected live-quiz rejection on add question")
	}

	// Nothing changed while gated.
	current, err := store.GetQuiz(ctx, quiz.ID)
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if current.Description != "" {
		t.Fatalf("gated update must not persist, got %q", current.Description)
	}

	count, err = EndSession(ctx, store, quiz.ID)
	if err != nil || count != 0 {
		t.Fatalf("expected 0 active sessions, got %d (%v)", count, err)
	}

	updated, err := UpdateQuiz(ctx, store, alice.ID, quiz.ID, model.QuizPatch{Description: &description})
	if err != nil {
		t.Fatalf("update after end should succeed: %v", err)
	}
	if updated.Description != "edited" {
		t.Fatalf("expected description applied, got %q", updated.Description)
	}
}

func TestEndSessionFloorsAtZero(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	alice := createTestUser(t, store, "alice")

	quiz, err := CreateQuiz(ctx, store, alice.ID, uniqueTitle("Floor"), "", nil)
	if err != nil {
		t.Fatalf("create error: %v", err)
	}

	for i := 0; i < 3; i++ {
		count, err := EndSession(ctx, store, quiz.ID)
		if err != nil {
			t.Fatalf("end error: %v", err)
		}
		if count != 0 {
			t.Fatalf("counter must never go below zero, got %d", count)
		}
	}

	if _, err := StartSession(ctx, store, uuid.NewString()); opCode(t, err) != ErrQuizNotFound {
		t.Fatalf("expected not found for unknown quiz")
	}
	if _, err := StartSession(ctx, store, "not-a-uuid"); opCode(t, err) != ErrQuizNotFound {
		t.Fatalf("expected not found for malformed id")
	}
}

func TestQuestionRoundTripAndCascade(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	alice := createTestUser(t, store, "alice")
	bob := createTestUser(t, store, "bob")

	quiz, err := CreateQuiz(ctx, store, alice.ID, uniqueTitle("RT"), "", nil)
	if err != nil {
		t.Fatalf("create error: %v", err)
	}

	question, err := AddQuestion(ctx, store, alice.ID, quiz.ID, "Capital of Portugal?", []string{"A", "B", "C"}, 0, nil)
	if err != nil {
		t.Fatalf("add question error: %v", err)
	}

	if _, err := AddQuestion(ctx, store, bob.ID, quiz.ID, "Hijack?", []string{"A"}, 0, nil); opCode(t, err) != ErrNotOwner {
		t.Fatalf("expected not-owner rejection on question add")
	}

	// Reads stay open to everyone.
	questions, err := ListQuestions(ctx, store, quiz.ID)
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	if len(questions) != 1 {
		t.Fatalf("expected 1 question, got %d", len(questions))
	}
	got := questions[0]
	if got.ID != question.ID || len(got.Answers) != 3 || got.Answers[0] != "A" || got.Answers[2] != "C" {
		t.Fatalf("answers did not round-trip: %#v", got.Answers)
	}

	index := 2
	updated, err := UpdateQuestion(ctx, store, alice.ID, question.ID, model.QuestionPatch{CorrectIndex: &index})
	if err != nil {
		t.Fatalf("update question error: %v", err)
	}
	if updated.CorrectIndex != 2 || updated.Text != "Capital of Portugal?" {
		t.Fatalf("partial update clobbered fields: %#v", updated)
	}

	if err := DeleteQuiz(ctx, store, alice.ID, quiz.ID); err != nil {
		t.Fatalf("delete quiz error: %v", err)
	}

	// Cascade: the question row is gone with the quiz.
	if _, err := UpdateQuestion(ctx, store, alice.ID, question.ID, model.QuestionPatch{}); opCode(t, err) != ErrQuestionNotFound {
		t.Fatalf("expected question gone after cascade")
	}
	if _, err := ListQuestions(ctx, store, quiz.ID); opCode(t, err) != ErrQuizNotFound {
		t.Fatalf("expected quiz gone")
	}
}

func TestListQuizzesMineFilter(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	alice := createTestUser(t, store, "alice")
	bob := createTestUser(t, store, "bob")

	if _, err := CreateQuiz(ctx, store, alice.ID, uniqueTitle("Mine"), "", nil); err != nil {
		t.Fatalf("create error: %v", err)
	}
	if _, err := CreateQuiz(ctx, store, bob.ID, uniqueTitle("Theirs"), "", nil); err != nil {
		t.Fatalf("create error: %v", err)
	}

	mine, err := ListQuizzes(ctx, store, alice.ID, true)
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	for _, summary := range mine {
		if summary.OwnerID != alice.ID {
			t.Fatalf("mine filter leaked quiz owned by %s", summary.OwnerID)
		}
		if summary.OwnerName != alice.Username {
			t.Fatalf("expected owner name %q, got %q", alice.Username, summary.OwnerName)
		}
	}

	all, err := ListQuizzes(ctx, store, alice.ID, false)
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	if len(all) < len(mine)+1 {
		t.Fatalf("expected unfiltered list to include other owners")
	}
}
