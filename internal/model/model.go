package model

import "time"

type User struct {
	ID           string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

type Quiz struct {
	ID             string
	Title          string
	Description    string
	MaxTime        int
	OwnerID        string
	ActiveSessions int
	CreatedAt      time.Time
}

// QuizSummary is a Quiz joined with its owner's display name for listings.
type QuizSummary struct {
	Quiz
	OwnerName string
}

type Question struct {
	ID            string
	QuizID        string
	Text          string
	Answers       []string
	CorrectIndex  int
	ImageURL      *string
	CreatedAt     time.Time
}

// QuizPatch carries a partial quiz update; nil fields are left unchanged.
type QuizPatch struct {
	Title       *string
	Description *string
	MaxTime     *int
}

// QuestionPatch carries a partial question update; nil fields are left
// unchanged.
type QuestionPatch struct {
	Text         *string
	Answers      *[]string
	CorrectIndex *int
	ImageURL     *string
}
