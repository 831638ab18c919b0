package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"letsquiz/server/internal/auth"
	"letsquiz/server/internal/config"
	"letsquiz/server/internal/crypto"
	"letsquiz/server/internal/model"
	"letsquiz/server/internal/operations"
	"letsquiz/server/internal/repository"
)

type Server struct {
	cfg   config.Config
	store *repository.Store
}

func NewServer(cfg config.Config, store *repository.Store) *Server {
	return &Server{cfg: cfg, store: store}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeMessage(w, http.StatusNotFound, "Resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeMessage(w, http.StatusMethodNotAllowed, "HTTP method not allowed for this resource")
	})

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		writeMessage(w, http.StatusOK, "Welcome to the LetsQuiz API!")
	})
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", s.handleRegister)
		r.Post("/login", s.handleLogin)
		r.Post("/refresh", s.handleRefresh)
	})

	r.Route("/quizzes", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/", s.handleListQuizzes)
		r.Post("/", s.handleCreateQuiz)
		r.Put("/{quizId}", s.handleUpdateQuiz)
		r.Delete("/{quizId}", s.handleDeleteQuiz)
		r.Post("/{quizId}/start", s.handleStartSession)
		r.Post("/{quizId}/end", s.handleEndSession)
	})

	r.Route("/questions", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/{quizId}", s.handleListQuestions)
		r.Post("/{quizId}", s.handleAddQuestion)
		r.Put("/{questionId}", s.handleUpdateQuestion)
		r.Delete("/{questionId}", s.handleDeleteQuestion)
	})

	return r
}

// Auth

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenPairResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Username     string `json:"username"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		writeMessage(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	// Friendly pre-check; the unique constraint covers the race.
	if _, err := s.store.GetUserByUsername(r.Context(), req.Username); err == nil {
		writeMessage(w, http.StatusBadRequest, "User already exists")
		return
	} else if !errors.Is(err, pgx.ErrNoRows) {
		writeMessage(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	hash, err := crypto.HashPassword(req.Password)
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	user := model.User{
		ID:           uuid.NewString(),
		Username:     req.Username,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateUser(r.Context(), user); err != nil {
		if repository.IsUniqueViolation(err) {
			writeMessage(w, http.StatusBadRequest, "User already exists")
			return
		}
		writeMessage(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	s.respondTokenPair(w, user)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := s.store.GetUserByUsername(r.Context(), strings.TrimSpace(req.Username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeMessage(w, http.StatusNotFound, "User not found")
			return
		}
		writeMessage(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if err := crypto.CheckPassword(user.PasswordHash, req.Password); err != nil {
		writeMessage(w, http.StatusUnauthorized, "Incorrect password")
		return
	}

	s.respondTokenPair(w, user)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r.Header.Get("Authorization"))
	if token == "" {
		writeMessage(w, http.StatusUnauthorized, "Missing refresh token")
		return
	}

	claims, err := auth.ParseToken(s.cfg.JWTSecret, token, auth.TokenTypeRefresh)
	if err != nil {
		writeMessage(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}

	accessToken, err := auth.NewAccessToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, s.cfg.AccessTokenTTL, claims.UserID)
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access_token": accessToken})
}

func (s *Server) respondTokenPair(w http.ResponseWriter, user model.User) {
	accessToken, err := auth.NewAccessToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, s.cfg.AccessTokenTTL, user.ID)
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	refreshToken, err := auth.NewRefreshToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, s.cfg.RefreshTokenTTL, user.ID)
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, tokenPairResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		Username:     user.Username,
	})
}

type userIDKey struct{}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeMessage(w, http.StatusUnauthorized, "Missing access token")
			return
		}
		claims, err := auth.ParseToken(s.cfg.JWTSecret, token, auth.TokenTypeAccess)
		if err != nil {
			writeMessage(w, http.StatusUnauthorized, "Invalid access token")
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey{}, claims.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userIDFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(userIDKey{}).(string)
	return userID
}

// Quizzes

type quizSummary struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	MaxTime        int    `json:"max_time"`
	Author         string `json:"author"`
	AuthorName     string `json:"author_name"`
	ActiveSessions int    `json:"active_sessions"`
}

type quizResponse struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	MaxTime        int    `json:"max_time"`
	Author         string `json:"author"`
	ActiveSessions int    `json:"active_sessions"`
}

func mapQuizResponse(quiz model.Quiz) quizResponse {
	return quizResponse{
		ID:             quiz.ID,
		Title:          quiz.Title,
		Description:    quiz.Description,
		MaxTime:        quiz.MaxTime,
		Author:         quiz.OwnerID,
		ActiveSessions: quiz.ActiveSessions,
	}
}

func (s *Server) handleListQuizzes(w http.ResponseWriter, r *http.Request) {
	mine := strings.EqualFold(r.URL.Query().Get("mine"), "true")
	summaries, err := operations.ListQuizzes(r.Context(), s.store, userIDFromContext(r.Context()), mine)
	if err != nil {
		writeOpError(w, err)
		return
	}

	resp := make([]quizSummary, 0, len(summaries))
	for _, summary := range summaries {
		resp = append(resp, quizSummary{
			ID:             summary.ID,
			Title:          summary.Title,
			Description:    summary.Description,
			MaxTime:        summary.MaxTime,
			Author:         summary.OwnerID,
			AuthorName:     summary.OwnerName,
			ActiveSessions: summary.ActiveSessions,
		})
	}
	writeJSON(w, http.StatusOK, map[string][]quizSummary{"quizzes": resp})
}

type createQuizRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	MaxTime     *int   `json:"max_time,omitempty"`
}

func (s *Server) handleCreateQuiz(w http.ResponseWriter, r *http.Request) {
	var req createQuizRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	quiz, err := operations.CreateQuiz(r.Context(), s.store, userIDFromContext(r.Context()), req.Title, req.Description, req.MaxTime)
	if err != nil {
		writeOpError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"id":      quiz.ID,
		"title":   quiz.Title,
		"message": "Quiz created successfully!",
	})
}

type updateQuizRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	MaxTime     *int    `json:"max_time,omitempty"`
}

func (s *Server) handleUpdateQuiz(w http.ResponseWriter, r *http.Request) {
	var req updateQuizRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	quiz, err := operations.UpdateQuiz(r.Context(), s.store, userIDFromContext(r.Context()), chi.URLParam(r, "quizId"), model.QuizPatch{
		Title:       req.Title,
		Description: req.Description,
		MaxTime:     req.MaxTime,
	})
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapQuizResponse(quiz))
}

func (s *Server) handleDeleteQuiz(w http.ResponseWriter, r *http.Request) {
	if err := operations.DeleteQuiz(r.Context(), s.store, userIDFromContext(r.Context()), chi.URLParam(r, "quizId")); err != nil {
		writeOpError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "Quiz deleted successfully!")
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	count, err := operations.StartSession(r.Context(), s.store, chi.URLParam(r, "quizId"))
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":         "Session started",
		"active_sessions": count,
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	count, err := operations.EndSession(r.Context(), s.store, chi.URLParam(r, "quizId"))
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":         "Session ended",
		"active_sessions": count,
	})
}

// Questions

type questionResponse struct {
	ID           string   `json:"id"`
	QuestionText string   `json:"question_text"`
	Answers      []string `json:"answers"`
	CorrectIndex int      `json:"correct_answer_index"`
	ImageURL     *string  `json:"url_image"`
	QuizID       string   `json:"quiz_id"`
}

func mapQuestionResponse(question model.Question) questionResponse {
	return questionResponse{
		ID:           question.ID,
		QuestionText: question.Text,
		Answers:      question.Answers,
		CorrectIndex: question.CorrectIndex,
		ImageURL:     question.ImageURL,
		QuizID:       question.QuizID,
	}
}

func (s *Server) handleListQuestions(w http.ResponseWriter, r *http.Request) {
	questions, err := operations.ListQuestions(r.Context(), s.store, chi.URLParam(r, "quizId"))
	if err != nil {
		writeOpError(w, err)
		return
	}

	resp := make([]questionResponse, 0, len(questions))
	for _, question := range questions {
		resp = append(resp, mapQuestionResponse(question))
	}
	writeJSON(w, http.StatusOK, map[string][]questionResponse{"questions": resp})
}

type addQuestionRequest struct {
	QuestionText string   `json:"question_text"`
	Answers      []string `json:"answers"`
	CorrectIndex int      `json:"correct_answer_index"`
	ImageURL     *string  `json:"url_image,omitempty"`
}

func (s *Server) handleAddQuestion(w http.ResponseWriter, r *http.Request) {
	var req addQuestionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	question, err := operations.AddQuestion(
		r.Context(),
		s.store,
		userIDFromContext(r.Context()),
		chi.URLParam(r, "quizId"),
		req.QuestionText,
		req.Answers,
		req.CorrectIndex,
		req.ImageURL,
	)
	if err != nil {
		writeOpError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"id":      question.ID,
		"message": "Question added successfully!",
	})
}

type updateQuestionRequest struct {
	QuestionText *string   `json:"question_text,omitempty"`
	Answers      *[]string `json:"answers,omitempty"`
	CorrectIndex *int      `json:"correct_answer_index,omitempty"`
	ImageURL     *string   `json:"url_image,omitempty"`
}

func (s *Server) handleUpdateQuestion(w http.ResponseWriter, r *http.Request) {
	var req updateQuestionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	question, err := operations.UpdateQuestion(r.Context(), s.store, userIDFromContext(r.Context()), chi.URLParam(r, "questionId"), model.QuestionPatch{
		Text:         req.QuestionText,
		Answers:      req.Answers,
		CorrectIndex: req.CorrectIndex,
		ImageURL:     req.ImageURL,
	})
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapQuestionResponse(question))
}

func (s *Server) handleDeleteQuestion(w http.ResponseWriter, r *http.Request) {
	if err := operations.DeleteQuestion(r.Context(), s.store, userIDFromContext(r.Context()), chi.URLParam(r, "questionId")); err != nil {
		writeOpError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "Question removed successfully!")
}

// Helpers

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

// statusForCode keeps the source API contract: conflicts answer 400, not 409.
func statusForCode(code string) (int, string) {
	switch code {
	case operations.ErrEmptyTitle:
		return http.StatusBadRequest, "Quiz title cannot be empty"
	case operations.ErrInvalidMaxTime:
		return http.StatusBadRequest, "max_time must be a positive integer"
	case operations.ErrTitleTaken:
		return http.StatusBadRequest, "A quiz with that title already exists"
	case operations.ErrEmptyQuestionText:
		return http.StatusBadRequest, "Question text cannot be empty"
	case operations.ErrQuizLive:
		return http.StatusBadRequest, "Quiz is being played and cannot be modified"
	case operations.ErrNotOwner:
		return http.StatusForbidden, "You do not own this quiz"
	case operations.ErrQuizNotFound:
		return http.StatusNotFound, "Quiz not found"
	case operations.ErrQuestionNotFound:
		return http.StatusNotFound, "Question not found"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func writeOpError(w http.ResponseWriter, err error) {
	var opErr *operations.Error
	if !errors.As(err, &opErr) {
		writeMessage(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	status, message := statusForCode(opErr.Code)
	writeMessage(w, status, message)
}
