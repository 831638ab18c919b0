package operations

const (
	ErrEmptyTitle        = "empty_title"
	ErrInvalidMaxTime    = "invalid_max_time"
	ErrTitleTaken        = "title_taken"
	ErrQuizNotFound      = "quiz_not_found"
	ErrQuestionNotFound  = "question_not_found"
	ErrNotOwner          = "not_owner"
	ErrQuizLive          = "quiz_live"
	ErrEmptyQuestionText = "empty_question_text"
	ErrServerError       = "server_error"
)

type Error struct {
	Code string
}

func (e *Error) Error() string {
	return e.Code
}
