package store

import (
	"encoding/json"
	"fmt"

	"github.com/nerdycraft/NerpyBot-sub000/internal/models"
)

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func encodeAnswers(answers []models.Answer) (string, error) {
	b, err := json.Marshal(answers)
	if err != nil {
		return "", fmt.Errorf("encode answers failed: %w", err)
	}
	return string(b), nil
}

// scanSubmission scans id, form, user_id, scope, answers, created_at.
func scanSubmission(row rowScanner) (models.Submission, error) {
	var sub models.Submission
	var answersJSON []byte
	if err := row.Scan(&sub.ID, &sub.Form, &sub.UserID, &sub.Scope, &answersJSON, &sub.CreatedAt); err != nil {
		return sub, fmt.Errorf("scan submission failed: %w", err)
	}
	if err := json.Unmarshal(answersJSON, &sub.Answers); err != nil {
		return sub, fmt.Errorf("decode answers of submission %s failed: %w", sub.ID, err)
	}
	return sub, nil
}

// scanTemplate scans id, scope, name, body, author_id, drafted, created_at, updated_at.
func scanTemplate(row rowScanner) (models.Template, error) {
	var t models.Template
	err := row.Scan(&t.ID, &t.Scope, &t.Name, &t.Body, &t.AuthorID, &t.Drafted, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}
