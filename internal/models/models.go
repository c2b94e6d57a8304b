// Package models defines the core data structures for NerpyBot.
//
// It includes inbound platform events, persisted dialog results and the API
// response envelope, which are shared across modules.
package models

import (
	"errors"
	"time"
)

// EventKind distinguishes the two kinds of user input the bot understands.
type EventKind string

const (
	// EventText is a free-form text message.
	EventText EventKind = "text"
	// EventReaction is an emoji reaction placed on one of the bot's messages.
	EventReaction EventKind = "reaction"
)

// Event is an inbound user event delivered by a messaging service.
type Event struct {
	Kind      EventKind `json:"kind"`
	MessageID string    `json:"message_id,omitempty"` // platform ID of the inbound message, used for deduplication
	From      string    `json:"from"`
	Body      string    `json:"body"`                // text payload or reaction symbol
	TargetID  string    `json:"target_id,omitempty"` // message the reaction was placed on
	Time      int64     `json:"time"`

	// Typed marks a reaction the user sent as a text reply holding only the
	// symbol. If no dialog takes it, it is handled as the text it was.
	Typed bool `json:"typed,omitempty"`
}

// Validation constants for dialog results.
const (
	// MaxAnswerLength is the longest free-text answer a form accepts.
	MaxAnswerLength = 1024
	// MaxTemplateBodyLength is the longest template body that can be stored.
	MaxTemplateBodyLength = 2000
	// MaxTemplateNameLength is the longest template name.
	MaxTemplateNameLength = 64
)

// Error variables for better error handling and testability
var (
	ErrEmptyForm         = errors.New("form name cannot be empty")
	ErrEmptyUser         = errors.New("user cannot be empty")
	ErrNoAnswers         = errors.New("submission has no answers")
	ErrEmptyTemplateName = errors.New("template name cannot be empty")
	ErrTemplateNameLong  = errors.New("template name exceeds maximum length")
	ErrEmptyTemplateBody = errors.New("template body cannot be empty")
	ErrTemplateBodyLong  = errors.New("template body exceeds maximum length")
)

// Answer is one collected answer of a form submission.
type Answer struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Submission is a completed form dialog.
type Submission struct {
	ID        string    `json:"id"`
	Form      string    `json:"form"`
	UserID    string    `json:"user_id"`
	Scope     string    `json:"scope"`
	Answers   []Answer  `json:"answers"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks that a submission can be stored.
func (s *Submission) Validate() error {
	if s.Form == "" {
		return ErrEmptyForm
	}
	if s.UserID == "" {
		return ErrEmptyUser
	}
	if len(s.Answers) == 0 {
		return ErrNoAnswers
	}
	return nil
}

// Template is a named, reusable message body authored through the template dialog.
type Template struct {
	ID        string    `json:"id"`
	Scope     string    `json:"scope"`
	Name      string    `json:"name"`
	Body      string    `json:"body"`
	AuthorID  string    `json:"author_id"`
	Drafted   bool      `json:"drafted"` // body was generated rather than typed
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks that a template can be stored.
func (t *Template) Validate() error {
	if t.Name == "" {
		return ErrEmptyTemplateName
	}
	if len(t.Name) > MaxTemplateNameLength {
		return ErrTemplateNameLong
	}
	if t.Body == "" {
		return ErrEmptyTemplateBody
	}
	if len(t.Body) > MaxTemplateBodyLength {
		return ErrTemplateBodyLong
	}
	return nil
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
	// APIStatusAccepted indicates an inbound event was queued for processing.
	APIStatusAccepted APIStatus = "accepted"
)

// API Response types for consistent JSON responses

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{
		response: APIResponse{},
	}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}

// Accepted creates a response for an inbound event that was queued.
func Accepted() APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusAccepted).
		Build()
}
