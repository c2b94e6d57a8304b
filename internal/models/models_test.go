package models

import (
	"errors"
	"strings"
	"testing"
)

func TestSubmissionValidate(t *testing.T) {
	tests := []struct {
		name string
		sub  Submission
		want error
	}{
		{"valid", Submission{Form: "apply", UserID: "+123", Answers: []Answer{{Key: "name", Value: "x"}}}, nil},
		{"no form", Submission{UserID: "+123", Answers: []Answer{{Key: "name"}}}, ErrEmptyForm},
		{"no user", Submission{Form: "apply", Answers: []Answer{{Key: "name"}}}, ErrEmptyUser},
		{"no answers", Submission{Form: "apply", UserID: "+123"}, ErrNoAnswers},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.sub.Validate(); !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestTemplateValidate(t *testing.T) {
	tests := []struct {
		name string
		tmpl Template
		want error
	}{
		{"valid", Template{Name: "greeting", Body: "hello"}, nil},
		{"empty name", Template{Body: "hello"}, ErrEmptyTemplateName},
		{"long name", Template{Name: strings.Repeat("n", MaxTemplateNameLength+1), Body: "hello"}, ErrTemplateNameLong},
		{"empty body", Template{Name: "greeting"}, ErrEmptyTemplateBody},
		{"long body", Template{Name: "greeting", Body: strings.Repeat("b", MaxTemplateBodyLength+1)}, ErrTemplateBodyLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.tmpl.Validate(); !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestAPIResponseHelpers(t *testing.T) {
	ok := Success([]string{"a"})
	if ok.Status != "ok" || ok.Result == nil {
		t.Errorf("Success() = %+v", ok)
	}
	bad := Error("boom")
	if bad.Status != "error" || bad.Message != "boom" {
		t.Errorf("Error() = %+v", bad)
	}
	if got := Accepted().Status; got != "accepted" {
		t.Errorf("Accepted().Status = %q", got)
	}
}
