// Package wizard implements NerpyBot's multi-step dialogs on top of the
// conversation engine: questionnaires defined in YAML and the message
// template editor.
package wizard

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// QuestionKind selects how a question is asked and validated.
type QuestionKind string

const (
	KindText   QuestionKind = "text"
	KindNumber QuestionKind = "number"
	KindChoice QuestionKind = "choice"
)

// MaxChoices is the number of keycap symbols available for choice questions.
const MaxChoices = 10

var keycaps = [MaxChoices]string{"1️⃣", "2️⃣", "3️⃣", "4️⃣", "5️⃣", "6️⃣", "7️⃣", "8️⃣", "9️⃣", "🔟"}

// Errors returned when parsing form definitions.
var (
	ErrNoForms       = errors.New("catalog defines no forms")
	ErrUnknownForm   = errors.New("unknown form")
	ErrInvalidForm   = errors.New("invalid form definition")
	ErrDuplicateForm = errors.New("duplicate form name")
)

// Choice is one answer of a choice question.
type Choice struct {
	Symbol string `yaml:"symbol"`
	Label  string `yaml:"label"`
}

// Question is one step of a form.
type Question struct {
	Key     string       `yaml:"key"`
	Prompt  string       `yaml:"prompt"`
	Kind    QuestionKind `yaml:"kind"`
	Min     *float64     `yaml:"min,omitempty"`
	Max     *float64     `yaml:"max,omitempty"`
	Choices []Choice     `yaml:"choices,omitempty"`
}

// Form is a named questionnaire.
type Form struct {
	Name        string     `yaml:"name"`
	Title       string     `yaml:"title"`
	Description string     `yaml:"description"`
	Questions   []Question `yaml:"questions"`
}

// Catalog holds the forms users can fill in.
type Catalog struct {
	forms map[string]*Form
}

type catalogFile struct {
	Forms []Form `yaml:"forms"`
}

// LoadCatalog reads form definitions from a YAML file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read form catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog parses and validates YAML form definitions.
func ParseCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse form catalog: %w", err)
	}
	if len(file.Forms) == 0 {
		return nil, ErrNoForms
	}
	c := &Catalog{forms: make(map[string]*Form, len(file.Forms))}
	for i := range file.Forms {
		f := &file.Forms[i]
		f.Name = strings.ToLower(strings.TrimSpace(f.Name))
		if err := f.normalize(); err != nil {
			return nil, err
		}
		if _, dup := c.forms[f.Name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateForm, f.Name)
		}
		c.forms[f.Name] = f
	}
	return c, nil
}

func (f *Form) normalize() error {
	if f.Name == "" || strings.ContainsAny(f.Name, " \t") {
		return fmt.Errorf("%w: form name %q must be a single word", ErrInvalidForm, f.Name)
	}
	if f.Title == "" {
		f.Title = f.Name
	}
	if len(f.Questions) == 0 {
		return fmt.Errorf("%w: form %s has no questions", ErrInvalidForm, f.Name)
	}
	keys := make(map[string]bool, len(f.Questions))
	for i := range f.Questions {
		q := &f.Questions[i]
		if q.Key == "" || q.Prompt == "" {
			return fmt.Errorf("%w: form %s question %d needs a key and a prompt", ErrInvalidForm, f.Name, i+1)
		}
		if keys[q.Key] {
			return fmt.Errorf("%w: form %s repeats question key %q", ErrInvalidForm, f.Name, q.Key)
		}
		keys[q.Key] = true
		if q.Kind == "" {
			q.Kind = KindText
		}
		switch q.Kind {
		case KindText:
		case KindNumber:
			if q.Min != nil && q.Max != nil && *q.Min > *q.Max {
				return fmt.Errorf("%w: form %s question %q has min > max", ErrInvalidForm, f.Name, q.Key)
			}
		case KindChoice:
			if len(q.Choices) == 0 || len(q.Choices) > MaxChoices {
				return fmt.Errorf("%w: form %s question %q needs 1 to %d choices", ErrInvalidForm, f.Name, q.Key, MaxChoices)
			}
			seen := make(map[string]bool, len(q.Choices))
			for j := range q.Choices {
				ch := &q.Choices[j]
				if ch.Symbol == "" {
					ch.Symbol = keycaps[j]
				}
				if ch.Label == "" {
					return fmt.Errorf("%w: form %s question %q choice %d has no label", ErrInvalidForm, f.Name, q.Key, j+1)
				}
				if seen[ch.Symbol] {
					return fmt.Errorf("%w: form %s question %q repeats symbol %s", ErrInvalidForm, f.Name, q.Key, ch.Symbol)
				}
				seen[ch.Symbol] = true
			}
		default:
			return fmt.Errorf("%w: form %s question %q has unknown kind %q", ErrInvalidForm, f.Name, q.Key, q.Kind)
		}
	}
	return nil
}

// Get returns the form called name.
func (c *Catalog) Get(name string) (*Form, error) {
	f, ok := c.forms[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownForm, name)
	}
	return f, nil
}

// Forms returns all forms ordered by name.
func (c *Catalog) Forms() []*Form {
	out := make([]*Form, 0, len(c.forms))
	for _, f := range c.forms {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
