package profile

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"docbrief/internal/config"
)

var (
	ErrNotFound       = errors.New("profile not found")
	ErrInvalidProfile = errors.New("invalid profile")
)

const (
	Summary   = "summary"
	Translate = "translate"
	Keywords  = "keywords"
)

// LanguagePlaceholder is replaced by the configured target language.
const LanguagePlaceholder = "{language}"

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

type Profile struct {
	Name        string    `json:"name"`
	Instruction string    `json:"instruction"`
	BuiltIn     bool      `json:"built_in"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

func (p Profile) Validate() error {
	if !namePattern.MatchString(p.Name) {
		return errors.Join(ErrInvalidProfile, errors.New("name must be lowercase letters, digits, '-' or '_'"))
	}
	if strings.TrimSpace(p.Instruction) == "" {
		return errors.Join(ErrInvalidProfile, errors.New("instruction is required"))
	}
	// A token spans at least one byte, so this keeps the instruction inside
	// the window share CONTEXT_TOKENS reserves for it.
	if len(p.Instruction) > config.InstructionTokens {
		return errors.Join(ErrInvalidProfile, fmt.Errorf("instruction must be at most %d bytes", config.InstructionTokens))
	}
	return nil
}

var builtIns = map[string]string{
	Summary: "You write a condensed retelling of the text you receive. Keep the main idea and the terminology. " +
		"Use plain language. The result should be roughly half the length of the original.",
	Translate: "You are a translator. Translate the text into {language}. Use natural, literary language.",
	Keywords:  "You are an analyst. Find the key words and phrases in the text and list them, keeping their context.",
}
