package profile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"docbrief/internal/pipeline"
)

// Service resolves instruction profiles. Stored profiles override the
// built-in ones of the same name.
type Service struct {
	repo     Repository
	language string
}

func NewService(repo Repository, language string) *Service {
	if language == "" {
		language = "Russian"
	}
	return &Service{repo: repo, language: language}
}

// Instruction returns the model instruction for name with placeholders
// substituted. Unknown names match pipeline.ErrUnknownProfile.
func (s *Service) Instruction(ctx context.Context, name string) (string, error) {
	p, err := s.Get(ctx, name)
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(p.Instruction, LanguagePlaceholder, s.language), nil
}

func (s *Service) Get(ctx context.Context, name string) (*Profile, error) {
	p, err := s.repo.Get(ctx, name)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if text, ok := builtIns[name]; ok {
		return &Profile{Name: name, Instruction: text, BuiltIn: true}, nil
	}
	return nil, fmt.Errorf("%w: %w: %q", pipeline.ErrUnknownProfile, ErrNotFound, name)
}

func (s *Service) List(ctx context.Context) ([]Profile, error) {
	stored, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]Profile, len(builtIns)+len(stored))
	for name, text := range builtIns {
		byName[name] = Profile{Name: name, Instruction: text, BuiltIn: true}
	}
	for _, p := range stored {
		byName[p.Name] = p
	}

	out := make([]Profile, 0, len(byName))
	for _, p := range byName {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Service) Put(ctx context.Context, p *Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	p.BuiltIn = false
	return s.repo.Upsert(ctx, p)
}
