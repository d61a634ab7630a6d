package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"docbrief/internal/provider"
	"docbrief/internal/transform"
)

const DefaultChatModel = "gemini-2.0-flash"

type Generator struct {
	client      *genai.Client
	model       string
	temperature float32
	maxTokens   int32
	timeout     time.Duration
}

func NewGenerator(ctx context.Context, apiKey, model string, temperature float32, maxTokens int, opts ...option.ClientOption) (*Generator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key not configured")
	}
	client, err := genai.NewClient(ctx, append(opts, option.WithAPIKey(apiKey))...)
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = DefaultChatModel
	}
	return &Generator{client: client, model: model, temperature: temperature, maxTokens: int32(maxTokens)}, nil
}

func (g *Generator) Close() error {
	return g.client.Close()
}

// SetTimeout bounds each Complete call. Zero leaves the caller's context alone.
func (g *Generator) SetTimeout(d time.Duration) {
	g.timeout = d
}

// Complete maps the conversation onto a chat session: system messages become
// the system instruction, earlier turns the history, and the final user
// message is sent.
func (g *Generator) Complete(ctx context.Context, conv transform.Conversation) (string, error) {
	if len(conv) == 0 || conv[len(conv)-1].Role != transform.RoleUser {
		return "", fmt.Errorf("gemini: conversation must end with a user message")
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	m := g.client.GenerativeModel(g.model)
	m.SetTemperature(g.temperature)
	if g.maxTokens > 0 {
		m.SetMaxOutputTokens(g.maxTokens)
	}

	var system []string
	cs := m.StartChat()
	for _, msg := range conv[:len(conv)-1] {
		switch msg.Role {
		case transform.RoleSystem:
			system = append(system, msg.Content)
		case transform.RoleAssistant:
			if len(cs.History) == 0 {
				// Gemini turns must open with the user.
				continue
			}
			cs.History = append(cs.History, &genai.Content{Role: "model", Parts: []genai.Part{genai.Text(msg.Content)}})
		default:
			cs.History = append(cs.History, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(msg.Content)}})
		}
	}
	if len(system) > 0 {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(strings.Join(system, "\n\n"))}}
	}

	resp, err := cs.SendMessage(ctx, genai.Text(conv[len(conv)-1].Content))
	if err != nil {
		return "", mapError(err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}

	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String(), nil
}

func mapError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		pe := &provider.Error{Provider: "gemini", StatusCode: gerr.Code, Message: gerr.Message}
		if len(gerr.Errors) > 0 {
			pe.Code = gerr.Errors[0].Reason
		}
		if pe.Message == "" {
			pe.Message = http.StatusText(gerr.Code)
		}
		return pe
	}
	return err
}
