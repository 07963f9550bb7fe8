package generate

import (
	"context"
	"log/slog"
	"strings"

	"google.golang.org/genai"
)

// Role identifies the author of a chat message
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Message is one chat turn
type Message struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Chat sends the history plus prompt and returns the model's reply. Only
// the last HistoryLimit turns, prompt included, are sent.
func (c *Client) Chat(ctx context.Context, history []Message, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyPrompt
	}

	contents := buildContents(history, prompt, c.config.HistoryLimit)
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(c.config.Temperature),
	}

	var reply string
	err := c.do(ctx, OpChat, func(ctx context.Context) error {
		resp, err := c.backend.GenerateContent(ctx, c.config.ChatModel, contents, config)
		if err != nil {
			return err
		}
		reply = responseText(resp)
		return nil
	})
	if err != nil {
		return "", err
	}
	if reply == "" {
		return "", ErrEmptyResponse
	}

	c.logger.Debug("Chat reply received",
		slog.Int("turns", len(contents)),
		slog.Int("reply_length", len(reply)))

	return reply, nil
}

func buildContents(history []Message, prompt string, limit int) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, m := range history {
		if m.Text == "" {
			continue
		}
		var role genai.Role = genai.RoleUser
		if m.Role == RoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Text, role))
	}
	contents = append(contents, genai.NewContentFromText(prompt, genai.RoleUser))

	if limit > 0 && len(contents) > limit {
		contents = contents[len(contents)-limit:]
	}
	return contents
}

// responseText joins the text parts of the first candidate, skipping
// thought summaries
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		sb.WriteString(part.Text)
	}
	return strings.TrimSpace(sb.String())
}
