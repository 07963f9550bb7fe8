package generate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"
)

// AspectRatios lists the ratios accepted for image generation
var AspectRatios = []string{"1:1", "16:9", "9:16", "3:4", "4:3"}

// Image is one generated image
type Image struct {
	Data     []byte `json:"-"`
	MIMEType string `json:"mime_type"`
	Prompt   string `json:"prompt"`
}

func validAspectRatio(ratio string, allowed []string) bool {
	for _, r := range allowed {
		if r == ratio {
			return true
		}
	}
	return false
}

// Image generates a single image. An empty aspectRatio means 1:1.
func (c *Client) Image(ctx context.Context, prompt, aspectRatio string) (*Image, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, ErrEmptyPrompt
	}
	if aspectRatio == "" {
		aspectRatio = "1:1"
	}
	if !validAspectRatio(aspectRatio, AspectRatios) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAspectRatio, aspectRatio)
	}

	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	config := &genai.GenerateContentConfig{
		ImageConfig: &genai.ImageConfig{AspectRatio: aspectRatio},
	}

	var img *Image
	err := c.do(ctx, OpImage, func(ctx context.Context) error {
		resp, err := c.backend.GenerateContent(ctx, c.config.ImageModel, contents, config)
		if err != nil {
			return err
		}
		img = firstInlineImage(resp)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if img == nil {
		return nil, ErrEmptyResponse
	}

	img.Prompt = prompt
	c.logger.Info("Image generated",
		slog.String("aspect_ratio", aspectRatio),
		slog.String("mime_type", img.MIMEType),
		slog.Int("size", len(img.Data)))

	return img, nil
}

func firstInlineImage(resp *genai.GenerateContentResponse) *Image {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil
	}

	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
			continue
		}
		mimeType := part.InlineData.MIMEType
		if mimeType == "" {
			mimeType = "image/png"
		}
		return &Image{Data: part.InlineData.Data, MIMEType: mimeType}
	}
	return nil
}
