package ai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const chatModel = "gemini-2.5-flash"

// Image model variants selectable via the image_model preference.
const (
	VariantNano = "nano-banana"
	VariantPro  = "pro-banana"

	nanoImageModel = "gemini-2.5-flash-image"
	proImageModel  = "gemini-3-pro-image-preview"
)

// ErrNoAPIKey indicates no credential was configured for the operation.
var ErrNoAPIKey = errors.New("APIキーが設定されていません。設定画面から登録してください。")

// Turn is one prior exchange in a conversation, replayed to the model.
type Turn struct {
	Role string // "user" or "model"
	Text string
}

// Impression is the result of the visualize pipeline: a data-URI image and
// a Japanese caption derived from the same prompt that produced the image.
type Impression struct {
	Image   string
	Caption string
}

// Client calls the Gemini API for chat replies and impression images.
type Client struct {
	apiKey       string
	imageVariant string
}

// NewClient builds a client for the given credential and image-model
// preference. An empty variant falls back to nano-banana.
func NewClient(apiKey, imageVariant string) *Client {
	if imageVariant != VariantPro {
		imageVariant = VariantNano
	}
	return &Client{apiKey: apiKey, imageVariant: imageVariant}
}

func (c *Client) connect(ctx context.Context) (*genai.Client, error) {
	if c.apiKey == "" {
		return nil, ErrNoAPIKey
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  c.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return client, nil
}

// GenerateChatReply replays history as prior turns and submits message,
// returning the model's reply text.
func (c *Client) GenerateChatReply(ctx context.Context, history []Turn, message string) (string, error) {
	client, err := c.connect(ctx)
	if err != nil {
		return "", err
	}

	chat, err := client.Chats.Create(ctx, chatModel, nil, toContents(history))
	if err != nil {
		return "", fmt.Errorf("failed to create chat session: %w", err)
	}

	resp, err := chat.SendMessage(ctx, genai.Part{Text: message})
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}
	return responseText(resp)
}

// GenerateText submits a single standalone prompt.
func (c *Client) GenerateText(ctx context.Context, prompt string) (string, error) {
	client, err := c.connect(ctx)
	if err != nil {
		return "", err
	}
	resp, err := client.Models.GenerateContent(ctx, chatModel, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}
	return responseText(resp)
}

// GenerateImpression turns the discussion about a book into an image plus
// caption. Three steps: a text model writes an English image prompt from
// the history, the selected image model renders it, and the same prompt
// chat translates the prompt to Japanese for the caption. Splitting prompt
// generation from image generation keeps the caption semantically tied to
// the exact prompt the image was rendered from. Any step failing aborts
// the pipeline.
func (c *Client) GenerateImpression(ctx context.Context, bookTitle string, history []Turn) (Impression, error) {
	client, err := c.connect(ctx)
	if err != nil {
		return Impression{}, err
	}

	// Step 1: derive an English image prompt from the discussion
	promptChat, err := client.Chats.Create(ctx, chatModel, nil, toContents(history))
	if err != nil {
		return Impression{}, fmt.Errorf("failed to create chat session: %w", err)
	}
	promptReq := fmt.Sprintf(`Based on our discussion about %q, create a detailed prompt for an AI image generator to visualize the user's impression or the scene we discussed. The prompt should be in English, descriptive, and artistic. Output ONLY the prompt.`, bookTitle)
	promptResp, err := promptChat.SendMessage(ctx, genai.Part{Text: promptReq})
	if err != nil {
		return Impression{}, fmt.Errorf("failed to generate image prompt: %w", err)
	}
	imagePrompt, err := responseText(promptResp)
	if err != nil {
		return Impression{}, err
	}

	// Step 2: render the image; the two variants take different request shapes
	model := nanoImageModel
	var cfg *genai.GenerateContentConfig
	if c.imageVariant == VariantPro {
		model = proImageModel
	} else {
		cfg = &genai.GenerateContentConfig{ResponseModalities: []string{"IMAGE"}}
	}
	imageResp, err := client.Models.GenerateContent(ctx, model, genai.Text(imagePrompt), cfg)
	if err != nil {
		return Impression{}, fmt.Errorf("failed to generate image: %w", err)
	}
	part := firstImagePart(imageResp)
	if part == nil || part.InlineData == nil {
		return Impression{}, fmt.Errorf("unsupported image response format: %s", describePart(firstPart(imageResp)))
	}
	image := fmt.Sprintf("data:%s;base64,%s", part.InlineData.MIMEType,
		base64.StdEncoding.EncodeToString(part.InlineData.Data))

	// Step 3: translate the prompt for the user-facing caption
	translateResp, err := promptChat.SendMessage(ctx, genai.Part{
		Text: "Translate the following English text to Japanese. Output ONLY the Japanese translation:\n\n" + imagePrompt,
	})
	if err != nil {
		return Impression{}, fmt.Errorf("failed to translate caption: %w", err)
	}
	caption, err := responseText(translateResp)
	if err != nil {
		return Impression{}, err
	}

	return Impression{Image: image, Caption: caption}, nil
}

func toContents(history []Turn) []*genai.Content {
	var contents []*genai.Content
	for _, turn := range history {
		role := "user"
		if turn.Role == "model" {
			role = "model"
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: turn.Text}},
		})
	}
	return contents
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no response from Gemini")
	}
	part := resp.Candidates[0].Content.Parts[0]
	if part.Text != "" {
		return part.Text, nil
	}
	return "", fmt.Errorf("empty response from Gemini")
}

func firstPart(resp *genai.GenerateContentResponse) *genai.Part {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil
	}
	return resp.Candidates[0].Content.Parts[0]
}

// firstImagePart skips any leading text parts the image models emit
// alongside the rendered image.
func firstImagePart(resp *genai.GenerateContentResponse) *genai.Part {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.InlineData != nil {
			return part
		}
	}
	return nil
}

// describePart renders best-effort structural information about an
// unexpected response part for the diagnostic error.
func describePart(part *genai.Part) string {
	if part == nil {
		return "part is missing"
	}
	var fields []string
	if part.Text != "" {
		fields = append(fields, "text")
	}
	if part.InlineData != nil {
		fields = append(fields, "inlineData")
	}
	if part.FunctionCall != nil {
		fields = append(fields, "functionCall")
	}
	raw, _ := json.Marshal(part)
	detail := string(raw)
	if len(detail) > 500 {
		detail = detail[:500]
	}
	return fmt.Sprintf("part fields: [%s], part: %s", strings.Join(fields, ", "), detail)
}
