// Package ai calls OpenAI-compatible vision and embedding endpoints.
// Endpoint URLs, models and keys come from the config center so they
// can be changed at runtime without a restart.
package ai

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/qihaolou/Foxel/config"
	"github.com/qihaolou/Foxel/lib/rest"
)

// Config center keys.
const (
	KeyVisionURL   = "AI_VISION_API_URL"
	KeyVisionModel = "AI_VISION_MODEL"
	KeyVisionKey   = "AI_VISION_API_KEY"
	KeyEmbedURL    = "AI_EMBED_API_URL"
	KeyEmbedModel  = "AI_EMBED_MODEL"
	KeyEmbedKey    = "AI_EMBED_API_KEY"
)

// requestTimeout caps one model call. Vision models routinely take tens
// of seconds on large images.
const requestTimeout = 60 * time.Second

// Describer produces a natural-language description of an image.
type Describer interface {
	DescribeImage(ctx context.Context, image []byte, mime string) (string, error)
}

// Embedder turns text into an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Client implements Describer and Embedder over HTTP.
type Client struct {
	conf *config.Center
	srv  *rest.Client
}

// NewClient makes a Client reading its endpoints from conf.
func NewClient(conf *config.Center) *Client {
	return &Client{
		conf: conf,
		srv:  rest.NewClient(&http.Client{Timeout: requestTimeout}),
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (c *Client) endpoint(urlKey, modelKey, keyKey string) (url, model, key string, err error) {
	if url, err = c.conf.Get(urlKey); err != nil {
		return "", "", "", err
	}
	if url == "" {
		return "", "", "", errors.Errorf("%s is not configured", urlKey)
	}
	model = c.conf.GetDefault(modelKey, "")
	key = c.conf.GetDefault(keyKey, "")
	return url, model, key, nil
}

// DescribeImage sends the image to the vision chat endpoint and returns
// the model's description. mime defaults to image/jpeg.
func (c *Client) DescribeImage(ctx context.Context, image []byte, mime string) (string, error) {
	url, model, key, err := c.endpoint(KeyVisionURL, KeyVisionModel, KeyVisionKey)
	if err != nil {
		return "", err
	}
	if mime == "" {
		mime = "image/jpeg"
	}
	req := chatRequest{
		Model: model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{
					Type: "image_url",
					ImageURL: &imageURL{
						URL:    "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(image),
						Detail: "high",
					},
				},
				{Type: "text", Text: "Describe this image."},
			},
		}},
	}
	opts := rest.Opts{
		Method:  "POST",
		RootURL: url,
		ExtraHeaders: map[string]string{
			"Authorization": "Bearer " + key,
		},
	}
	var resp chatResponse
	if _, err := c.srv.CallJSON(ctx, &opts, &req, &resp); err != nil {
		return "", errors.Wrap(err, "vision request failed")
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("vision endpoint returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Embed turns text into a vector via the embeddings endpoint. When the
// configured URL points at chat/completions the embeddings sibling is
// used, so one base URL can serve both.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	url, model, key, err := c.endpoint(KeyEmbedURL, KeyEmbedModel, KeyEmbedKey)
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(url, "chat/completions") {
		url = strings.TrimSuffix(url, "chat/completions") + "embeddings"
	}
	opts := rest.Opts{
		Method:  "POST",
		RootURL: url,
		ExtraHeaders: map[string]string{
			"Authorization": "Bearer " + key,
		},
	}
	var resp embedResponse
	if _, err := c.srv.CallJSON(ctx, &opts, &embedRequest{Model: model, Input: text}, &resp); err != nil {
		return nil, errors.Wrap(err, "embedding request failed")
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("embedding endpoint returned no data")
	}
	return resp.Data[0].Embedding, nil
}

// Check the interfaces are satisfied
var (
	_ Describer = (*Client)(nil)
	_ Embedder  = (*Client)(nil)
)
