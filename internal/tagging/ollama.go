package tagging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"

	"photopipe/internal/models"
)

const labelPrompt = `List the objects, scenes and concepts visible in this image.
Reply only with JSON of the form {"labels":[{"name":"cat","confidence":0.97}]}.
confidence is a number between 0 and 1. Order labels from most to least confident.`

// maxImageBytes bounds how much of a signed URL response is read.
const maxImageBytes = 64 << 20

// OllamaTagger labels images with a vision model served by Ollama.
type OllamaTagger struct {
	client       *api.Client
	http         *http.Client
	model        string
	maxDimension int
}

type bearerTransport struct {
	key  string
	base http.RoundTripper
}

func (t *bearerTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Set("Authorization", "Bearer "+t.key)
	return t.base.RoundTrip(r)
}

// NewOllamaTagger builds a tagger for the Ollama server at endpoint. apiKey is
// sent as a bearer token when set, for servers behind an authenticating proxy.
func NewOllamaTagger(endpoint, model, apiKey string, maxDimension int) (*OllamaTagger, error) {
	const op = "tagging.NewOllamaTagger"

	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid URL: %v", op, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("%s: invalid URL %q", op, endpoint)
	}
	base := &url.URL{Scheme: parsed.Scheme, Host: parsed.Host}

	httpClient := http.DefaultClient
	if apiKey != "" {
		httpClient = &http.Client{Transport: &bearerTransport{key: apiKey, base: http.DefaultTransport}}
	}

	return &OllamaTagger{
		client:       api.NewClient(base, httpClient),
		http:         http.DefaultClient,
		model:        model,
		maxDimension: maxDimension,
	}, nil
}

// Tag downloads the image behind imageURL and returns the model's labels in
// the order the model produced them.
func (t *OllamaTagger) Tag(ctx context.Context, imageURL string) ([]models.Label, error) {
	const op = "tagging.Tag"

	raw, err := t.fetch(ctx, imageURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", op, err)
	}
	img, err := prepareImage(raw, t.maxDimension)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", op, err)
	}

	streamFalse := false
	req := &api.ChatRequest{
		Model: t.model,
		Messages: []api.Message{
			{
				Role:    "user",
				Content: labelPrompt,
				Images:  []api.ImageData{api.ImageData(img)},
			},
		},
		Stream:  &streamFalse,
		Format:  json.RawMessage(`"json"`),
		Options: map[string]any{"temperature": 0},
	}

	var content string
	err = t.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		content += resp.Message.Content
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: ollama chat error: %v", op, err)
	}
	if content == "" {
		return nil, fmt.Errorf("%s: empty response from ollama", op)
	}

	labels, err := parseLabels(content)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", op, err)
	}
	return labels, nil
}

func (t *OllamaTagger) fetch(ctx context.Context, imageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build image request: %w", err)
	}
	resp, err := t.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch image: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	return data, nil
}
