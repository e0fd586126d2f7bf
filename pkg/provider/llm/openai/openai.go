// Package openai provides an LLM provider backed by the OpenAI API.
//
// Unlike the anyllm universal provider, this one supports native structured
// output (JSON schema response format, so responses arrive pre-validated) and
// audio input parts for transcription-style steps.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/scribeval/pkg/provider/llm"
)

// Compile-time assertion that Provider implements llm.Provider.
var _ llm.Provider = (*Provider)(nil)

// Provider implements llm.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI LLM Provider.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	client := oai.NewClient(reqOpts...)
	return &Provider{client: client, model: model}, nil
}

// Model implements llm.Provider.
func (p *Provider) Model() string {
	return p.model
}

// Invoke implements llm.Provider. When the request carries a JSON schema the
// OpenAI structured-output response format is used and the response's Parsed
// field is populated with the (backend-validated) JSON content.
func (p *Provider) Invoke(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if req.Prompt == "" {
		return nil, fmt.Errorf("openai: prompt must not be empty")
	}

	params, err := p.buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("openai: build params: %w", err)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty choices in response")
	}

	if req.OnProgress != nil {
		req.OnProgress(1)
	}

	out := &llm.Response{Text: resp.Choices[0].Message.Content}
	if req.Format == llm.FormatJSON && len(req.Schema) > 0 {
		// Structured output guarantees schema-conformant JSON content.
		out.Parsed = json.RawMessage(out.Text)
	}
	return out, nil
}

// buildParams converts an llm.Request into OpenAI SDK params.
func (p *Provider) buildParams(req llm.Request) (oai.ChatCompletionNewParams, error) {
	var messages []oai.ChatCompletionMessageParamUnion

	if req.System != "" {
		messages = append(messages, oai.SystemMessage(req.System))
	}

	if req.Audio != nil {
		format, err := audioFormat(req.Audio.MIMEType)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		parts := []oai.ChatCompletionContentPartUnionParam{
			{OfText: &oai.ChatCompletionContentPartTextParam{Text: req.Prompt}},
			{OfInputAudio: &oai.ChatCompletionContentPartInputAudioParam{
				InputAudio: oai.ChatCompletionContentPartInputAudioInputAudioParam{
					Data:   base64.StdEncoding.EncodeToString(req.Audio.Data),
					Format: format,
				},
			}},
		}
		user := oai.ChatCompletionUserMessageParam{
			Content: oai.ChatCompletionUserMessageParamContentUnion{
				OfArrayOfContentParts: parts,
			},
		}
		messages = append(messages, oai.ChatCompletionMessageParamUnion{OfUser: &user})
	} else {
		messages = append(messages, oai.UserMessage(req.Prompt))
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: messages,
	}

	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxOutputTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxOutputTokens))
	}

	if req.Format == llm.FormatJSON {
		if len(req.Schema) > 0 {
			var schema map[string]any
			if err := json.Unmarshal(req.Schema, &schema); err != nil {
				return oai.ChatCompletionNewParams{}, fmt.Errorf("invalid schema: %w", err)
			}
			name := req.SchemaName
			if name == "" {
				name = "response"
			}
			params.ResponseFormat = oai.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
					JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
						Name:   name,
						Schema: schema,
						Strict: param.NewOpt(true),
					},
				},
			}
		} else {
			params.ResponseFormat = oai.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
			}
		}
	}

	return params, nil
}

// audioFormat maps a MIME type to the OpenAI input-audio format label.
func audioFormat(mimeType string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(mimeType)) {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return "wav", nil
	case "audio/mpeg", "audio/mp3":
		return "mp3", nil
	default:
		return "", fmt.Errorf("unsupported audio MIME type %q (supported: audio/wav, audio/mpeg)", mimeType)
	}
}
