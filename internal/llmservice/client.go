package llmservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"quikbot/internal/config"
)

const maxErrorBody = 2048

// Client is an llms.Model that applies the fixed generation parameters, bounds
// every call with a timeout and classifies failures.
type Client struct {
	llm         llms.Model
	timeout     time.Duration
	callOptions []llms.CallOption
}

var _ llms.Model = (*Client)(nil)

// New creates the remote LLM client. Incomplete credentials do not fail here:
// every call then returns ErrAuth.
func New(creds config.Credentials, llmConfig *config.LLMConfig, gen config.GenerationConfig) (*Client, error) {
	log.Debug().Interface("llmConfig", map[string]any{
		"base_url": creds.APIURL,
		"model":    llmConfig.Model,
		"timeout":  llmConfig.Timeout.String(),
	}).Msg("Creating LLM client")

	if !creds.Complete() {
		return NewWithModel(unconfigured{}, llmConfig.Timeout, gen), nil
	}

	llm, err := openai.New(
		openai.WithBaseURL(creds.APIURL),
		openai.WithToken(strings.TrimPrefix(creds.APIKey, "Bearer ")),
		openai.WithModel(llmConfig.Model),
		openai.WithHTTPClient(&http.Client{
			Timeout: llmConfig.Timeout,
			Transport: &transport{
				base:   http.DefaultTransport,
				params: RequestParams(gen),
			},
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize llm: %w", err)
	}
	return NewWithModel(llm, llmConfig.Timeout, gen), nil
}

// NewWithModel wraps an existing model
func NewWithModel(llm llms.Model, timeout time.Duration, gen config.GenerationConfig) *Client {
	return &Client{llm: llm, timeout: timeout, callOptions: CallOptions(gen)}
}

// CallOptions converts the generation parameters into langchaingo options.
// Streaming is never requested.
func CallOptions(gen config.GenerationConfig) []llms.CallOption {
	temperature := 0.0
	if gen.DecodingMethod == config.DecodingSample {
		temperature = gen.Temperature
	}
	opts := []llms.CallOption{
		llms.WithTemperature(temperature),
		llms.WithMaxTokens(gen.MaxNewTokens),
		llms.WithMinLength(gen.MinNewTokens),
		llms.WithRepetitionPenalty(gen.RepetitionPenalty),
	}
	if gen.DecodingMethod == config.DecodingGreedy {
		opts = append(opts, llms.WithTopK(1))
	}
	return opts
}

// RequestParams are the generation fields written into every chat completion
// body. The openai client has no fields for most of them, so they are added on
// the wire using the names vLLM and TGI accept.
func RequestParams(gen config.GenerationConfig) map[string]any {
	params := map[string]any{
		"max_tokens":         gen.MaxNewTokens,
		"min_tokens":         gen.MinNewTokens,
		"repetition_penalty": gen.RepetitionPenalty,
		"stream":             false,
	}
	if gen.DecodingMethod == config.DecodingSample {
		params["temperature"] = gen.Temperature
	} else {
		params["temperature"] = 0
		params["top_k"] = 1
	}
	return params
}

// GenerateContent forwards to the remote model. The generation parameters are
// applied after the caller's options so they cannot be overridden per request.
func (c *Client) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	opts := make([]llms.CallOption, 0, len(options)+len(c.callOptions))
	opts = append(opts, options...)
	opts = append(opts, c.callOptions...)

	start := time.Now()
	resp, err := c.llm.GenerateContent(ctx, messages, opts...)
	if err != nil {
		err = Classify(err)
		log.Error().Err(err).Dur("took", time.Since(start)).Msg("LLM call failed")
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrRemote)
	}
	log.Debug().Dur("took", time.Since(start)).Msg("LLM call finished")
	return resp, nil
}

func (c *Client) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, c, prompt, options...)
}

// unconfigured stands in for the remote model when credentials are missing
type unconfigured struct{}

func (unconfigured) GenerateContent(context.Context, []llms.MessageContent, ...llms.CallOption) (*llms.ContentResponse, error) {
	return nil, fmt.Errorf("%w: %s or %s is not set", ErrAuth, config.EnvAPIKey, config.EnvAPIURL)
}

func (u unconfigured) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, u, prompt, options...)
}

// transport adds the generation params to chat completion requests and turns
// non-2xx responses into *StatusError
type transport struct {
	base   http.RoundTripper
	params map[string]any
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if len(t.params) > 0 && req.Method == http.MethodPost && req.Body != nil &&
		strings.HasSuffix(req.URL.Path, "/chat/completions") {
		withParams, err := addParams(req, t.params)
		if err != nil {
			return nil, err
		}
		req = withParams
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return resp, nil
}

// addParams returns a copy of req whose JSON body carries params
func addParams(req *http.Request, params map[string]any) (*http.Request, error) {
	body, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}

	var payload map[string]any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode request body: %w", err)
	}
	for k, v := range params {
		payload[k] = v
	}
	// max_tokens is the only token limit sent
	delete(payload, "max_completion_tokens")

	out, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}
	clone := req.Clone(req.Context())
	clone.Body = io.NopCloser(bytes.NewReader(out))
	clone.ContentLength = int64(len(out))
	clone.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(out)), nil
	}
	return clone, nil
}
