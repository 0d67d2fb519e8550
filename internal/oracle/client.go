package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/fixd/internal/config"
)

const defaultCallTimeout = 60 * time.Second

// ClientConfig configures the LLM-backed oracle client.
type ClientConfig struct {
	APIKey  config.Secret
	BaseURL string
	Model   string

	// Timeout is the hard per-call budget. Expiry surfaces as an error from
	// the call, which the orchestrator treats as a generation failure.
	Timeout time.Duration
}

// Client implements Oracle against an OpenAI-compatible chat completion API.
type Client struct {
	api      *openai.Client
	model    string
	timeout  time.Duration
	validate *validator.Validate
	logger   *zap.Logger
}

// NewClient creates an oracle client.
func NewClient(cfg ClientConfig, logger *zap.Logger) (*Client, error) {
	if !cfg.APIKey.IsSet() {
		return nil, errors.New("oracle API key not set")
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultCallTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	apiCfg := openai.DefaultConfig(cfg.APIKey.Value())
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}

	return &Client{
		api:      openai.NewClientWithConfig(apiCfg),
		model:    cfg.Model,
		timeout:  cfg.Timeout,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}, nil
}

const (
	analyzeSystemPrompt = `You are a senior engineer diagnosing a reported code issue.
Respond with a single JSON object: {"root_cause": string, "proposed_solution": string,
"files_to_modify": [string], "risks": [string], "testing_plan": string}.`

	generateSystemPrompt = `You are a senior engineer implementing a fix.
Respond with a single JSON object: {"changes": [{"file": string, "modifications": string,
"explanation": string}], "new_files": [{"file": string, "modifications": string,
"explanation": string}], "dependencies": [string]}.
"modifications" is always the complete updated file content.`

	healSystemPrompt = `You are a senior engineer fixing validation failures in a patch you wrote.
Make the smallest targeted correction that addresses the reported errors.
Respond with the same JSON object schema as the original generation:
{"changes": [{"file": string, "modifications": string, "explanation": string}],
"new_files": [...], "dependencies": [string]}.`

	reviewSystemPrompt = `You are reviewing a code change for defects.
Respond with a single JSON object: {"findings": [{"severity": "CRITICAL"|"HIGH"|"MEDIUM"|"LOW"|"INFO",
"file_path": string, "line": number, "issue": string, "explanation": string,
"suggestion": string, "category": string}]}. An empty findings array is a valid answer.`
)

// Analyze implements Oracle.
func (c *Client) Analyze(ctx context.Context, req AnalysisRequest) (*Analysis, error) {
	var sb strings.Builder
	sb.WriteString("Issue:\n")
	sb.WriteString(req.IssueDescription)
	if len(req.TargetFiles) > 0 {
		sb.WriteString("\n\nFiles suspected relevant:\n")
		for _, f := range req.TargetFiles {
			sb.WriteString("- " + f + "\n")
		}
	}

	var out Analysis
	if err := c.complete(ctx, "analyze", analyzeSystemPrompt, sb.String(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Generate implements Oracle.
func (c *Client) Generate(ctx context.Context, req GenerationRequest) (*ChangeSet, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Issue:\n%s\n\nRoot cause:\n%s\n\nPlanned solution:\n%s\n",
		req.IssueDescription, req.Analysis.RootCause, req.Analysis.ProposedSolution)
	writeFileBlobs(&sb, req.OriginalFiles)

	var out ChangeSet
	if err := c.complete(ctx, "generate", generateSystemPrompt, sb.String(), &out); err != nil {
		return nil, err
	}
	if out.Empty() {
		return nil, errors.New("oracle generate response proposes no file changes")
	}
	return &out, nil
}

// Heal implements Oracle.
func (c *Client) Heal(ctx context.Context, req HealRequest) (*ChangeSet, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Issue:\n%s\n\nValidation failures:\n%s\n", req.IssueDescription, req.ErrorContext)
	writeFileBlobs(&sb, req.CurrentFiles)

	var out ChangeSet
	if err := c.complete(ctx, "heal", healSystemPrompt, sb.String(), &out); err != nil {
		return nil, err
	}
	if out.Empty() {
		return nil, errors.New("oracle heal response proposes no file changes")
	}
	return &out, nil
}

// Review implements Oracle.
func (c *Client) Review(ctx context.Context, req ReviewRequest) ([]Finding, error) {
	prompt := fmt.Sprintf("Issue:\n%s\n\nDiff under review:\n%s\n", req.IssueDescription, req.DiffText)

	var out struct {
		Findings []Finding `json:"findings" validate:"dive"`
	}
	if err := c.complete(ctx, "review", reviewSystemPrompt, prompt, &out); err != nil {
		return nil, err
	}
	return out.Findings, nil
}

// complete performs one bounded chat completion and decodes the JSON answer
// into target, validating it against the struct schema.
func (c *Client) complete(ctx context.Context, op, system, user string, target any) error {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("oracle %s call timed out after %s: %w", op, c.timeout, err)
		}
		return fmt.Errorf("oracle %s call failed: %w", op, err)
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("oracle %s call returned no choices", op)
	}

	content := stripFences(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), target); err != nil {
		return fmt.Errorf("oracle %s response is not valid JSON: %w", op, err)
	}
	if err := c.validate.Struct(target); err != nil {
		return fmt.Errorf("oracle %s response failed schema validation: %w", op, err)
	}

	c.logger.Debug("oracle call complete",
		zap.String("op", op),
		zap.Duration("duration", time.Since(start)),
		zap.Int("tokens", resp.Usage.TotalTokens),
	)
	return nil
}

func writeFileBlobs(sb *strings.Builder, files map[string]string) {
	if len(files) == 0 {
		return
	}
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	sb.WriteString("\nCurrent file contents:\n")
	for _, path := range paths {
		fmt.Fprintf(sb, "\n--- %s ---\n%s\n", path, files[path])
	}
}

// stripFences removes a wrapping markdown code fence some models emit even
// when asked for raw JSON.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
