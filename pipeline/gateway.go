package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/lmarinho/kgraph/llm"
)

// retryBudget is the number of local retries per gateway call. The single
// retry carries a corrective follow-up when the failure was a schema or
// referential-integrity violation; it never crosses a stage boundary.
const retryBudget = 1

// payload is a stage response shape. Every gateway response is decoded into
// a payload and validated before any downstream stage may consume it.
type payload interface {
	Validate() error
}

// invoke sends a prompt through the LLM gateway, decodes the response into
// out, and validates it. On a classified failure it retries once, then
// surfaces the last classified error.
func (r *Runner) invoke(ctx context.Context, stage, prompt string, out payload) error {
	var lastErr error
	for attempt := 0; attempt <= retryBudget; attempt++ {
		p := prompt
		if attempt > 0 {
			if correctable(lastErr) {
				p = prompt + fmt.Sprintf(correctiveSuffix, trimReason(lastErr))
			}
			slog.Warn("pipeline: retrying gateway call",
				"stage", stage, "attempt", attempt+1, "error", lastErr)
		}

		err := r.call(ctx, p, out)
		if err == nil {
			return nil
		}
		lastErr = err

		// Cancellation is the caller's decision, not a response defect.
		if ctx.Err() != nil {
			break
		}
	}
	return lastErr
}

// call performs one gateway round trip: chat completion, JSON recovery,
// decode, schema validation. Any failure comes back classified.
func (r *Runner) call(ctx context.Context, prompt string, out payload) error {
	resp, err := r.chat.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "user", Content: prompt},
		},
		Temperature:    0.0,
		ResponseFormat: "json_object",
	})
	if err != nil {
		return classifyTransport(err)
	}

	raw, err := extractJSON(resp.Content)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaViolation, err)
	}

	if err := json.Unmarshal([]byte(raw), out); err != nil {
		// The model sometimes emits almost-JSON (unquoted keys, trailing
		// commas). Repair before declaring a violation.
		repaired, rerr := jsonrepair.JSONRepair(raw)
		if rerr != nil {
			return fmt.Errorf("%w: %v", ErrSchemaViolation, err)
		}
		if err := json.Unmarshal([]byte(repaired), out); err != nil {
			return fmt.Errorf("%w: %v", ErrSchemaViolation, err)
		}
	}

	if err := out.Validate(); err != nil {
		if errors.Is(err, ErrReferentialIntegrity) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrSchemaViolation, err)
	}
	return nil
}

// correctable reports whether a failure class warrants the corrective
// follow-up prompt on retry. Transport failures get a plain retry.
func correctable(err error) bool {
	return errors.Is(err, ErrSchemaViolation) || errors.Is(err, ErrReferentialIntegrity)
}

// classifyTransport maps provider errors onto the gateway error taxonomy.
func classifyTransport(err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %v", ErrGatewayTimeout, err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%w: %v", ErrGatewayTimeout, err)
	default:
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
}

// trimReason shortens a validation error for embedding into the corrective
// prompt.
func trimReason(err error) string {
	reason := err.Error()
	const maxReason = 500
	if len(reason) > maxReason {
		reason = reason[:maxReason]
	}
	return reason
}

// codeBlockRe strips markdown code fences from LLM output.
var codeBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// extractJSON attempts to find a JSON object in the LLM response text. It
// handles common LLM quirks: markdown code blocks, text before/after JSON.
func extractJSON(raw string) (string, error) {
	if m := codeBlockRe.FindStringSubmatch(raw); len(m) > 1 {
		raw = m[1]
	}

	raw = strings.TrimSpace(raw)

	if strings.HasPrefix(raw, "{") {
		return raw, nil
	}

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1], nil
	}

	return "", fmt.Errorf("no JSON object found in response")
}
