package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"oai-compat/internal/openai"
)

// SkipResult records a probe that was not executed. It is appended to the
// report but excluded from the pass/fail tally.
func SkipResult(endpoint Endpoint) Result {
	return Result{
		Probe:   endpoint.Name,
		Method:  endpoint.Method,
		Path:    endpoint.Path,
		Skipped: true,
		Summary: "skipped: no API key provided",
	}
}

// Probe issues one HTTP exchange for the endpoint and classifies the result.
// Any 2xx status is a success; everything else, including transport errors
// and timeouts, is a failure. Shape warnings never change the outcome.
func Probe(ctx context.Context, client *openai.Client, target Target, endpoint Endpoint) Result {
	result := Result{
		Probe:  endpoint.Name,
		Method: endpoint.Method,
		Path:   endpoint.Path,
	}

	var payload any
	if endpoint.Payload != nil {
		payload = endpoint.Payload(target)
	}
	raw, err := client.Do(ctx, endpoint.Method, endpoint.Path, payload, openai.RequestOptions{ExtraHeaders: endpoint.Headers})
	if err != nil {
		result.Error = err.Error()
		result.Summary = "request failed"
		if raw != nil {
			result.StatusCode = raw.StatusCode
			result.DurationMS = raw.Duration.Milliseconds()
		}
		return result
	}

	result.StatusCode = raw.StatusCode
	result.DurationMS = raw.Duration.Milliseconds()
	result.Success = raw.StatusCode >= 200 && raw.StatusCode < 300
	result.Body = decodeBody(raw.Body)
	result.Summary = fmt.Sprintf("HTTP %d", raw.StatusCode)

	if result.Success {
		result.Warnings = ValidateShape(endpoint.Name, raw.Body)
		result.Metrics = enrichMetrics(endpoint.Name, raw.Body, target)
	} else {
		message := openai.ExtractErrorMessage(raw.Body)
		if message == "" {
			message = http.StatusText(raw.StatusCode)
		}
		result.Error = message
	}
	return result
}

// RunAll executes every probe in order against the target and folds the
// outcomes into one report. Probes run strictly sequentially.
func RunAll(ctx context.Context, target Target) *Report {
	target = target.Normalize()
	client := openai.NewClient(openai.Config{BaseURL: target.BaseURL, APIKey: target.APIKey})
	return RunAllWithClient(ctx, client, target)
}

// RunAllWithClient is RunAll with a caller-supplied client, used when the
// caller needs to control transport settings.
func RunAllWithClient(ctx context.Context, client *openai.Client, target Target) *Report {
	target = target.Normalize()
	report := NewReport(target)
	for _, endpoint := range Endpoints() {
		if endpoint.RequiresKey && !target.KeyProvided() {
			AppendResult(report, SkipResult(endpoint))
			continue
		}
		AppendResult(report, Probe(ctx, client, target, endpoint))
	}
	return report
}

// decodeBody returns the parsed JSON value, or the raw text (truncated) when
// the body does not parse.
func decodeBody(body []byte) any {
	if len(body) == 0 {
		return nil
	}
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return firstN(string(body), 2048)
	}
	return decoded
}

func enrichMetrics(name string, body []byte, target Target) map[string]any {
	switch name {
	case ProbeModels:
		var decoded openai.ModelsResponse
		if json.Unmarshal(body, &decoded) != nil || decoded.Data == nil {
			return nil
		}
		listed := false
		for _, model := range decoded.Data {
			if model.ID == target.Model {
				listed = true
				break
			}
		}
		return map[string]any{
			"model_count":         len(decoded.Data),
			"target_model_listed": listed,
		}
	case ProbeChat:
		var decoded openai.ChatCompletionResponse
		if json.Unmarshal(body, &decoded) != nil {
			return nil
		}
		metrics := map[string]any{}
		if len(decoded.Choices) > 0 {
			metrics["finish_reason"] = decoded.Choices[0].FinishReason
			metrics["content_chars"] = len(decoded.Choices[0].Message.Content)
		}
		if decoded.Usage != nil {
			metrics["prompt_tokens"] = decoded.Usage.PromptTokens
			metrics["completion_tokens"] = decoded.Usage.CompletionTokens
			metrics["total_tokens"] = decoded.Usage.TotalTokens
		}
		if len(metrics) == 0 {
			return nil
		}
		return metrics
	case ProbeEmbeddings:
		var decoded openai.EmbeddingsResponse
		if json.Unmarshal(body, &decoded) != nil || len(decoded.Data) == 0 {
			return nil
		}
		return map[string]any{
			"vector_count": len(decoded.Data),
			"dimensions":   len(decoded.Data[0].Embedding),
		}
	default:
		return nil
	}
}
