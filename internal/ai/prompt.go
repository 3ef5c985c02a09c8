package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	"aisorter/pkg/domain"
	"aisorter/pkg/redact"
)

// systemPrompt закреплённая инструкция модели. Формат ответа — строгий JSON
// массив той же длины, что и вход; текст подобран под детерминированный
// разбор, а не под качество прозы.
const systemPrompt = `You are a telemetry classification engine for an observability pipeline.
You receive a JSON array of telemetry items. For EACH item, decide its severity:
- "critical": immediate operator attention (outages, data loss, security events, hard errors)
- "warning": degraded but functioning (retries, latency, resource pressure)
- "info": routine telemetry with no action needed
Respond with ONLY a JSON array, no prose and no markdown, of the same length and
order as the input. Each element must be an object with exactly two fields:
"category" ("critical"|"warning"|"info") and "forward_to"
("alerting"|"storage"|"archive"). Map critical->alerting, warning->storage,
info->archive.`

// chatMessage одно сообщение chat-completions запроса
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest тело запроса к OpenAI-совместимому endpoint
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

// chatResponse ответ chat-completions
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// buildRequest собирает тело запроса. Содержимое элементов проходит redact
// до попадания в prompt: PII не покидает sidecar.
func buildRequest(model string, items []domain.Item) (*chatRequest, error) {
	sanitized := make([]domain.Item, len(items))
	for i, item := range items {
		sanitized[i] = domain.Item{
			Type:    item.Type,
			Content: redact.Map(item.Content),
		}
	}

	encoded, err := domain.EncodeItems(sanitized)
	if err != nil {
		return nil, fmt.Errorf("failed to encode items: %w", err)
	}

	return &chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: "Classify these telemetry items:\n" + encoded},
		},
		Temperature: 0,
	}, nil
}

// stripFences убирает markdown ограждение, которым модели часто оборачивают JSON
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

// rawClassification элемент ответа модели до нормализации
type rawClassification struct {
	Category  string `json:"category"`
	ForwardTo string `json:"forward_to"`
}

// parseClassifications разбирает содержимое ответа модели в результат ровно
// из want элементов. Нераспознанная категория остаётся пустой — решение о
// fallback принимает orchestrator. Лишние элементы отбрасываются, недостающие
// дополняются пустыми. Ошибка только если содержимое вообще не JSON массив.
func parseClassifications(content string, want int) ([]domain.Classification, error) {
	var raw []rawClassification
	if err := json.Unmarshal([]byte(stripFences(content)), &raw); err != nil {
		return nil, fmt.Errorf("model response is not a JSON array: %w", err)
	}

	out := make([]domain.Classification, want)
	for i := 0; i < want && i < len(raw); i++ {
		c := domain.Category(strings.ToLower(strings.TrimSpace(raw[i].Category)))
		if !domain.ValidCategory(c) {
			continue
		}
		out[i] = domain.Classification{
			Category:  c,
			ForwardTo: domain.DestinationFor(c),
		}
	}
	return out, nil
}
