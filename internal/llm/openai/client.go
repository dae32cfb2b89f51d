package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoice-reconciler/constants"
	"github.com/joseph-ayodele/invoice-reconciler/internal/common"
	"github.com/joseph-ayodele/invoice-reconciler/internal/entity"
	"github.com/joseph-ayodele/invoice-reconciler/internal/llm"
)

// Extract implements llm.Extractor with one chat/completions call per page.
// PDF pages are sent as text; image pages as a data URL for the vision model.
func (c *Client) Extract(ctx context.Context, page llm.Page) (entity.Extraction, []byte, error) {
	rid := uuid.New().String()
	start := time.Now()

	c.logger.Info("llm.extract.start",
		"req_id", rid,
		"model", c.cfg.Model,
		"page", page.Index,
		"kind", page.Kind,
		"text_len", len(page.Text),
		"image_bytes", len(page.Image),
	)

	schema := llm.BuildInvoiceJSONSchema()
	body := map[string]any{
		"model":           c.cfg.Model,
		"temperature":     c.cfg.Temperature,
		"max_tokens":      c.cfg.MaxTokens,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": llm.BuildSystemPrompt()},
			{"role": "system", "content": "JSON Schema:\n" + mustJSON(schema)},
			{"role": "user", "content": c.userContent(page)},
		},
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	headers := map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}
	raw, _, httpErr := llm.SendJSON(ctx, c.http, endpoint, body, headers, c.logger)
	if httpErr != nil {
		c.logger.Error("llm.extract.http_error",
			"req_id", rid, "error", httpErr,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return entity.Extraction{}, raw, failed("completion request", httpErr)
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		c.logger.Error("llm.extract.decode_error",
			"req_id", rid, "error", err, "raw_bytes", len(raw),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return entity.Extraction{}, raw, failed("decode openai response", err)
	}
	if len(cc.Choices) == 0 {
		c.logger.Error("llm.extract.no_choices",
			"req_id", rid, "raw", string(raw),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return entity.Extraction{}, raw, failed("openai response", fmt.Errorf("no choices"))
	}
	rawContent := []byte(stripFence(cc.Choices[0].Message.Content))

	// Validate strictly first.
	if err := llm.ValidateInvoiceJSON(rawContent); err != nil {
		if !c.cfg.LenientOptional {
			c.logger.Error("llm.extract.schema_validation_failed",
				"req_id", rid, "error", err, "content", string(rawContent),
				"elapsed_ms", time.Since(start).Milliseconds(),
			)
			return entity.Extraction{}, rawContent, failed("schema validation", err)
		}
		cleaned, dropped, sErr := llm.NormalizeAndSanitizeJSON(rawContent, c.logger)
		if sErr != nil {
			c.logger.Error("llm.extract.sanitize_failed",
				"req_id", rid, "error", sErr,
				"elapsed_ms", time.Since(start).Milliseconds(),
			)
			return entity.Extraction{}, rawContent, failed("sanitize", sErr)
		}
		if vErr := llm.ValidateInvoiceJSON(cleaned); vErr != nil {
			c.logger.Error("llm.extract.schema_validation_failed",
				"req_id", rid, "error", vErr, "content", string(cleaned),
				"elapsed_ms", time.Since(start).Milliseconds(),
			)
			return entity.Extraction{}, cleaned, failed("schema validation", vErr)
		}
		c.logger.Warn("llm.extract.lenient_sanitize_applied",
			"req_id", rid, "dropped", dropped,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		rawContent = cleaned
	}

	out, err := llm.DecodeExtraction(rawContent, constants.SourceLive)
	if err != nil {
		c.logger.Error("llm.extract.unmarshal_failed",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return entity.Extraction{}, rawContent, failed("decode extraction", err)
	}

	c.logger.Info("llm.extract.ok",
		"req_id", rid,
		"page", page.Index,
		"vendor", out.Vendor.Name,
		"invoice_number", out.Metadata.InvoiceNumber,
		"items", len(out.Items),
		"total", out.Metadata.TotalAmount.String(),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, rawContent, nil
}

func (c *Client) userContent(page llm.Page) any {
	if page.Kind == constants.IMAGE && len(page.Image) > 0 {
		return []map[string]any{
			{"type": "text", "text": "Extract detailed vendor and product data."},
			{"type": "image_url", "image_url": map[string]any{"url": imageDataURL(page.Image, page.MIME)}},
		}
	}
	return llm.BuildUserText(page, c.cfg.MaxTextChars) + "\n\nReturn ONLY JSON that matches the provided schema."
}

func failed(stage string, err error) error {
	return common.NewAppError("EXTRACTION_FAILED", stage, fmt.Errorf("%w: %w", common.ErrExtractionFailed, err))
}

// stripFence removes a ```json fence some models wrap around JSON output.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func mustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

// imageDataURL encodes image bytes for the chat/completions image_url part.
func imageDataURL(b []byte, mimeType string) string {
	if mimeType == "" {
		mimeType = http.DetectContentType(b)
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(b)
}
