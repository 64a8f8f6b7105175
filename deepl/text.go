package deepl

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"

	"github.com/minios-linux/doctrans/metrics"
)

// TextRequest holds the language parameters of a text translation.
type TextRequest struct {
	TargetLang string
	SourceLang string
	GlossaryID string
}

// TextResult is one translated text.
type TextResult struct {
	Text             string
	DetectedSource   string
	BilledCharacters int
}

type translateResponse struct {
	Translations []struct {
		DetectedSourceLanguage string `json:"detected_source_language"`
		Text                   string `json:"text"`
		BilledCharacters       int    `json:"billed_characters"`
	} `json:"translations"`
}

func (r TextRequest) form(texts []string) url.Values {
	form := url.Values{}
	for _, t := range texts {
		form.Add("text", t)
	}
	form.Set("target_lang", r.TargetLang)
	setIf(form, "source_lang", r.SourceLang)
	setIf(form, "glossary_id", r.GlossaryID)
	form.Set("show_billed_characters", "1")
	return form
}

// TranslateText translates one text synchronously.
func (c *Client) TranslateText(ctx context.Context, text string, req TextRequest) (*TextResult, error) {
	results, err := c.translate(ctx, []string{text}, req)
	if err != nil {
		return nil, err
	}
	return &results[0], nil
}

func (c *Client) translate(ctx context.Context, texts []string, req TextRequest) ([]TextResult, error) {
	body, err := c.postForm(ctx, "translate", "/translate", req.form(texts))
	if err != nil {
		return nil, err
	}

	var resp translateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &ProviderError{Op: "translate", StatusCode: 200, Message: fmt.Sprintf("decoding response: %v", err)}
	}
	if len(resp.Translations) != len(texts) {
		return nil, &ProviderError{
			Op:         "translate",
			StatusCode: 200,
			Message:    fmt.Sprintf("got %d translations for %d texts", len(resp.Translations), len(texts)),
		}
	}

	out := make([]TextResult, len(resp.Translations))
	for i, t := range resp.Translations {
		out[i] = TextResult{
			Text:             t.Text,
			DetectedSource:   t.DetectedSourceLanguage,
			BilledCharacters: t.BilledCharacters,
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Batches
// ---------------------------------------------------------------------------

// TranslateBatch translates many short strings, packing them into requests
// of at most BatchMaxChars characters. Each request is retried with
// exponential backoff on 429/503; any other error fails immediately.
// Results are returned in input order.
func (c *Client) TranslateBatch(ctx context.Context, texts []string, req TextRequest) ([]TextResult, error) {
	out := make([]TextResult, 0, len(texts))
	for _, batch := range packBatches(texts, c.opts.effectiveBatchMaxChars()) {
		results, err := c.translateWithBackoff(ctx, batch, req)
		if err != nil {
			return nil, err
		}
		out = append(out, results...)
	}
	return out, nil
}

func (c *Client) translateWithBackoff(ctx context.Context, batch []string, req TextRequest) ([]TextResult, error) {
	maxAttempts := c.opts.effectiveBatchMaxAttempts()
	base := c.opts.effectiveBatchBaseDelay()

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		results, err := c.translate(ctx, batch, req)
		if err == nil {
			return results, nil
		}
		if !IsRetryable(err) {
			return nil, err
		}
		lastErr = err
		if attempt == maxAttempts-1 {
			break
		}

		wait := backoffDelay(base, attempt)
		metrics.ProviderBackoffs.Inc()
		log.WithFields(log.Fields{"attempt": attempt + 1, "max_attempts": maxAttempts, "wait": wait}).
			Warn("Provider throttled batch request, backing off")
		c.backoff.pause(wait)
		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
		c.backoff.unpause()
	}
	return nil, fmt.Errorf("batch failed after %d attempts: %w", maxAttempts, lastErr)
}

// packBatches groups texts so that each group stays within maxChars.
// A single text longer than the budget forms its own group.
func packBatches(texts []string, maxChars int) [][]string {
	var batches [][]string
	var current []string
	size := 0
	for _, t := range texts {
		n := utf8.RuneCountInString(t)
		if len(current) > 0 && size+n > maxChars {
			batches = append(batches, current)
			current, size = nil, 0
		}
		current = append(current, t)
		size += n
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}
