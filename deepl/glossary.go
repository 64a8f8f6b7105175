package deepl

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// Glossary is a provider-side term list.
type Glossary struct {
	ID           string `json:"glossary_id"`
	Name         string `json:"name"`
	Ready        bool   `json:"ready"`
	SourceLang   string `json:"source_lang"`
	TargetLang   string `json:"target_lang"`
	CreationTime string `json:"creation_time"`
	EntryCount   int    `json:"entry_count"`
}

// GlossaryRequest describes a glossary to create.
type GlossaryRequest struct {
	Name       string
	SourceLang string
	TargetLang string
	Entries    map[string]string
}

// EntriesTSV renders entries in the provider's tab-separated format, sorted
// by source term. Tabs and newlines inside terms are replaced by spaces.
func (g GlossaryRequest) EntriesTSV() string {
	clean := strings.NewReplacer("\t", " ", "\r", " ", "\n", " ")
	keys := make([]string, 0, len(g.Entries))
	for k := range g.Entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		src := strings.TrimSpace(clean.Replace(k))
		dst := strings.TrimSpace(clean.Replace(g.Entries[k]))
		if src == "" || dst == "" {
			continue
		}
		b.WriteString(src)
		b.WriteByte('\t')
		b.WriteString(dst)
		b.WriteByte('\n')
	}
	return b.String()
}

// ListGlossaries returns every glossary of the account.
func (c *Client) ListGlossaries(ctx context.Context) ([]Glossary, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/glossaries", nil)
	if err != nil {
		return nil, err
	}
	body, err := c.do("glossaries", req)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Glossaries []Glossary `json:"glossaries"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &ProviderError{Op: "glossaries", StatusCode: 200, Message: fmt.Sprintf("decoding response: %v", err)}
	}
	return resp.Glossaries, nil
}

// CreateGlossary uploads a new glossary.
func (c *Client) CreateGlossary(ctx context.Context, g GlossaryRequest) (*Glossary, error) {
	entries := g.EntriesTSV()
	if entries == "" {
		return nil, fmt.Errorf("glossary %q has no entries", g.Name)
	}
	form := url.Values{}
	form.Set("name", g.Name)
	form.Set("source_lang", g.SourceLang)
	form.Set("target_lang", g.TargetLang)
	form.Set("entries", entries)
	form.Set("entries_format", "tsv")

	body, err := c.postForm(ctx, "glossary_create", "/glossaries", form)
	if err != nil {
		return nil, err
	}
	var out Glossary
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &ProviderError{Op: "glossary_create", StatusCode: 200, Message: fmt.Sprintf("decoding response: %v", err)}
	}
	return &out, nil
}

// DeleteGlossary removes a glossary.
func (c *Client) DeleteGlossary(ctx context.Context, id string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/glossaries/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	_, err = c.do("glossary_delete", req)
	return err
}

// Usage is the character consumption of the current billing period.
type Usage struct {
	CharacterCount int64 `json:"character_count"`
	CharacterLimit int64 `json:"character_limit"`
}

// Usage returns the account's character usage.
func (c *Client) Usage(ctx context.Context) (*Usage, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/usage", nil)
	if err != nil {
		return nil, err
	}
	body, err := c.do("usage", req)
	if err != nil {
		return nil, err
	}
	var u Usage
	if err := json.Unmarshal(body, &u); err != nil {
		return nil, &ProviderError{Op: "usage", StatusCode: 200, Message: fmt.Sprintf("decoding response: %v", err)}
	}
	return &u, nil
}
