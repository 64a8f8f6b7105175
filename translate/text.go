package translate

import (
	"context"
	"os"
	"strings"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"

	"github.com/minios-linux/doctrans/deepl"
	"github.com/minios-linux/doctrans/estimate"
	"github.com/minios-linux/doctrans/progress"
)

// translateText sends a plain-text source through the text endpoint in
// chunks of at most ChunkSize characters and joins the translations.
func (o *Orchestrator) translateText(ctx context.Context, req Request, p plan, job *Job, rep progress.Reporter) (*providerResult, error) {
	data, err := os.ReadFile(p.sourcePath)
	if err != nil {
		return nil, &estimate.ExtractionError{Path: p.sourcePath, Format: p.source, Detail: estimate.DetailUnreadable, Err: err}
	}
	text, charset := estimate.DecodeText(data)
	if strings.TrimSpace(text) == "" {
		return nil, &estimate.ExtractionError{Path: p.sourcePath, Format: p.source, Detail: estimate.DetailEmpty}
	}

	chunks := chunkText(text, o.opts.effectiveChunkSize())
	log.WithFields(log.Fields{
		"job":     req.JobID,
		"chunks":  len(chunks),
		"charset": charset,
	}).Debug("Sending text to the text endpoint")

	rep.Report(10, msg(msgTranslatingText))
	o.transition(req, job, StateSubmitted, nil)

	tr := deepl.TextRequest{TargetLang: p.target, SourceLang: job.SourceHint, GlossaryID: p.glossary}
	var results []deepl.TextResult
	if p.batch {
		results, err = o.deps.Provider.TranslateBatch(ctx, chunks, tr)
		if err != nil {
			return nil, err
		}
		rep.Report(75, msg(msgTranslatingText))
	} else {
		results = make([]deepl.TextResult, 0, len(chunks))
		for i, chunk := range chunks {
			r, err := o.deps.Provider.TranslateText(ctx, chunk, tr)
			if err != nil {
				return nil, err
			}
			results = append(results, *r)
			rep.Report(30+45*(i+1)/len(chunks), msg(msgTranslatingText))
		}
	}

	var (
		sb     strings.Builder
		billed int
	)
	for _, r := range results {
		sb.WriteString(r.Text)
		billed += r.BilledCharacters
	}
	sourceChars := utf8.RuneCountInString(text)
	if billed == 0 {
		billed = sourceChars
	}
	rep.Report(80, msg(msgResultFetched))

	return &providerResult{
		text:        sb.String(),
		billed:      billed,
		sourceChars: sourceChars,
	}, nil
}

// chunkText splits text into pieces of at most size characters, breaking
// after newlines where possible. Joining the pieces yields text again.
func chunkText(text string, size int) []string {
	if size <= 0 || utf8.RuneCountInString(text) <= size {
		return []string{text}
	}

	var (
		chunks []string
		cur    strings.Builder
		n      int
	)
	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
			n = 0
		}
	}
	for _, line := range strings.SplitAfter(text, "\n") {
		if line == "" {
			continue
		}
		ln := utf8.RuneCountInString(line)
		if n+ln <= size {
			cur.WriteString(line)
			n += ln
			continue
		}
		flush()
		for ln > size {
			head, tail := splitRunes(line, size)
			chunks = append(chunks, head)
			line = tail
			ln -= size
		}
		cur.WriteString(line)
		n = ln
	}
	flush()
	return chunks
}

// splitRunes splits s after its first n runes.
func splitRunes(s string, n int) (string, string) {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos], s[pos:]
		}
		i++
	}
	return s, ""
}
