package translate

import (
	"context"
	"errors"

	"github.com/minios-linux/doctrans/deepl"
	"github.com/minios-linux/doctrans/docformat"
	"github.com/minios-linux/doctrans/estimate"
	"github.com/minios-linux/doctrans/i18n"
	"github.com/minios-linux/doctrans/materialize"
)

// Progress labels. They are msgids of the i18n catalog.
const (
	msgTranslatingText = "Translating text…"
	msgUploading       = "Uploading document…"
	msgAccepted        = "Request accepted"
	msgInProgress      = "Translation in progress…"
	msgResultFetched   = "Result fetched"
	msgDone            = "Done"
)

func msg(id string) string { return i18n.T(id) }

// UserMessage turns an error returned by Run or Validate into the
// localized message shown to end users. Provider messages are passed
// through; internal details such as paths are not.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var (
		ufe *docformat.UnsupportedFormatError
		ee  *estimate.ExtractionError
		pe  *deepl.ProviderError
		te  *deepl.TransportError
		toe *TimeoutError
		de  *DocumentError
		me  *materialize.MaterializationError
	)
	switch {
	case errors.Is(err, context.Canceled):
		return i18n.T("The translation was cancelled.")
	case errors.As(err, &ufe):
		if !ufe.Source.Known() {
			return i18n.T("This file type is not supported.")
		}
		return i18n.Tf("%s may only output %s", ufe.Source.Upper(), docformat.DescribeOutputs(ufe.Source))
	case errors.As(err, &ee):
		switch ee.Detail {
		case estimate.DetailPDFFailed:
			return i18n.T("No text could be read from this PDF. Scanned or image-only PDFs are not supported.")
		case estimate.DetailEmpty:
			return i18n.T("The document contains no text to translate.")
		case estimate.DetailCorrupt:
			return i18n.T("The document is damaged and could not be read.")
		}
		return i18n.T("The document could not be read.")
	case errors.As(err, &toe):
		return i18n.T("The translation did not finish in time. Please try again later.")
	case errors.As(err, &de):
		if de.Message != "" {
			return i18n.Tf("The translation service rejected the document: %s", de.Message)
		}
		return i18n.T("The translation service rejected the document.")
	case errors.As(err, &pe):
		if deepl.IsEqualLanguage(pe.Message) {
			return i18n.T("The document is already in the target language.")
		}
		if pe.Message != "" {
			return i18n.Tf("The translation service returned an error: %s", pe.Message)
		}
		return i18n.Tf("The translation service returned HTTP %d.", pe.StatusCode)
	case errors.As(err, &te):
		return i18n.T("The translation service could not be reached.")
	case errors.As(err, &me):
		return i18n.Tf("The translation finished but %s could not be created.", me.Output)
	}
	return i18n.T("The translation failed.")
}
