package inference

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/shpitdev/catalog-attribute-enricher/internal/redact"
)

// MarkerPrefix starts every error marker written into a result cell.
const MarkerPrefix = "ERROR_"

const (
	MarkerMissingInput    = "ERROR_MISSING_INPUT"
	MarkerUnreadableImage = "ERROR_UNREADABLE_IMAGE"
	MarkerQuotaExceeded   = "ERROR_QUOTA_EXCEEDED"
	MarkerRateLimited     = "ERROR_RATE_LIMITED"
	MarkerAPI             = "ERROR_API"
	MarkerFatal           = "ERROR_FATAL"
)

// maxMarkerDetail bounds the error text kept in a result cell.
const maxMarkerDetail = 300

// ResultText returns the value to store for a terminal outcome: the response text on
// success, otherwise an error marker carrying the redacted original error. A success
// without text is stored as an ERROR_API marker so the item is never left pending.
func ResultText(o Outcome) string {
	if o.OK() {
		if text := NormalizeText(o.Text); text != "" {
			return text
		}
		return MarkerAPI + ": " + ErrEmptyResponse.Error()
	}
	marker := Marker(o)
	detail := "unknown error"
	if o.Err != nil {
		detail = NormalizeText(redact.Secrets(o.Err.Error()))
	}
	if len(detail) > maxMarkerDetail {
		cut := maxMarkerDetail
		for cut > 0 && !utf8.RuneStart(detail[cut]) {
			cut--
		}
		detail = detail[:cut] + "..."
	}
	return marker + ": " + detail
}

// Marker returns the marker name for a failed outcome.
func Marker(o Outcome) string {
	switch o.Kind {
	case KindQuotaExceeded:
		return MarkerQuotaExceeded
	case KindRateLimited:
		return MarkerRateLimited
	case KindTransient:
		return MarkerAPI
	}
	switch {
	case errors.Is(o.Err, ErrMissingInput):
		return MarkerMissingInput
	case errors.Is(o.Err, ErrUnreadableImage):
		return MarkerUnreadableImage
	default:
		return MarkerFatal
	}
}

// IsMarker reports whether a stored result is an error marker.
func IsMarker(result string) bool {
	return strings.HasPrefix(strings.TrimSpace(result), MarkerPrefix)
}

// NormalizeText trims s and collapses line breaks so a result stays on one line.
func NormalizeText(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	return s
}
