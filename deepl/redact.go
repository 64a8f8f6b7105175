package deepl

import (
	"errors"
	"net/url"
	"regexp"
)

var authKeyParam = regexp.MustCompile(`(?i)(auth_key=)[^&\s"]+`)

// Redact removes auth_key query parameters from a URL or log line.
func Redact(s string) string {
	return authKeyParam.ReplaceAllString(s, "${1}[REDACTED]")
}

// redactError strips secrets from errors that embed the request URL.
func redactError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return &url.Error{Op: ue.Op, URL: Redact(ue.URL), Err: ue.Err}
	}
	return err
}
