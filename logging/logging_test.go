package logging

import (
	"bytes"
	"errors"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactRules(t *testing.T) {
	var h RedactHook
	h.AddSecret("abcd-1234:fx")
	h.AddSecret("abc") // too short, ignored

	got := h.Redact("key abcd-1234:fx url=https://x/v2?auth_key=zzz&a=1 hdr DeepL-Auth-Key qqq abc")
	assert.NotContains(t, got, "abcd-1234")
	assert.NotContains(t, got, "zzz")
	assert.NotContains(t, got, "qqq")
	assert.Contains(t, got, "auth_key=[REDACTED]&a=1")
	assert.Contains(t, got, "DeepL-Auth-Key [REDACTED]")
	assert.Contains(t, got, " abc")
}

func TestFireRedactsFields(t *testing.T) {
	var h RedactHook
	h.AddSecret("secret-value")

	entry := &log.Entry{
		Message: "calling with secret-value",
		Data: log.Fields{
			"url":   "https://api?auth_key=secret-value",
			"err":   errors.New("bad key secret-value"),
			"count": 3,
		},
	}
	require.NoError(t, h.Fire(entry))
	assert.Equal(t, "calling with [REDACTED]", entry.Message)
	assert.Equal(t, "https://api?auth_key=[REDACTED]", entry.Data["url"])
	assert.Equal(t, "bad key [REDACTED]", entry.Data["err"])
	assert.Equal(t, 3, entry.Data["count"])
}

func TestSetupInstallsHook(t *testing.T) {
	var buf bytes.Buffer
	prevOut, prevLevel, prevFormatter := log.StandardLogger().Out, log.GetLevel(), log.StandardLogger().Formatter
	t.Cleanup(func() {
		log.SetOutput(prevOut)
		log.SetLevel(prevLevel)
		log.SetFormatter(prevFormatter)
	})

	require.NoError(t, Setup("debug", "json", &buf))
	RegisterSecret("top-secret-key")
	log.WithField("key", "top-secret-key").Info("hello")

	assert.Contains(t, buf.String(), `"key":"[REDACTED]"`)
	assert.NotContains(t, buf.String(), "top-secret-key")

	assert.Error(t, Setup("loud", "text", nil))
	assert.Error(t, Setup("info", "xml", nil))
}
