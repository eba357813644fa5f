package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCreds(t *testing.T) {
	cfg := &Config{BasicAuthCreds: "alice:secret, bob:hunter2"}
	creds, err := cfg.parseCreds()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"alice": "secret", "bob": "hunter2"}, creds)

	cfg = &Config{BasicAuthCreds: "alice"}
	_, err = cfg.parseCreds()
	assert.Error(t, err)

	cfg = &Config{}
	_, err = cfg.parseCreds()
	assert.Error(t, err)
}

func TestTimeouts(t *testing.T) {
	cfg := &Config{FetchTimeoutSecs: 30, WebhookTimeoutSecs: 10}
	assert.Equal(t, 30*time.Second, cfg.FetchTimeout())
	assert.Equal(t, 10*time.Second, cfg.WebhookTimeout())
}
