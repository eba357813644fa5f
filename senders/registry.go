// Package senders dispatches outbound notifications and deliveries.
package senders

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/fiffu/feedbucket/config"
)

// Message is one outbound dispatch. Webhook targets consume Payload;
// email targets consume Subject and HTML.
type Message struct {
	Target  string
	Subject string
	Payload map[string]any
	HTML    string
}

type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

type Registry map[string]Sender

func NewSenderRegistry(log *zap.Logger, cfg *config.Config, transport http.RoundTripper) Registry {
	base := base{log, cfg, transport}
	return Registry{
		"webhook": &webhookSender{base},
		"email":   &mailgunSender{base},
	}
}

type base struct {
	log       *zap.Logger
	cfg       *config.Config
	transport http.RoundTripper
}
