package senders

import (
	"context"

	"github.com/carlmjohnson/requests"
)

type webhookSender struct {
	base
}

// Send POSTs the payload as JSON to the target URL. One attempt; the
// caller decides whether a failure matters.
func (w *webhookSender) Send(ctx context.Context, msg Message) (string, error) {
	err := requests.URL(msg.Target).
		Transport(w.transport).
		BodyJSON(&msg.Payload).
		Fetch(ctx)
	if err != nil {
		return "", err
	}
	return msg.Target, nil
}
