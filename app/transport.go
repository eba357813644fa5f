package app

import (
	"net/http"

	"go.uber.org/zap"
)

func NewTransport(log *zap.Logger) http.RoundTripper {
	return http.DefaultTransport
}
