// Package alert posts operational alerts to a chat webhook.
package alert

import (
	"context"
	"time"
)

//go:generate mockgen -source=provider.go -destination=./mocks/mock_provider.go -package=mocks

type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

type Alert struct {
	Kind     string            `json:"kind"`
	Severity Severity          `json:"severity"`
	Title    string            `json:"title"`
	Message  string            `json:"message"`
	Fields   map[string]string `json:"fields,omitempty"`
	At       time.Time         `json:"at"`
}

type Provider interface {
	Notify(ctx context.Context, alert Alert) error
}

type NoOpProvider struct{}

func (p *NoOpProvider) Notify(ctx context.Context, alert Alert) error {
	return nil
}
