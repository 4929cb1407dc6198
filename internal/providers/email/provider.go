// Package email delivers buyer-facing order mail.
package email

import "context"

//go:generate mockgen -source=provider.go -destination=./mocks/mock_provider.go -package=mocks

// Provider sends HTML mail. SendTemplate renders one of the embedded
// templates and derives the subject from the view model.
type Provider interface {
	Send(ctx context.Context, to []string, subject string, htmlBody string) error
	SendTemplate(ctx context.Context, to []string, templateName string, data any) error
}

// NoOpProvider drops every message. It stands in when no SMTP host is set.
type NoOpProvider struct{}

func (*NoOpProvider) Send(context.Context, []string, string, string) error { return nil }

func (*NoOpProvider) SendTemplate(context.Context, []string, string, any) error { return nil }
