package processor

import (
	"context"

	"hlsflow/internal/config"
	"hlsflow/internal/model"
	"hlsflow/internal/telemetry"
	"hlsflow/internal/worker"

	"go.uber.org/zap"
	"resty.dev/v3"
)

type EmailPayload struct {
	To      string `json:"to" validate:"required,email"`
	Subject string `json:"subject" validate:"required"`
	Body    string `json:"body" validate:"required_without=HTML"`
	HTML    string `json:"html"`
	ReplyTo string `json:"reply_to" validate:"omitempty,email"`
}

type mailRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text,omitempty"`
	HTML    string `json:"html,omitempty"`
	ReplyTo string `json:"reply_to,omitempty"`
}

// Email delivers send_email tasks through an HTTP mail API.
type Email struct {
	client *resty.Client
	from   string
}

func NewEmail(cfg config.MailConfig) *Email {
	return &Email{
		client: newHTTPClient(cfg.BaseURL, cfg.APIKey, cfg.Timeout),
		from:   cfg.From,
	}
}

func (e *Email) Close() error {
	return e.client.Close()
}

func (e *Email) Process(ctx context.Context, task *model.Task) error {
	var p EmailPayload
	if err := worker.DecodePayload(task.Payload, &p); err != nil {
		return err
	}

	resp, err := e.client.R().
		SetContext(ctx).
		SetBody(mailRequest{
			From:    e.from,
			To:      p.To,
			Subject: p.Subject,
			Text:    p.Body,
			HTML:    p.HTML,
			ReplyTo: p.ReplyTo,
		}).
		Post("/messages")
	if err := checkResponse("send email", resp, err); err != nil {
		return err
	}

	telemetry.Logger.Info("Email sent", zap.String("to", p.To), zap.String("subject", p.Subject))
	return nil
}
