package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"time"

	"github.com/sofia-platform/billing/internal/domain/entity"
	"github.com/sofia-platform/billing/internal/domain/service"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	retryTemplate    = "dunning_retry.html"
	canceledTemplate = "dunning_canceled.html"

	displayLayout = "02/01/2006 15:04 MST"
)

func loadTemplates() (*template.Template, error) {
	return template.ParseFS(templateFS, "templates/*.html")
}

type noticeView struct {
	Name        string
	RetryCount  int
	MaxAttempts int
	NextRetryAt string
	CancelAt    string
	PaymentURL  string
}

// rendered is a ready-to-send message
type rendered struct {
	Subject string
	HTML    string
}

func render(templates *template.Template, notice service.DunningNotice) (*rendered, error) {
	view := noticeView{
		Name:        notice.Name,
		RetryCount:  notice.RetryCount,
		MaxAttempts: entity.MaxDunningAttempts,
		NextRetryAt: formatDisplay(notice.NextRetryAt),
		CancelAt:    formatDisplay(notice.CancelAt),
		PaymentURL:  notice.PaymentURL,
	}

	name, subject := retryTemplate, "Não conseguimos processar seu pagamento"
	if notice.IsFinal() {
		name, subject = canceledTemplate, "Sua assinatura SOFIA foi cancelada"
	}

	var body bytes.Buffer
	if err := templates.ExecuteTemplate(&body, name, view); err != nil {
		return nil, fmt.Errorf("template execution error: %w", err)
	}
	return &rendered{Subject: subject, HTML: body.String()}, nil
}

func formatDisplay(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(displayLayout)
}
