package autoinst

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/osinstall/osinstall/internal/answer"
	"github.com/osinstall/osinstall/internal/answer/fetch"
)

// Webhook is the endpoint the final report is posted to.
type Webhook struct {
	URL             string
	CertFingerprint string
}

// ResolveWebhook picks the answer's post-hook over the configured default.
func ResolveWebhook(ans *answer.Answer, fallback Webhook) Webhook {
	if ans != nil && ans.PostHook != nil {
		return Webhook{
			URL:             ans.PostHook.URL,
			CertFingerprint: ans.PostHook.CertFingerprint,
		}
	}
	return fallback
}

// Send posts the report as JSON. A webhook without a URL sends nothing.
func (w Webhook) Send(ctx context.Context, report *Report, log *logrus.Entry) error {
	if w.URL == "" {
		return nil
	}

	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	if _, err := fetch.Post(ctx, w.URL, w.CertFingerprint, payload, log); err != nil {
		return fmt.Errorf("posting report to %s: %w", w.URL, err)
	}
	return nil
}
