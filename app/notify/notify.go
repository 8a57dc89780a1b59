// Package notify delivers job-filled messages to recruiters via email and webhooks
package notify

import (
	"bytes"
	"context"
	"os"
	"strings"
	"text/template"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/notify"
	"github.com/pkg/errors"

	"github.com/umputun/laborportal/app/store"
)

const defaultTemplate = `Job "{{.Job.Title}}" is filled{{if .Job.Location}} ({{.Job.Location}}){{end}}.
{{.Count}} of {{.Job.RequiredCount}} laborers signed up, rate {{printf "%.2f" .Job.PricePerHour}}/h{{if .Job.StartDateTime}}, starts {{.Job.StartDateTime}}{{end}}.
{{range .Job.Applicants}}
- {{.Name}}{{if .Contact}}, {{.Contact}}{{end}}{{end}}

Posted by {{.Job.CreatedBy}} at {{.Job.CreatedAt.Format "2006-01-02 15:04"}}, notified from {{.Host}} at {{.TS.Format "2006-01-02T15:04:05Z07:00"}}
`

// Service sends job-filled messages to all destinations
type Service struct {
	destinations []notify.Notifier
	targets      []string
	template     string
	host         string
	timeout      time.Duration
	dedup        *DeDup
}

// Params defines message options
type Params struct {
	Template string        // optional path to a text/template of the message
	Host     string        // name of the host shown in messages
	Timeout  time.Duration // timeout of a single delivery
	DeDup    time.Duration // repeated messages about the same job within this window are skipped, 0 sends all
}

// SendersParams defines where and how messages are delivered
type SendersParams struct {
	SMTPHost     string
	SMTPPort     int
	SMTPTLS      bool
	SMTPUsername string
	SMTPPassword string
	FromEmail    string
	ToEmails     []string
	Webhooks     []string // http(s) urls receiving the message as body
}

// NewService makes a notification service, returns nil if no destinations set
func NewService(p Params, sp SendersParams) *Service {
	if len(sp.ToEmails) == 0 && len(sp.Webhooks) == 0 {
		return nil
	}
	if p.Timeout <= 0 {
		p.Timeout = 10 * time.Second
	}
	res := &Service{template: p.Template, host: p.Host, timeout: p.Timeout, dedup: NewDeDup(p.DeDup)}
	if res.host == "" {
		res.host, _ = os.Hostname()
	}

	if len(sp.ToEmails) > 0 {
		res.destinations = append(res.destinations, notify.NewEmail(notify.SMTPParams{
			Host:     sp.SMTPHost,
			Port:     sp.SMTPPort,
			TLS:      sp.SMTPTLS,
			Username: sp.SMTPUsername,
			Password: sp.SMTPPassword,
			TimeOut:  p.Timeout,
		}))
		res.targets = append(res.targets, mailto(sp.FromEmail, sp.ToEmails, "Job filled"))
	}
	if len(sp.Webhooks) > 0 {
		res.destinations = append(res.destinations, notify.NewWebhook(notify.WebhookParams{Timeout: p.Timeout}))
		res.targets = append(res.targets, sp.Webhooks...)
	}
	return res
}

// JobFilled sends the job-filled message to every target, all targets are tried even if some fail
func (s *Service) JobFilled(ctx context.Context, job store.Job) error {
	if !s.dedup.Add(job.ID) {
		log.Printf("[DEBUG] job %s was notified recently, skipped", job.ID)
		return nil
	}
	text, err := s.MakeJobFilledText(job)
	if err != nil {
		s.dedup.Remove(job.ID)
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var errs []string
	for _, target := range s.targets {
		if err := s.Send(ctx, target, text); err != nil {
			errs = append(errs, err.Error())
			continue
		}
		log.Printf("[DEBUG] job filled notification for %s sent to %s", job.ID, redact(target))
	}
	if len(errs) == len(s.targets) {
		s.dedup.Remove(job.ID) // nobody got it, allow the next attempt
	}
	if len(errs) > 0 {
		return errors.Errorf("failed to notify %d of %d targets: %s", len(errs), len(s.targets), strings.Join(errs, "; "))
	}
	return nil
}

// Send delivers text to the target with the notifier supporting its schema
func (s *Service) Send(ctx context.Context, target, text string) error {
	for _, d := range s.destinations {
		if strings.HasPrefix(target, d.Schema()) {
			return errors.Wrapf(d.Send(ctx, target, text), "failed to send to %s", redact(target))
		}
	}
	return errors.Errorf("no notifier for %s", redact(target))
}

// MakeJobFilledText renders the message with the custom template or the default one.
// A broken custom template is logged and the default is used.
func (s *Service) MakeJobFilledText(job store.Job) (string, error) {
	data := struct {
		Job   store.Job
		Count int
		Host  string
		TS    time.Time
	}{Job: job, Count: len(job.Applicants), Host: s.host, TS: time.Now()}

	if s.template != "" {
		res, err := render(s.template, true, data)
		if err == nil {
			return res, nil
		}
		log.Printf("[WARN] can't use template %s, %v", s.template, err)
	}
	return render(defaultTemplate, false, data)
}

func render(tmpl string, isFile bool, data any) (string, error) {
	if isFile {
		b, err := os.ReadFile(tmpl) // nolint gosec
		if err != nil {
			return "", errors.Wrapf(err, "can't read template %s", tmpl)
		}
		tmpl = string(b)
	}
	t, err := template.New("msg").Parse(tmpl)
	if err != nil {
		return "", errors.Wrap(err, "can't parse message template")
	}
	buf := bytes.Buffer{}
	if err := t.Execute(&buf, data); err != nil {
		return "", errors.Wrap(err, "failed to apply template")
	}
	return buf.String(), nil
}

func mailto(from string, to []string, subj string) string {
	res := "mailto:" + strings.Join(to, ",")
	params := []string{}
	if from != "" {
		params = append(params, "from="+from)
	}
	params = append(params, "subject="+strings.ReplaceAll(subj, " ", "+"))
	return res + "?" + strings.Join(params, "&")
}

// redact drops query and credentials of the target for logs
func redact(target string) string {
	if idx := strings.Index(target, "?"); idx >= 0 {
		target = target[:idx]
	}
	if idx := strings.Index(target, "@"); idx >= 0 && strings.Contains(target[:idx], "://") {
		target = target[:strings.Index(target, "://")+3] + target[idx+1:]
	}
	return target
}
