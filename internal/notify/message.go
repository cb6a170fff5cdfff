package notify

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/dwsmith1983/stagehand/pkg/types"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

const defaultSubject = `[{{.Outcome}}] {{.Pipeline}} build #{{.BuildNumber}}`

// Composer renders RunReports into Messages.
type Composer struct {
	recipient   string
	attachments []string
	baseDir     string
	subject     *template.Template
	html        *htmltemplate.Template
	text        *template.Template
	logger      *slog.Logger
}

var templateFuncs = map[string]any{
	"duration": formatDuration,
	"ts":       func(t time.Time) string { return t.UTC().Format(time.RFC3339) },
	"inc":      func(i int) int { return i + 1 },
}

// NewComposer parses the subject and body templates.
func NewComposer(cfg *types.NotifyConfig, baseDir string) (*Composer, error) {
	subj := cfg.Subject
	if subj == "" {
		subj = defaultSubject
	}
	st, err := template.New("subject").Funcs(templateFuncs).Parse(subj)
	if err != nil {
		return nil, fmt.Errorf("parsing subject template: %w", err)
	}
	ht, err := htmltemplate.New("report.html.tmpl").Funcs(templateFuncs).ParseFS(templateFS, "templates/report.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parsing html template: %w", err)
	}
	tt, err := template.New("report.txt.tmpl").Funcs(templateFuncs).ParseFS(templateFS, "templates/report.txt.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parsing text template: %w", err)
	}
	return &Composer{
		recipient:   cfg.Recipient,
		attachments: cfg.Attachments,
		baseDir:     baseDir,
		subject:     st,
		html:        ht,
		text:        tt,
		logger:      slog.Default(),
	}, nil
}

// Compose renders the message for a finalized report. Missing attachments
// are recorded as warnings on the message, never as errors.
func (c *Composer) Compose(report *types.RunReport) (*types.Message, error) {
	var subj, html, text bytes.Buffer
	if err := c.subject.Execute(&subj, report); err != nil {
		return nil, fmt.Errorf("rendering subject: %w", err)
	}
	if err := c.html.Execute(&html, report); err != nil {
		return nil, fmt.Errorf("rendering html body: %w", err)
	}
	if err := c.text.Execute(&text, report); err != nil {
		return nil, fmt.Errorf("rendering text body: %w", err)
	}

	msg := &types.Message{
		Subject:   strings.TrimSpace(subj.String()),
		HTMLBody:  html.String(),
		TextBody:  text.String(),
		Recipient: c.recipient,
		Report:    report,
	}
	for _, name := range c.attachments {
		att, err := c.readAttachment(name)
		if err != nil {
			warning := fmt.Sprintf("attachment %s not attached: %v", name, err)
			c.logger.Warn("attachment unavailable", "path", name, "runId", report.RunID, "error", err)
			msg.Warnings = append(msg.Warnings, warning)
			continue
		}
		msg.Attachments = append(msg.Attachments, att)
	}
	return msg, nil
}

func (c *Composer) readAttachment(name string) (types.Attachment, error) {
	path := name
	if !filepath.IsAbs(path) && c.baseDir != "" {
		path = filepath.Join(c.baseDir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return types.Attachment{}, errors.New("file not found")
		}
		return types.Attachment{}, err
	}
	ct := mime.TypeByExtension(filepath.Ext(path))
	if ct == "" {
		ct = "application/octet-stream"
	}
	return types.Attachment{Name: filepath.Base(path), ContentType: ct, Data: data}, nil
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}
