// Package notify alerts doctors about emergency cases by email.
package notify

import (
	"bytes"
	"context"
	"errors"
	"html/template"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"snapaid/internal/apperr"
	"snapaid/internal/logging"
	"snapaid/internal/models"
)

const (
	emergencySubject = "🚨 EMERGENCY: Immediate Attention Required"
	excerptLength    = 100
)

// Email is one outgoing message.
type Email struct {
	To      string
	Subject string
	HTML    string
}

// Mailer delivers a single email.
type Mailer interface {
	Send(ctx context.Context, e Email) error
}

// CaseLoader fetches a case by id.
type CaseLoader interface {
	Get(ctx context.Context, id string) (*models.Case, error)
}

// DoctorDirectory lists profiles by role.
type DoctorDirectory interface {
	ListByRole(ctx context.Context, role models.ProfileRole) ([]*models.Profile, error)
}

// Notifier sends emergency alerts to every doctor.
type Notifier struct {
	cases   CaseLoader
	doctors DoctorDirectory
	mailer  Mailer
	baseURL string
	logger  *slog.Logger
}

// NewNotifier builds a notifier. baseURL is the web UI root used for case links.
func NewNotifier(cases CaseLoader, doctors DoctorDirectory, mailer Mailer, baseURL string) *Notifier {
	return &Notifier{
		cases:   cases,
		doctors: doctors,
		mailer:  mailer,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logging.New("notify"),
	}
}

// NotifyEmergency emails each doctor about caseID. Delivery is best effort:
// a failed send is logged and the loop moves on to the next doctor.
func (n *Notifier) NotifyEmergency(ctx context.Context, caseID string) {
	c, err := n.cases.Get(ctx, caseID)
	if err != nil {
		n.logger.Error("load case for emergency alert", "case_id", caseID, "error", err)
		return
	}
	doctors, err := n.doctors.ListByRole(ctx, models.RoleDoctor)
	if err != nil {
		n.logger.Error("load doctors for emergency alert", "case_id", caseID, "error", err)
		return
	}
	if len(doctors) == 0 {
		n.logger.Info("no doctors found to notify", "case_id", caseID)
		return
	}

	link := n.CaseURL(caseID)
	sent := 0
	for _, doc := range doctors {
		if err := n.sendOne(ctx, doc, c, link); err != nil {
			var nerr *apperr.NotificationError
			if errors.As(err, &nerr) {
				n.logger.Error("emergency alert failed", "case_id", caseID, "recipient", nerr.Recipient, "error", nerr.Err)
			} else {
				n.logger.Error("emergency alert failed", "case_id", caseID, "error", err)
			}
			continue
		}
		sent++
	}
	n.logger.Info("emergency alerts sent", "case_id", caseID, "sent", sent, "doctors", len(doctors))
}

// CaseURL is the web UI link for caseID.
func (n *Notifier) CaseURL(caseID string) string {
	return n.baseURL + "/case?caseid=" + url.QueryEscape(caseID)
}

func (n *Notifier) sendOne(ctx context.Context, doc *models.Profile, c *models.Case, link string) error {
	if doc.Email == nil || strings.TrimSpace(*doc.Email) == "" {
		return &apperr.NotificationError{Recipient: doc.UserID, Err: errors.New("doctor has no email address")}
	}
	to := *doc.Email
	body, err := renderEmergency(alertData{
		DoctorName: doc.DisplayName("Doctor"),
		CaseID:     c.ID,
		CreatedAt:  c.CreatedAt,
		Excerpt:    Excerpt(c.InputText, excerptLength),
		CaseURL:    link,
	})
	if err != nil {
		return &apperr.NotificationError{Recipient: to, Err: err}
	}
	if err := n.mailer.Send(ctx, Email{To: to, Subject: emergencySubject, HTML: body}); err != nil {
		return &apperr.NotificationError{Recipient: to, Err: err}
	}
	n.logger.Debug("emergency alert delivered", "case_id", c.ID, "recipient", to)
	return nil
}

// Excerpt returns the first max characters of s, followed by "..." when s was cut.
func Excerpt(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}

type alertData struct {
	DoctorName string
	CaseID     string
	CreatedAt  time.Time
	Excerpt    string
	CaseURL    string
}

var emergencyTmpl = template.Must(template.New("emergency").Parse(`<div style="font-family: Arial, sans-serif; padding: 20px; background-color: #f8f8f8;">
  <div style="background-color: #ff4d4d; color: white; padding: 10px 20px; border-radius: 5px;">
    <h2>🚨 EMERGENCY ALERT</h2>
  </div>
  <div style="background-color: white; padding: 20px; border-radius: 5px; margin-top: 10px;">
    <p>Dear Dr. {{.DoctorName}},</p>
    <p>A case has been identified as requiring <strong>EMERGENCY</strong> attention.</p>
    <p><strong>Case ID:</strong> {{.CaseID}}</p>
    <p><strong>Created on:</strong> {{.CreatedAt.Format "Jan 2, 2006 3:04 PM MST"}}</p>
    <p><strong>Patient Input:</strong> {{.Excerpt}}</p>
    <p>Please review this case immediately.</p>
    <div style="text-align: center; margin: 30px 0;">
      <a href="{{.CaseURL}}" style="background-color: #ff4d4d; color: white; padding: 12px 20px; text-decoration: none; border-radius: 5px; font-weight: bold;">View Case Now</a>
    </div>
    <p>This is an automated notification from the SnapAid Emergency Response System.</p>
  </div>
</div>
`))

func renderEmergency(d alertData) (string, error) {
	var buf bytes.Buffer
	if err := emergencyTmpl.Execute(&buf, d); err != nil {
		return "", err
	}
	return buf.String(), nil
}
