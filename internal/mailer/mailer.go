// Package mailer delivers the one-time codes over SMTP. Development runs
// fine against a local catcher like MailHog; codes never appear in logs.
package mailer

import (
	"bytes"
	"fmt"
	"html/template"

	"gopkg.in/gomail.v2"

	"teamhub/internal/config"
)

// Mailer is the outbound mail surface the service layer depends on.
type Mailer interface {
	SendRegistrationCode(email, username, code string) error
	SendAccountExistsNotice(email string) error
	SendSignInCode(email, code string) error
	SendEmailChangeCode(newEmail, code string) error
	SendEmailChangedNotice(oldEmail, newEmail string) error
}

type smtpMailer struct {
	dialer *gomail.Dialer
	from   string
}

func NewMailer(cfg *config.Config) Mailer {
	smtp := cfg.SMTP
	return &smtpMailer{
		dialer: gomail.NewDialer(smtp.Host, smtp.Port, smtp.Username, smtp.Password),
		from:   smtp.From,
	}
}

var registrationTmpl = template.Must(template.New("registration").Parse(`
	<h2>Welcome, {{.Username}}!</h2>
	<p>Enter this code to finish creating your account:</p>
	<p style="font-size:24px;letter-spacing:4px"><strong>{{.Code}}</strong></p>
	<p>The code expires in 30 minutes. If you did not sign up, you can ignore this email.</p>
`))

var accountExistsTmpl = template.Must(template.New("accountexists").Parse(`
	<h3>You already have an account</h3>
	<p>Someone tried to register with this email address, but it already belongs
	to an account. If that was you, just sign in instead.</p>
	<p>If it was not you, you can ignore this email.</p>
`))

var signInTmpl = template.Must(template.New("signin").Parse(`
	<h3>Sign-in code</h3>
	<p>Enter this code to sign in to your account:</p>
	<p style="font-size:24px;letter-spacing:4px"><strong>{{.Code}}</strong></p>
	<p>The code expires in 30 minutes. If you did not try to sign in, someone may
	have entered your email by mistake; no one can access your account without this code.</p>
`))

var emailChangeTmpl = template.Must(template.New("emailchange").Parse(`
	<h3>Confirm your new address</h3>
	<p>Enter this code to confirm this email address for your account:</p>
	<p style="font-size:24px;letter-spacing:4px"><strong>{{.Code}}</strong></p>
	<p>The code expires in 30 minutes. If you did not request this change, you can ignore this email.</p>
`))

var emailChangedTmpl = template.Must(template.New("emailchanged").Parse(`
	<h3>Your email address was changed</h3>
	<p>The email on your account was changed to <strong>{{.NewEmail}}</strong>.</p>
	<p>If this was not you, contact support immediately.</p>
`))

func (s *smtpMailer) SendRegistrationCode(email, username, code string) error {
	body, err := render(registrationTmpl, map[string]string{"Username": username, "Code": code})
	if err != nil {
		return err
	}
	return s.send(email, "Confirm your registration", body)
}

func (s *smtpMailer) SendAccountExistsNotice(email string) error {
	body, err := render(accountExistsTmpl, nil)
	if err != nil {
		return err
	}
	return s.send(email, "Confirm your registration", body)
}

func (s *smtpMailer) SendSignInCode(email, code string) error {
	body, err := render(signInTmpl, map[string]string{"Code": code})
	if err != nil {
		return err
	}
	return s.send(email, "Your sign-in code", body)
}

func (s *smtpMailer) SendEmailChangeCode(newEmail, code string) error {
	body, err := render(emailChangeTmpl, map[string]string{"Code": code})
	if err != nil {
		return err
	}
	return s.send(newEmail, "Confirm your new email address", body)
}

func (s *smtpMailer) SendEmailChangedNotice(oldEmail, newEmail string) error {
	body, err := render(emailChangedTmpl, map[string]string{"NewEmail": newEmail})
	if err != nil {
		return err
	}
	return s.send(oldEmail, "Your email address was changed", body)
}

func (s *smtpMailer) send(to, subject, body string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send %q email: %w", subject, err)
	}

	return nil
}

func render(tmpl *template.Template, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render email template: %w", err)
	}
	return buf.String(), nil
}
