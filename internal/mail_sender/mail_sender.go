package mailSender

import (
	"fmt"

	"conduit-auth/internal/models"

	"gopkg.in/gomail.v2"
)

type Mailer struct {
	Host     string
	Port     int
	Username string
	Password string
	FromName string
}

func (m *Mailer) Send(msg models.Message) error {
	mail := gomail.NewMessage()
	mail.SetHeader("To", msg.Email)
	mail.SetAddressHeader("From", m.Username, m.FromName)
	mail.SetHeader("Subject", msg.Subject)

	mail.SetBody("text/html", Body(msg))

	dialer := gomail.NewDialer(m.Host, m.Port, m.Username, m.Password)

	return dialer.DialAndSend(mail)
}

// Body renders the HTML for a queued message by purpose. Unknown purposes fall
// back to a bare link so a mis-tagged message is still deliverable.
func Body(msg models.Message) string {
	switch msg.Purpose {
	case models.PurposeEmailVerification:
		return fmt.Sprintf(verificationBody, msg.Username, msg.Link, msg.Link)
	case models.PurposePasswordReset:
		return fmt.Sprintf(resetBody, msg.Username, msg.Link, msg.Link)
	case models.PurposeSecurityAlert:
		return fmt.Sprintf(securityAlertBody, msg.Username)
	default:
		return fmt.Sprintf(`<p><a href="%s">%s</a></p>`, msg.Link, msg.Link)
	}
}

const verificationBody = `
<html>
<body>
	<h2>Hi %s!</h2>
	<p>Thanks for signing up! Please verify your email address by clicking the link below:</p>
	<p><a href="%s">Verify Email Address</a></p>
	<p>Or copy and paste this link into your browser:</p>
	<p>%s</p>
	<p><strong>This link will expire in 24 hours.</strong></p>
	<p>If you didn't create an account, please ignore this email.</p>
</body>
</html>
`

const resetBody = `
<html>
<body>
	<h2>Hi %s!</h2>
	<p>We received a request to reset your password. If you didn't make this request, you can safely ignore this email.</p>
	<p><a href="%s">Reset Password</a></p>
	<p>Or copy and paste this link into your browser:</p>
	<p>%s</p>
	<p><strong>This link will expire in 1 hour and can only be used once.</strong></p>
</body>
</html>
`

const securityAlertBody = `
<html>
<body>
	<h2>Hi %s!</h2>
	<p>We detected a sign-in attempt with an already used session token. As a precaution, all of
	your devices have been signed out.</p>
	<p>Please log in again. If this wasn't you, change your password immediately.</p>
</body>
</html>
`
