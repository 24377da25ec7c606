package notify

import (
	"fmt"
	"log"
	"net/smtp"

	"github.com/PageForgeHQ/PageForge/internal/pkg/env"
)

// SMTPNotifier sends billing notification emails via SMTP.
type SMTPNotifier struct{}

// NewSMTPNotifier creates a notifier configured from the environment.
func NewSMTPNotifier() *SMTPNotifier {
	return &SMTPNotifier{}
}

func (n *SMTPNotifier) SendPaymentFailed(to, organizationName string) error {
	subject := fmt.Sprintf("Payment failed for %s", organizationName)
	body := fmt.Sprintf("<p>The latest payment for <strong>%s</strong> failed. Please update your payment method to keep your plan active.</p>", organizationName)
	return sendMail(to, subject, body)
}

func (n *SMTPNotifier) SendTrialEnding(to, organizationName string, daysLeft int) error {
	subject := fmt.Sprintf("Your %s trial is ending soon", organizationName)
	body := fmt.Sprintf("<p>The trial for <strong>%s</strong> ends in %d day(s). Add a payment method to avoid interruption.</p>", organizationName, daysLeft)
	return sendMail(to, subject, body)
}

func (n *SMTPNotifier) SendSubscriptionCanceled(to, organizationName string) error {
	subject := fmt.Sprintf("Subscription canceled for %s", organizationName)
	body := fmt.Sprintf("<p>The subscription for <strong>%s</strong> has been canceled and the organization is back on the free plan.</p>", organizationName)
	return sendMail(to, subject, body)
}

func (n *SMTPNotifier) SendInvoiceUpcoming(to, organizationName string, amountCents int64) error {
	subject := fmt.Sprintf("Upcoming invoice for %s", organizationName)
	body := fmt.Sprintf("<p>An invoice of %d.%02d will soon be charged for <strong>%s</strong>.</p>", amountCents/100, amountCents%100, organizationName)
	return sendMail(to, subject, body)
}

func sendMail(to string, subject string, body string) error {
	host := env.GetEnv("SMTP_HOST", "")
	port := env.GetEnv("SMTP_PORT", "")
	username := env.GetEnv("SMTP_USERNAME", "")
	password := env.GetEnv("SMTP_PASSWORD", "")
	sender := env.GetEnv("SMTP_SENDER", "")

	if sender == "" {
		sender = fmt.Sprintf("no-reply@%s", "localhost")
		log.Printf("SMTP_SENDER not set, using default sender: %s", sender)
	}

	var auth smtp.Auth
	if username != "" && password != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}

	addr := fmt.Sprintf("%s:%s", host, port)

	msg := []byte(
		fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n", sender, to, subject) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n\r\n" +
			body,
	)

	err := smtp.SendMail(addr, auth, sender, []string{to}, msg)
	if err != nil {
		log.Printf("SMTP send error: %v", err)
	} else {
		log.Printf("Email sent to %s via %s", to, addr)
	}
	return err
}
