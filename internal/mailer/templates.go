package mailer

import (
	"fmt"
	"strings"
	"time"

	"contact-service/internal/models"
	"contact-service/internal/util"
)

const (
	defaultLanguage = "fr"
	wrapWidth       = 70
)

type ackTemplate struct {
	subject string
	body    string // %[1]s = submitter name, %[2]s = owner name
}

var acknowledgments = map[string]ackTemplate{
	"fr": {
		subject: "Merci pour votre message - %s",
		body:    "Bonjour %[1]s,\n\nMerci pour votre message. Je vous répondrai dans les plus brefs délais.\n\nCordialement,\n%[2]s",
	},
	"en": {
		subject: "Thank you for your message - %s",
		body:    "Hello %[1]s,\n\nThank you for your message. I will get back to you as soon as possible.\n\nBest regards,\n%[2]s",
	},
	"nl": {
		subject: "Bedankt voor uw bericht - %s",
		body:    "Hallo %[1]s,\n\nBedankt voor uw bericht. Ik zal zo snel mogelijk bij u terugkomen.\n\nMet vriendelijke groeten,\n%[2]s",
	},
	"de": {
		subject: "Vielen Dank für Ihre Nachricht - %s",
		body:    "Hallo %[1]s,\n\nVielen Dank für Ihre Nachricht. Ich werde Ihnen so schnell wie möglich antworten.\n\nMit freundlichen Grüßen,\n%[2]s",
	},
	"sv": {
		subject: "Tack för ditt meddelande - %s",
		body:    "Hej %[1]s,\n\nTack för ditt meddelande. Jag återkommer till dig så snart som möjligt.\n\nMed vänliga hälsningar,\n%[2]s",
	},
}

func ownerSubject(sub models.Submission, site string) string {
	return fmt.Sprintf("Nouveau message de %s - %s", sub.Name, site)
}

func ownerBody(sub models.Submission, ip, site string, at time.Time) string {
	if ip == "" {
		ip = "inconnue"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Nouveau message reçu depuis %s\n\n", site)
	fmt.Fprintf(&b, "Nom: %s\n", sub.Name)
	fmt.Fprintf(&b, "Email: %s\n", sub.Email)
	fmt.Fprintf(&b, "Date: %s\n", at.Format("02/01/2006 à 15:04"))
	fmt.Fprintf(&b, "Langue: %s\n\n", sub.Language)
	b.WriteString("Message:\n")
	b.WriteString(util.WordWrap(sub.Message, wrapWidth))
	b.WriteString("\n\n---\n")
	fmt.Fprintf(&b, "IP: %s\n", ip)
	return b.String()
}

func acknowledgment(sub models.Submission, owner string) (subject, body string) {
	tpl, ok := acknowledgments[sub.Language]
	if !ok {
		tpl = acknowledgments[defaultLanguage]
	}
	return fmt.Sprintf(tpl.subject, owner), fmt.Sprintf(tpl.body, sub.Name, owner)
}
