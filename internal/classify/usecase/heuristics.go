package usecase

import "strings"

// Known transactional/security/newsletter senders that are never part of a
// job search. Matching one marks the message non-job-related without
// spending classifier quota.
var excludedSenderPatterns = []string{
	"no-reply@accounts.google.com",
	"noreply@github.com",
	"notifications@github.com",
	"security@",
	"account-security-noreply@",
	"mailer-daemon@",
	"postmaster@",
	"newsletter@",
	"news@",
	"digest@",
	"billing@",
	"receipts@",
	"invoice@",
	"no-reply@uber.com",
	"noreply@paypal.com",
	"no-reply@amazon.com",
}

var excludedSubjectPatterns = []string{
	"password reset",
	"reset your password",
	"verify your email",
	"verification code",
	"security alert",
	"sign-in attempt",
	"two-factor",
	"2fa code",
	"your receipt",
	"your invoice",
	"order confirmation",
	"unsubscribe",
}

// matchExclusion reports whether the sender/subject pair matches a cheap
// exclusion pattern, with the matched pattern as reason.
func matchExclusion(sender, subject string) (string, bool) {
	sender = strings.ToLower(sender)
	subject = strings.ToLower(subject)

	for _, pattern := range excludedSenderPatterns {
		if strings.Contains(sender, pattern) {
			return "sender:" + pattern, true
		}
	}
	for _, pattern := range excludedSubjectPatterns {
		if strings.Contains(subject, pattern) {
			return "subject:" + pattern, true
		}
	}
	return "", false
}
