package i18n

import (
	"strconv"
	"strings"
)

type EmailContent struct {
	Subject string
	Text    string
	HTML    string
}

type emailStrings struct {
	VerificationSubject string
	VerificationText    string
	VerificationHTML    string

	ResetCodeSubject string
	ResetCodeText    string
	ResetCodeHTML    string
}

var emailTranslations = map[string]emailStrings{
	"en": {
		VerificationSubject: "Email Verification",
		VerificationText:    "Your verification code is: {code}\nIt is valid for {minutes} minutes.",
		VerificationHTML: "<p>Email Verification</p>" +
			"<p>Use the code below to finish creating your MediBot account.</p>" +
			"<p><strong>{code}</strong></p>" +
			"<p>The code expires in {minutes} minutes.</p>" +
			"<p>If you did not sign up, you can ignore this email.</p>",

		ResetCodeSubject: "Password Reset",
		ResetCodeText:    "Your password reset code is: {code}\nIt is valid for {minutes} minutes.\nIf you did not request this, ignore this email.",
		ResetCodeHTML: "<p>Password Reset</p>" +
			"<p>Enter the code below on the reset page to choose a new password.</p>" +
			"<p><strong>{code}</strong></p>" +
			"<p>The code expires in {minutes} minutes.</p>" +
			"<p>If you did not request this, ignore this email.</p>",
	},
	"de": {
		VerificationSubject: "E-Mail-Bestätigung",
		VerificationText:    "Ihr Verifizierungscode lautet: {code}\nEr ist {minutes} Minuten gültig.",
		VerificationHTML: "<p>E-Mail-Bestätigung</p>" +
			"<p>Verwenden Sie den untenstehenden Code, um Ihr MediBot-Konto anzulegen.</p>" +
			"<p><strong>{code}</strong></p>" +
			"<p>Der Code läuft in {minutes} Minuten ab.</p>" +
			"<p>Wenn Sie sich nicht registriert haben, können Sie diese E-Mail ignorieren.</p>",

		ResetCodeSubject: "Passwort zurücksetzen",
		ResetCodeText:    "Ihr Code zum Zurücksetzen lautet: {code}\nEr ist {minutes} Minuten gültig.\nWenn Sie dies nicht angefordert haben, ignorieren Sie diese E-Mail.",
		ResetCodeHTML: "<p>Passwort zurücksetzen</p>" +
			"<p>Geben Sie den folgenden Code auf der Seite zum Zurücksetzen ein.</p>" +
			"<p><strong>{code}</strong></p>" +
			"<p>Der Code läuft in {minutes} Minuten ab.</p>" +
			"<p>Wenn Sie dies nicht angefordert haben, ignorieren Sie diese E-Mail.</p>",
	},
}

func emailStringsForLocale(locale string) emailStrings {
	key := NormalizeLocale(locale)
	if val, ok := emailTranslations[key]; ok {
		return val
	}
	return emailTranslations[DefaultLocale]
}

func renderTemplate(tmpl string, values map[string]string) string {
	if tmpl == "" || len(values) == 0 {
		return tmpl
	}

	replacements := make([]string, 0, len(values)*2)
	for key, value := range values {
		replacements = append(replacements, "{"+key+"}", value)
	}
	return strings.NewReplacer(replacements...).Replace(tmpl)
}

func codeValues(code string, minutes int) map[string]string {
	return map[string]string{
		"code":    code,
		"minutes": strconv.Itoa(minutes),
	}
}

func VerificationEmail(locale, code string, minutes int) EmailContent {
	templates := emailStringsForLocale(locale)
	values := codeValues(code, minutes)
	return EmailContent{
		Subject: templates.VerificationSubject,
		Text:    renderTemplate(templates.VerificationText, values),
		HTML:    renderTemplate(templates.VerificationHTML, values),
	}
}

func ResetCodeEmail(locale, code string, minutes int) EmailContent {
	templates := emailStringsForLocale(locale)
	values := codeValues(code, minutes)
	return EmailContent{
		Subject: templates.ResetCodeSubject,
		Text:    renderTemplate(templates.ResetCodeText, values),
		HTML:    renderTemplate(templates.ResetCodeHTML, values),
	}
}
