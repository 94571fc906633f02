package httpapi

import (
	"net/http"

	"golang.org/x/text/language"

	goOTP "github.com/MrEthical07/goOTP"
)

var supported = []language.Tag{
	language.English,
	language.German,
}

var matcher = language.NewMatcher(supported)

var catalog = map[language.Base]map[goOTP.Code]string{
	mustBase(language.English): {
		goOTP.CodeValidation:          "The request is incomplete or malformed.",
		goOTP.CodeRateLimited:         "Too many codes were requested. Please try again later.",
		goOTP.CodeSendFailed:          "The code could not be delivered.",
		goOTP.CodeNotFound:            "No matching verification was found.",
		goOTP.CodeContactMismatch:     "The contact does not match this verification.",
		goOTP.CodeExpired:             "The code has expired. Please request a new one.",
		goOTP.CodeAlreadyUsed:         "The code has already been used.",
		goOTP.CodeMaxAttemptsExceeded: "Too many wrong attempts. Please request a new code.",
		goOTP.CodeInvalidCode:         "The code is incorrect.",
		goOTP.CodeUnauthorized:        "The session is invalid or has expired.",
		goOTP.CodeForbidden:           "The session is not valid for this action.",
		goOTP.CodeInternal:            "Something went wrong. Please try again.",
	},
	mustBase(language.German): {
		goOTP.CodeValidation:          "Die Anfrage ist unvollständig oder fehlerhaft.",
		goOTP.CodeRateLimited:         "Zu viele Codes angefordert. Bitte später erneut versuchen.",
		goOTP.CodeSendFailed:          "Der Code konnte nicht zugestellt werden.",
		goOTP.CodeNotFound:            "Keine passende Verifizierung gefunden.",
		goOTP.CodeContactMismatch:     "Der Kontakt passt nicht zu dieser Verifizierung.",
		goOTP.CodeExpired:             "Der Code ist abgelaufen. Bitte einen neuen anfordern.",
		goOTP.CodeAlreadyUsed:         "Der Code wurde bereits verwendet.",
		goOTP.CodeMaxAttemptsExceeded: "Zu viele Fehlversuche. Bitte einen neuen Code anfordern.",
		goOTP.CodeInvalidCode:         "Der Code ist falsch.",
		goOTP.CodeUnauthorized:        "Die Sitzung ist ungültig oder abgelaufen.",
		goOTP.CodeForbidden:           "Die Sitzung ist für diese Aktion nicht gültig.",
		goOTP.CodeInternal:            "Etwas ist schiefgelaufen. Bitte erneut versuchen.",
	},
}

func mustBase(tag language.Tag) language.Base {
	b, _ := tag.Base()
	return b
}

// localize picks the message for code in the best language the client
// accepts, falling back to English.
func localize(r *http.Request, code goOTP.Code) string {
	tag, _ := language.MatchStrings(matcher, r.Header.Get("Accept-Language"))
	base, _ := tag.Base()

	msgs, ok := catalog[base]
	if !ok {
		msgs = catalog[mustBase(language.English)]
	}
	if msg, ok := msgs[code]; ok {
		return msg
	}
	return msgs[goOTP.CodeInternal]
}
