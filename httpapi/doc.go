// Package httpapi exposes the OTP engine over JSON HTTP.
//
// Every response uses the same envelope: success, data or error, and meta
// with the request id. Error messages are localized from Accept-Language
// (English and German); the error code is stable across languages.
package httpapi
