// Package gormrepo provides Postgres-backed identity and order repositories
// for the OTP engine.
package gormrepo
