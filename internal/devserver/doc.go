// Package devserver is an in-memory backend speaking the same wire contract as the
// production API: enveloped JSON responses, short-lived JWT access tokens and
// rotating refresh tokens. It serves local development and end-to-end tests; all
// state is lost on exit.
package devserver
