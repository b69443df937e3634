// Package domain defines core data models and interfaces shared across the app.
// It contains plain types (credentials, transport state, error kinds) and
// contracts (interfaces) only; protocol wire structures live with their codecs.
package domain
