// Package http exposes the session lifecycle over REST: live session
// management, snapshot save/resume/delete, listing, and maintenance.
// Handlers surface sanitized errors only; full diagnostics stay in logs.
package http
