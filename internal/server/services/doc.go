// Package services contains the server-side business logic: session
// management (login, logout, refresh, registration), user CRUD and the
// per-request identity resolution that both transports share.
package services
