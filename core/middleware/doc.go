// Package middleware groups the HTTP middlewares shared by all features:
// rayid (request correlation) and auth (API key gate).
package middleware
