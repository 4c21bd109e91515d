// Package httpx provides HTTP response utilities for the JSON envelope.
package httpx

import (
	"encoding/json"
	"net/http"
)

// Result is the envelope every endpoint responds with.
type Result struct {
	Content    any    `json:"content"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
}

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Respond wraps content in the envelope.
func Respond(w http.ResponseWriter, status int, message string, content any) {
	JSON(w, status, Result{Content: content, Message: message, StatusCode: status})
}

// OK responds 200 with content.
func OK(w http.ResponseWriter, message string, content any) {
	Respond(w, http.StatusOK, message, content)
}

// Created responds 201 with content.
func Created(w http.ResponseWriter, message string, content any) {
	Respond(w, http.StatusCreated, message, content)
}

// DecodeJSON decodes JSON request body into the target struct, rejecting unknown fields.
func DecodeJSON(r *http.Request, target any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(target)
}
