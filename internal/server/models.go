package server

import "github.com/mohammad-safakhou/insight/internal/store"

// HTTPError is the JSON error envelope returned by all handlers.
type HTTPError struct {
	Error string `json:"error"`
}

type AuthSignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

// AskRequest starts one report run.
type AskRequest struct {
	Question string `json:"question"`
}

type TurnListResponse struct {
	Turns []store.Turn `json:"turns"`
}
