package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Chase-Garrett/sealedchat/internal/auth"
	"github.com/Chase-Garrett/sealedchat/internal/protocol"
	"github.com/Chase-Garrett/sealedchat/internal/router"
	"github.com/Chase-Garrett/sealedchat/internal/store"
)

// RegistrationRequest defines JSON for the register endpoint
type RegistrationRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	PublicKey string `json:"publicKey"`
}

// LoginRequest defines JSON for the login endpoint
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// HandleHealth reports liveness.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleRegister handles the registration of a user
func (s *Server) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	user, err := s.users.RegisterNewUser(r.Context(), req.Username, req.Password, req.PublicKey)
	switch {
	case errors.Is(err, auth.ErrUserExists):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, auth.ErrInvalidUsername), errors.Is(err, auth.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.internalError(w, r, err)
		return
	}

	s.log.WithField("user", user.Username).Info("user registered")
	writeJSON(w, http.StatusCreated, user)
}

// HandleLogin checks a password and returns a bearer token.
func (s *Server) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	err := s.users.VerifyUser(r.Context(), req.Username, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}

	token, err := s.tokens.Issue(auth.Identity(req.Username))
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// HandleGetPublicKey serves a user's public key
func (s *Server) HandleGetPublicKey(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["username"]
	publicKey, err := s.users.PublicKey(r.Context(), username)
	if errors.Is(err, auth.ErrUserNotFound) || errors.Is(err, auth.ErrNoPublicKey) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"username":  username,
		"publicKey": publicKey,
	})
}

// HandleMe returns the caller's account.
func (s *Server) HandleMe(w http.ResponseWriter, r *http.Request) {
	me := identity(r)
	user, err := s.users.FindByUsername(r.Context(), me.String())
	if errors.Is(err, auth.ErrUserNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// HandleListUsers returns all registered usernames.
func (s *Server) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.AllUsers(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// HandleConversation returns the messages between the caller and another user.
func (s *Server) HandleConversation(w http.ResponseWriter, r *http.Request) {
	me := identity(r)
	other := mux.Vars(r)["other"]

	exists, err := s.users.Exists(r.Context(), other)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if !exists {
		writeError(w, http.StatusNotFound, auth.ErrUserNotFound.Error())
		return
	}

	msgs, err := s.messages.Conversation(r.Context(), me.String(), other)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// HandleInbox returns messages received by the caller.
func (s *Server) HandleInbox(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.messages.Inbox(r.Context(), identity(r).String())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// HandleSent returns messages sent by the caller.
func (s *Server) HandleSent(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.messages.Sent(r.Context(), identity(r).String())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// HandleSend routes a message over plain HTTP, for clients without a websocket.
func (s *Server) HandleSend(w http.ResponseWriter, r *http.Request) {
	var req protocol.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	msg, err := s.router.Route(r.Context(), auth.Authenticated(identity(r)), req)
	if err != nil {
		s.routeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// HandleDelete deletes one of the caller's own messages.
func (s *Server) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	err := s.messages.DeleteByID(r.Context(), id, identity(r).String())
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrNotOwner):
		writeError(w, http.StatusForbidden, err.Error())
	case err != nil:
		s.internalError(w, r, err)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) routeError(w http.ResponseWriter, r *http.Request, err error) {
	code := router.ErrorCode(err)
	switch code {
	case protocol.CodeUnauthenticated:
		writeError(w, http.StatusUnauthorized, code)
	case protocol.CodeReceiverNotFound:
		writeError(w, http.StatusNotFound, code)
	case protocol.CodeInvalidPayload:
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.internalError(w, r, err)
	}
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.log.WithField("path", r.URL.Path).WithError(err).Error("request failed")
	writeError(w, http.StatusInternalServerError, protocol.CodeStorage)
}

// identity is only called behind RequireIdentity
func identity(r *http.Request) auth.Identity {
	id, _ := auth.IdentityFrom(r.Context())
	return id
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
