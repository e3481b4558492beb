package auth

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"
)

// NewHTTPHandler exposes Gateway's three operations over a small JSON API,
// grounded on adred-codev-ws_poc/ws/server.go's stdlib net/http +
// encoding/json handler style (mux.HandleFunc + json.NewEncoder, no
// router framework anywhere in the corpus for this shape of request).
func NewHTTPHandler(gw *Gateway, log zerolog.Logger) http.Handler {
	mux := http.NewServeMux()
	h := &httpHandler{gw: gw, log: log}
	mux.HandleFunc("/register", h.handleRegister)
	mux.HandleFunc("/login", h.handleLogin)
	mux.HandleFunc("/validate", h.handleValidate)
	mux.HandleFunc("/health", h.handleHealth)
	return mux
}

type httpHandler struct {
	gw  *Gateway
	log zerolog.Logger
}

type registerRequest struct {
	Username             string `json:"username"`
	Email                string `json:"email"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
}

type loginRequest struct {
	UsernameOrEmail string `json:"username_or_email"`
	Password        string `json:"password"`
}

type validateRequest struct {
	Token string `json:"token"`
}

func (h *httpHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}

	result := h.gw.Register(r.Context(), req.Username, req.Email, req.Password, req.PasswordConfirmation)
	if result.Outcome != RegisterSuccess {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": result.Reason})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"account_id": result.AccountID,
		"username":   result.Username,
	})
}

func (h *httpHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}

	result := h.gw.Login(r.Context(), req.UsernameOrEmail, req.Password, clientAddress(r))
	switch result.Outcome {
	case LoginSuccess:
		writeJSON(w, http.StatusOK, map[string]any{
			"token":      result.Token,
			"expires_at": result.ExpiresAt,
			"user_id":    result.UserID,
			"username":   result.Username,
		})
	case LoginRateLimited:
		w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfterSeconds))
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": result.Reason})
	default:
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": result.Reason})
	}
}

func (h *httpHandler) handleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}

	result := h.gw.ValidateTokenFull(req.Token)
	if !result.Valid {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": result.Reason})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":    result.UserID,
		"username":   result.Username,
		"expires_at": result.ExpiresAt,
	})
}

func (h *httpHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func clientAddress(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
