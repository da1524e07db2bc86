package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"

	"github.com/xenking/bookstore/internal/domain/auth"
	"github.com/xenking/bookstore/internal/session"
	"github.com/xenking/bookstore/internal/web"
)

const homeURL = "/bookstore/home/"

func (h *Handler) registerForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, web.PageRegister, web.View{Title: "Register"})
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	req := auth.RegisterRequest{
		Username: r.PostFormValue("username"),
		Email:    r.PostFormValue("email"),
		Password: r.PostFormValue("password1"),
		Confirm:  r.PostFormValue("password2"),
	}
	u, err := h.accounts.Register(r.Context(), req)
	if err != nil {
		status, msg, field := classify(err)
		if status == http.StatusInternalServerError {
			h.failPage(w, r, err)
			return
		}
		h.render(w, r, status, web.PageRegister, web.View{
			Title:      "Register",
			Error:      msg,
			ErrorField: field,
			Form:       map[string]string{"username": req.Username, "email": req.Email},
		})
		return
	}
	if _, err := h.signIn(w, r, u); err != nil {
		h.failPage(w, r, err)
		return
	}
	http.Redirect(w, r, homeURL, http.StatusSeeOther)
}

func (h *Handler) loginForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, web.PageLogin, web.View{
		Title: "Log in",
		Form:  map[string]string{"next": r.URL.Query().Get("next")},
	})
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	username := r.PostFormValue("username")
	next := r.PostFormValue("next")

	u, err := h.accounts.Authenticate(r.Context(), username, r.PostFormValue("password"))
	if errors.Is(err, auth.ErrInvalidCredentials) {
		h.render(w, r, http.StatusOK, web.PageLogin, web.View{
			Title: "Log in",
			Error: err.Error(),
			Form:  map[string]string{"username": username, "next": next},
		})
		return
	}
	if err != nil {
		h.failPage(w, r, err)
		return
	}
	if _, err := h.signIn(w, r, u); err != nil {
		h.failPage(w, r, err)
		return
	}
	http.Redirect(w, r, safeNext(next), http.StatusSeeOther)
}

// safeNext returns next when it is a path on this site, and the home page
// otherwise.
func safeNext(next string) string {
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.ContainsAny(next, "\\\r\n") {
		return homeURL
	}
	return next
}

// logout drops the session, including its cart, and starts an anonymous one.
func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.sessions.Destroy(ctx, sessionID(ctx)); err != nil {
		logError(ctx, "Destroy session on logout", err)
	}
	h.setSessionCookie(w, session.NewID())
	http.Redirect(w, r, homeURL, http.StatusSeeOther)
}

func (h *Handler) forgotForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, web.PageForgot, web.View{Title: "Forgot password"})
}

// forgotPassword always ends on the confirmation page so the form cannot be
// used to probe for registered addresses.
func (h *Handler) forgotPassword(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.PostFormValue("email"))
	if email == "" {
		h.render(w, r, http.StatusBadRequest, web.PageForgot, web.View{
			Title:      "Forgot password",
			Error:      "email: this field is required",
			ErrorField: "email",
		})
		return
	}
	ctx := r.Context()
	if err := h.accounts.ForgotPassword(ctx, email); err != nil {
		logError(ctx, "Send password reset", err)
	}
	h.render(w, r, http.StatusOK, web.PageForgotDone, web.View{Title: "Password reset sent"})
}

func (h *Handler) resetForm(w http.ResponseWriter, r *http.Request) {
	uid, token := chi.URLParam(r, "uid"), chi.URLParam(r, "token")
	_, err := h.accounts.VerifyResetToken(r.Context(), uid, token)
	switch {
	case errors.Is(err, auth.ErrInvalidResetToken):
		h.render(w, r, http.StatusOK, web.PageReset, web.View{Title: "Reset password"})
	case err != nil:
		h.failPage(w, r, err)
	default:
		h.render(w, r, http.StatusOK, web.PageReset, web.View{Title: "Reset password", Data: true})
	}
}

func (h *Handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	uid, token := chi.URLParam(r, "uid"), chi.URLParam(r, "token")
	err := h.accounts.ResetPassword(r.Context(), uid, token,
		r.PostFormValue("new_password1"),
		r.PostFormValue("new_password2"),
	)

	var invalid *auth.ValidationError
	switch {
	case err == nil:
		http.Redirect(w, r, "/login/", http.StatusSeeOther)
	case errors.Is(err, auth.ErrInvalidResetToken):
		h.render(w, r, http.StatusOK, web.PageReset, web.View{Title: "Reset password"})
	case errors.As(err, &invalid):
		h.render(w, r, http.StatusBadRequest, web.PageReset, web.View{
			Title:      "Reset password",
			Error:      invalid.Error(),
			ErrorField: invalid.Field,
			Data:       true,
		})
	default:
		h.failPage(w, r, err)
	}
}
