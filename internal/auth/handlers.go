package auth

import (
	"errors"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/session-auth/internal/audit"
	"github.com/yourusername/session-auth/internal/identity"
	"github.com/yourusername/session-auth/internal/metrics"
)

type registerForm struct {
	// max は users.username 列 (VARCHAR(255)) に合わせる
	Username        string `form:"username" binding:"required,max=255"`
	Password        string `form:"password" binding:"required"`
	PasswordConfirm string `form:"password_confirm" binding:"required,eqfield=Password"`
}

type loginForm struct {
	Username string `form:"username" binding:"required"`
	Password string `form:"password" binding:"required"`
}

// Home は GET / のハンドラーです。
func (m *Manager) Home(c *gin.Context) {
	m.render(c, http.StatusOK, "index.tmpl", "Home")
}

// RegisterPage は GET /register のハンドラーです。
func (m *Manager) RegisterPage(c *gin.Context) {
	m.render(c, http.StatusOK, "register.tmpl", "Register")
}

// LoginPage は GET /login のハンドラーです。
func (m *Manager) LoginPage(c *gin.Context) {
	m.render(c, http.StatusOK, "login.tmpl", "Log in")
}

// Register は POST /register のハンドラーです。
func (m *Manager) Register(c *gin.Context) {
	var form registerForm
	if err := c.ShouldBind(&form); err != nil {
		m.logger.InfoContext(c.Request.Context(), "auth.register.invalid_form")
		c.Redirect(http.StatusFound, "/register")
		return
	}
	// validator の max は文字数なので、bcrypt の上限はバイト数で確認する
	if len(form.Password) > identity.MaxPasswordBytes {
		m.logger.InfoContext(c.Request.Context(), "auth.register.invalid_form", "reason", "password_too_long")
		c.Redirect(http.StatusFound, "/register")
		return
	}

	user, err := m.identity.Register(c.Request.Context(), form.Username, form.Password)
	if err != nil {
		if errors.Is(err, identity.ErrPasswordTooLong) {
			m.logger.InfoContext(c.Request.Context(), "auth.register.invalid_form", "reason", "password_too_long")
			c.Redirect(http.StatusFound, "/register")
			return
		}
		if errors.Is(err, identity.ErrDuplicateUsername) {
			metrics.Registrations.WithLabelValues(metrics.ResultDuplicate).Inc()
			m.logger.InfoContext(c.Request.Context(), "auth.register.duplicate")
			m.record(c, audit.KindRegisterDuplicate, nil)
			c.Redirect(http.StatusFound, "/register")
			return
		}
		metrics.Registrations.WithLabelValues(metrics.ResultError).Inc()
		m.logger.ErrorContext(c.Request.Context(), "auth.register.fail", "err", err)
		m.renderError(c)
		return
	}

	if err := m.startSession(c, user); err != nil {
		metrics.Registrations.WithLabelValues(metrics.ResultError).Inc()
		m.logger.ErrorContext(c.Request.Context(), "auth.session.save.fail", "err", err)
		m.renderError(c)
		return
	}

	metrics.Registrations.WithLabelValues(metrics.ResultSuccess).Inc()
	m.record(c, audit.KindRegisterSuccess, &user.ID)
	c.Redirect(http.StatusFound, "/")
}

// Login は POST /login のハンドラーです。
func (m *Manager) Login(c *gin.Context) {
	var form loginForm
	if err := c.ShouldBind(&form); err != nil {
		c.Redirect(http.StatusFound, "/login")
		return
	}

	user, err := m.identity.Login(c.Request.Context(), form.Username, form.Password)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			// ユーザーの存在有無が分からないよう、ユーザー名も理由も記録しない
			metrics.Logins.WithLabelValues(metrics.ResultInvalid).Inc()
			m.logger.InfoContext(c.Request.Context(), "auth.login.failed", "remote", c.ClientIP())
			m.record(c, audit.KindLoginFailed, nil)
			c.Redirect(http.StatusFound, "/login")
			return
		}
		metrics.Logins.WithLabelValues(metrics.ResultError).Inc()
		m.logger.ErrorContext(c.Request.Context(), "auth.login.fail", "err", err)
		m.renderError(c)
		return
	}

	if err := m.startSession(c, user); err != nil {
		metrics.Logins.WithLabelValues(metrics.ResultError).Inc()
		m.logger.ErrorContext(c.Request.Context(), "auth.session.save.fail", "err", err)
		m.renderError(c)
		return
	}

	metrics.Logins.WithLabelValues(metrics.ResultSuccess).Inc()
	m.record(c, audit.KindLoginSuccess, &user.ID)
	c.Redirect(http.StatusFound, "/")
}

// Logout は POST /logout のハンドラーです。
// セッションを破棄するだけで、トークン自体はストア上で有効なままです。
func (m *Manager) Logout(c *gin.Context) {
	current := CurrentUser(c)

	session := sessions.Default(c)
	session.Clear()
	opts := m.cookieOpts
	opts.MaxAge = -1
	session.Options(opts)
	if err := session.Save(); err != nil {
		m.logger.ErrorContext(c.Request.Context(), "auth.session.clear.fail", "err", err)
		m.renderError(c)
		return
	}

	if !current.IsAnonymous() {
		m.record(c, audit.KindLogout, &current.ID)
	}
	c.Redirect(http.StatusFound, "/")
}

func (m *Manager) startSession(c *gin.Context, user identity.User) error {
	session := sessions.Default(c)
	session.Set(sessionKeyToken, user.Token)
	return session.Save()
}

func (m *Manager) render(c *gin.Context, status int, name, title string) {
	c.HTML(status, name, gin.H{
		"Title":       title,
		"CurrentUser": CurrentUser(c),
	})
}

func (m *Manager) renderError(c *gin.Context) {
	m.render(c, http.StatusInternalServerError, "error.tmpl", "Error")
}
