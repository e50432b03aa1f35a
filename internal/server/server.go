package server

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"medibot/internal/auth"
	"medibot/internal/config"
)

type Server struct {
	Auth   *auth.Manager
	Config config.Config
	pages  pageSet
}

func NewServer(cfg config.Config, manager *auth.Manager) (*Server, error) {
	pages, err := loadPages()
	if err != nil {
		return nil, err
	}
	return &Server{
		Auth:   manager,
		Config: cfg,
		pages:  pages,
	}, nil
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	formatter := &middleware.DefaultLogFormatter{
		Logger:  log.New(log.Writer(), "", log.Flags()),
		NoColor: true,
	}
	r.Use(middleware.RequestLogger(formatter))
	r.Use(middleware.Recoverer)
	if s.Config.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.Config.RequestTimeout))
	}
	r.Use(secureHeaders(s.Config.SecureCookies()))
	r.Use(withLocale)

	r.Get("/healthz", s.handleHealth)

	r.Get("/", s.handlePage(pageIndex))
	r.Get("/login", s.handlePage(pageLogin))
	r.Get("/register", s.handlePage(pageRegister))
	r.Get("/verify", s.handlePage(pageVerify))
	r.Get("/reset", s.handlePage(pageReset))
	r.Get("/newpass", s.handlePage(pageNewPassword))

	r.Post("/register", s.handleRegister)
	r.Post("/verify", s.handleVerify)
	r.Post("/login", s.handleLogin)
	r.Post("/logout", s.handleLogout)
	r.Post("/reset", s.handleReset)
	r.Post("/newpass", s.handleNewPassword)

	r.Group(func(pr chi.Router) {
		pr.Use(s.requireSession)
		pr.Get("/dashboard", s.handleDashboard)
	})

	return r
}
