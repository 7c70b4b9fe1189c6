package main

import (
	"net/http"

	"github.com/mcdev12/rubata/go/internal/rubata/api"
	"github.com/mcdev12/rubata/go/internal/rubata/config"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

func setupServer(cfg *config.Config, services *Services, db *database) *http.Server {
	handler := api.NewServer(api.Deps{
		Sessions:      services.Sessions,
		Preferences:   services.Preferences,
		History:       db.Store,
		Roster:        services.Roster,
		Sockets:       services.Sockets,
		DefaultBudget: cfg.Roster.DefaultBudget,
	}).Routes(cfg.HTTP.AllowedOrigins)

	return &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           h2c.NewHandler(handler, &http2.Server{}),
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
	}
}
