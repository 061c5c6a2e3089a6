package app

import (
	"net/http"

	"campuschat/pkg/api"
	"campuschat/pkg/auth"
	"campuschat/pkg/config"
)

// startHTTP builds the router, starts the HTTP server in a goroutine and
// returns a channel that will carry any fatal server error.
func (a *App) startHTTP() <-chan error {
	sec := auth.SecConfig{
		AllowedOrigins: append([]string{}, a.cfg.Security.CORS.AllowedOrigins...),
		RPS:            a.cfg.Security.RateLimit.RPS,
		Burst:          a.cfg.Security.RateLimit.Burst,
		BackendKeys:    config.KeySet(a.cfg.Security.APIKeys.Backend),
		FrontendKeys:   config.KeySet(a.cfg.Security.APIKeys.Frontend),
		AdminKeys:      config.KeySet(a.cfg.Security.APIKeys.Admin),
		SigningKeys:    config.KeySet(a.cfg.Security.SigningKeys),
	}

	router := api.NewRouter(sec, a.rooms, a.msgs, a.hub)
	a.srv = &http.Server{Addr: a.cfg.Addr(), Handler: router}

	errCh := make(chan error, 1)
	go func() {
		cert := a.cfg.Server.TLS.CertFile
		key := a.cfg.Server.TLS.KeyFile
		if cert != "" && key != "" {
			errCh <- a.srv.ListenAndServeTLS(cert, key)
		} else {
			errCh <- a.srv.ListenAndServe()
		}
	}()
	return errCh
}
