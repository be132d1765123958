package server

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Router wires the routing components into the assembly selected by
// (environment, layout).
type Router struct {
	Env      ServerEnvironment
	Layout   SiteLayout
	Config   *SiteConfig
	Bundle   Bundle
	Filter   FramePredicate // framework-frame sentinel from the bundle loader
	Globals  *ServerGlobals
	Registry *StreamRegistry
	Log      logrus.FieldLogger
}

// Assemble builds the full handler for the selected assembly:
//
//	DEV  + FULLSTACK: status feed, api dispatch, streams, dev catch-all
//	DEV  + STATIC:    status feed, dev catch-all (api paths 404)
//	PROD + FULLSTACK: api dispatch, streams (when declared), site routes, catch-all
//	PROD + STATIC:    static file tree + redirects
func (rt *Router) Assemble() (http.Handler, error) {
	redirects, err := NewRedirectEngine(rt.Config.Redirects)
	if err != nil {
		return nil, err
	}

	prefixer := NewRoutePrefixer(rt.Config.BasePath)
	paths := rt.Config.Paths(rt.Env)
	mux := http.NewServeMux()

	if rt.Env == EnvProd && rt.Layout == LayoutFullstack {
		if err := validateFullstackSite(paths.SiteRoot); err != nil {
			return nil, err
		}
	}

	switch {
	case rt.Env == EnvDev:
		NewStatusFeed(rt.Globals, rt.Log).Register(mux, prefixer)

		if rt.Layout == LayoutFullstack && rt.Bundle != nil {
			NewApiDispatcher(rt.Bundle, rt.Env, rt.Filter, rt.Log).Register(mux, prefixer)
			NewStreamMultiplexer(rt.Registry, rt.Bundle, rt.Env, rt.Filter, rt.Config.Streaming, rt.Log).Register(mux, prefixer)
		}

		catchAll := &catchAllHandler{
			prefixer:  prefixer,
			redirects: redirects,
			script:    paths.Script,
			content:   paths.ContentRoot,
			index:     filepath.Join(paths.ContentRoot, "index.html"),
		}
		catchAll.Register(mux)

	case rt.Layout == LayoutFullstack:
		if rt.Bundle != nil {
			NewApiDispatcher(rt.Bundle, rt.Env, rt.Filter, rt.Log).Register(mux, prefixer)
			// Skip the websocket install when the bundle declares no
			// streams; an idle endpoint is just resource drag.
			if rt.Bundle.NumStreams() > 0 {
				NewStreamMultiplexer(rt.Registry, rt.Bundle, rt.Env, rt.Filter, rt.Config.Streaming, rt.Log).Register(mux, prefixer)
			}
		}

		if err := registerSiteRoutes(mux, prefixer, paths.SiteRoot, rt.Log); err != nil {
			return nil, err
		}

		catchAll := &catchAllHandler{
			prefixer:  prefixer,
			redirects: redirects,
			script:    paths.Script,
			index:     filepath.Join(paths.SiteRoot, "pages", "index.html"),
		}
		catchAll.Register(mux)

	default: // PROD + STATIC
		static := &staticSiteHandler{
			prefixer:  prefixer,
			redirects: redirects,
			root:      paths.SiteRoot,
		}
		static.Register(mux)
	}

	return mux, nil
}

// validateFullstackSite checks the exported site before a fullstack
// assembly installs on top of it.
func validateFullstackSite(siteRoot string) error {
	info, err := os.Stat(siteRoot)
	if err != nil || !info.IsDir() {
		return errors.Errorf("site root %q does not exist; export the site before serving it", siteRoot)
	}

	system := filepath.Join(siteRoot, "system")
	if info, err := os.Stat(system); err != nil || !info.IsDir() {
		return errors.Errorf(
			"site root %q has no system/ subfolder, which suggests it was exported as a static layout; re-export with the fullstack layout or serve it with the static layout",
			siteRoot,
		)
	}

	return nil
}
