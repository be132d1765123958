package server

import (
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// catchAllHandler resolves any GET not claimed by a more specific
// route. It runs a fixed chain of predicates and executes exactly one
// terminal response: script file, redirect, dev content file, 404 for
// non-HTML clients, index fallback.
type catchAllHandler struct {
	prefixer  RoutePrefixer
	redirects *RedirectEngine
	script    string // path to the compiled client script on disk
	content   string // dev content root; empty outside dev
	index     string // path to the index HTML file
}

func (h *catchAllHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET "+h.prefixer.Join("{path...}"), h.serve)
}

func (h *catchAllHandler) serve(w http.ResponseWriter, r *http.Request) {
	tail := r.PathValue("path")

	if h.tryServeScript(w, r, tail) {
		return
	}

	// Redirects run before file serving, so a redirect may shadow a
	// file that exists on disk.
	if h.redirects.TryRedirect(w, r, h.prefixer, "/"+tail) {
		return
	}

	if h.content != "" && tryServeFile(w, r, h.content, tail) {
		return
	}

	// Serving the index page to a client that didn't ask for HTML
	// would defeat 404 semantics for subresources like favicons.
	if !strings.Contains(r.Header.Get("Accept"), "text/html") {
		http.NotFound(w, r)
		return
	}

	http.ServeFile(w, r, h.index)
}

// tryServeScript serves the compiled script (or its source map) when
// the tail's last segment names it.
func (h *catchAllHandler) tryServeScript(w http.ResponseWriter, r *http.Request, tail string) bool {
	if h.script == "" {
		return false
	}
	last := path.Base("/" + tail)
	scriptName := filepath.Base(h.script)
	switch last {
	case scriptName:
		http.ServeFile(w, r, h.script)
		return true
	case scriptName + ".map":
		http.ServeFile(w, r, h.script+".map")
		return true
	}
	return false
}

// tryServeFile serves root/tail if it resolves to a regular file inside
// root. Directory escapes are rejected outright.
func tryServeFile(w http.ResponseWriter, r *http.Request, root, tail string) bool {
	rel := filepath.Clean(filepath.FromSlash(tail))
	full := filepath.Join(root, rel)

	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return true
	}

	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		return false
	}

	http.ServeFile(w, r, full)
	return true
}

// registerSiteRoutes walks an exported site's resources/ and pages/
// folders and installs an explicit GET route per file. HTML pages are
// registered extensionless only (pages/about.html at /about), and index
// pages at their directory path, with and without the trailing slash.
func registerSiteRoutes(mux *http.ServeMux, prefixer RoutePrefixer, siteRoot string, log logrus.FieldLogger) error {
	serve := func(file string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			http.ServeFile(w, r, file)
		}
	}

	resources := filepath.Join(siteRoot, "resources")
	err := filepath.WalkDir(resources, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(resources, p)
		if err != nil {
			return err
		}
		route := prefixer.Join(filepath.ToSlash(rel))
		mux.HandleFunc("GET "+route, serve(p))
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	pages := filepath.Join(siteRoot, "pages")
	err = filepath.WalkDir(pages, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(pages, p)
		if err != nil {
			return err
		}
		slashed := filepath.ToSlash(rel)
		if !strings.HasSuffix(slashed, ".html") {
			mux.HandleFunc("GET "+prefixer.Join(slashed), serve(p))
			return nil
		}

		bare := strings.TrimSuffix(slashed, ".html")
		if path.Base(slashed) == "index.html" {
			// pages/foo/index.html answers at /foo and /foo/; the root
			// index answers at the prefix itself.
			dir := path.Dir(slashed)
			if dir == "." {
				mux.HandleFunc("GET "+prefixer.Join("{$}"), serve(p))
			} else {
				mux.HandleFunc("GET "+prefixer.Join(dir), serve(p))
				mux.HandleFunc("GET "+prefixer.Join(dir+"/{$}"), serve(p))
			}
			return nil
		}

		mux.HandleFunc("GET "+prefixer.Join(bare), serve(p))
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	log.Debugf("[files] registered exported site routes under %s", siteRoot)
	return nil
}

// staticSiteHandler is the whole prod-static server: a file tree rooted
// at siteRoot with .html extension resolution and a 404.html default,
// plus the redirect engine as the only dynamic element.
type staticSiteHandler struct {
	prefixer  RoutePrefixer
	redirects *RedirectEngine
	root      string
}

func (h *staticSiteHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET "+h.prefixer.Join("{path...}"), h.serve)
}

func (h *staticSiteHandler) serve(w http.ResponseWriter, r *http.Request) {
	tail := r.PathValue("path")

	if h.redirects.TryRedirect(w, r, h.prefixer, "/"+tail) {
		return
	}

	rel := filepath.Clean(filepath.FromSlash(tail))
	full := filepath.Join(h.root, rel)
	if !strings.HasPrefix(full, filepath.Clean(h.root)) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	if info, err := os.Stat(full); err == nil {
		if !info.IsDir() {
			http.ServeFile(w, r, full)
			return
		}
		index := filepath.Join(full, "index.html")
		if _, err := os.Stat(index); err == nil {
			http.ServeFile(w, r, index)
			return
		}
	}

	// Extensionless page lookup.
	if withExt := full + ".html"; tail != "" {
		if info, err := os.Stat(withExt); err == nil && !info.IsDir() {
			http.ServeFile(w, r, withExt)
			return
		}
	}

	notFound := filepath.Join(h.root, "404.html")
	if _, err := os.Stat(notFound); err == nil {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		body, err := os.ReadFile(notFound)
		if err == nil {
			_, _ = w.Write(body)
		}
		return
	}
	http.NotFound(w, r)
}
