package server

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func routerFor(env ServerEnvironment, layout SiteLayout, cfg *SiteConfig, bundle Bundle) *Router {
	return &Router{
		Env:      env,
		Layout:   layout,
		Config:   cfg,
		Bundle:   bundle,
		Globals:  NewServerGlobals(),
		Registry: NewStreamRegistry(),
		Log:      testLogger(),
	}
}

func devConfig(t *testing.T) *SiteConfig {
	t.Helper()
	content := t.TempDir()
	writeFile(t, filepath.Join(content, "index.html"), "<html>dev index</html>")
	return &SiteConfig{
		Title: "test site",
		Port:  8080,
		Dev: SitePaths{
			ContentRoot: content,
			Script:      filepath.Join(content, "app.js"),
		},
	}
}

func TestAssembleDevFullstackInstallsEverything(t *testing.T) {
	cfg := devConfig(t)
	bundle := &fakeBundle{numStreams: 1}

	handler, err := routerFor(EnvDev, LayoutFullstack, cfg, bundle).Assemble()
	require.NoError(t, err)

	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	// Status feed answers.
	resp, err := http.Get(ts.URL + "/api/kobweb-status")
	require.NoError(t, err)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")
	resp.Body.Close()

	// Index fallback answers HTML clients.
	_, body := get(t, ts.URL+"/anything", "text/html")
	assert.Contains(t, body, "dev index")
}

func TestAssembleDevStaticHasNoApi(t *testing.T) {
	cfg := devConfig(t)

	handler, err := routerFor(EnvDev, LayoutStatic, cfg, nil).Assemble()
	require.NoError(t, err)

	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	// API paths fall through the catch-all chain: no HTML accept, 404.
	resp, err := http.Get(ts.URL + "/api/echo")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func prodFullstackConfig(t *testing.T) *SiteConfig {
	t.Helper()
	site := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(site, "system"), 0o755))
	writeFile(t, filepath.Join(site, "pages", "index.html"), "<html>prod index</html>")
	writeFile(t, filepath.Join(site, "resources", "main.css"), ".x{}")
	return &SiteConfig{
		Title: "prod site",
		Port:  8080,
		Prod:  SitePaths{SiteRoot: site},
	}
}

func TestAssembleProdFullstackServesSiteRoutes(t *testing.T) {
	cfg := prodFullstackConfig(t)
	bundle := &fakeBundle{numStreams: 0}

	handler, err := routerFor(EnvProd, LayoutFullstack, cfg, bundle).Assemble()
	require.NoError(t, err)

	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	_, body := get(t, ts.URL+"/", "text/html")
	assert.Contains(t, body, "prod index")

	resp, _ := get(t, ts.URL+"/main.css", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// No streams declared, so the websocket endpoint is not installed
	// and the path resolves like any other unknown api route.
	resp, _ = get(t, ts.URL+"/api/kobweb-streams", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAssembleProdFullstackMissingSiteRoot(t *testing.T) {
	cfg := &SiteConfig{
		Port: 8080,
		Prod: SitePaths{SiteRoot: filepath.Join(t.TempDir(), "nope")},
	}

	_, err := routerFor(EnvProd, LayoutFullstack, cfg, nil).Assemble()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestAssembleProdFullstackMissingSystemFolder(t *testing.T) {
	site := t.TempDir()
	writeFile(t, filepath.Join(site, "pages", "index.html"), "<html></html>")
	cfg := &SiteConfig{
		Port: 8080,
		Prod: SitePaths{SiteRoot: site},
	}

	_, err := routerFor(EnvProd, LayoutFullstack, cfg, nil).Assemble()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "system/")
}

func TestAssembleProdStaticServesTree(t *testing.T) {
	site := t.TempDir()
	writeFile(t, filepath.Join(site, "index.html"), "<html>static</html>")
	cfg := &SiteConfig{
		Port: 8080,
		Prod: SitePaths{SiteRoot: site},
	}

	handler, err := routerFor(EnvProd, LayoutStatic, cfg, nil).Assemble()
	require.NoError(t, err)

	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	resp, body := get(t, ts.URL+"/", "text/html")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "static")
}

func TestAssembleHonorsBasePath(t *testing.T) {
	cfg := devConfig(t)
	cfg.BasePath = "/docs/"

	handler, err := routerFor(EnvDev, LayoutStatic, cfg, nil).Assemble()
	require.NoError(t, err)

	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/docs/api/kobweb-status")
	require.NoError(t, err)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")
	resp.Body.Close()

	_, body := get(t, ts.URL+"/docs/page", "text/html")
	assert.Contains(t, body, "dev index")
}

func TestAssembleRejectsBadRedirects(t *testing.T) {
	cfg := devConfig(t)
	cfg.Redirects = []RedirectRule{{From: "/broken[", To: "/x"}}

	_, err := routerFor(EnvDev, LayoutStatic, cfg, nil).Assemble()
	require.Error(t, err)
}
