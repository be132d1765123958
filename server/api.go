package server

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var apiMethods = []string{
	http.MethodGet,
	http.MethodPost,
	http.MethodPut,
	http.MethodPatch,
	http.MethodDelete,
	http.MethodHead,
	http.MethodOptions,
}

// ApiDispatcher converts HTTP requests under {prefix}/api/ into neutral
// request records, invokes the bundle, and translates the returned
// response record back onto the wire.
type ApiDispatcher struct {
	bundle Bundle
	env    ServerEnvironment
	stop   FramePredicate
	log    logrus.FieldLogger
}

func NewApiDispatcher(bundle Bundle, env ServerEnvironment, stop FramePredicate, log logrus.FieldLogger) *ApiDispatcher {
	return &ApiDispatcher{bundle: bundle, env: env, stop: stop, log: log}
}

// Register installs the dispatcher for all seven methods under
// {prefix}/api/{path...}. HEAD is served through the GET pattern, which
// ServeMux also matches for HEAD requests; a separate HEAD pattern would
// conflict with the more specific GET routes under api/ (status feed,
// streams).
func (d *ApiDispatcher) Register(mux *http.ServeMux, prefixer RoutePrefixer) {
	pattern := prefixer.Join("api/{path...}")
	for _, method := range apiMethods {
		if method == http.MethodHead {
			continue
		}
		mux.HandleFunc(method+" "+pattern, d.serve)
	}
}

func (d *ApiDispatcher) serve(w http.ResponseWriter, r *http.Request) {
	reqID := uuid.New().String()
	apiPath := "/" + r.PathValue("path")

	req := BuildRequest(r)
	resp, err := invokeBundle(r.Context(), d.bundle, apiPath, req)
	if err != nil {
		d.log.WithFields(logrus.Fields{
			"request": reqID,
			"method":  r.Method,
			"path":    apiPath,
		}).Errorf("bundle failed: %+v", err)

		if d.env == EnvDev {
			trace := TruncateTrace(err, d.stop)
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(trace))
		} else {
			w.WriteHeader(http.StatusInternalServerError)
		}
		return
	}

	if resp == nil {
		http.NotFound(w, r)
		return
	}

	// Append rather than replace, so the bundle can stack values onto
	// headers the host layer already set.
	for name, value := range resp.Headers {
		w.Header().Add(name, value)
	}

	head := r.Method == http.MethodHead
	if !head && resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}

	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)

	if !head && len(resp.Body) > 0 {
		_, _ = w.Write(resp.Body)
	}
}
