// Package api serves classification of announcements against a decision
// trie over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hervehildenbrand/origin-guard/pkg/detector"
	"github.com/hervehildenbrand/origin-guard/pkg/export"
	"github.com/hervehildenbrand/origin-guard/pkg/ingest"
	"github.com/hervehildenbrand/origin-guard/pkg/metrics"
	"github.com/hervehildenbrand/origin-guard/pkg/prefix"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// maxBodySize bounds POST bodies.
const maxBodySize = 16 << 20

// Decisions is the read side of a decision trie.
type Decisions interface {
	detector.Classifier
	Conflicts() map[string][]uint32
	Prefixes() int
}

// Server routes API requests to a decision trie.
type Server struct {
	decisions Decisions
	router    chi.Router
}

// NewServer wires the routes for d.
func NewServer(d Decisions) *Server {
	s := &Server{decisions: d}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.health)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/classify", s.classifyOne)
		r.Post("/classify", s.classifyBatch)
		r.Get("/conflicts", s.conflicts)
	})
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Infof("HTTP API listening on %s", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debugf("%s %s %d %dB %v [%s]", r.Method, r.URL.Path, ww.Status(),
			ww.BytesWritten(), time.Since(start), chimw.GetReqID(r.Context()))
	})
}

func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Debugf("Unable to write response: %v", err)
		}
	}
}

func errorResponse(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]interface{}{"error": message}
	if err != nil {
		response["details"] = err.Error()
	}
	jsonResponse(w, status, response)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"prefixes":  s.decisions.Prefixes(),
		"conflicts": len(s.decisions.Conflicts()),
	})
}

// GET /api/v1/classify?prefix=10.0.0.0/8&origin=AS65001
func (s *Server) classifyOne(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pfx := strings.TrimSpace(q.Get("prefix"))
	if pfx == "" {
		errorResponse(w, http.StatusBadRequest, "prefix required", nil)
		return
	}
	origin, err := ingest.ParseASN(q.Get("origin"))
	if err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid origin", err)
		return
	}

	start := time.Now()
	verdict, legal, err := s.decisions.Classify(pfx, origin)
	metrics.ClassifyDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid prefix", err)
		return
	}
	metrics.Verdicts.WithLabelValues(verdict.String()).Inc()
	jsonResponse(w, http.StatusOK, detector.Result{
		Prefix:       pfx,
		Origin:       origin,
		Verdict:      verdict,
		LegalOrigins: legal,
	})
}

// POST /api/v1/classify with a JSON announcement array.
func (s *Server) classifyBatch(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		errorResponse(w, http.StatusRequestEntityTooLarge, "unable to read body", err)
		return
	}
	inputs, err := export.ParseAnnouncements(raw)
	if err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid announcements", err)
		return
	}
	jsonResponse(w, http.StatusOK, detector.ClassifyInputs(s.decisions, inputs))
}

// Conflict is one contested prefix.
type Conflict struct {
	PrefixBits string   `json:"prefix_bits"`
	Prefix     string   `json:"prefix,omitempty"`
	Origins    []uint32 `json:"origins"`
}

// GET /api/v1/conflicts
func (s *Server) conflicts(w http.ResponseWriter, r *http.Request) {
	contested := s.decisions.Conflicts()
	out := make([]Conflict, 0, len(contested))
	for bits, origins := range contested {
		c := Conflict{PrefixBits: bits, Origins: origins}
		if len(bits) <= 32 {
			c.Prefix, _ = prefix.FromBits(bits, prefix.IPv4)
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PrefixBits < out[j].PrefixBits })
	jsonResponse(w, http.StatusOK, out)
}
