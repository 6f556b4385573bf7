package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bradbeattie/api.iscanadafair.ca/internal/model"
	"github.com/bradbeattie/api.iscanadafair.ca/internal/monitoring"
	"github.com/bradbeattie/api.iscanadafair.ca/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the escalation review server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		st, err := openStore(ctx, "serve")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if cfg.Monitoring.Enabled {
			collector := monitoring.NewCollector(st)
			checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
			go checker.Run(ctx)
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           buildMux(st, cfg.Server.AllowedOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx) //nolint:errcheck
		}()

		zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// decisionRequest is the body of POST /escalations/{id}/decision.
type decisionRequest struct {
	EntityID        string `json:"entity_id"`
	CorrectedSearch string `json:"corrected_search"`
	Skip            bool   `json:"skip"`
}

func (r decisionRequest) decision() (model.EscalationDecision, error) {
	set := 0
	for _, ok := range []bool{r.EntityID != "", r.CorrectedSearch != "", r.Skip} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return model.EscalationDecision{}, eris.New("exactly one of entity_id, corrected_search or skip is required")
	}
	return model.EscalationDecision{EntityID: r.EntityID, CorrectedSearch: r.CorrectedSearch}, nil
}

// buildMux wires the review API over st.
func buildMux(st store.Store, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	collector := monitoring.NewCollector(st)
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		hours := 24
		if h := r.URL.Query().Get("hours"); h != "" {
			hours = queryInt(h)
		}
		snap, err := collector.Collect(r.Context(), hours)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	r.Route("/escalations", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			escs, err := st.ListEscalations(r.Context(), store.EscalationFilter{
				Status:    model.EscalationStatus(q.Get("status")),
				SittingID: q.Get("sitting"),
				Limit:     queryInt(q.Get("limit")),
				Offset:    queryInt(q.Get("offset")),
			})
			if err != nil {
				writeStoreError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, nonNil(escs))
		})

		r.Get("/{id}", func(w http.ResponseWriter, r *http.Request) {
			esc, err := st.GetEscalation(r.Context(), chi.URLParam(r, "id"))
			if err != nil {
				writeStoreError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, esc)
		})

		r.Post("/{id}/decision", func(w http.ResponseWriter, r *http.Request) {
			var req decisionRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			decision, err := req.decision()
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			esc, err := st.DecideEscalation(r.Context(), chi.URLParam(r, "id"), decision)
			if err != nil {
				writeStoreError(w, err)
				return
			}
			zap.L().Info("escalation decided",
				zap.String("id", esc.ID),
				zap.String("status", string(esc.Status)),
				zap.String("sitting", esc.SittingID),
			)
			writeJSON(w, http.StatusOK, esc)
		})
	})

	r.Get("/reports", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		reports, err := st.ListReports(r.Context(), store.ReportFilter{
			Status: model.SittingStatus(q.Get("status")),
			Limit:  queryInt(q.Get("limit")),
		})
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, nonNil(reports))
	})

	r.Route("/sittings/{sitting}/blocks", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			blocks, err := st.ListBlocks(r.Context(), chi.URLParam(r, "sitting"))
			if err != nil {
				writeStoreError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, nonNil(blocks))
		})

		r.Get("/{number}", func(w http.ResponseWriter, r *http.Request) {
			n, err := strconv.Atoi(chi.URLParam(r, "number"))
			if err != nil || n < 1 {
				writeError(w, http.StatusBadRequest, "block number must be a positive integer")
				return
			}
			block, err := st.GetBlock(r.Context(), chi.URLParam(r, "sitting"), n)
			if err != nil {
				writeStoreError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, block)
		})
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func queryInt(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	zap.L().Error("store request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
