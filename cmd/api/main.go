package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"video-insights-go/internal/blobstore"
	"video-insights-go/internal/chunker"
	"video-insights-go/internal/dataset"
	"video-insights-go/internal/extractor"
	"video-insights-go/internal/feed"
	"video-insights-go/internal/ingest"
	"video-insights-go/internal/judge"
	"video-insights-go/internal/llm"
	"video-insights-go/internal/logger"
	"video-insights-go/internal/pipeline"
	"video-insights-go/internal/search"
	"video-insights-go/internal/token"
	"video-insights-go/internal/types"
	"video-insights-go/internal/videoindex"
)

func main() {
	_ = godotenv.Load() // loads .env

	log := logger.New()
	log.WithField("service", "video-insights-go").Info("starting service")

	// One transport for every outbound call; the bounded fan-out shares its
	// connection pool instead of exhausting per-call clients.
	httpClient := &http.Client{Timeout: 90 * time.Second}

	tokens, err := token.New(log, httpClient)
	if err != nil {
		log.WithError(err).Fatal("token provider init failed")
	}
	videos, err := videoindex.NewClient(log, httpClient, tokens)
	if err != nil {
		log.WithError(err).Fatal("video intelligence client init failed")
	}
	gateway, err := llm.NewClient(log, httpClient)
	if err != nil {
		log.WithError(err).Fatal("llm gateway init failed")
	}
	index, err := search.NewHTTPIndex(log, httpClient)
	if err != nil {
		log.WithError(err).Fatal("vector index init failed")
	}
	publisher := search.NewPublisher(log, gateway, index)

	orch := extractor.New(log, gateway)
	judger := judge.New(log, gateway)
	machine := pipeline.NewMachine(log, videos, orch, judger, publisher)

	ctx := context.Background()
	store, err := blobstore.NewGCS(ctx, log)
	if err != nil {
		log.WithError(err).Fatal("object store init failed")
	}
	source, err := feed.NewRSS(log, httpClient)
	if err != nil {
		log.WithError(err).Fatal("feed source init failed")
	}
	ingester := ingest.NewService(log, httpClient, source, store, videos, machine)

	r := mux.NewRouter()

	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ok")
	}).Methods(http.MethodGet)

	// Pull the feed and submit new clips for processing.
	r.HandleFunc("/process", func(w http.ResponseWriter, r *http.Request) {
		reqLog := log.WithRequest(r).WithField("handler", "process")
		reqLog.Info("ingestion sweep requested")

		sum, err := ingester.Run(r.Context())
		if err != nil {
			reqLog.WithField("error", err.Error()).Error("ingestion sweep failed")
			http.Error(w, "ingestion failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, sum)
	}).Methods(http.MethodPost)

	// Status callback from the video intelligence service.
	r.HandleFunc("/videostatus", func(w http.ResponseWriter, r *http.Request) {
		reqLog := log.WithRequest(r).WithField("handler", "videostatus")

		videoID := r.URL.Query().Get("id")
		state := r.URL.Query().Get("state")
		if videoID == "" || state == "" {
			http.Error(w, "missing id or state", http.StatusBadRequest)
			return
		}
		reqLog.WithField("video_id", videoID).WithField("state", state).Info("status callback received")

		res, err := machine.HandleNotification(r.Context(), videoID, types.ProcessingState(state))
		if err != nil {
			reqLog.WithField("error", err.Error()).Error("pipeline dispatch failed")
			http.Error(w, "pipeline dispatch failed", http.StatusInternalServerError)
			return
		}
		if res == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, res)
	}).Methods(http.MethodPost)

	// Manual extraction run for an already-processed video.
	r.HandleFunc("/extract", func(w http.ResponseWriter, r *http.Request) {
		reqLog := log.WithRequest(r).WithField("handler", "extract")

		videoID := r.URL.Query().Get("id")
		if videoID == "" {
			http.Error(w, "missing id", http.StatusBadRequest)
			return
		}
		opts := pipeline.Options{Mode: chunker.Mode(r.URL.Query().Get("mode"))}
		if v := r.URL.Query().Get("validate"); v != "" {
			validate, _ := strconv.ParseBool(v)
			opts.SkipValidation = !validate
		}
		if fixture := r.URL.Query().Get("ground_truth"); fixture != "" {
			groundTruth, err := dataset.LoadGroundTruth(fixture)
			if err != nil {
				reqLog.WithField("error", err.Error()).Error("ground truth fixture load failed")
				http.Error(w, "bad ground truth fixture", http.StatusBadRequest)
				return
			}
			opts.GroundTruth = groundTruth
		}
		reqLog.WithField("video_id", videoID).Info("manual extraction requested")

		res, err := machine.Run(r.Context(), videoID, opts)
		if err != nil {
			reqLog.WithField("error", err.Error()).Error("extraction run failed")
			http.Error(w, "extraction failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, res)
	}).Methods(http.MethodPost)

	// Retrieval over indexed sections.
	r.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		if q == "" {
			http.Error(w, "missing q", http.StatusBadRequest)
			return
		}
		topK, _ := strconv.Atoi(r.URL.Query().Get("top_k"))
		docs, err := publisher.Search(r.Context(), q, topK)
		if err != nil {
			http.Error(w, "search failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, docs)
	}).Methods(http.MethodGet)

	addr := fmt.Sprintf(":%s", envOr("PORT", "8080"))
	srv := &http.Server{
		Addr:         addr,
		Handler:      handlers.CombinedLoggingHandler(os.Stdout, r),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}
	log.WithField("addr", addr).Info("listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Fatal("server terminated")
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
