package server

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"LnSPoll/config"
	"LnSPoll/logger"

	"github.com/go-chi/cors"
	"github.com/gorilla/mux"
)

// statusRecorder captures the status code for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack is needed by the websocket upgrader.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// accessLog 记录每个请求的方法、路径、状态码和耗时
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		logger.Debug("[HTTP] request",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", rec.status),
			logger.Int("bytes", rec.bytes),
			logger.Duration("took", time.Since(start)))
	})
}

// NewRouter registers every route. Admin routes sit behind AuthMiddleware.
func NewRouter(h *APIHandler) http.Handler {
	router := mux.NewRouter()
	router.Use(accessLog)

	router.HandleFunc("/health", h.HealthHandler).Methods(http.MethodGet)

	// 参与者问卷流程；questions 必须先于 {session} 注册
	router.HandleFunc("/api/survey/questions", h.QuestionsHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/survey/start", h.StartSurveyHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/survey/{session}", h.GetSurveyHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/survey/{session}/clips/{clip}", h.SubmitClipHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/survey/{session}/finish", h.FinishSurveyHandler).Methods(http.MethodPost)

	router.HandleFunc("/audio/{path:.+}", h.AudioHandler).Methods(http.MethodGet, http.MethodHead)

	// 管理端
	router.HandleFunc("/api/admin/login", h.LoginHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/admin/summary", h.AuthMiddleware(h.SummaryHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/admin/clips", h.AuthMiddleware(h.ClipStatsHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/admin/rankings", h.AuthMiddleware(h.RankingsHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/admin/followups", h.AuthMiddleware(h.FollowUpsHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/admin/export", h.AuthMiddleware(h.ExportHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/admin/responses", h.AuthMiddleware(h.ClearResponsesHandler)).Methods(http.MethodDelete)
	router.HandleFunc("/api/admin/catalogue", h.AuthMiddleware(h.CatalogueHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/admin/feed", h.authenticate(h.FeedHandler, true)).Methods(http.MethodGet)

	// CORS wraps the router so preflight requests never reach route matching.
	return cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "HEAD"},
		AllowedHeaders: []string{"Content-Type", "Authorization", "Range"},
		ExposedHeaders: []string{"Content-Length", "Content-Range", "Content-Disposition"},
		MaxAge:         86400,
	})(router)
}

// Start initializes and starts the HTTP server, blocking until SIGINT/SIGTERM.
func Start(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := NewApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	go app.Feed.Run()

	if cfg.AudioSource == "fs" && cfg.WatchCatalogue {
		watcher := NewCatalogueWatcher(cfg.AudioDir, func() {
			cat, err := app.Catalogue.Scan(ctx)
			if err != nil {
				logger.Warn("[Watcher] rescan failed", logger.ErrorField(err))
				return
			}
			logger.Info("[Watcher] catalogue changed", logger.Int("files", cat.Size()))
			app.Feed.Publish(EventCatalogueChanged, map[string]int{"files": cat.Size()})
		})
		go func() {
			if err := watcher.Run(ctx); err != nil {
				logger.Warn("[Watcher] catalogue watcher stopped", logger.ErrorField(err))
			}
		}()
	}

	// 设置服务器超时
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      NewRouter(app.Handler()),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("[Server] listening",
			logger.String("addr", server.Addr),
			logger.String("store", app.Store.Name()),
			logger.String("audio", cfg.AudioSource),
			logger.Int("generalQuota", cfg.GeneralQuota),
			logger.Int("languageQuota", cfg.LanguageQuota))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// 等待中断信号
	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}
	logger.Info("[Server] shutting down")

	// 创建一个5秒超时的上下文
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("[Server] stopped")
	return nil
}
