package main

import (
	"context"
	"encoding/json"
	"expvar"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sVanshika/mahadeo-eye-hospital-management-system/internal/config"
	"github.com/sVanshika/mahadeo-eye-hospital-management-system/internal/httpapi"
	"github.com/sVanshika/mahadeo-eye-hospital-management-system/internal/hub"
	"github.com/sVanshika/mahadeo-eye-hospital-management-system/internal/store"
	"github.com/sVanshika/mahadeo-eye-hospital-management-system/internal/store/postgres"
	"github.com/sVanshika/mahadeo-eye-hospital-management-system/internal/telemetry"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type eventEnvelope struct {
	Type      string          `json:"type"`
	OPDCode   string          `json:"opd_code"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

const (
	zeroUUID       = "00000000-0000-0000-0000-000000000000"
	offsetConsumer = "realtime"
)

func main() {
	cfg := config.Load()
	shutdownTelemetry := telemetry.Setup("realtime-service", cfg.OTLPEndpoint, cfg.OTLPInsecure)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	eventStore := postgres.NewStore(pool, postgres.Options{})
	h := hub.New()
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute: cfg.RateLimitPerMinute,
		IPBurst:     cfg.RateLimitBurst,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", expvar.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/realtime/", sockjs.NewHandler("/realtime", sockjs.DefaultOptions, func(session sockjs.Session) {
		handleSession(session, h, eventStore)
	}))

	chain := otelhttp.NewHandler(httpapi.LoggingMiddleware(limiter.Middleware(mux)), "realtime-service")
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      chain,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("realtime-service listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	go pollOutbox(eventStore, h, cfg)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

// handleSession serves one sockjs connection. Staff sessions may scope
// to the OPDs they are granted; unauthenticated connections are display
// boards and receive refresh hints only, which carry nothing beyond
// what the public display endpoints already expose.
func handleSession(session sockjs.Session, h *hub.Hub, eventStore store.EventStore) {
	var grants []string
	authenticated := false

	if sessionID := sessionIDFromRequest(session.Request()); sessionID != "" {
		authSession, err := eventStore.GetSession(context.Background(), sessionID)
		if err != nil {
			_ = session.Close(4002, "invalid session")
			return
		}
		authenticated = true
		if authSession.Role != "admin" {
			grants, err = eventStore.GetOPDAccess(context.Background(), authSession.UserID)
			if err != nil {
				_ = session.Close(4003, "access lookup failed")
				return
			}
		}
	}

	client := &hub.Client{ID: uuid.NewString(), Send: make(chan []byte, 16)}
	h.Register(client)
	defer h.Unregister(client)

	go func() {
		for msg := range client.Send {
			_ = session.Send(string(msg))
		}
	}()

	for {
		msg, err := session.Recv()
		if err != nil {
			return
		}
		parsed, ok := hub.ParseSubscribe([]byte(msg))
		if !ok {
			continue
		}
		if parsed.Action == "unsubscribe" {
			h.UpdateSubscription(client, hub.Subscription{})
			continue
		}
		if parsed.OPDCode != "" && authenticated && len(grants) > 0 && !contains(grants, parsed.OPDCode) {
			_ = session.Close(4003, "access denied")
			return
		}
		h.UpdateSubscription(client, hub.Subscription{OPDCode: parsed.OPDCode})
	}
}

func pollOutbox(eventStore store.EventStore, h *hub.Hub, cfg config.Config) {
	offset, err := eventStore.GetOffset(context.Background(), offsetConsumer)
	if err != nil {
		log.Printf("load offset error: %v", err)
	}
	if offset.LastEventTime.IsZero() {
		offset.LastEventTime = time.Unix(0, 0).UTC()
	}
	if offset.LastEventID == "" {
		offset.LastEventID = zeroUUID
	}
	interval := cfg.OutboxPollInterval
	if interval <= 0 {
		interval = time.Second
	}
	var running int32

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		if !atomic.CompareAndSwapInt32(&running, 0, 1) {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		events, err := eventStore.ListOutboxEvents(ctx, offset, cfg.OutboxBatchSize)
		cancel()
		if err != nil {
			log.Printf("list outbox error: %v", err)
			atomic.StoreInt32(&running, 0)
			continue
		}

		for _, event := range events {
			offset.LastEventTime = event.CreatedAt
			offset.LastEventID = event.EventID
			env := eventEnvelope{Type: event.Type, OPDCode: event.OPDCode, Payload: event.Payload, CreatedAt: event.CreatedAt}
			payload, _ := json.Marshal(env)
			h.Broadcast(payload, hub.Subscription{OPDCode: event.OPDCode})
		}

		if len(events) > 0 {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := eventStore.UpdateOffset(ctx, offsetConsumer, offset); err != nil {
				log.Printf("update offset error: %v", err)
			}
			// Only prune rows that are both delivered and older than the
			// retention window.
			cleanupBefore := time.Now().Add(-cfg.OutboxRetention)
			if offset.LastEventTime.Before(cleanupBefore) {
				cleanupBefore = offset.LastEventTime
			}
			if _, err := eventStore.CleanupOutbox(ctx, cleanupBefore); err != nil {
				log.Printf("cleanup outbox error: %v", err)
			}
			cancel()
		}
		atomic.StoreInt32(&running, 0)
	}
}

func sessionIDFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	if token := bearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	return strings.TrimSpace(r.URL.Query().Get("session_id"))
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}

func contains(values []string, value string) bool {
	for _, item := range values {
		if item == value {
			return true
		}
	}
	return false
}
