package main

import (
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/isapay/isapay-backend/internal/modules/auth"
	"github.com/isapay/isapay-backend/internal/modules/payment"
	"github.com/isapay/isapay-backend/internal/modules/ratelimit"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

func main() {
	err := godotenv.Load()
	if err != nil {
		log.Println("no .env file found, relying on process environment")
	}

	db, err := sql.Open("postgres", os.Getenv("DATABASE_URL"))
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatal(err)
	}
	fmt.Println("Successfully connected to the database!")

	// ── Router ──────────────────────────────────────────────
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.RequestID)

	// ── Session auth (webhook route stays exempt) ───────────
	authMW := auth.NewMiddleware(os.Getenv("JWT_SECRET"))

	// ── Rate limiter on initiate ────────────────────────────
	quota := envInt("RATE_LIMIT_QUOTA", 30)
	windowSecs := envInt("RATE_LIMIT_WINDOW_SECONDS", 60)
	var store ratelimit.Store
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		store = ratelimit.NewRedisStore(redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: os.Getenv("REDIS_PASSWORD"),
		}))
		log.Printf("rate limiter using shared redis counters at %s", addr)
	} else {
		store = ratelimit.NewMemoryStore()
	}
	limiter := ratelimit.NewLimiter(store, int64(quota), time.Duration(windowSecs)*time.Second)

	// ── Gateway registry ────────────────────────────────────
	allowUnsigned := os.Getenv("ALLOW_UNSIGNED_WEBHOOKS") == "true"
	if allowUnsigned {
		log.Println("WARNING: ALLOW_UNSIGNED_WEBHOOKS is set; unsigned mobile-money callbacks will be trusted")
	}
	gateways := payment.GatewayRegistry{
		payment.ProviderCardBank: payment.NewCardBankGateway(
			os.Getenv("CARD_BANK_CONSUMER_KEY"),
			os.Getenv("CARD_BANK_CONSUMER_SECRET"),
			os.Getenv("CARD_BANK_BASE_URL"),
			os.Getenv("CARD_BANK_CALLBACK_URL"),
			os.Getenv("CARD_BANK_WEBHOOK_SECRET"),
			allowUnsigned,
		),
		payment.ProviderMpesa: payment.NewMpesaGateway(
			os.Getenv("MPESA_CONSUMER_KEY"),
			os.Getenv("MPESA_CONSUMER_SECRET"),
			os.Getenv("MPESA_SHORTCODE"),
			os.Getenv("MPESA_PASSKEY"),
			os.Getenv("MPESA_BASE_URL"),
			os.Getenv("MPESA_CALLBACK_URL"),
			os.Getenv("MPESA_WEBHOOK_SECRET"),
			allowUnsigned,
		),
		payment.ProviderAirtel: payment.NewAirtelGateway(
			os.Getenv("AIRTEL_CLIENT_ID"),
			os.Getenv("AIRTEL_CLIENT_SECRET"),
			os.Getenv("AIRTEL_BASE_URL"),
			os.Getenv("AIRTEL_COUNTRY"),
			os.Getenv("AIRTEL_WEBHOOK_SECRET"),
			allowUnsigned,
		),
		payment.ProviderPayPal: payment.NewPayPalGateway(
			os.Getenv("PAYPAL_CLIENT_ID"),
			os.Getenv("PAYPAL_CLIENT_SECRET"),
			os.Getenv("PAYPAL_BASE_URL"),
			os.Getenv("PAYPAL_WEBHOOK_ID"),
			os.Getenv("PAYPAL_RETURN_URL"),
			os.Getenv("PAYPAL_CANCEL_URL"),
		),
	}

	paymentRepo := payment.NewPostgresRepository(db)
	paymentService := payment.NewService(paymentRepo, gateways)
	payment.NewHandler(paymentService).RegisterRoutes(router, authMW.Handler, limiter.Middleware)

	// ── Start Server ─────────────────────────────────────────
	port := os.Getenv("APP_PORT")
	if port == "" {
		port = "8080"
	}
	fmt.Printf("ISA Pay API server starting on :%s\n", port)
	log.Fatal(http.ListenAndServe(":"+port, router))
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("%s must be an integer, got %q", key, v)
	}
	return n
}
