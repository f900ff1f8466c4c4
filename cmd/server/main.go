package main // Entry point package

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/igcse-subject-reservation/internal/config"
	"github.com/iliyamo/igcse-subject-reservation/internal/database"
	"github.com/iliyamo/igcse-subject-reservation/internal/handler"
	"github.com/iliyamo/igcse-subject-reservation/internal/queue"
	"github.com/iliyamo/igcse-subject-reservation/internal/repository"
	"github.com/iliyamo/igcse-subject-reservation/internal/router"
	"github.com/iliyamo/igcse-subject-reservation/internal/service"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()
	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	// Redis backs the rate limiter; nil disables it.
	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Println("redis unavailable, rate limiting disabled")
	}

	users := repository.NewUserRepo(db)
	tokens := repository.NewTokenRepo(db)
	students := repository.NewStudentRepo(db)
	subjects := repository.NewSubjectRepo(db)
	sessions := repository.NewSessionRepo(db)
	escrows := repository.NewEscrowRepo(db)
	registrations := repository.NewRegistrationRepo(db)
	withdrawals := repository.NewWithdrawalRepo(db)

	svc := service.NewCoordinator(
		db, escrows, registrations, subjects, sessions, students, withdrawals,
		queue.NewPublisher(),
		time.Duration(cfg.PendingPaymentTTLMin)*time.Minute,
	)

	// The audit consumer tails the event queues into logs/ for the office.
	queue.StartAuditConsumer()

	e := echo.New()
	router.RegisterRoutes(e)
	router.RegisterAuth(e, handler.NewAuthHandler(cfg, users, tokens), cfg.JWTSecret)
	router.RegisterPublic(e, handler.NewCatalogHandler(subjects, sessions))
	router.RegisterAPI(e, cfg, rdb,
		handler.NewRegistrationHandler(svc),
		handler.NewEscrowHandler(svc),
		handler.NewParentHandler(students),
		handler.NewAdminHandler(svc, sessions, subjects, students, withdrawals, registrations),
		handler.NewPaymentHandler(svc),
	)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)
	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
