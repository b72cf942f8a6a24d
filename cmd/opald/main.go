package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/opalvpn/opald/app/repository"
	"github.com/opalvpn/opald/internal/pkg/cache"
	"github.com/opalvpn/opald/internal/pkg/catalog"
	"github.com/opalvpn/opald/internal/pkg/credstore"
	"github.com/opalvpn/opald/internal/pkg/database"
	"github.com/opalvpn/opald/internal/pkg/env"
	"github.com/opalvpn/opald/internal/pkg/provisioning"
	"github.com/opalvpn/opald/internal/pkg/router"
	"github.com/opalvpn/opald/internal/pkg/sweeper"
)

func main() {
	app, sw := NewApplication()

	sw.Start()
	defer sw.Stop()

	// Let SIGINT/SIGTERM drain in-flight requests before the sweeper stops.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		if err := app.Shutdown(); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
	if err := app.Listen(addr); err != nil {
		log.Fatal(err)
	}
}

func NewApplication() (*fiber.App, *sweeper.Sweeper) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()
	catalog.Setup(env.GetEnv("SERVERS_CONFIG", "servers.json"))
	repository.InitializeFactory(database.GetDB())

	repos := repository.GetGlobalRepositories()
	lifecycle := provisioning.NewService(
		repos.User,
		repos.Account,
		catalog.Global(),
		credstore.NewClientFromEnv(),
		provisioning.Config{
			PaidMode:   env.GetEnv("PAYMENT_MODE", "paid") != "free",
			TrialHours: envInt("TRIAL_HOURS", 3),
		},
	)

	sw := sweeper.New(repos.Account, lifecycle, time.Duration(envInt("SWEEP_INTERVAL_SECONDS", 60))*time.Second)

	app := fiber.New(fiber.Config{
		AppName: "opald",
	})
	app.Use(recover.New(), logger.New())

	router.InstallRouter(app, lifecycle)

	return app, sw
}

func envInt(key string, def int) int {
	v, err := strconv.Atoi(env.GetEnv(key, strconv.Itoa(def)))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
