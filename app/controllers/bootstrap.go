package controllers

import (
	"strconv"

	"github.com/opalvpn/opald/app/repository"
	"github.com/opalvpn/opald/internal/pkg/catalog"
	"github.com/opalvpn/opald/internal/pkg/env"
	"github.com/opalvpn/opald/internal/pkg/payment"
	"github.com/opalvpn/opald/internal/pkg/provisioning"
	"github.com/opalvpn/opald/internal/pkg/statistics"
)

var (
	accountCtl *AccountController
	paymentCtl *PaymentController
	adminCtl   *AdminController
)

// InitializeControllers wires the HTTP layer to the given lifecycle engine
// and the global repositories. Called once from the router setup; main owns
// the engine because the sweeper shares it.
func InitializeControllers(lifecycle *provisioning.Service) {
	repos := repository.GetGlobalRepositories()
	cat := catalog.Global()
	stats := statistics.NewService(repos.Account)

	gateway := payment.NewPakasirClientFromEnv()
	minTopUp, err := strconv.ParseInt(env.GetEnv("TOPUP_MIN", "10000"), 10, 64)
	if err != nil || minTopUp <= 0 {
		minTopUp = 10000
	}

	accountCtl = NewAccountController(repos, lifecycle, cat, stats)
	paymentCtl = NewPaymentController(
		payment.NewTopUpService(repos.User, repos.Invoice, gateway, minTopUp),
		payment.NewReconciler(repos.Invoice, gateway, nil),
		repos.User,
	)
	adminCtl = NewAdminController(repos, lifecycle, stats)
}

// Account returns the initialized account controller.
func Account() *AccountController { return accountCtl }

// Payment returns the initialized payment controller.
func Payment() *PaymentController { return paymentCtl }

// Admin returns the initialized admin controller.
func Admin() *AdminController { return adminCtl }
