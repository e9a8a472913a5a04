package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/templedesk/api/internal/config"
	"github.com/templedesk/api/internal/database"
	"github.com/templedesk/api/internal/handler"
	mw "github.com/templedesk/api/internal/middleware"
	"github.com/templedesk/api/internal/payment"
	"github.com/templedesk/api/internal/service"
	"github.com/templedesk/api/internal/ws"
)

// Deps holds everything the HTTP layer is built from.
type Deps struct {
	Config         *config.Config
	Queries        *database.Queries
	Pool           *pgxpool.Pool
	Hub            *ws.Hub
	SalesOrders    *service.SalesOrderService
	DeliveryOrders *service.DeliveryOrderService
	Invoices       *service.InvoiceService
	Payments       *payment.Manager
	Logger         *zap.Logger
}

// New creates a Chi router with all application routes wired up.
// Applies authentication and role-based middleware as needed.
func New(d Deps) chi.Router {
	r := chi.NewRouter()

	// Standard middleware
	r.Use(mw.RequestID)
	r.Use(mw.RequestLogger(d.Logger))
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.Config.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", mw.RequestIDHeader},
		ExposedHeaders:   []string{"Content-Disposition", mw.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           300, // 5 minutes
	}))

	// Public routes
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","version":"1.0.0"}`))
	})

	authHandler := handler.NewAuthHandler(d.Queries, d.Config.JWT.Secret, d.Logger)
	authHandler.RegisterRoutes(r)

	// Gateway webhooks authenticate by signature.
	webhookHandler := handler.NewWebhookHandler(d.Payments, d.Logger)
	r.Route("/webhooks", webhookHandler.RegisterRoutes)

	// WebSocket route (handles auth internally via query param)
	r.Get("/ws/invoices/{id}/payments", d.Hub.Handler(d.Config.JWT.Secret, d.Payments))

	// Protected routes (require authentication)
	r.Group(func(r chi.Router) {
		r.Use(mw.Authenticate(d.Config.JWT.Secret))

		authHandler.RegisterProtectedRoutes(r)

		catalogHandler := handler.NewCatalogHandler(d.Queries, d.Logger)
		r.Route("/catalog", catalogHandler.RegisterRoutes)

		staffHandler := handler.NewStaffHandler(d.Queries, d.Logger)
		r.Route("/staff", staffHandler.RegisterRoutes)

		customerHandler := handler.NewCustomerHandler(d.Queries, d.Logger)
		r.Route("/customers", customerHandler.RegisterRoutes)

		r.Route("/sales", func(r chi.Router) {
			catalogHandler.RegisterSalesRoutes(r)

			packageHandler := handler.NewPackageHandler(d.Queries, d.Pool,
				func(db database.DBTX) handler.PackageStore {
					return database.New(db)
				},
				d.Logger,
			)
			r.Route("/packages", packageHandler.RegisterRoutes)

			orderHandler := handler.NewSalesOrderHandler(d.SalesOrders, d.Invoices, d.Logger)
			r.Route("/orders", orderHandler.RegisterRoutes)

			deliveryHandler := handler.NewDeliveryOrderHandler(d.DeliveryOrders, d.Invoices, d.Logger)
			r.Route("/delivery-orders", deliveryHandler.RegisterRoutes)

			invoiceHandler := handler.NewInvoiceHandler(d.Invoices, d.Payments, d.Queries, d.Logger)
			r.Route("/invoices", invoiceHandler.RegisterRoutes)
		})
	})

	d.Logger.Info("router initialized")
	return r
}
