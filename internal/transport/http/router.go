package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/emstore/ems-backend/internal/authz"
	"github.com/emstore/ems-backend/internal/handlers"
	"github.com/emstore/ems-backend/internal/models"
)

type Deps struct {
	JWTSecret []byte

	AuthHandler     *handlers.AuthHandler
	ProductHandler  *handlers.ProductHandler
	CategoryHandler *handlers.CategoryHandler
	OrderHandler    *handlers.OrderHandler
	PaymentHandler  *handlers.PaymentHandler
	DeliveryHandler *handlers.DeliveryHandler
	SearchHandler   *handlers.SearchHandler
}

func Register(e *echo.Echo, d *Deps) {
	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/health/ready", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	v1 := e.Group("/api/v1")

	v1.POST("/register", d.AuthHandler.Register)
	v1.POST("/login", d.AuthHandler.Login)
	v1.GET("/search", d.SearchHandler.Search)

	products := v1.Group("/products")
	products.GET("", d.ProductHandler.GetProducts)
	products.GET("/:id", d.ProductHandler.GetProduct)

	v1.GET("/categories", d.CategoryHandler.GetCategories)

	auth := v1.Group("", authz.Middleware(d.JWTSecret))

	supply := auth.Group("", authz.RequireRole(models.RoleAdmin, models.RoleSupplier))
	supply.POST("/products", d.ProductHandler.CreateProduct)
	supply.PATCH("/products/:id", d.ProductHandler.PatchProduct)
	supply.DELETE("/products/:id", d.ProductHandler.DeleteProduct)
	supply.GET("/check-stock", d.ProductHandler.CheckStock)

	admin := auth.Group("", authz.RequireRole(models.RoleAdmin))
	admin.POST("/categories", d.CategoryHandler.CreateCategory)
	admin.PATCH("/categories/:id", d.CategoryHandler.PatchCategory)
	admin.DELETE("/categories/:id", d.CategoryHandler.DeleteCategory)
	admin.PATCH("/payments/:id", d.PaymentHandler.UpdatePayment)
	admin.POST("/deliveries/:id/assign", d.DeliveryHandler.Assign)

	orders := auth.Group("/orders")
	orders.POST("", d.OrderHandler.CreateCart)
	orders.GET("", d.OrderHandler.ListOrders)
	orders.GET("/:id", d.OrderHandler.GetOrder)
	orders.POST("/:id/items", d.OrderHandler.AddItem)
	orders.PATCH("/:id/items/:itemID", d.OrderHandler.UpdateItem)
	orders.DELETE("/:id/items/:itemID", d.OrderHandler.RemoveItem)
	orders.POST("/:id/checkout", d.OrderHandler.Checkout)

	auth.POST("/payments", d.PaymentHandler.CreatePayment)
	auth.GET("/payments/:id", d.PaymentHandler.GetPayment)

	auth.GET("/deliveries", d.DeliveryHandler.ListDeliveries)
	auth.POST("/deliveries/:id/mark-delivered", d.DeliveryHandler.MarkDelivered)
}
