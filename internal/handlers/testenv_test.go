package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/emstore/ems-backend/internal/authz"
	"github.com/emstore/ems-backend/internal/config"
	"github.com/emstore/ems-backend/internal/hash"
	"github.com/emstore/ems-backend/internal/models"
	"github.com/emstore/ems-backend/internal/mykafka"
	"github.com/emstore/ems-backend/internal/notify"
)

type testEnv struct {
	T  *testing.T
	E  *echo.Echo
	DB *gorm.DB

	Auth       *AuthHandler
	Orders     *OrderHandler
	Payments   *PaymentHandler
	Deliveries *DeliveryHandler
	Products   *ProductHandler
	Categories *CategoryHandler
}

func initTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to connect to in-memory db: %v", err)
	}

	// One connection keeps every query on the same in-memory database.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := config.Migrate(db); err != nil {
		t.Fatalf("failed to migrate tables: %v", err)
	}

	return db
}

func newTestEnv(t *testing.T) *testEnv {
	db := initTestDB(t)
	prod := &mykafka.Producer{}
	sink := &notify.Sink{DB: db, Producer: prod}

	return &testEnv{
		T:  t,
		E:  echo.New(),
		DB: db,

		Auth:       &AuthHandler{DB: db, JWTSecret: []byte("test_secret"), Producer: prod},
		Orders:     &OrderHandler{DB: db, Producer: prod},
		Payments:   &PaymentHandler{DB: db, Producer: prod, Notifier: sink},
		Deliveries: &DeliveryHandler{DB: db, Producer: prod, Notifier: sink},
		Products:   &ProductHandler{DB: db, Producer: prod, Notifier: sink, LowStockThreshold: 5},
		Categories: &CategoryHandler{DB: db},
	}
}

func (env *testEnv) doJSONRequest(method, target string, payload any, ident *authz.Identity) (*httptest.ResponseRecorder, echo.Context) {
	var body bytes.Buffer
	if payload != nil {
		require.NoError(env.T, json.NewEncoder(&body).Encode(payload))
	}

	req := httptest.NewRequest(method, target, &body)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := env.E.NewContext(req, rec)
	if ident != nil {
		authz.SetIdentity(c, *ident)
	}
	return rec, c
}

func (env *testEnv) createUser(role string) (models.User, uint) {
	pw, _ := hash.HashPassword("password")
	user := models.User{
		Email:        fmt.Sprintf("%s%d@example.com", role, len(role)+int(env.count())),
		Username:     fmt.Sprintf("%s_%d", role, env.count()),
		FullName:     "Test " + role,
		PasswordHash: pw,
		Role:         role,
	}
	require.NoError(env.T, env.DB.Create(&user).Error)

	switch role {
	case models.RoleCustomer:
		p := models.Customer{UserID: user.ID, Phone: "123", Address: "1 Test Street"}
		require.NoError(env.T, env.DB.Create(&p).Error)
		return user, p.ID
	case models.RoleSupplier:
		p := models.Supplier{UserID: user.ID, Phone: "123", Address: "2 Test Street"}
		require.NoError(env.T, env.DB.Create(&p).Error)
		return user, p.ID
	case models.RoleDelivery:
		p := models.DeliveryPersonnel{UserID: user.ID, Phone: "123", Address: "3 Test Street"}
		require.NoError(env.T, env.DB.Create(&p).Error)
		return user, p.ID
	}
	return user, 0
}

func (env *testEnv) count() int64 {
	var n int64
	env.DB.Model(&models.User{}).Count(&n)
	return n
}

func (env *testEnv) customerIdentity() (authz.Identity, models.User) {
	user, profileID := env.createUser(models.RoleCustomer)
	return authz.Identity{UserID: user.ID, Role: models.RoleCustomer, ProfileID: profileID}, user
}

func (env *testEnv) supplierIdentity() (authz.Identity, models.User) {
	user, profileID := env.createUser(models.RoleSupplier)
	return authz.Identity{UserID: user.ID, Role: models.RoleSupplier, ProfileID: profileID}, user
}

func (env *testEnv) deliveryIdentity() (authz.Identity, models.User) {
	user, profileID := env.createUser(models.RoleDelivery)
	return authz.Identity{UserID: user.ID, Role: models.RoleDelivery, ProfileID: profileID}, user
}

func (env *testEnv) adminIdentity() (authz.Identity, models.User) {
	user, _ := env.createUser(models.RoleAdmin)
	return authz.Identity{UserID: user.ID, Role: models.RoleAdmin}, user
}

func (env *testEnv) createProduct(supplierID uint, price string, stock int64) models.Product {
	product := models.Product{
		SupplierID:    supplierID,
		Name:          fmt.Sprintf("product_%d", stock),
		Description:   "test product",
		Price:         decimal.RequireFromString(price),
		StockQuantity: stock,
	}
	require.NoError(env.T, env.DB.Create(&product).Error)
	return product
}

func (env *testEnv) createCart(customerID uint) models.Order {
	order := models.Order{
		CustomerID:    customerID,
		Status:        models.OrderStatusCart,
		PaymentStatus: models.PaymentStatusPending,
		TotalAmount:   decimal.Zero,
	}
	require.NoError(env.T, env.DB.Create(&order).Error)
	return order
}

func httpStatus(t *testing.T, err error) int {
	t.Helper()
	require.Error(t, err)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok, "expected *echo.HTTPError, got %T: %v", err, err)
	return he.Code
}
