package handlers

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/emstore/ems-backend/internal/models"
)

func TestCreateCart(t *testing.T) {
	env := newTestEnv(t)
	ident, _ := env.customerIdentity()

	rec, c := env.doJSONRequest(http.MethodPost, "/api/v1/orders", nil, &ident)
	require.NoError(t, env.Orders.CreateCart(c))
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp models.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, ident.ProfileID, resp.CustomerID)
	require.Equal(t, models.OrderStatusCart, resp.Status)
	require.Equal(t, models.PaymentStatusPending, resp.PaymentStatus)
	require.True(t, resp.TotalAmount.IsZero())
}

func TestCreateCartRequiresCustomer(t *testing.T) {
	env := newTestEnv(t)
	ident, _ := env.supplierIdentity()

	_, c := env.doJSONRequest(http.MethodPost, "/api/v1/orders", nil, &ident)
	require.Equal(t, http.StatusForbidden, httpStatus(t, env.Orders.CreateCart(c)))
}

func TestAddItemSnapshotsPriceAndRecomputesTotal(t *testing.T) {
	env := newTestEnv(t)
	ident, _ := env.customerIdentity()
	supplier, _ := env.supplierIdentity()
	product := env.createProduct(supplier.ProfileID, "10.00", 5)
	order := env.createCart(ident.ProfileID)

	payload := map[string]any{"product_id": product.ID, "quantity": 2}
	rec, c := env.doJSONRequest(http.MethodPost, "/", payload, &ident)
	c.SetParamNames("id")
	c.SetParamValues("1")
	require.NoError(t, env.Orders.AddItem(c))
	require.Equal(t, http.StatusCreated, rec.Code)

	var item models.OrderItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &item))
	require.Equal(t, order.ID, item.OrderID)
	require.True(t, decimal.RequireFromString("10.00").Equal(item.Price))

	var fresh models.Order
	require.NoError(t, env.DB.First(&fresh, order.ID).Error)
	require.True(t, decimal.RequireFromString("20.00").Equal(fresh.TotalAmount))

	// A later price change must not rewrite the snapshot or the total.
	require.NoError(t, env.DB.Model(&models.Product{}).Where("id = ?", product.ID).
		Update("price", decimal.RequireFromString("99.99")).Error)

	var storedItem models.OrderItem
	require.NoError(t, env.DB.First(&storedItem, item.ID).Error)
	require.True(t, decimal.RequireFromString("10.00").Equal(storedItem.Price))
}

func TestAddItemInsufficientStockLeavesCartUnchanged(t *testing.T) {
	env := newTestEnv(t)
	ident, _ := env.customerIdentity()
	supplier, _ := env.supplierIdentity()
	product := env.createProduct(supplier.ProfileID, "10.00", 5)
	order := env.createCart(ident.ProfileID)

	payload := map[string]any{"product_id": product.ID, "quantity": 10}
	_, c := env.doJSONRequest(http.MethodPost, "/", payload, &ident)
	c.SetParamNames("id")
	c.SetParamValues("1")
	require.Equal(t, http.StatusBadRequest, httpStatus(t, env.Orders.AddItem(c)))

	var count int64
	env.DB.Model(&models.OrderItem{}).Where("order_id = ?", order.ID).Count(&count)
	require.Zero(t, count)

	var fresh models.Order
	require.NoError(t, env.DB.First(&fresh, order.ID).Error)
	require.True(t, fresh.TotalAmount.IsZero())
}

func TestAddItemRejectsForeignOrder(t *testing.T) {
	env := newTestEnv(t)
	owner, _ := env.customerIdentity()
	other, _ := env.customerIdentity()
	supplier, _ := env.supplierIdentity()
	product := env.createProduct(supplier.ProfileID, "10.00", 5)
	env.createCart(owner.ProfileID)

	payload := map[string]any{"product_id": product.ID, "quantity": 1}
	_, c := env.doJSONRequest(http.MethodPost, "/", payload, &other)
	c.SetParamNames("id")
	c.SetParamValues("1")
	require.Equal(t, http.StatusForbidden, httpStatus(t, env.Orders.AddItem(c)))
}

func TestAddItemRejectsNonCartOrder(t *testing.T) {
	env := newTestEnv(t)
	ident, _ := env.customerIdentity()
	supplier, _ := env.supplierIdentity()
	product := env.createProduct(supplier.ProfileID, "10.00", 5)
	order := env.createCart(ident.ProfileID)
	require.NoError(t, env.DB.Model(&order).Update("status", models.OrderStatusPlaced).Error)

	payload := map[string]any{"product_id": product.ID, "quantity": 1}
	_, c := env.doJSONRequest(http.MethodPost, "/", payload, &ident)
	c.SetParamNames("id")
	c.SetParamValues("1")
	require.Equal(t, http.StatusConflict, httpStatus(t, env.Orders.AddItem(c)))
}

func TestAddItemMissingProduct(t *testing.T) {
	env := newTestEnv(t)
	ident, _ := env.customerIdentity()
	env.createCart(ident.ProfileID)

	payload := map[string]any{"product_id": 999, "quantity": 1}
	_, c := env.doJSONRequest(http.MethodPost, "/", payload, &ident)
	c.SetParamNames("id")
	c.SetParamValues("1")
	require.Equal(t, http.StatusNotFound, httpStatus(t, env.Orders.AddItem(c)))
}

func TestUpdateItemRecomputesTotal(t *testing.T) {
	env := newTestEnv(t)
	ident, _ := env.customerIdentity()
	supplier, _ := env.supplierIdentity()
	product := env.createProduct(supplier.ProfileID, "4.50", 10)
	order := env.createCart(ident.ProfileID)

	item := models.OrderItem{OrderID: order.ID, ProductID: product.ID, Quantity: 1, Price: product.Price}
	require.NoError(t, env.DB.Create(&item).Error)
	require.NoError(t, env.Orders.recomputeTotal(env.DB, order.ID))

	payload := map[string]any{"quantity": 3}
	rec, c := env.doJSONRequest(http.MethodPatch, "/", payload, &ident)
	c.SetParamNames("id", "itemID")
	c.SetParamValues("1", "1")
	require.NoError(t, env.Orders.UpdateItem(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var fresh models.Order
	require.NoError(t, env.DB.First(&fresh, order.ID).Error)
	require.True(t, decimal.RequireFromString("13.50").Equal(fresh.TotalAmount))
}

func TestRemoveItemRecomputesTotal(t *testing.T) {
	env := newTestEnv(t)
	ident, _ := env.customerIdentity()
	supplier, _ := env.supplierIdentity()
	product := env.createProduct(supplier.ProfileID, "4.50", 10)
	order := env.createCart(ident.ProfileID)

	item := models.OrderItem{OrderID: order.ID, ProductID: product.ID, Quantity: 2, Price: product.Price}
	require.NoError(t, env.DB.Create(&item).Error)
	require.NoError(t, env.Orders.recomputeTotal(env.DB, order.ID))

	rec, c := env.doJSONRequest(http.MethodDelete, "/", nil, &ident)
	c.SetParamNames("id", "itemID")
	c.SetParamValues("1", "1")
	require.NoError(t, env.Orders.RemoveItem(c))
	require.Equal(t, http.StatusNoContent, rec.Code)

	var fresh models.Order
	require.NoError(t, env.DB.First(&fresh, order.ID).Error)
	require.True(t, fresh.TotalAmount.IsZero())
}

func TestRemoveItemOnNonCartOrder(t *testing.T) {
	env := newTestEnv(t)
	ident, _ := env.customerIdentity()
	supplier, _ := env.supplierIdentity()
	product := env.createProduct(supplier.ProfileID, "4.50", 10)
	order := env.createCart(ident.ProfileID)

	item := models.OrderItem{OrderID: order.ID, ProductID: product.ID, Quantity: 2, Price: product.Price}
	require.NoError(t, env.DB.Create(&item).Error)
	require.NoError(t, env.DB.Model(&order).Update("status", models.OrderStatusCheckoutPending).Error)

	_, c := env.doJSONRequest(http.MethodDelete, "/", nil, &ident)
	c.SetParamNames("id", "itemID")
	c.SetParamValues("1", "1")
	require.Equal(t, http.StatusConflict, httpStatus(t, env.Orders.RemoveItem(c)))
}

func TestGetOrderHiddenFromOtherCustomers(t *testing.T) {
	env := newTestEnv(t)
	owner, _ := env.customerIdentity()
	other, _ := env.customerIdentity()
	env.createCart(owner.ProfileID)

	_, c := env.doJSONRequest(http.MethodGet, "/", nil, &other)
	c.SetParamNames("id")
	c.SetParamValues("1")
	require.Equal(t, http.StatusNotFound, httpStatus(t, env.Orders.GetOrder(c)))
}

func TestListOrdersScopedToCustomer(t *testing.T) {
	env := newTestEnv(t)
	first, _ := env.customerIdentity()
	second, _ := env.customerIdentity()
	env.createCart(first.ProfileID)
	env.createCart(second.ProfileID)

	rec, c := env.doJSONRequest(http.MethodGet, "/api/v1/orders", nil, &first)
	require.NoError(t, env.Orders.ListOrders(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var orders []models.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &orders))
	require.Len(t, orders, 1)
	require.Equal(t, first.ProfileID, orders[0].CustomerID)
}

// Cart mutations must take a row lock on the order under postgres so
// concurrent recomputations serialize; sqlite has no FOR UPDATE and a single
// writer, so the clause must be absent there.
func TestCartMutationLocksOrderRowOnPostgres(t *testing.T) {
	env := newTestEnv(t)

	pgDB, err := gorm.Open(postgres.Open(""), &gorm.Config{DryRun: true, DisableAutomaticPing: true})
	require.NoError(t, err)

	stmt := lockForUpdate(pgDB).First(&models.Order{}, 1).Statement
	require.Contains(t, stmt.SQL.String(), "FOR UPDATE")

	stmt = lockForUpdate(env.DB.Session(&gorm.Session{DryRun: true})).First(&models.Order{}, 1).Statement
	require.NotContains(t, stmt.SQL.String(), "FOR UPDATE")
}

func TestTotalAlwaysMatchesCommittedItems(t *testing.T) {
	env := newTestEnv(t)
	ident, _ := env.customerIdentity()
	supplier, _ := env.supplierIdentity()
	first := env.createProduct(supplier.ProfileID, "10.00", 50)
	second := env.createProduct(supplier.ProfileID, "3.25", 60)
	order := env.createCart(ident.ProfileID)

	addItem := func(productID uint, qty int64) {
		payload := map[string]any{"product_id": productID, "quantity": qty}
		_, c := env.doJSONRequest(http.MethodPost, "/", payload, &ident)
		c.SetParamNames("id")
		c.SetParamValues("1")
		require.NoError(t, env.Orders.AddItem(c))
	}
	addItem(first.ID, 2)
	addItem(second.ID, 4)

	payload := map[string]any{"quantity": 1}
	_, c := env.doJSONRequest(http.MethodPatch, "/", payload, &ident)
	c.SetParamNames("id", "itemID")
	c.SetParamValues("1", "2")
	require.NoError(t, env.Orders.UpdateItem(c))

	_, c = env.doJSONRequest(http.MethodDelete, "/", nil, &ident)
	c.SetParamNames("id", "itemID")
	c.SetParamValues("1", "1")
	require.NoError(t, env.Orders.RemoveItem(c))

	var items []models.OrderItem
	require.NoError(t, env.DB.Where("order_id = ?", order.ID).Find(&items).Error)
	expected := decimal.Zero
	for _, it := range items {
		expected = expected.Add(it.Price.Mul(decimal.NewFromInt(it.Quantity)))
	}

	var fresh models.Order
	require.NoError(t, env.DB.First(&fresh, order.ID).Error)
	require.True(t, expected.Equal(fresh.TotalAmount))
	require.True(t, decimal.RequireFromString("3.25").Equal(fresh.TotalAmount))
}
