package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"github.com/dandanito/marketplace/internal/apperr"
	"github.com/dandanito/marketplace/internal/app/handlers"
	"github.com/dandanito/marketplace/internal/app/sessionmw"
	"github.com/dandanito/marketplace/internal/domain/models"
	"github.com/dandanito/marketplace/internal/service"
	"github.com/dandanito/marketplace/internal/storage"
)

// fakeSessionService — фиктивная реализация для тестирования.
type fakeSessionService struct {
	session *service.Session
	token   *models.Token
	err     error
}

func (f *fakeSessionService) Login(ctx context.Context, email, phone, password string) (*models.Token, error) {
	return f.token, f.err
}

func (f *fakeSessionService) Verify(ctx context.Context, secret string) (*service.Session, error) {
	if f.session == nil {
		return nil, apperr.New(apperr.KindNotFound, "token_not_found")
	}
	return f.session, nil
}

func (f *fakeSessionService) Extend(ctx context.Context, secret string) (*models.Token, error) {
	return f.token, f.err
}

func (f *fakeSessionService) Logout(ctx context.Context, secret string) (*models.Token, error) {
	return f.token, f.err
}

func (f *fakeSessionService) LogoutAll(ctx context.Context, userID int64) ([]int64, error) {
	return []int64{1, 2}, f.err
}

type fakeOrderService struct {
	id  int64
	err error
}

func (f *fakeOrderService) Create(ctx context.Context, customerID int64, description string, lines []service.OrderLineRequest) (int64, error) {
	return f.id, f.err
}

func (f *fakeOrderService) Edit(ctx context.Context, orderID, callerID int64, req service.EditOrderRequest) (int64, error) {
	return f.id, f.err
}

func (f *fakeOrderService) Remove(ctx context.Context, orderID, callerID int64) (int64, error) {
	return f.id, f.err
}

type fakeOrderGetService struct {
	page  *service.OrdersPage
	lines *service.OrderLinesResult
	err   error
}

func (f *fakeOrderGetService) GetOrders(ctx context.Context, callerID int64, callerRole models.Role, filter storage.OrderFilter, offset, limit int) (*service.OrdersPage, error) {
	return f.page, f.err
}

func (f *fakeOrderGetService) GetOrderLines(ctx context.Context, orderID, callerID int64, callerRole models.Role) (*service.OrderLinesResult, error) {
	return f.lines, f.err
}

type fakeProductService struct {
	id   int64
	page *service.ProductsPage
	err  error
}

func (f *fakeProductService) Add(ctx context.Context, sourceID int64, sourceRole models.Role, req service.AddProductRequest) (int64, error) {
	return f.id, f.err
}

func (f *fakeProductService) Edit(ctx context.Context, productID, callerID int64, callerRole models.Role, req service.EditProductRequest) error {
	return f.err
}

func (f *fakeProductService) Remove(ctx context.Context, productID, callerID int64, callerRole models.Role) error {
	return f.err
}

func (f *fakeProductService) GetProducts(ctx context.Context, filter storage.ProductFilter, offset, limit int) (*service.ProductsPage, error) {
	return f.page, f.err
}

func (f *fakeProductService) Vote(ctx context.Context, productID, callerID int64, callerRole models.Role, rating int) error {
	return f.err
}

type fakeUserService struct {
	id   int64
	user *models.User
	err  error
}

func (f *fakeUserService) Signup(ctx context.Context, callerRole *models.Role, req service.SignupRequest) (int64, error) {
	return f.id, f.err
}

func (f *fakeUserService) GetUser(ctx context.Context, id int64) (*models.User, error) {
	return f.user, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// protect оборачивает обработчик в session middleware с фиктивной сессией
func protect(h http.HandlerFunc, session *service.Session) http.Handler {
	mw := sessionmw.New(testLogger(), &fakeSessionService{session: session})
	return mw(h)
}

func TestLoginHandler_Success(t *testing.T) {
	now := time.Now()
	fakeSvc := &fakeSessionService{token: &models.Token{Secret: "a1b2c3d4e5f60718", ExpireAt: now.Add(24 * time.Hour)}}
	handler := handlers.LoginHandler(testLogger(), fakeSvc)

	reqBody := `{"email_address": "test@example.com", "password": "password1"}`
	req := httptest.NewRequest("POST", "/api/login", bytes.NewBufferString(reqBody))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	var resp handlers.LoginResponse
	assert.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "a1b2c3d4e5f60718", resp.Token)
}

func TestLoginHandler_UnknownCredential(t *testing.T) {
	fakeSvc := &fakeSessionService{err: apperr.New(apperr.KindNotFound, "credential_not_found")}
	handler := handlers.LoginHandler(testLogger(), fakeSvc)

	reqBody := `{"email_address": "ghost@example.com", "password": "password1"}`
	req := httptest.NewRequest("POST", "/api/login", bytes.NewBufferString(reqBody))
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestLoginHandler_BadBody(t *testing.T) {
	handler := handlers.LoginHandler(testLogger(), &fakeSessionService{})

	req := httptest.NewRequest("POST", "/api/login", bytes.NewBufferString("{not json"))
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSignupHandler_Success(t *testing.T) {
	handler := handlers.SignupHandler(testLogger(), &fakeUserService{id: 12}, &fakeSessionService{})

	reqBody := `{"first_name": "Test", "last_name": "User", "email_address": "new@example.com", "password": "password1"}`
	req := httptest.NewRequest("POST", "/api/signup", bytes.NewBufferString(reqBody))
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusCreated, rr.Code)

	var resp handlers.SignupResponse
	assert.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, int64(12), resp.ID)
}

func TestSignupHandler_ShortPassword(t *testing.T) {
	handler := handlers.SignupHandler(testLogger(), &fakeUserService{}, &fakeSessionService{})

	reqBody := `{"first_name": "Test", "last_name": "User", "email_address": "new@example.com", "password": "123"}`
	req := httptest.NewRequest("POST", "/api/signup", bytes.NewBufferString(reqBody))
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestOrderCreateHandler_Success(t *testing.T) {
	session := &service.Session{UserID: 1, Role: models.RoleCustomer}
	handler := protect(handlers.OrderCreateHandler(testLogger(), &fakeOrderService{id: 42}), session)

	reqBody := `{"description": "first order", "lines": [{"product_id": 7, "quantity": 3}]}`
	req := httptest.NewRequest("POST", "/api/orders", bytes.NewBufferString(reqBody))
	req.Header.Set("Authorization", "Bearer a1b2c3d4e5f60718")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusCreated, rr.Code)

	var resp handlers.OrderIDResponse
	assert.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, int64(42), resp.ID)
}

func TestOrderCreateHandler_NoToken(t *testing.T) {
	handler := protect(handlers.OrderCreateHandler(testLogger(), &fakeOrderService{}), nil)

	req := httptest.NewRequest("POST", "/api/orders", bytes.NewBufferString(`{}`))
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestOrderEditHandler_Conflict(t *testing.T) {
	session := &service.Session{UserID: 1, Role: models.RoleCustomer}
	fakeSvc := &fakeOrderService{err: apperr.New(apperr.KindState, "order_not_editable")}

	router := chi.NewRouter()
	router.With(sessionmw.New(testLogger(), &fakeSessionService{session: session})).
		Patch("/api/orders/{id}", handlers.OrderEditHandler(testLogger(), fakeSvc))

	reqBody := `{"description": "late change"}`
	req := httptest.NewRequest("PATCH", "/api/orders/42", bytes.NewBufferString(reqBody))
	req.Header.Set("Authorization", "Bearer a1b2c3d4e5f60718")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusConflict, rr.Code)

	var resp handlers.ErrorResponse
	assert.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "order_not_editable", resp.Error)
}

func TestOrderEditHandler_BadID(t *testing.T) {
	session := &service.Session{UserID: 1, Role: models.RoleCustomer}

	router := chi.NewRouter()
	router.With(sessionmw.New(testLogger(), &fakeSessionService{session: session})).
		Patch("/api/orders/{id}", handlers.OrderEditHandler(testLogger(), &fakeOrderService{}))

	req := httptest.NewRequest("PATCH", "/api/orders/abc", bytes.NewBufferString(`{}`))
	req.Header.Set("Authorization", "Bearer a1b2c3d4e5f60718")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestOrderListHandler_PassesFilter(t *testing.T) {
	session := &service.Session{UserID: 1, Role: models.RoleCustomer}
	page := &service.OrdersPage{Orders: []*models.Order{{ID: 5, CustomerID: 1, Status: models.StatusDraft}}, Total: 1}
	handler := protect(handlers.OrderListHandler(testLogger(), &fakeOrderGetService{page: page}), session)

	req := httptest.NewRequest("GET", "/api/orders?statuses=1&limit=10", nil)
	req.Header.Set("Authorization", "Bearer a1b2c3d4e5f60718")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	var resp service.OrdersPage
	assert.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, 1, resp.Total)
	assert.Len(t, resp.Orders, 1)
}

func TestOrderListHandler_BadFilter(t *testing.T) {
	session := &service.Session{UserID: 1, Role: models.RoleCustomer}
	handler := protect(handlers.OrderListHandler(testLogger(), &fakeOrderGetService{}), session)

	req := httptest.NewRequest("GET", "/api/orders?price_from=abc", nil)
	req.Header.Set("Authorization", "Bearer a1b2c3d4e5f60718")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestProductCreateHandler_Forbidden(t *testing.T) {
	session := &service.Session{UserID: 1, Role: models.RoleCustomer}
	fakeSvc := &fakeProductService{err: apperr.New(apperr.KindPermission, "permission_denied")}
	handler := protect(handlers.ProductCreateHandler(testLogger(), fakeSvc), session)

	reqBody := `{"title": "reagent kit", "price": 10000, "discount_type": 1}`
	req := httptest.NewRequest("POST", "/api/products", bytes.NewBufferString(reqBody))
	req.Header.Set("Authorization", "Bearer a1b2c3d4e5f60718")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestProductVoteHandler_Success(t *testing.T) {
	session := &service.Session{UserID: 1, Role: models.RoleCustomer}

	router := chi.NewRouter()
	router.With(sessionmw.New(testLogger(), &fakeSessionService{session: session})).
		Post("/api/products/{id}/vote", handlers.ProductVoteHandler(testLogger(), &fakeProductService{}))

	req := httptest.NewRequest("POST", "/api/products/7/vote", bytes.NewBufferString(`{"rating": 4}`))
	req.Header.Set("Authorization", "Bearer a1b2c3d4e5f60718")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestProductVoteHandler_BadRating(t *testing.T) {
	session := &service.Session{UserID: 1, Role: models.RoleCustomer}

	router := chi.NewRouter()
	router.With(sessionmw.New(testLogger(), &fakeSessionService{session: session})).
		Post("/api/products/{id}/vote", handlers.ProductVoteHandler(testLogger(), &fakeProductService{}))

	req := httptest.NewRequest("POST", "/api/products/7/vote", bytes.NewBufferString(`{"rating": 9}`))
	req.Header.Set("Authorization", "Bearer a1b2c3d4e5f60718")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestWhoamiHandler_Success(t *testing.T) {
	session := &service.Session{UserID: 5, Role: models.RoleLab}
	user := &models.User{ID: 5, FirstName: "Lab", LastName: "Owner", EmailAddress: "lab@example.com", Role: models.RoleLab}
	handler := protect(handlers.WhoamiHandler(testLogger(), &fakeUserService{user: user}), session)

	req := httptest.NewRequest("GET", "/api/whoami", nil)
	req.Header.Set("Authorization", "Bearer a1b2c3d4e5f60718")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	var resp handlers.WhoamiResponse
	assert.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, int64(5), resp.ID)
	assert.Equal(t, int16(models.RoleLab), resp.Role)
}

func TestExtendHandler_NoToken(t *testing.T) {
	handler := handlers.ExtendHandler(testLogger(), &fakeSessionService{})

	req := httptest.NewRequest("POST", "/api/extend", nil)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestExtendHandler_TooSoon(t *testing.T) {
	fakeSvc := &fakeSessionService{err: apperr.New(apperr.KindState, "extend_too_soon")}
	handler := handlers.ExtendHandler(testLogger(), fakeSvc)

	req := httptest.NewRequest("POST", "/api/extend", nil)
	req.Header.Set("Authorization", "Bearer a1b2c3d4e5f60718")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestLogoutAllHandler_Success(t *testing.T) {
	session := &service.Session{UserID: 1, Role: models.RoleCustomer}
	handler := protect(handlers.LogoutAllHandler(testLogger(), &fakeSessionService{}), session)

	req := httptest.NewRequest("POST", "/api/logoutAll", nil)
	req.Header.Set("Authorization", "Bearer a1b2c3d4e5f60718")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	var resp handlers.LogoutAllResponse
	assert.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, 2, resp.Count)
}
