package handler

import (
	"bytes"
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/campaign-engine/internal/transport"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func newTestApp(t *testing.T, register func(app *fiber.App) error) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(zap.NewNop()),
	})
	if err := register(app); err != nil {
		t.Fatalf("register routes error = %v", err)
	}
	return app
}

type requestOption func(*http.Request)

func withCaller(userID, domainID string) requestOption {
	return func(r *http.Request) {
		r.Header.Set(HeaderUserID, userID)
		r.Header.Set(HeaderDomainID, domainID)
	}
}

func withContentType(contentType string) requestOption {
	return func(r *http.Request) {
		r.Header.Set(fiber.HeaderContentType, contentType)
	}
}

func performRequest(t *testing.T, app *fiber.App, method string, path string, body string, opts ...requestOption) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	for _, opt := range opts {
		opt(req)
	}

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	_ = resp.Body.Close()

	return resp, respBody
}

// stubDB is a database/sql connector whose connections only answer Ping.
type stubDB struct {
	pingErr error
}

func (s stubDB) Connect(context.Context) (driver.Conn, error)   { return s, nil }
func (s stubDB) Driver() driver.Driver                          { return s }
func (s stubDB) Open(string) (driver.Conn, error)               { return s, nil }
func (s stubDB) Prepare(string) (driver.Stmt, error)            { return nil, errors.New("not implemented") }
func (s stubDB) Close() error                                   { return nil }
func (s stubDB) Begin() (driver.Tx, error)                      { return nil, errors.New("not implemented") }
func (s stubDB) Ping(context.Context) error                     { return s.pingErr }

func newTestSQLDB(t *testing.T, pingErr error) *sql.DB {
	t.Helper()

	db := sql.OpenDB(stubDB{pingErr: pingErr})
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// newTestRedis returns a client on an in-memory server. Closing the server
// makes every later command fail.
func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{
		Addr:        mr.Addr(),
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, mr
}
