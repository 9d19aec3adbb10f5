package handler_test

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/elevate-api/internal/access"
	"github.com/noah-isme/elevate-api/internal/handler"
	"github.com/noah-isme/elevate-api/internal/service"
)

// memoryEvents is an in-process LedgerEventPublisher.
type memoryEvents struct {
	mu         sync.Mutex
	handlers   []func(service.LedgerEvent)
	subscribed chan struct{}
	err        error
}

func newMemoryEvents() *memoryEvents {
	return &memoryEvents{subscribed: make(chan struct{}, 1)}
}

func (m *memoryEvents) Publish(_ context.Context, events ...service.LedgerEvent) {
	m.mu.Lock()
	handlers := append([]func(service.LedgerEvent){}, m.handlers...)
	m.mu.Unlock()
	for _, event := range events {
		for _, h := range handlers {
			h(event)
		}
	}
}

func (m *memoryEvents) Subscribe(_ context.Context, fn func(service.LedgerEvent)) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	m.handlers = append(m.handlers, fn)
	m.mu.Unlock()
	select {
	case m.subscribed <- struct{}{}:
	default:
	}
	return nil
}

func startStreamServer(t *testing.T, events service.LedgerEventPublisher, role access.Role) (string, *fiber.App) {
	t.Helper()

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(bindCaller(access.Context{UserID: 1, Role: role}))
	handler.NewLedgerStreamHandler(events, discardLogger()).Register(app.Group("/api/v1/admin/stream"))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.Shutdown() })

	return "ws://" + ln.Addr().String() + "/api/v1/admin/stream/ledger", app
}

func TestLedgerStreamDeliversEvents(t *testing.T) {
	events := newMemoryEvents()
	url, _ := startStreamServer(t, events, access.RoleAdmin)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	select {
	case <-events.subscribed:
	case <-time.After(2 * time.Second):
		t.Fatal("stream never subscribed")
	}

	events.Publish(context.Background(), service.LedgerEvent{UserID: 4, ActivityCode: "EXPLORE", DeltaPoints: 50, LedgerSource: "FORM", EntryID: 9})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var received service.LedgerEvent
	require.NoError(t, conn.ReadJSON(&received))
	require.Equal(t, uint(4), received.UserID)
	require.Equal(t, 50, received.DeltaPoints)
	require.Equal(t, uint(9), received.EntryID)
}

func TestLedgerStreamClosesForNonAdmins(t *testing.T) {
	url, _ := startStreamServer(t, newMemoryEvents(), access.RoleReviewer)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.True(t, errors.As(err, &closeErr))
	require.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
}

func TestLedgerStreamClosesWhenSubscriptionFails(t *testing.T) {
	events := newMemoryEvents()
	events.err = errors.New("redis: connection refused")
	url, _ := startStreamServer(t, events, access.RoleAdmin)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.True(t, errors.As(err, &closeErr))
	require.Equal(t, websocket.CloseInternalServerErr, closeErr.Code)
}

func TestLedgerStreamRequiresUpgrade(t *testing.T) {
	app := fiber.New()
	app.Use(bindCaller(access.Context{UserID: 1, Role: access.RoleAdmin}))
	handler.NewLedgerStreamHandler(newMemoryEvents(), discardLogger()).Register(app.Group("/api/v1/admin/stream"))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/admin/stream/ledger", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusUpgradeRequired, resp.StatusCode)
}
