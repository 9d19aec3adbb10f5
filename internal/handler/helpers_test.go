package handler_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/elevate-api/internal/access"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Details json.RawMessage `json:"details"`
	Message string          `json:"message"`
}

func decodeResponse(t *testing.T, resp *http.Response) envelope {
	t.Helper()
	defer resp.Body.Close()

	var body envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func discardLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

// bindCaller stands in for the JWT middleware.
func bindCaller(ac access.Context) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.SetUserContext(access.WithContext(context.Background(), ac))
		return c.Next()
	}
}
