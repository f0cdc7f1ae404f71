package handler

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/campaign-engine/internal/linktrack"
)

type RedirectService interface {
	Resolve(ctx context.Context, params linktrack.RedirectParams) (string, error)
	ResolveShortCode(ctx context.Context, code string) (string, error)
}

type RedirectHandler struct {
	service RedirectService
}

func NewRedirectHandler(service RedirectService) (*RedirectHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("redirect service is required")
	}
	return &RedirectHandler{service: service}, nil
}

// RegisterRedirectRoutes mounts the public link endpoints. They take no caller headers.
func RegisterRedirectRoutes(router fiber.Router, service RedirectService) error {
	h, err := NewRedirectHandler(service)
	if err != nil {
		return err
	}

	router.Get("/v1/redirect", h.Redirect)
	for _, method := range []string{fiber.MethodPost, fiber.MethodPut, fiber.MethodPatch, fiber.MethodDelete} {
		router.Add(method, "/v1/redirect", methodNotAllowed)
	}
	router.Get("/s/:code", h.ShortLink)

	return nil
}

func (h *RedirectHandler) Redirect(c *fiber.Ctx) error {
	params, err := linktrack.ParseRedirectParams(queryValues(c))
	if err != nil {
		return err
	}

	destination, err := h.service.Resolve(c.Context(), params)
	if err != nil {
		return err
	}
	return c.Redirect(destination, fiber.StatusFound)
}

func (h *RedirectHandler) ShortLink(c *fiber.Ctx) error {
	target, err := h.service.ResolveShortCode(c.Context(), c.Params("code"))
	if err != nil {
		return err
	}
	return c.Redirect(target, fiber.StatusFound)
}

func methodNotAllowed(c *fiber.Ctx) error {
	c.Set(fiber.HeaderAllow, fiber.MethodGet)
	return fiber.ErrMethodNotAllowed
}
