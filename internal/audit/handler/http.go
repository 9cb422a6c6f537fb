// Package handler exposes the audit log to administrators over HTTP.
package handler

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"custodial-ledger/backend/internal/audit/repository"
	"custodial-ledger/backend/internal/errs"
	"custodial-ledger/backend/internal/platform/rbac"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Handler serves GET /v1/admin/audit-logs.
type Handler struct {
	repo repository.Repository
}

// New returns an audit Handler reading from repo.
func New(repo repository.Repository) *Handler {
	return &Handler{repo: repo}
}

type entryView struct {
	ID        string    `json:"id"`
	ActorID   string    `json:"actor_id"`
	Action    string    `json:"action"`
	Resource  string    `json:"resource"`
	IP        string    `json:"ip"`
	Metadata  string    `json:"metadata,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// List returns audit entries newest first; limit defaults to 50 and is capped at 200.
func (h *Handler) List(c *fiber.Ctx) error {
	if _, err := rbac.RequireAdminContext(c.UserContext()); err != nil {
		return err
	}
	limit, err := pageParam(c.Query("limit"), defaultPageSize)
	if err != nil {
		return errs.Invalid("limit", "must be a non-negative integer")
	}
	if limit == 0 || limit > maxPageSize {
		limit = maxPageSize
	}
	offset, err := pageParam(c.Query("offset"), 0)
	if err != nil {
		return errs.Invalid("offset", "must be a non-negative integer")
	}
	logs, err := h.repo.List(c.UserContext(), limit, offset)
	if err != nil {
		return err
	}
	out := make([]entryView, 0, len(logs))
	for _, l := range logs {
		out = append(out, entryView{
			ID:        l.ID,
			ActorID:   l.ActorID,
			Action:    l.Action,
			Resource:  l.Resource,
			IP:        l.IP,
			Metadata:  l.Metadata,
			CreatedAt: l.CreatedAt,
		})
	}
	return c.JSON(fiber.Map{"entries": out, "limit": limit, "offset": offset})
}

func pageParam(raw string, fallback int32) (int32, error) {
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || n < 0 {
		return 0, strconv.ErrRange
	}
	return int32(n), nil
}
