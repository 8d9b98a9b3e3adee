package server

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"

	"pkg.purge.dev/purge-engine/codec"
	"pkg.purge.dev/purge-engine/types"
)

type tierRequest struct {
	Tier types.TierID `json:"tier"`
}

type ownerRequest struct {
	Owner common.Address `json:"owner"`
}

type tierOwnerRequest struct {
	Tier  types.TierID   `json:"tier"`
	Owner common.Address `json:"owner"`
}

type pendingRewardResponse struct {
	Owner   common.Address `json:"owner"`
	Pending string         `json:"pending"`
}

type isEliminatedResponse struct {
	Tier       types.TierID   `json:"tier"`
	Owner      common.Address `json:"owner"`
	Eliminated bool           `json:"eliminated"`
}

type healthResponse struct {
	Tick  uint64 `json:"tick"`
	Tiers int    `json:"tiers"`
}

func (s *Server) handleHealth(ctx *fiber.Ctx) error {
	return ctx.JSON(healthResponse{
		Tick:  s.eng.CurrentTick(),
		Tiers: len(s.eng.RegisteredTiers()),
	})
}

func (s *Server) handleTierState(ctx *fiber.Ctx) error {
	req, err := codec.Decode[tierRequest](ctx.Body())
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "unable to decode request body")
	}
	view, err := s.eng.TierState(req.Tier)
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}
	return ctx.JSON(view)
}

func (s *Server) handleScanStatus(ctx *fiber.Ctx) error {
	req, err := codec.Decode[tierRequest](ctx.Body())
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "unable to decode request body")
	}
	view, err := s.eng.ScanStatus(req.Tier)
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}
	return ctx.JSON(view)
}

func (s *Server) handlePendingReward(ctx *fiber.Ctx) error {
	req, err := codec.Decode[ownerRequest](ctx.Body())
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "unable to decode request body")
	}
	pending, err := s.eng.PendingReward(req.Owner)
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}
	return ctx.JSON(pendingRewardResponse{
		Owner:   req.Owner,
		Pending: pending.Dec(),
	})
}

func (s *Server) handleIsEliminated(ctx *fiber.Ctx) error {
	req, err := codec.Decode[tierOwnerRequest](ctx.Body())
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "unable to decode request body")
	}
	return ctx.JSON(isEliminatedResponse{
		Tier:       req.Tier,
		Owner:      req.Owner,
		Eliminated: s.eng.IsEliminated(req.Tier, req.Owner),
	})
}
