package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/warehouse-free-picking/internal/repository"
)

// StockHandler exposes the per-cell ledger for lookups and replenishment.
type StockHandler struct {
	stock *repository.StockRepo
}

func NewStockHandler(stock *repository.StockRepo) *StockHandler {
	return &StockHandler{stock: stock}
}

// ListCells returns every cell holding the given SKU.
func (h *StockHandler) ListCells(c echo.Context) error {
	cells, err := h.stock.ListCellsBySKU(c.Request().Context(), c.Param("sku"))
	if err != nil {
		return writeErr(c, err)
	}
	views := make([]echo.Map, 0, len(cells))
	for _, cell := range cells {
		views = append(views, cellView(cell))
	}
	return c.JSON(http.StatusOK, echo.Map{"sku": c.Param("sku"), "cells": views})
}

// GetCell returns one cell's counters.
func (h *StockHandler) GetCell(c echo.Context) error {
	cell, err := h.stock.GetCell(c.Request().Context(), c.Param("sku"), c.Param("bin"))
	if err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusOK, cellView(*cell))
}

// SetCell sets a cell's on-hand count.  Rejected while the cell carries
// active reservations so replenishment can never strand a session.
func (h *StockHandler) SetCell(c echo.Context) error {
	var req struct {
		OnHand int64 `json:"on_hand"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if req.OnHand < 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "on_hand must not be negative"})
	}
	if err := h.stock.SetCell(c.Request().Context(), c.Param("sku"), c.Param("bin"), req.OnHand); err != nil {
		return writeErr(c, err)
	}
	cell, err := h.stock.GetCell(c.Request().Context(), c.Param("sku"), c.Param("bin"))
	if err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusOK, cellView(*cell))
}
