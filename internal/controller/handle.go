package controller

import (
	"context"

	"github.com/danmuck/wsctl/internal/correlation"
)

// RouteHandle resolves to the route id assigned by the nukleus.
type RouteHandle struct {
	completion *correlation.Completion
}

func (h *RouteHandle) CorrelationID() uint64 {
	return h.completion.ID()
}

func (h *RouteHandle) Completion() *correlation.Completion {
	return h.completion
}

func (h *RouteHandle) Done() <-chan struct{} {
	return h.completion.Done()
}

// RouteID waits for the reply and returns the new route id.
func (h *RouteHandle) RouteID(ctx context.Context) (uint64, error) {
	res, err := h.completion.Wait(ctx)
	if err != nil {
		return 0, err
	}
	return res.RouteID, nil
}

// Abandon stops waiting; a later reply for this command is discarded.
func (h *RouteHandle) Abandon() bool {
	return h.completion.Abandon()
}
