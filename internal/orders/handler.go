package orders

import (
	"net/http"

	"levx/internal/httputil"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type placeOrderRequest struct {
	Asset      string `json:"asset"`
	Side       string `json:"side"`
	OrderType  string `json:"order_type"`
	LimitPrice int64  `json:"limit_price,omitempty"`
	Margin     int64  `json:"margin"`
	Leverage   int64  `json:"leverage"`
	TakeProfit *int64 `json:"take_profit,omitempty"`
	StopLoss   *int64 `json:"stop_loss,omitempty"`
}

func (h *Handler) Place(w http.ResponseWriter, r *http.Request, userID string) {
	var req placeOrderRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	id, err := h.svc.PlaceOrder(r.Context(), PlaceOrderRequest{
		UserID:     userID,
		Asset:      req.Asset,
		Side:       req.Side,
		OrderType:  req.OrderType,
		LimitPrice: req.LimitPrice,
		Margin:     req.Margin,
		Leverage:   req.Leverage,
		TakeProfit: req.TakeProfit,
		StopLoss:   req.StopLoss,
	})
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]string{"order_id": id})
}

type cancelRequest struct {
	OrderID string `json:"order_id"`
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request, userID string) {
	var req cancelRequest
	if err := httputil.ReadJSON(r, &req); err != nil || req.OrderID == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "order_id required"})
		return
	}
	if err := h.svc.Cancel(r.Context(), userID, req.OrderID); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "cancel requested"})
}

type closeRequest struct {
	PositionID string `json:"position_id"`
}

func (h *Handler) Close(w http.ResponseWriter, r *http.Request, userID string) {
	var req closeRequest
	if err := httputil.ReadJSON(r, &req); err != nil || req.PositionID == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "position_id required"})
		return
	}
	if err := h.svc.Close(r.Context(), userID, req.PositionID); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "close requested"})
}

func (h *Handler) Balance(w http.ResponseWriter, r *http.Request, userID string) {
	balance, err := h.svc.Balance(r.Context(), userID)
	if err != nil {
		httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]int64{"balance": balance})
}

func (h *Handler) OpenPositions(w http.ResponseWriter, r *http.Request, userID string) {
	positions, err := h.svc.OpenPositions(r.Context(), userID)
	if err != nil {
		httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, positions)
}

func (h *Handler) ClosedPositions(w http.ResponseWriter, r *http.Request, userID string) {
	positions, err := h.svc.ClosedPositions(r.Context(), userID)
	if err != nil {
		httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, positions)
}
