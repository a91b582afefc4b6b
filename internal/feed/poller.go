// Package feed connects to the exchange trade websocket and publishes
// normalized price ticks onto the price stream. Prices arrive as decimal
// strings and are converted to integer cents without passing through a
// float.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"levx/internal/model"
	"levx/internal/stream"
	"levx/internal/types"
)

type Publisher interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Poller struct {
	url string
	pub Publisher
	log *zap.Logger
}

func NewPoller(url string, pub Publisher, log *zap.Logger) *Poller {
	return &Poller{url: url, pub: pub, log: log}
}

type subscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int      `json:"id"`
}

type tradeEvent struct {
	Stream string `json:"stream"`
	Data   struct {
		Symbol string `json:"s"`
		Price  string `json:"p"`
	} `json:"data"`
}

// Run keeps a websocket session open until the context ends, reconnecting
// with a delay after any failure.
func (p *Poller) Run(ctx context.Context) error {
	for {
		if err := p.session(ctx); err != nil {
			p.log.Warn("feed session ended", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(2 * time.Second):
		}
	}
}

func (p *Poller) session(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, p.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	params := make([]string, 0, len(types.Assets))
	for _, asset := range types.Assets {
		params = append(params, "trade."+string(asset)+"_USDC")
	}
	if err := conn.WriteJSON(subscribeRequest{Method: "SUBSCRIBE", Params: params, ID: 1}); err != nil {
		return err
	}
	p.log.Info("subscribed to exchange feed", zap.Strings("channels", params))

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var evt tradeEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			p.log.Warn("unparseable feed message", zap.Error(err))
			continue
		}
		if !strings.HasPrefix(evt.Stream, "trade.") {
			continue
		}
		tick, err := p.normalize(evt)
		if err != nil {
			p.log.Warn("dropping feed trade", zap.Error(err))
			continue
		}
		value, err := stream.EncodePriceTick(tick)
		if err != nil {
			continue
		}
		if err := p.pub.WriteMessages(ctx, kafka.Message{Key: []byte(tick.Asset), Value: value}); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.log.Warn("tick publish failed", zap.Error(err))
		}
	}
}

func (p *Poller) normalize(evt tradeEvent) (model.PriceTick, error) {
	sym, _, _ := strings.Cut(evt.Data.Symbol, "_")
	asset, err := types.ParseAsset(sym)
	if err != nil {
		return model.PriceTick{}, err
	}
	d, err := decimal.NewFromString(evt.Data.Price)
	if err != nil {
		return model.PriceTick{}, err
	}
	cents := d.Mul(decimal.NewFromInt(100)).Floor().IntPart()
	if cents <= 0 {
		return model.PriceTick{}, fmt.Errorf("non-positive price %q", evt.Data.Price)
	}
	return model.PriceTick{Asset: asset, Price: cents, Timestamp: time.Now().UTC()}, nil
}
