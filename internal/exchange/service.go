package exchange

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// Timeframe1h 为波动评估使用的周期。
	Timeframe1h = "1h"

	defaultCandleLimit = 200
)

// MarketDataService 并发采集一次完整行情观测。
type MarketDataService struct {
	client *Client
	logger *zap.Logger
}

// NewMarketDataService 创建行情服务。
func NewMarketDataService(client *Client, logger *zap.Logger) *MarketDataService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MarketDataService{client: client, logger: logger}
}

// Observe 并发拉取K线与盘口，任一失败则整体失败。
func (s *MarketDataService) Observe(ctx context.Context) (Observation, error) {
	var (
		candles []Candle
		quote   Quote
	)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		result, err := s.client.FetchCandles(groupCtx, Timeframe1h, defaultCandleLimit)
		if err != nil {
			return err
		}
		candles = result
		return nil
	})

	group.Go(func() error {
		result, err := s.client.FetchQuote(groupCtx)
		if err != nil {
			return err
		}
		quote = result
		return nil
	})

	if err := group.Wait(); err != nil {
		return Observation{}, err
	}

	return Observation{
		Symbol:      s.client.Symbol(),
		Candles:     candles,
		Quote:       quote,
		RetrievedAt: time.Now().UTC(),
	}, nil
}
