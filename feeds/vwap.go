package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// VWAPWindow is the trade lookback for VWAP fetchers.
const VWAPWindow = 300 * time.Second

type trade struct {
	price float64
	size  float64
	at    time.Time
}

// vwap computes volume-weighted average price over trades inside the
// window, by the exchange's own timestamps. A zero-volume window fails.
func vwap(trades []trade, now time.Time) (float64, error) {
	cutoff := now.Add(-VWAPWindow)
	var notional, volume float64
	for _, t := range trades {
		if t.at.Before(cutoff) {
			continue
		}
		notional += t.price * t.size
		volume += t.size
	}
	if volume == 0 {
		return 0, fmt.Errorf("zero volume in vwap window")
	}
	return notional / volume, nil
}

// coinbaseVWAP fetches recent trades from Coinbase Exchange and computes
// the windowed VWAP, e.g. product "BTC-USD".
func coinbaseVWAP(product string) Fetcher {
	return func(ctx context.Context) (float64, error) {
		var body []struct {
			Time  time.Time `json:"time"`
			Price string    `json:"price"`
			Size  string    `json:"size"`
		}
		url := "https://api.exchange.coinbase.com/products/" + product + "/trades"
		if err := getJSON(ctx, url, &body); err != nil {
			return 0, err
		}
		trades := make([]trade, 0, len(body))
		for _, t := range body {
			price, err := parsePrice(t.Price)
			if err != nil {
				continue
			}
			size, err := parsePrice(t.Size)
			if err != nil {
				continue
			}
			trades = append(trades, trade{price: price, size: size, at: t.Time})
		}
		return vwap(trades, time.Now().UTC())
	}
}

// krakenVWAP fetches recent trades from Kraken and computes the windowed
// VWAP. Kraken trade entries are heterogenous arrays:
// [price, volume, time, side, order_type, misc, id].
func krakenVWAP(pair string) Fetcher {
	return func(ctx context.Context) (float64, error) {
		var body struct {
			Error  []string                   `json:"error"`
			Result map[string]json.RawMessage `json:"result"`
		}
		url := "https://api.kraken.com/0/public/Trades?pair=" + pair
		if err := getJSON(ctx, url, &body); err != nil {
			return 0, err
		}
		if len(body.Error) > 0 {
			return 0, fmt.Errorf("kraken error: %s", body.Error[0])
		}
		var trades []trade
		for key, raw := range body.Result {
			if key == "last" {
				continue
			}
			var entries [][]interface{}
			if err := json.Unmarshal(raw, &entries); err != nil {
				return 0, fmt.Errorf("kraken trades for %s: %w", pair, err)
			}
			for _, e := range entries {
				if len(e) < 3 {
					continue
				}
				priceStr, ok1 := e[0].(string)
				sizeStr, ok2 := e[1].(string)
				ts, ok3 := e[2].(float64)
				if !ok1 || !ok2 || !ok3 {
					continue
				}
				price, err := parsePrice(priceStr)
				if err != nil {
					continue
				}
				size, err := parsePrice(sizeStr)
				if err != nil {
					continue
				}
				sec, frac := int64(ts), ts-float64(int64(ts))
				trades = append(trades, trade{
					price: price,
					size:  size,
					at:    time.Unix(sec, int64(frac*1e9)).UTC(),
				})
			}
		}
		return vwap(trades, time.Now().UTC())
	}
}
