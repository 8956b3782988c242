package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
)

// httpClient is shared by all fetchers; per-call deadlines come from the
// request context, so no client-level timeout is set.
var httpClient = &http.Client{}

func getJSON(ctx context.Context, url string, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d from %s", resp.StatusCode, url)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func getText(ctx context.Context, url, userAgent string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d from %s", resp.StatusCode, url)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func parsePrice(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("bad price %q: %w", s, err)
	}
	return v, nil
}

// coinbaseTicker fetches the last trade price from Coinbase Exchange,
// e.g. product "BTC-USD".
func coinbaseTicker(product string) Fetcher {
	return func(ctx context.Context) (float64, error) {
		var body struct {
			Price string `json:"price"`
		}
		url := "https://api.exchange.coinbase.com/products/" + product + "/ticker"
		if err := getJSON(ctx, url, &body); err != nil {
			return 0, err
		}
		return parsePrice(body.Price)
	}
}

// coinbaseSpot fetches the Coinbase retail spot price, e.g. "PAXG-USD".
func coinbaseSpot(pair string) Fetcher {
	return func(ctx context.Context) (float64, error) {
		var body struct {
			Data struct {
				Amount string `json:"amount"`
			} `json:"data"`
		}
		url := "https://api.coinbase.com/v2/prices/" + pair + "/spot"
		if err := getJSON(ctx, url, &body); err != nil {
			return 0, err
		}
		return parsePrice(body.Data.Amount)
	}
}

// krakenTicker fetches the last trade price from Kraken. Kraken keys the
// result by its internal pair name, so take whichever single key comes back.
func krakenTicker(pair string) Fetcher {
	return func(ctx context.Context) (float64, error) {
		var body struct {
			Error  []string `json:"error"`
			Result map[string]struct {
				C []string `json:"c"`
			} `json:"result"`
		}
		url := "https://api.kraken.com/0/public/Ticker?pair=" + pair
		if err := getJSON(ctx, url, &body); err != nil {
			return 0, err
		}
		if len(body.Error) > 0 {
			return 0, fmt.Errorf("kraken error: %s", body.Error[0])
		}
		for _, entry := range body.Result {
			if len(entry.C) == 0 {
				break
			}
			return parsePrice(entry.C[0])
		}
		return 0, fmt.Errorf("kraken: no ticker entry for %s", pair)
	}
}

// bitstampTicker fetches the last trade price from Bitstamp, e.g. "btcusd".
func bitstampTicker(pair string) Fetcher {
	return func(ctx context.Context) (float64, error) {
		var body struct {
			Last string `json:"last"`
		}
		url := "https://www.bitstamp.net/api/v2/ticker/" + pair + "/"
		if err := getJSON(ctx, url, &body); err != nil {
			return 0, err
		}
		return parsePrice(body.Last)
	}
}

// geminiTicker fetches the last trade price from Gemini, e.g. "btcusd".
func geminiTicker(pair string) Fetcher {
	return func(ctx context.Context) (float64, error) {
		var body struct {
			Last string `json:"last"`
		}
		url := "https://api.gemini.com/v1/pubticker/" + pair
		if err := getJSON(ctx, url, &body); err != nil {
			return 0, err
		}
		return parsePrice(body.Last)
	}
}

// bitfinexTicker fetches the last trade price from Bitfinex, e.g. "tBTCUSD".
// The v2 ticker is a flat array; index 6 is the last price.
func bitfinexTicker(symbol string) Fetcher {
	return func(ctx context.Context) (float64, error) {
		var body []float64
		url := "https://api-pub.bitfinex.com/v2/ticker/" + symbol
		if err := getJSON(ctx, url, &body); err != nil {
			return 0, err
		}
		if len(body) < 7 {
			return 0, fmt.Errorf("bitfinex: short ticker for %s", symbol)
		}
		return body[6], nil
	}
}

// binanceUSTicker fetches the last price from Binance US, e.g. "BTCUSD".
func binanceUSTicker(symbol string) Fetcher {
	return func(ctx context.Context) (float64, error) {
		var body struct {
			Price string `json:"price"`
		}
		url := "https://api.binance.us/api/v3/ticker/price?symbol=" + symbol
		if err := getJSON(ctx, url, &body); err != nil {
			return 0, err
		}
		return parsePrice(body.Price)
	}
}

// binanceVisionTicker fetches the last price from the Binance global data
// mirror, e.g. "BTCUSDT". Prices are USDT-denominated.
func binanceVisionTicker(symbol string) Fetcher {
	return func(ctx context.Context) (float64, error) {
		var body struct {
			Price string `json:"price"`
		}
		url := "https://data-api.binance.vision/api/v3/ticker/price?symbol=" + symbol
		if err := getJSON(ctx, url, &body); err != nil {
			return 0, err
		}
		return parsePrice(body.Price)
	}
}

// okxTicker fetches the last price from OKX, e.g. "BTC-USDT".
func okxTicker(instID string) Fetcher {
	return func(ctx context.Context) (float64, error) {
		var body struct {
			Data []struct {
				Last string `json:"last"`
			} `json:"data"`
		}
		url := "https://www.okx.com/api/v5/market/ticker?instId=" + instID
		if err := getJSON(ctx, url, &body); err != nil {
			return 0, err
		}
		if len(body.Data) == 0 {
			return 0, fmt.Errorf("okx: empty ticker for %s", instID)
		}
		return parsePrice(body.Data[0].Last)
	}
}

// gateioTicker fetches the last price from Gate.io, e.g. "BTC_USDT".
func gateioTicker(pair string) Fetcher {
	return func(ctx context.Context) (float64, error) {
		var body []struct {
			Last string `json:"last"`
		}
		url := "https://api.gateio.ws/api/v4/spot/tickers?currency_pair=" + pair
		if err := getJSON(ctx, url, &body); err != nil {
			return 0, err
		}
		if len(body) == 0 {
			return 0, fmt.Errorf("gateio: empty ticker for %s", pair)
		}
		return parsePrice(body[0].Last)
	}
}

// bybitTicker fetches the last price from Bybit spot, e.g. "SOLUSDT".
func bybitTicker(symbol string) Fetcher {
	return func(ctx context.Context) (float64, error) {
		var body struct {
			Result struct {
				List []struct {
					LastPrice string `json:"lastPrice"`
				} `json:"list"`
			} `json:"result"`
		}
		url := "https://api.bybit.com/v5/market/tickers?category=spot&symbol=" + symbol
		if err := getJSON(ctx, url, &body); err != nil {
			return 0, err
		}
		if len(body.Result.List) == 0 {
			return 0, fmt.Errorf("bybit: empty ticker for %s", symbol)
		}
		return parsePrice(body.Result.List[0].LastPrice)
	}
}
