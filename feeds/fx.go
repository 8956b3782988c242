package feeds

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Central-bank EUR/USD reference sources. These publish daily fixings in a
// variety of shapes (JSON APIs, SDMX, RSS, pipe-delimited text), so each
// fetcher carries its own parser.

// frankfurterEURUSD fetches the ECB reference rate via the frankfurter API.
func frankfurterEURUSD() Fetcher {
	return func(ctx context.Context) (float64, error) {
		var body struct {
			Rates map[string]float64 `json:"rates"`
		}
		if err := getJSON(ctx, "https://api.frankfurter.dev/v1/latest?symbols=USD", &body); err != nil {
			return 0, err
		}
		rate, ok := body.Rates["USD"]
		if !ok {
			return 0, fmt.Errorf("frankfurter: no USD rate")
		}
		return rate, nil
	}
}

// bankOfCanadaEURUSD derives EUR/USD from the Bank of Canada's EUR/CAD and
// USD/CAD valet observations.
func bankOfCanadaEURUSD() Fetcher {
	fetch := func(ctx context.Context, series string) (float64, error) {
		var body struct {
			Observations []map[string]struct {
				V string `json:"v"`
			} `json:"observations"`
		}
		url := "https://www.bankofcanada.ca/valet/observations/" + series + "/json?recent=1"
		if err := getJSON(ctx, url, &body); err != nil {
			return 0, err
		}
		if len(body.Observations) == 0 {
			return 0, fmt.Errorf("bankofcanada: no observations for %s", series)
		}
		obs, ok := body.Observations[0][series]
		if !ok {
			return 0, fmt.Errorf("bankofcanada: missing series %s", series)
		}
		return parsePrice(obs.V)
	}
	return func(ctx context.Context) (float64, error) {
		eurcad, err := fetch(ctx, "FXEURCAD")
		if err != nil {
			return 0, err
		}
		usdcad, err := fetch(ctx, "FXUSDCAD")
		if err != nil {
			return 0, err
		}
		return roundTo(eurcad/usdcad, 6), nil
	}
}

var (
	rbaUSDRe = regexp.MustCompile(`AU:\s+([\d.]+)\s+USD\s+=\s+1\s+AUD`)
	rbaEURRe = regexp.MustCompile(`AU:\s+([\d.]+)\s+EUR\s+=\s+1\s+AUD`)
)

// rbaEURUSD derives EUR/USD from the Reserve Bank of Australia's RSS feed
// of AUD cross rates.
func rbaEURUSD() Fetcher {
	return func(ctx context.Context) (float64, error) {
		xml, err := getText(ctx, "https://www.rba.gov.au/rss/rss-cb-exchange-rates.xml", "")
		if err != nil {
			return 0, err
		}
		usd := rbaUSDRe.FindStringSubmatch(xml)
		eur := rbaEURRe.FindStringSubmatch(xml)
		if usd == nil || eur == nil {
			return 0, fmt.Errorf("rba: could not parse RSS rates")
		}
		audUSD, err := parsePrice(usd[1])
		if err != nil {
			return 0, err
		}
		audEUR, err := parsePrice(eur[1])
		if err != nil {
			return 0, err
		}
		return roundTo(audUSD/audEUR, 6), nil
	}
}

// norgesBankEURUSD derives EUR/USD from Norges Bank's EUR/NOK and USD/NOK
// SDMX-JSON fixings.
func norgesBankEURUSD() Fetcher {
	fetch := func(ctx context.Context, currency string) (float64, error) {
		var body struct {
			Data struct {
				DataSets []struct {
					Series map[string]struct {
						Observations map[string][]interface{} `json:"observations"`
					} `json:"series"`
				} `json:"dataSets"`
			} `json:"data"`
		}
		url := "https://data.norges-bank.no/api/data/EXR/B." + currency +
			".NOK.SP?format=sdmx-json&lastNObservations=1"
		if err := getJSON(ctx, url, &body); err != nil {
			return 0, err
		}
		if len(body.Data.DataSets) == 0 {
			return 0, fmt.Errorf("norgesbank: empty dataset for %s", currency)
		}
		for _, series := range body.Data.DataSets[0].Series {
			for _, obs := range series.Observations {
				if len(obs) == 0 {
					continue
				}
				switch v := obs[0].(type) {
				case float64:
					return v, nil
				case string:
					return parsePrice(v)
				}
			}
		}
		return 0, fmt.Errorf("norgesbank: no observation for %s", currency)
	}
	return func(ctx context.Context) (float64, error) {
		eurnok, err := fetch(ctx, "EUR")
		if err != nil {
			return 0, err
		}
		usdnok, err := fetch(ctx, "USD")
		if err != nil {
			return 0, err
		}
		return roundTo(eurnok/usdnok, 6), nil
	}
}

// cnbEURUSD derives EUR/USD from the Czech National Bank's daily
// pipe-delimited fixing table.
func cnbEURUSD() Fetcher {
	return func(ctx context.Context) (float64, error) {
		text, err := getText(ctx, "https://www.cnb.cz/en/financial-markets/foreign-exchange-market/"+
			"central-bank-exchange-rate-fixing/central-bank-exchange-rate-fixing/daily.txt", "")
		if err != nil {
			return 0, err
		}
		var eurRate, usdRate float64
		lines := strings.Split(strings.TrimSpace(text), "\n")
		if len(lines) < 3 {
			return 0, fmt.Errorf("cnb: short fixing table")
		}
		for _, line := range lines[2:] {
			parts := strings.Split(line, "|")
			if len(parts) < 5 {
				continue
			}
			code := strings.TrimSpace(parts[3])
			amount, err1 := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
			rate, err2 := strconv.ParseFloat(strings.TrimSpace(parts[4]), 64)
			if err1 != nil || err2 != nil || amount == 0 {
				continue
			}
			switch code {
			case "EUR":
				eurRate = rate / amount
			case "USD":
				usdRate = rate / amount
			}
		}
		if eurRate == 0 || usdRate == 0 {
			return 0, fmt.Errorf("cnb: could not parse EUR/USD fixings")
		}
		return roundTo(eurRate/usdRate, 6), nil
	}
}
