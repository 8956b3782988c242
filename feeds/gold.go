package feeds

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Gold spot sources. The traditional dealers publish HTML or CSV rather
// than ticker APIs, so these fetchers scrape and sanity-band the result.

const (
	goldBandLow  = 1000.0
	goldBandHigh = 20000.0

	scrapeUserAgent = "Mozilla/5.0"
)

var dollarPriceRe = regexp.MustCompile(`\$[\d,]+\.\d+`)

func inGoldBand(v float64) bool {
	return v > goldBandLow && v < goldBandHigh
}

// kitcoGold fetches the Kitco precious-metals quote feed, a bare CSV line
// where field 5 is the gold bid.
func kitcoGold() Fetcher {
	return func(ctx context.Context) (float64, error) {
		text, err := getText(ctx, "https://proxy.kitco.com/getPM?symbol=AU&currency=USD", "")
		if err != nil {
			return 0, err
		}
		parts := strings.Split(strings.TrimSpace(text), ",")
		if len(parts) < 6 {
			return 0, fmt.Errorf("kitco: short quote line")
		}
		price, err := parsePrice(parts[5])
		if err != nil {
			return 0, err
		}
		if !inGoldBand(price) {
			return 0, fmt.Errorf("kitco price out of range: %v", price)
		}
		return price, nil
	}
}

// jmBullionGold scrapes the first dollar-formatted price off the JM Bullion
// gold chart page.
func jmBullionGold() Fetcher {
	return func(ctx context.Context) (float64, error) {
		html, err := getText(ctx, "https://www.jmbullion.com/charts/gold-price/", scrapeUserAgent)
		if err != nil {
			return 0, err
		}
		match := dollarPriceRe.FindString(html)
		if match == "" {
			return 0, fmt.Errorf("jmbullion: no price found")
		}
		price, err := parseDollar(match)
		if err != nil {
			return 0, err
		}
		if !inGoldBand(price) {
			return 0, fmt.Errorf("jmbullion price out of range: %v", price)
		}
		return price, nil
	}
}

// goldBrokerGold scrapes GoldBroker's USD chart page, taking the first
// dollar price inside the sanity band.
func goldBrokerGold() Fetcher {
	return func(ctx context.Context) (float64, error) {
		html, err := getText(ctx, "https://www.goldbroker.com/charts/gold-price/usd", scrapeUserAgent)
		if err != nil {
			return 0, err
		}
		for _, match := range dollarPriceRe.FindAllString(html, -1) {
			price, err := parseDollar(match)
			if err != nil {
				continue
			}
			if inGoldBand(price) {
				return price, nil
			}
		}
		return 0, fmt.Errorf("goldbroker: no valid price found")
	}
}

func parseDollar(s string) (float64, error) {
	s = strings.ReplaceAll(strings.TrimPrefix(s, "$"), ",", "")
	return parsePrice(s)
}
