package feeds

import "time"

// Static pair registry. Sources, quorums and divergence thresholds are
// fixed configuration; a pair never changes after process start.

// usdtRateSources sample the USDT/USD peg for stablecoin normalization.
// The rate needs at least two of these to be usable.
func usdtRateSources() []Source {
	return []Source{
		{Name: "kraken", Fetch: krakenTicker("USDTZUSD")},
		{Name: "bitstamp", Fetch: bitstampTicker("usdtusd")},
	}
}

// USDCPegSources sample the USDC/USD peg for the payment depeg breaker.
func USDCPegSources() []Source {
	return []Source{
		{Name: "kraken", Fetch: krakenTicker("USDCUSD")},
		{Name: "bitstamp", Fetch: bitstampTicker("usdcusd")},
		{Name: "coinbase", Fetch: coinbaseTicker("USDC-USD")},
		{Name: "gemini", Fetch: geminiTicker("usdcusd")},
		{Name: "bitfinex", Fetch: bitfinexTicker("tUDCUSD")},
	}
}

// BTCUSD aggregates nine sources: six USD-native, three USDT-normalized.
func BTCUSD() *Pair {
	return &Pair{
		Symbol:   "BTCUSD",
		Quote:    "USD",
		Decimals: 2,
		Method:   "median",
		Nonce:    "890123",
		Sources: []Source{
			{Name: "coinbase", Fetch: coinbaseTicker("BTC-USD")},
			{Name: "kraken", Fetch: krakenTicker("XBTUSD")},
			{Name: "bitstamp", Fetch: bitstampTicker("btcusd")},
			{Name: "gemini", Fetch: geminiTicker("btcusd")},
			{Name: "bitfinex", Fetch: bitfinexTicker("tBTCUSD")},
			{Name: "binance_us", Fetch: binanceUSTicker("BTCUSD")},
			{Name: "binance", Denom: DenomStable, Fetch: binanceVisionTicker("BTCUSDT")},
			{Name: "okx", Denom: DenomStable, Fetch: okxTicker("BTC-USDT")},
			{Name: "gateio", Denom: DenomStable, Fetch: gateioTicker("BTC_USDT")},
		},
		StableRateSources: usdtRateSources(),
		MinSources:        6,
		MinQuoteSources:   4,
		Divergence:        0.005,
	}
}

// BTCUSDVWAP computes a 5-minute volume-weighted BTCUSD from exchange
// trade tapes.
func BTCUSDVWAP() *Pair {
	return &Pair{
		Symbol:   "BTCUSD",
		Quote:    "USD",
		Decimals: 2,
		Method:   "vwap",
		Nonce:    "890123",
		Sources: []Source{
			{Name: "coinbase", Fetch: coinbaseVWAP("BTC-USD")},
			{Name: "kraken", Fetch: krakenVWAP("XBTUSD")},
		},
		MinSources: 1,
		Divergence: 0.01,
	}
}

// ETHUSD aggregates five USD-native exchanges.
func ETHUSD() *Pair {
	return &Pair{
		Symbol:   "ETHUSD",
		Quote:    "USD",
		Decimals: 2,
		Method:   "median",
		Nonce:    "890123",
		Sources: []Source{
			{Name: "coinbase", Fetch: coinbaseTicker("ETH-USD")},
			{Name: "kraken", Fetch: krakenTicker("ETHUSD")},
			{Name: "bitstamp", Fetch: bitstampTicker("ethusd")},
			{Name: "gemini", Fetch: geminiTicker("ethusd")},
			{Name: "bitfinex", Fetch: bitfinexTicker("tETHUSD")},
		},
		MinSources: 3,
		Divergence: 0.005,
	}
}

// EURUSD aggregates five central-bank fixings and two exchange tickers.
func EURUSD() *Pair {
	return &Pair{
		Symbol:   "EURUSD",
		Quote:    "USD",
		Decimals: 5,
		Method:   "median",
		Nonce:    "901234",
		Sources: []Source{
			{Name: "ecb", Fetch: frankfurterEURUSD()},
			{Name: "bankofcanada", Fetch: bankOfCanadaEURUSD()},
			{Name: "rba", Fetch: rbaEURUSD()},
			{Name: "norgesbank", Fetch: norgesBankEURUSD()},
			{Name: "cnb", Fetch: cnbEURUSD()},
			{Name: "kraken", Fetch: krakenTicker("EURUSD")},
			{Name: "bitstamp", Fetch: bitstampTicker("eurusd")},
		},
		MinSources: 4,
		Divergence: 0.005,
	}
}

// XAUUSD blends traditional gold dealers with tokenized gold (PAXG).
// The dealer pages are slow, so those fetchers get a longer leash.
func XAUUSD() *Pair {
	return &Pair{
		Symbol:   "XAUUSD",
		Quote:    "USD",
		Decimals: 2,
		Method:   "median",
		Nonce:    "912345",
		Sources: []Source{
			{Name: "kitco", Fetch: kitcoGold()},
			{Name: "jmbullion", Fetch: jmBullionGold(), Timeout: 10 * time.Second},
			{Name: "goldbroker", Fetch: goldBrokerGold(), Timeout: 10 * time.Second},
			{Name: "coinbase", Fetch: coinbaseSpot("PAXG-USD")},
			{Name: "kraken", Fetch: krakenTicker("PAXGUSD")},
			{Name: "gemini", Fetch: geminiTicker("paxgusd")},
			{Name: "binance", Denom: DenomStable, Fetch: binanceVisionTicker("PAXGUSDT")},
			{Name: "okx", Denom: DenomStable, Fetch: okxTicker("PAXG-USDT")},
		},
		StableRateSources: usdtRateSources(),
		MinSources:        3,
		MinQuoteSources:   2,
		Divergence:        0.005,
	}
}

// SOLUSD aggregates nine sources: five USD-native, four USDT-normalized.
func SOLUSD() *Pair {
	return &Pair{
		Symbol:   "SOLUSD",
		Quote:    "USD",
		Decimals: 2,
		Method:   "median",
		Nonce:    "923456",
		Sources: []Source{
			{Name: "coinbase", Fetch: coinbaseTicker("SOL-USD")},
			{Name: "kraken", Fetch: krakenTicker("SOLUSD")},
			{Name: "bitstamp", Fetch: bitstampTicker("solusd")},
			{Name: "gemini", Fetch: geminiTicker("solusd")},
			{Name: "bitfinex", Fetch: bitfinexTicker("tSOLUSD")},
			{Name: "binance", Denom: DenomStable, Fetch: binanceVisionTicker("SOLUSDT")},
			{Name: "okx", Denom: DenomStable, Fetch: okxTicker("SOL-USDT")},
			{Name: "gateio", Denom: DenomStable, Fetch: gateioTicker("SOL_USDT")},
			{Name: "bybit", Denom: DenomStable, Fetch: bybitTicker("SOLUSDT")},
		},
		StableRateSources: usdtRateSources(),
		MinSources:        5,
		MinQuoteSources:   3,
		Divergence:        0.005,
	}
}

// BTCEUR is a cross-rate pair: BTCUSD divided by EURUSD, sources the union
// of both feeds.
func BTCEUR() *Pair {
	return &Pair{
		Symbol:   "BTCEUR",
		Quote:    "EUR",
		Decimals: 2,
		Method:   "median",
		Nonce:    "934567",
		Cross:    &CrossRate{Base: BTCUSD(), Quote: EURUSD()},
	}
}
