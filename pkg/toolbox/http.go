package toolbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

type WeatherInput struct {
	Location string `json:"location" jsonschema:"description=The city name e.g. Paris"`
	Unit     string `json:"unit,omitempty" jsonschema:"enum=celsius,enum=fahrenheit"`
}

type WeatherOutput struct {
	Location    string  `json:"location"`
	Temperature float64 `json:"temperature"`
	FeelsLike   float64 `json:"feels_like"`
	Humidity    int     `json:"humidity"`
	Unit        string  `json:"unit"`
	Description string  `json:"description"`
}

type openWeatherResponse struct {
	Name string `json:"name"`
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Humidity  int     `json:"humidity"`
	} `json:"main"`
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
}

func (t *Toolbox) GetCurrentWeather(ctx context.Context, in WeatherInput) (*WeatherOutput, error) {
	if t.weatherAPIKey == "" {
		return nil, errors.New("no weather API key configured")
	}
	unit := in.Unit
	if unit == "" {
		unit = "celsius"
	}
	units := "metric"
	if unit == "fahrenheit" {
		units = "imperial"
	}

	q := url.Values{}
	q.Set("q", in.Location)
	q.Set("appid", t.weatherAPIKey)
	q.Set("units", units)

	var resp openWeatherResponse
	if err := t.getJSON(ctx, t.weatherBaseURL+"/weather?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}

	out := &WeatherOutput{
		Location:    resp.Name,
		Temperature: resp.Main.Temp,
		FeelsLike:   resp.Main.FeelsLike,
		Humidity:    resp.Main.Humidity,
		Unit:        unit,
	}
	if len(resp.Weather) > 0 {
		out.Description = resp.Weather[0].Description
	}
	return out, nil
}

type CryptoPriceInput struct {
	Symbol   string `json:"symbol" jsonschema:"description=The coin id e.g. bitcoin or ethereum"`
	Currency string `json:"currency,omitempty" jsonschema:"description=Quote currency e.g. usd"`
}

type CryptoPriceOutput struct {
	Symbol   string  `json:"symbol"`
	Currency string  `json:"currency"`
	Price    float64 `json:"price"`
}

func (t *Toolbox) GetCryptoPrice(ctx context.Context, in CryptoPriceInput) (*CryptoPriceOutput, error) {
	coin := strings.ToLower(strings.TrimSpace(in.Symbol))
	currency := strings.ToLower(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = "usd"
	}

	q := url.Values{}
	q.Set("ids", coin)
	q.Set("vs_currencies", currency)
	header := http.Header{}
	if t.cryptoAPIKey != "" {
		header.Set("x-cg-demo-api-key", t.cryptoAPIKey)
	}

	var resp map[string]map[string]float64
	if err := t.getJSON(ctx, t.cryptoBaseURL+"/simple/price?"+q.Encode(), header, &resp); err != nil {
		return nil, err
	}
	price, ok := resp[coin][currency]
	if !ok {
		return nil, errors.Errorf("no %s price for %s", currency, coin)
	}
	return &CryptoPriceOutput{Symbol: coin, Currency: currency, Price: price}, nil
}

func (t *Toolbox) getJSON(ctx context.Context, u string, header http.Header, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	for k, vs := range header {
		for _, hv := range vs {
			req.Header.Add(k, hv)
		}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "request failed")
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errors.Wrap(err, "read response")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, v); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}
