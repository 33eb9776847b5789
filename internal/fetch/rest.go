package fetch

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/marketdeck/marketd/internal/config"
	"github.com/marketdeck/marketd/internal/models"
)

// Defaults for the per-item field keys. Arrays of records and flat objects
// use the first set; object-of-objects responses (CoinGecko style) use the
// second.
const (
	defFieldSymbol = "symbol"
	defFieldPrice  = "price"
	defFieldChange = "change_percent"
	defFieldVolume = "volume"
	defFieldName   = "name"

	defMapPrice  = "usd"
	defMapChange = "usd_24h_change"
	defMapVolume = "usd_24h_vol"
)

// indexNames fills display names for well-known index tickers when the
// response carries only the symbol.
var indexNames = map[string]string{
	"^GSPC":     "S&P 500",
	"^DJI":      "Dow Jones",
	"^IXIC":     "NASDAQ",
	"^RUT":      "Russell 2000",
	"^FTSE":     "FTSE 100",
	"^GDAXI":    "DAX",
	"^FCHI":     "CAC 40",
	"^N225":     "Nikkei 225",
	"^HSI":      "Hang Seng",
	"^STOXX50E": "Euro Stoxx 50",
	"^VIX":      "VIX",
}

// leafFloat extracts a numeric value from a JSON leaf. Accepted forms: a
// number, a string holding a number, or an array whose first element is
// either. Anything else is NaN.
func leafFloat(v gjson.Result) float64 {
	switch v.Type {
	case gjson.Number:
		return v.Float()
	case gjson.String:
		s := strings.TrimSpace(v.Str)
		if s == "" {
			return math.NaN()
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		if v.IsArray() {
			arr := v.Array()
			if len(arr) == 0 {
				return math.NaN()
			}
			return leafFloat(arr[0])
		}
	}
	return math.NaN()
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// navigate applies the source's data_path to the parsed body. Dot-separated
// segments; numeric segments index into arrays.
func navigate(root gjson.Result, path string) gjson.Result {
	if path == "" {
		return root
	}
	return root.Get(path)
}

func fieldOr(key, def string) string {
	if key != "" {
		return key
	}
	return def
}

type quoteMapping struct {
	symbol    string
	price     string
	change    string
	volume    string
	name      string
	prevClose string
	filter    []string
}

func (m quoteMapping) allowed(symbol string) bool {
	if len(m.filter) == 0 {
		return true
	}
	for _, s := range m.filter {
		if s == symbol {
			return true
		}
	}
	return false
}

// extract pulls one quote out of an item object using the mapping. Missing
// fields are NaN; prev-close derivation fills change_pct when possible.
func (m quoteMapping) extract(item gjson.Result) (symbol, name string, value, change, volume float64) {
	symbol = item.Get(m.symbol).String()
	if m.name != "" {
		name = item.Get(m.name).String()
	}
	value = leafFloat(item.Get(m.price))
	change = leafFloat(item.Get(m.change))
	volume = leafFloat(item.Get(m.volume))

	if m.prevClose != "" && !finite(change) {
		prev := leafFloat(item.Get(m.prevClose))
		if finite(value) && finite(prev) && prev > 0 {
			change = (value - prev) / prev * 100
		}
	}
	return
}

// MapQuotes turns a REST response body into DataPoints using the source's
// declarative mapping. Three response shapes are recognized after data_path
// navigation: an array of records, a single flat record, and an object of
// objects keyed by symbol.
func MapQuotes(body []byte, src config.RESTSource, now time.Time) []models.DataPoint {
	root := navigate(gjson.ParseBytes(body), src.DataPath)
	if !root.Exists() {
		return nil
	}

	m := quoteMapping{
		symbol:    fieldOr(src.FieldSymbol, defFieldSymbol),
		price:     fieldOr(src.FieldPrice, defFieldPrice),
		change:    fieldOr(src.FieldChange, defFieldChange),
		volume:    fieldOr(src.FieldVolume, defFieldVolume),
		name:      fieldOr(src.FieldName, defFieldName),
		prevClose: src.FieldPrevClose,
		filter:    src.Symbols,
	}

	stamp := func(symbol, name string, value, change, volume float64) models.DataPoint {
		return models.DataPoint{
			SourceName:  src.Name,
			SourceKind:  models.KindREST,
			Category:    config.CategoryOf(src.Category),
			Symbol:      symbol,
			DisplayName: name,
			Value:       value,
			Currency:    src.Currency,
			ChangePct:   change,
			Volume:      volume,
			Timestamp:   now,
			IngestedAt:  now,
		}
	}

	var out []models.DataPoint

	switch {
	case root.IsArray():
		root.ForEach(func(_, item gjson.Result) bool {
			symbol, name, value, change, volume := m.extract(item)
			if symbol == "" && name == "" {
				return true
			}
			if !finite(value) || !m.allowed(symbol) {
				return true
			}
			out = append(out, stamp(symbol, name, value, change, volume))
			return true
		})

	case root.IsObject() && root.Get(m.price).Exists():
		// Single flat record: the price field sits at the navigated root.
		symbol, name, value, change, volume := m.extract(root)
		if symbol == "" {
			if len(src.Symbols) > 0 {
				symbol = src.Symbols[0]
			} else {
				symbol = src.Name
			}
		}
		if finite(value) {
			out = append(out, stamp(symbol, name, value, change, volume))
		}

	case root.IsObject():
		// Object of objects keyed by symbol. CoinGecko-style defaults
		// unless the source overrides them.
		mm := m
		mm.price = fieldOr(src.FieldPrice, defMapPrice)
		mm.change = fieldOr(src.FieldChange, defMapChange)
		mm.volume = fieldOr(src.FieldVolume, defMapVolume)

		root.ForEach(func(key, entry gjson.Result) bool {
			symbol := key.String()
			var name string
			value := math.NaN()
			change := math.NaN()
			volume := math.NaN()

			if entry.IsObject() {
				var inner string
				inner, name, value, change, volume = mm.extract(entry)
				if inner != "" {
					symbol = inner
				}
			} else {
				value = leafFloat(entry)
			}

			if symbol == "" || !finite(value) || value == 0 || !mm.allowed(symbol) {
				return true
			}
			out = append(out, stamp(symbol, name, value, change, volume))
			return true
		})
	}

	if config.CategoryOf(src.Category) == models.CatStockIndex {
		for i := range out {
			if out[i].DisplayName == "" {
				out[i].DisplayName = indexNames[out[i].Symbol]
			}
		}
	}
	return out
}

// MapCalendar is the calendar-mode entry point for financial_news sources:
// the same navigation, but each item becomes a NewsItem. The title comes
// from field_name (default "title"), the link from "url", and the event
// time from "date" as RFC3339 or unix seconds.
func MapCalendar(body []byte, src config.RESTSource, now time.Time) []models.NewsItem {
	root := navigate(gjson.ParseBytes(body), src.DataPath)
	if !root.IsArray() {
		return nil
	}

	titleField := fieldOr(src.FieldName, "title")
	score := models.TierScore(src.Tier)

	var out []models.NewsItem
	root.ForEach(func(_, item gjson.Result) bool {
		title := item.Get(titleField).String()
		if title == "" {
			return true
		}
		out = append(out, models.NewsItem{
			Title:       title,
			Source:      src.Name,
			URL:         item.Get("url").String(),
			Summary:     item.Get("description").String(),
			Category:    config.CategoryOf(src.Category),
			PublishedAt: parseEventTime(item.Get("date")),
			IngestedAt:  now,
			Score:       score,
		})
		return true
	})
	return out
}

func parseEventTime(v gjson.Result) time.Time {
	switch v.Type {
	case gjson.Number:
		return time.Unix(v.Int(), 0).UTC()
	case gjson.String:
		if t, err := time.Parse(time.RFC3339, v.Str); err == nil {
			return t
		}
		if sec, err := strconv.ParseInt(v.Str, 10, 64); err == nil {
			return time.Unix(sec, 0).UTC()
		}
	}
	return time.Unix(0, 0).UTC()
}
