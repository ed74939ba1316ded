package livehttp

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"

	"oitrader/internal/pkg/symbol"
	"oitrader/internal/types"
)

const anomalySchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "definitions": {
    "ratio": {"type": ["number", "null"], "minimum": 0},
    "distance": {"type": ["number", "null"]},
    "event": {
      "type": "object",
      "required": ["symbol", "oi_change_percent", "price_before", "price_after"],
      "properties": {
        "symbol": {"type": "string", "minLength": 3, "maxLength": 32},
        "window": {"type": "string"},
        "oi_change_percent": {"type": "number"},
        "oi_before": {"type": "number", "minimum": 0},
        "oi_after": {"type": "number", "minimum": 0},
        "price_before": {"type": "number", "exclusiveMinimum": 0},
        "price_after": {"type": "number", "exclusiveMinimum": 0},
        "severity": {"enum": ["low", "medium", "high", "LOW", "MEDIUM", "HIGH"]},
        "detected_at": {"type": ["string", "integer"]},
        "top_trader_ratio": {"$ref": "#/definitions/ratio"},
        "top_account_ratio": {"$ref": "#/definitions/ratio"},
        "global_ratio": {"$ref": "#/definitions/ratio"},
        "taker_buy_sell_ratio": {"$ref": "#/definitions/ratio"},
        "funding_rate": {"type": ["number", "null"]},
        "distance_from_low_2h": {"$ref": "#/definitions/distance"},
        "distance_from_high_2h": {"$ref": "#/definitions/distance"},
        "distance_from_low_day": {"$ref": "#/definitions/distance"},
        "distance_from_high_day": {"$ref": "#/definitions/distance"}
      }
    }
  },
  "oneOf": [
    {"$ref": "#/definitions/event"},
    {"type": "array", "minItems": 1, "maxItems": 100, "items": {"$ref": "#/definitions/event"}}
  ]
}`

var (
	schemaOnce sync.Once
	schemaObj  *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("anomaly.json", strings.NewReader(anomalySchema)); err != nil {
			schemaErr = err
			return
		}
		schemaObj, schemaErr = compiler.Compile("anomaly.json")
	})
	return schemaObj, schemaErr
}

// decodeAnomalies validates raw against the ingestion schema and converts it
// into events. A single object and an array of objects are both accepted.
func decodeAnomalies(raw []byte, now time.Time) ([]types.AnomalyEvent, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("body is not valid json")
	}
	schema, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("compile anomaly schema: %w", err)
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if err := schema.Validate(doc); err != nil {
		return nil, err
	}

	root := gjson.ParseBytes(raw)
	if !root.IsArray() {
		ev, err := decodeEvent(root, now)
		if err != nil {
			return nil, err
		}
		return []types.AnomalyEvent{ev}, nil
	}
	out := make([]types.AnomalyEvent, 0, len(root.Array()))
	var firstErr error
	root.ForEach(func(key, item gjson.Result) bool {
		ev, err := decodeEvent(item, now)
		if err != nil {
			firstErr = fmt.Errorf("item %d: %w", key.Int(), err)
			return false
		}
		out = append(out, ev)
		return true
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

func decodeEvent(item gjson.Result, now time.Time) (types.AnomalyEvent, error) {
	ev := types.AnomalyEvent{
		Symbol:          symbol.Normalize(item.Get("symbol").String()),
		Window:          item.Get("window").String(),
		OIChangePercent: item.Get("oi_change_percent").Float(),
		OIBefore:        item.Get("oi_before").Float(),
		OIAfter:         item.Get("oi_after").Float(),
		PriceBefore:     item.Get("price_before").Float(),
		PriceAfter:      item.Get("price_after").Float(),
		Severity:        types.Severity(strings.ToLower(item.Get("severity").String())),

		TopTraderRatio:    optFloat(item, "top_trader_ratio"),
		TopAccountRatio:   optFloat(item, "top_account_ratio"),
		GlobalRatio:       optFloat(item, "global_ratio"),
		TakerBuySellRatio: optFloat(item, "taker_buy_sell_ratio"),
		FundingRate:       optFloat(item, "funding_rate"),

		DistanceFromLow2h:   optFloat(item, "distance_from_low_2h"),
		DistanceFromHigh2h:  optFloat(item, "distance_from_high_2h"),
		DistanceFromLowDay:  optFloat(item, "distance_from_low_day"),
		DistanceFromHighDay: optFloat(item, "distance_from_high_day"),
	}
	if ev.Symbol == "" {
		return ev, fmt.Errorf("symbol is empty")
	}
	if !symbol.IsValid(ev.Symbol) {
		return ev, fmt.Errorf("symbol %s has no supported quote currency", ev.Symbol)
	}
	if ev.Severity == "" {
		ev.Severity = types.SeverityMedium
	}
	at, err := parseDetectedAt(item.Get("detected_at"), now)
	if err != nil {
		return ev, err
	}
	ev.DetectedAt = at
	return ev, nil
}

// optFloat keeps nil for absent and null fields so scoring can tell a
// missing indicator from a zero one.
func optFloat(item gjson.Result, path string) *float64 {
	v := item.Get(path)
	if !v.Exists() || v.Type == gjson.Null {
		return nil
	}
	f := v.Float()
	return &f
}

// parseDetectedAt accepts RFC3339 strings and unix milliseconds.
func parseDetectedAt(v gjson.Result, now time.Time) (time.Time, error) {
	switch v.Type {
	case gjson.Number:
		return time.UnixMilli(v.Int()).UTC(), nil
	case gjson.String:
		if strings.TrimSpace(v.Str) == "" {
			return now, nil
		}
		t, err := time.Parse(time.RFC3339, v.Str)
		if err != nil {
			return time.Time{}, fmt.Errorf("detected_at: %w", err)
		}
		return t.UTC(), nil
	default:
		return now, nil
	}
}
