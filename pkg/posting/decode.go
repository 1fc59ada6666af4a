package posting

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
)

var timestampLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"}

// DecodeRecord converts a loosely typed upstream payload into a Record.
// Producers disagree on scalar encodings ("true" vs true, "1" vs 1), so
// decoding is weakly typed. Unknown keys are ignored.
func DecodeRecord(raw map[string]any) (Record, error) {
	var rec Record
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           &rec,
		DecodeHook:       mapstructure.DecodeHookFuncType(stringToTime),
	})
	if err != nil {
		return Record{}, err
	}
	if err := dec.Decode(raw); err != nil {
		return Record{}, fmt.Errorf("decode posting record: %w", err)
	}
	return rec, nil
}

// ParseRecord decodes one JSON-encoded record.
func ParseRecord(data []byte) (Record, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Record{}, fmt.Errorf("parse posting record: %w", err)
	}
	return DecodeRecord(raw)
}

func stringToTime(from reflect.Type, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != reflect.TypeOf(time.Time{}) {
		return data, nil
	}
	s := strings.TrimSpace(data.(string))
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return nil, fmt.Errorf("unrecognized timestamp %q", s)
}
