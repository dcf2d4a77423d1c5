package consumer

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// harvestStatusMessage is the body of a harvest.status.* event.
type harvestStatusMessage struct {
	ID           string            `json:"id"`
	Status       *string           `json:"status"`
	Summary      json.RawMessage   `json:"summary"`
	Infos        messageList       `json:"infos"`
	Warnings     messageList       `json:"warnings"`
	Errors       messageList       `json:"errors"`
	TokenUpdates map[string]string `json:"token_updates"`
	UIDs         map[string]string `json:"uids"`
	Warcs        *warcTotals       `json:"warcs"`
	DateStarted  string            `json:"date_started"`
	DateEnded    *string           `json:"date_ended"`
	Stats        json.RawMessage   `json:"stats"`
}

type warcTotals struct {
	Count int64 `json:"count"`
	Bytes int64 `json:"bytes"`
}

// warcCreatedMessage is the body of a warc_created event.
type warcCreatedMessage struct {
	Warc *struct {
		ID          string `json:"id"`
		Path        string `json:"path"`
		SHA1        string `json:"sha1"`
		Bytes       *int64 `json:"bytes"`
		DateCreated string `json:"date_created"`
	} `json:"warc"`
	Harvest *struct {
		ID string `json:"id"`
	} `json:"harvest"`
}

// messageList holds harvester info, warning, and error entries. Harvesters
// send either plain strings or structured objects; objects are kept as their
// JSON text.
type messageList []string

func (l *messageList) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(messageList, 0, len(raw))
	for _, entry := range raw {
		var text string
		if err := json.Unmarshal(entry, &text); err == nil {
			out = append(out, text)
			continue
		}
		out = append(out, string(entry))
	}
	*l = out
	return nil
}

var errMissingField = errors.New("missing required field")

// present reports whether an optional raw field carries a value.
func present(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

// decodeCounts reads an item→count object. Entries whose value is not a whole
// number are returned in skipped instead of failing the whole object.
func decodeCounts(raw json.RawMessage) (counts map[string]int64, skipped []string, err error) {
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, nil, err
	}
	counts = make(map[string]int64, len(entries))
	for _, key := range sortedKeys(entries) {
		if n, ok := wholeNumber(entries[key]); ok {
			counts[key] = n
		} else {
			skipped = append(skipped, key)
		}
	}
	return counts, skipped, nil
}

// splitStats separates the two shapes harvesters send under "stats": a flat
// item→count object, and a day→{item→count} object for daily counts. Entries
// of either shape may be mixed; anything else is returned in skipped.
func splitStats(raw json.RawMessage) (flat map[string]int64, daily map[string]map[string]int64, skipped []string, err error) {
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, nil, nil, err
	}
	for _, key := range sortedKeys(entries) {
		value := entries[key]
		if n, ok := wholeNumber(value); ok {
			if flat == nil {
				flat = map[string]int64{}
			}
			flat[key] = n
			continue
		}
		items, bad, err := decodeCounts(value)
		if err != nil {
			skipped = append(skipped, key)
			continue
		}
		for _, item := range bad {
			skipped = append(skipped, key+"."+item)
		}
		if daily == nil {
			daily = map[string]map[string]int64{}
		}
		daily[key] = items
	}
	return flat, daily, skipped, nil
}

// wholeNumber accepts JSON numbers with no fractional part, such as 10 or 10.0.
func wholeNumber(raw json.RawMessage) (int64, bool) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	if i, err := n.Int64(); err == nil {
		return i, true
	}
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

func (m *harvestStatusMessage) validate() error {
	switch {
	case m.ID == "":
		return fmt.Errorf("%w: id", errMissingField)
	case m.Status == nil:
		return fmt.Errorf("%w: status", errMissingField)
	case m.DateStarted == "":
		return fmt.Errorf("%w: date_started", errMissingField)
	}
	return nil
}

func (m *warcCreatedMessage) validate() error {
	switch {
	case m.Warc == nil || m.Warc.ID == "":
		return fmt.Errorf("%w: warc.id", errMissingField)
	case m.Warc.Path == "":
		return fmt.Errorf("%w: warc.path", errMissingField)
	case m.Warc.SHA1 == "":
		return fmt.Errorf("%w: warc.sha1", errMissingField)
	case m.Warc.Bytes == nil:
		return fmt.Errorf("%w: warc.bytes", errMissingField)
	case m.Warc.DateCreated == "":
		return fmt.Errorf("%w: warc.date_created", errMissingField)
	case m.Harvest == nil || m.Harvest.ID == "":
		return fmt.Errorf("%w: harvest.id", errMissingField)
	}
	return nil
}

// iso8601Layouts are tried in order. Timestamps without a zone are UTC.
var iso8601Layouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

func parseISO8601(value string) (time.Time, error) {
	for _, layout := range iso8601Layouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid ISO-8601 timestamp %q", value)
}
