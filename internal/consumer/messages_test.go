package consumer

import (
	"testing"
	"time"
)

func TestParseISO8601(t *testing.T) {
	want := time.Date(2016, 5, 20, 1, 2, 3, 0, time.UTC)
	cases := []string{
		"2016-05-20T01:02:03Z",
		"2016-05-20T01:02:03+00:00",
		"2016-05-20T03:02:03+02:00",
		"2016-05-20T01:02:03+0000",
		"2016-05-20 01:02:03+00:00",
		"2016-05-20T01:02:03",
	}
	for _, value := range cases {
		got, err := parseISO8601(value)
		if err != nil {
			t.Fatalf("parseISO8601(%q) failed: %v", value, err)
		}
		if !got.Equal(want) || got.Location() != time.UTC {
			t.Fatalf("parseISO8601(%q) = %v, want %v", value, got, want)
		}
	}
	if _, err := parseISO8601("20 May 2016"); err == nil {
		t.Fatal("expected error for non ISO-8601 value")
	}
}

func TestMessageListKeepsStructuredEntries(t *testing.T) {
	var msg harvestStatusMessage
	if err := msg.Infos.UnmarshalJSON([]byte(`["plain", {"code":"c"}]`)); err != nil {
		t.Fatalf("UnmarshalJSON failed: %v", err)
	}
	if len(msg.Infos) != 2 || msg.Infos[0] != "plain" || msg.Infos[1] != `{"code":"c"}` {
		t.Fatalf("unexpected entries %q", msg.Infos)
	}
}
