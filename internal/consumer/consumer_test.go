package consumer_test

import (
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"sfm/internal/consumer"
	"sfm/internal/records"
	"sfm/internal/testsupport"
)

type harness struct {
	store   *records.Store
	fx      *testsupport.Fixture
	logs    *testsupport.LogRecorder
	metrics *consumer.Metrics
	c       *consumer.Consumer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	fx := testsupport.NewFixture(t, store)
	logger, logs := testsupport.NewLogRecorder()
	metrics := consumer.NewMetrics(prometheus.NewRegistry())
	return &harness{
		store:   store,
		fx:      fx,
		logs:    logs,
		metrics: metrics,
		c:       consumer.New(store, logger, consumer.WithMetrics(metrics)),
	}
}

func (h *harness) harvest(t *testing.T, harvestID string) *records.Harvest {
	t.Helper()
	harvest, err := h.store.GetHarvest(t.Context(), harvestID)
	if err != nil || harvest == nil {
		t.Fatalf("GetHarvest %s: %v %v", harvestID, harvest, err)
	}
	return harvest
}

func (h *harness) seed(t *testing.T, seedID string) *records.Seed {
	t.Helper()
	seed, err := h.store.GetSeed(t.Context(), seedID)
	if err != nil || seed == nil {
		t.Fatalf("GetSeed %s: %v %v", seedID, seed, err)
	}
	return seed
}

func TestHarvestStatusOverwritesHarvest(t *testing.T) {
	h := newHarness(t)
	id := h.fx.Harvest.HarvestID

	body := fmt.Sprintf(`{
		"id": %q,
		"status": "completed with warnings",
		"summary": {"tweet": 7, "user": 1},
		"infos": ["one"],
		"warnings": [{"code": "w1", "message": "slow"}],
		"date_started": "2016-05-21T00:00:00Z",
		"warcs": {"count": 3, "bytes": 99}
	}`, id)
	h.c.Handle(t.Context(), "harvest.status.completed", []byte(body))

	got := h.harvest(t, id)
	if got.Status != "completed with warnings" {
		t.Fatalf("status = %q", got.Status)
	}
	if got.Stats["tweet"] != 7 || got.Stats["user"] != 1 || len(got.Stats) != 2 {
		t.Fatalf("stats = %v", got.Stats)
	}
	if len(got.Infos) != 1 || got.Infos[0] != "one" {
		t.Fatalf("infos = %v", got.Infos)
	}
	if len(got.Warnings) != 1 || got.Warnings[0] != `{"code": "w1", "message": "slow"}` {
		t.Fatalf("warnings = %v", got.Warnings)
	}
	if len(got.Errors) != 0 {
		t.Fatalf("errors = %v", got.Errors)
	}
	wantStarted := time.Date(2016, 5, 21, 0, 0, 0, 0, time.UTC)
	if got.DateStarted == nil || !got.DateStarted.Equal(wantStarted) {
		t.Fatalf("date started = %v", got.DateStarted)
	}
	if got.WarcsCount != 3 || got.WarcsBytes != 99 {
		t.Fatalf("warcs = %d/%d", got.WarcsCount, got.WarcsBytes)
	}
	if got.TokenUpdates != nil || got.UIDs != nil {
		t.Fatalf("expected absent reconciliation maps, got %v %v", got.TokenUpdates, got.UIDs)
	}
	if h.logs.Count(slog.LevelError) != 0 {
		t.Fatalf("unexpected error logs: %v", h.logs.Records(slog.LevelError))
	}
}

func TestHarvestStatusExample(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	harvest := &records.Harvest{HarvestID: "h1", CollectionID: h.fx.Collection.CollectionID}
	if err := h.store.CreateHarvest(ctx, harvest); err != nil {
		t.Fatalf("CreateHarvest failed: %v", err)
	}
	body := []byte(`{"id":"h1","status":"completed success","date_started":"2016-05-20T00:00:00Z","date_ended":"2016-05-20T01:00:00Z","warcs":{"count":2,"bytes":21}}`)
	h.c.Handle(ctx, "harvest.status.completed", body)

	got := h.harvest(t, "h1")
	if got.Status != "completed success" || got.WarcsCount != 2 || got.WarcsBytes != 21 {
		t.Fatalf("unexpected harvest %+v", got)
	}
	if got.DateEnded == nil || !got.DateEnded.Equal(time.Date(2016, 5, 20, 1, 0, 0, 0, time.UTC)) {
		t.Fatalf("date ended = %v", got.DateEnded)
	}
	if got.Stats == nil || len(got.Stats) != 0 {
		t.Fatalf("expected empty stats, got %v", got.Stats)
	}
}

func TestHarvestStatusLeavesDateEndedUnsetWhenAbsent(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	harvest := &records.Harvest{HarvestID: "running", CollectionID: h.fx.Collection.CollectionID}
	if err := h.store.CreateHarvest(ctx, harvest); err != nil {
		t.Fatalf("CreateHarvest failed: %v", err)
	}
	h.c.Handle(ctx, "harvest.status.running", []byte(`{"id":"running","status":"running","date_started":"2016-05-20T00:00:00Z"}`))

	got := h.harvest(t, "running")
	if got.DateEnded != nil {
		t.Fatalf("expected no date ended, got %v", got.DateEnded)
	}
	if got.Status != records.HarvestRunning {
		t.Fatalf("status = %q", got.Status)
	}
}

func TestHarvestStatusUnknownHarvestChangesNothing(t *testing.T) {
	h := newHarness(t)
	before := testsupport.MustCounts(t, h.store)
	harvestBefore := h.harvest(t, h.fx.Harvest.HarvestID)

	body := []byte(`{"id":"h1","status":"completed success","date_started":"2016-05-20T00:00:00Z","date_ended":"2016-05-20T01:00:00Z","warcs":{"count":2,"bytes":21},"token_updates":{"uid-1":"x"}}`)
	h.c.Handle(t.Context(), "harvest.status.completed", body)

	if after := testsupport.MustCounts(t, h.store); after != before {
		t.Fatalf("counts changed: %+v -> %+v", before, after)
	}
	harvestAfter := h.harvest(t, h.fx.Harvest.HarvestID)
	if !harvestAfter.DateUpdated.Equal(harvestBefore.DateUpdated) {
		t.Fatal("existing harvest was modified")
	}
	if got := h.logs.Count(slog.LevelError); got != 1 {
		t.Fatalf("expected 1 error log, got %d", got)
	}
	if got := testutil.ToFloat64(h.metrics.Failures.WithLabelValues("harvest_status", "harvest_not_found")); got != 1 {
		t.Fatalf("harvest_not_found failures = %v", got)
	}
}

func TestHarvestStatusReconcilesSeeds(t *testing.T) {
	h := newHarness(t)
	uidSeed, tokenSeed := h.fx.Seeds[0], h.fx.Seeds[1]
	historyBefore, err := h.store.SeedHistory(t.Context(), uidSeed.SeedID)
	if err != nil {
		t.Fatalf("SeedHistory failed: %v", err)
	}

	body := fmt.Sprintf(`{
		"id": %q,
		"status": "running",
		"date_started": "2016-05-20T00:00:00Z",
		"token_updates": {"uid-1": "new_screen_name", "missing-uid": "nobody"},
		"uids": {"query-1": "uid-from-token", "missing-token": "uid-x"}
	}`, h.fx.Harvest.HarvestID)
	h.c.Handle(t.Context(), "harvest.status.running", []byte(body))

	if got := h.seed(t, uidSeed.SeedID); got.Token != "new_screen_name" || got.UID != "uid-1" {
		t.Fatalf("uid seed = %+v", got)
	}
	if got := h.seed(t, tokenSeed.SeedID); got.UID != "uid-from-token" || got.Token != "query-1" {
		t.Fatalf("token seed = %+v", got)
	}
	if got := h.logs.Count(slog.LevelError); got != 2 {
		t.Fatalf("expected one error per miss, got %d", got)
	}
	if got := testutil.ToFloat64(h.metrics.Failures.WithLabelValues("harvest_status", "seed_not_found")); got != 2 {
		t.Fatalf("seed_not_found failures = %v", got)
	}

	historyAfter, err := h.store.SeedHistory(t.Context(), uidSeed.SeedID)
	if err != nil {
		t.Fatalf("SeedHistory failed: %v", err)
	}
	if len(historyAfter) != len(historyBefore)+1 {
		t.Fatalf("expected one new seed version, got %d -> %d", len(historyBefore), len(historyAfter))
	}

	harvest := h.harvest(t, h.fx.Harvest.HarvestID)
	if harvest.TokenUpdates["uid-1"] != "new_screen_name" || harvest.UIDs["query-1"] != "uid-from-token" {
		t.Fatalf("reconciliation maps not stored: %v %v", harvest.TokenUpdates, harvest.UIDs)
	}
}

func TestHarvestStatusAppendsDailyStatsOnCompletion(t *testing.T) {
	h := newHarness(t)
	id := h.fx.Harvest.HarvestID

	running := fmt.Sprintf(`{"id":%q,"status":"running","date_started":"2016-05-20T00:00:00Z","stats":{"2016-05-21":{"tweet":4}}}`, id)
	h.c.Handle(t.Context(), "harvest.status.running", []byte(running))
	if got := testsupport.MustCounts(t, h.store).HarvestStats; got != 2 {
		t.Fatalf("stats written before completion: %d", got)
	}

	done := fmt.Sprintf(`{"id":%q,"status":"completed success","date_started":"2016-05-20T00:00:00Z","date_ended":"2016-05-21T02:00:00Z",
		"stats":{"2016-05-20":{"tweet":99},"2016-05-21":{"tweet":4,"user":1}}}`, id)
	h.c.Handle(t.Context(), "harvest.status.completed", []byte(done))

	stats, err := h.store.HarvestStatsForHarvest(t.Context(), id)
	if err != nil {
		t.Fatalf("HarvestStatsForHarvest failed: %v", err)
	}
	if len(stats) != 4 {
		t.Fatalf("expected 4 stats, got %d", len(stats))
	}
	if stats[0].HarvestDate != "2016-05-20" || stats[0].Item != "tweet" || stats[0].Count != 10 {
		t.Fatalf("existing stat was rewritten: %+v", stats[0])
	}

	h.c.Handle(t.Context(), "harvest.status.completed", []byte(done))
	if got := testsupport.MustCounts(t, h.store).HarvestStats; got != 4 {
		t.Fatalf("redelivery duplicated stats: %d", got)
	}
}

func TestHarvestStatusReadsFlatStatsWhenSummaryAbsent(t *testing.T) {
	h := newHarness(t)
	id := h.fx.Harvest.HarvestID

	body := fmt.Sprintf(`{"id":%q,"status":"completed success","date_started":"2016-05-20T00:00:00Z","date_ended":"2016-05-20T01:00:00Z",
		"stats":{"tweets":10,"2016-05-21":{"tweet":4}}}`, id)
	h.c.Handle(t.Context(), "harvest.status.completed", []byte(body))

	got := h.harvest(t, id)
	if got.Status != "completed success" {
		t.Fatalf("status = %q", got.Status)
	}
	if len(got.Stats) != 1 || got.Stats["tweets"] != 10 {
		t.Fatalf("stats = %v", got.Stats)
	}
	found, err := h.store.HarvestStatExists(t.Context(), id, "tweet", "2016-05-21")
	if err != nil || !found {
		t.Fatalf("daily stat not appended: %v %v", found, err)
	}
	if got := h.logs.Count(slog.LevelWarn) + h.logs.Count(slog.LevelError); got != 0 {
		t.Fatalf("unexpected warnings: %v", h.logs.Records(slog.LevelWarn))
	}
}

func TestHarvestStatusSummaryTakesPrecedenceOverFlatStats(t *testing.T) {
	h := newHarness(t)
	id := h.fx.Harvest.HarvestID

	body := fmt.Sprintf(`{"id":%q,"status":"running","date_started":"2016-05-20T00:00:00Z","summary":{"tweet":3},"stats":{"tweets":10}}`, id)
	h.c.Handle(t.Context(), "harvest.status.running", []byte(body))

	if got := h.harvest(t, id).Stats; len(got) != 1 || got["tweet"] != 3 {
		t.Fatalf("stats = %v", got)
	}
}

func TestHarvestStatusKeepsUpdateWithUnreadableCounts(t *testing.T) {
	cases := []struct {
		name      string
		fields    string
		wantStats map[string]int64
		wantWarns int
	}{
		{"fractional summary value", `"summary":{"tweets":10,"rate":1.5}`, map[string]int64{"tweets": 10}, 1},
		{"whole float summary value", `"summary":{"tweets":10.0}`, map[string]int64{"tweets": 10}, 0},
		{"summary not an object", `"summary":[1,2]`, map[string]int64{}, 1},
		{"stats not an object", `"stats":"lots"`, map[string]int64{}, 1},
		{"nested stats with text count", `"stats":{"2016-05-21":{"tweet":"many"}}`, map[string]int64{}, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			id := h.fx.Harvest.HarvestID
			body := fmt.Sprintf(`{"id":%q,"status":"running","date_started":"2016-05-22T00:00:00Z",%s}`, id, tc.fields)
			h.c.Handle(t.Context(), "harvest.status.running", []byte(body))

			got := h.harvest(t, id)
			if got.Status != "running" {
				t.Fatalf("status update dropped, status = %q", got.Status)
			}
			if len(got.Stats) != len(tc.wantStats) {
				t.Fatalf("stats = %v, want %v", got.Stats, tc.wantStats)
			}
			for item, count := range tc.wantStats {
				if got.Stats[item] != count {
					t.Fatalf("stats = %v, want %v", got.Stats, tc.wantStats)
				}
			}
			if got := h.logs.Count(slog.LevelWarn); got != tc.wantWarns {
				t.Fatalf("warnings = %d, want %d", got, tc.wantWarns)
			}
			if got := h.logs.Count(slog.LevelError); got != 0 {
				t.Fatalf("unexpected error logs: %v", h.logs.Records(slog.LevelError))
			}
			if got := testutil.ToFloat64(h.metrics.Failures.WithLabelValues("harvest_status", "invalid_field")); got != float64(tc.wantWarns) {
				t.Fatalf("invalid_field failures = %v, want %d", got, tc.wantWarns)
			}
		})
	}
}

func TestHarvestStatusRejectsMalformedMessages(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"not json", `{`},
		{"missing status", `{"id":"%s","date_started":"2016-05-20T00:00:00Z"}`},
		{"missing date started", `{"id":"%s","status":"running"}`},
		{"bad date", `{"id":"%s","status":"running","date_started":"yesterday"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			before := h.harvest(t, h.fx.Harvest.HarvestID)
			body := tc.body
			if body != "{" {
				body = fmt.Sprintf(body, h.fx.Harvest.HarvestID)
			}
			h.c.Handle(t.Context(), "harvest.status.running", []byte(body))

			after := h.harvest(t, h.fx.Harvest.HarvestID)
			if after.Status != before.Status || !after.DateUpdated.Equal(before.DateUpdated) {
				t.Fatal("malformed message mutated the harvest")
			}
			if got := h.logs.Count(slog.LevelError); got != 1 {
				t.Fatalf("expected 1 error log, got %d", got)
			}
		})
	}
}

func TestUnexpectedRoutingKeyIsIgnored(t *testing.T) {
	h := newHarness(t)
	before := testsupport.MustCounts(t, h.store)

	h.c.Handle(t.Context(), "harvest.start.twitter", []byte(`{"id":"x"}`))

	if after := testsupport.MustCounts(t, h.store); after != before {
		t.Fatalf("counts changed: %+v -> %+v", before, after)
	}
	warnings := h.logs.Records(slog.LevelWarn)
	if len(warnings) != 1 || warnings[0].Level != slog.LevelWarn {
		t.Fatalf("expected a single warning, got %v", warnings)
	}
	if value, ok := testsupport.Attr(warnings[0], "routing_key"); !ok || value.String() != "harvest.start.twitter" {
		t.Fatalf("warning missing routing key: %v", value)
	}
	if got := testutil.ToFloat64(h.metrics.Messages.WithLabelValues("unexpected")); got != 1 {
		t.Fatalf("unexpected messages = %v", got)
	}
}

func warcBody(warcID, harvestID string) []byte {
	return []byte(fmt.Sprintf(`{
		"warc": {"id": %q, "path": "/sfm-data/%s.warc.gz", "sha1": "abc123", "bytes": 512, "date_created": "2016-05-20T01:00:00Z"},
		"harvest": {"id": %q}
	}`, warcID, warcID, harvestID))
}

func TestWarcCreatedRecordsWarc(t *testing.T) {
	h := newHarness(t)

	h.c.Handle(t.Context(), "warc_created", warcBody("new-warc", h.fx.Harvest.HarvestID))

	warc, err := h.store.GetWarc(t.Context(), "new-warc")
	if err != nil || warc == nil {
		t.Fatalf("GetWarc: %v %v", warc, err)
	}
	if warc.HarvestID != h.fx.Harvest.HarvestID || warc.Bytes != 512 || warc.SHA1 != "abc123" {
		t.Fatalf("unexpected warc %+v", warc)
	}
	if !warc.DateCreated.Equal(time.Date(2016, 5, 20, 1, 0, 0, 0, time.UTC)) {
		t.Fatalf("date created = %v", warc.DateCreated)
	}
}

func TestWarcCreatedSkipsDuplicateDelivery(t *testing.T) {
	h := newHarness(t)
	body := warcBody("dup-warc", h.fx.Harvest.HarvestID)

	h.c.Handle(t.Context(), "warc_created", body)
	h.c.Handle(t.Context(), "warc_created", body)

	if got := testsupport.MustCounts(t, h.store).Warcs; got != 3 {
		t.Fatalf("expected 3 warcs, got %d", got)
	}
	if got := h.logs.Count(slog.LevelError); got != 0 {
		t.Fatalf("duplicate delivery must not log errors, got %d", got)
	}
	if got := testutil.ToFloat64(h.metrics.Skipped.WithLabelValues("warc_created", "duplicate")); got != 1 {
		t.Fatalf("skipped duplicates = %v", got)
	}
	if got := testutil.CollectAndCount(h.metrics.Failures); got != 0 {
		t.Fatalf("duplicate delivery counted as failure: %d series", got)
	}
}

func TestWarcCreatedUnknownHarvestCreatesNothing(t *testing.T) {
	h := newHarness(t)
	before := testsupport.MustCounts(t, h.store)

	h.c.Handle(t.Context(), "warc_created", warcBody("orphan", "no-such-harvest"))

	if after := testsupport.MustCounts(t, h.store); after != before {
		t.Fatalf("counts changed: %+v -> %+v", before, after)
	}
	if got := h.logs.Count(slog.LevelError); got != 1 {
		t.Fatalf("expected 1 error log, got %d", got)
	}
}
