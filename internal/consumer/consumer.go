package consumer

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"time"

	"sfm/internal/logging"
	"sfm/internal/records"
)

const (
	// HarvestStatusPrefix prefixes the routing keys of harvest status events.
	HarvestStatusPrefix = "harvest.status."
	// WarcCreatedKey is the routing key of warc created events.
	WarcCreatedKey = "warc_created"
)

// Store is the slice of the record store the consumer mutates.
type Store interface {
	GetHarvest(ctx context.Context, harvestID string) (*records.Harvest, error)
	UpdateHarvest(ctx context.Context, harvest *records.Harvest) error
	FindSeedByUID(ctx context.Context, collectionID, uid string) (*records.Seed, error)
	FindSeedByToken(ctx context.Context, collectionID, token string) (*records.Seed, error)
	SaveSeed(ctx context.Context, seed *records.Seed) error
	HarvestStatExists(ctx context.Context, harvestID, item, harvestDate string) (bool, error)
	InsertHarvestStat(ctx context.Context, stat *records.HarvestStat) error
	WarcExists(ctx context.Context, warcID string) (bool, error)
	InsertWarc(ctx context.Context, warc *records.Warc) error
}

// Consumer applies bus events to the record store, one message at a time.
type Consumer struct {
	store   Store
	logger  *slog.Logger
	metrics *Metrics
}

// Option customizes a Consumer.
type Option func(*Consumer)

// WithMetrics records message and failure counts on m.
func WithMetrics(m *Metrics) Option {
	return func(c *Consumer) {
		c.metrics = m
	}
}

// New constructs a consumer writing to store.
func New(store Store, logger *slog.Logger, opts ...Option) *Consumer {
	c := &Consumer{
		store:  store,
		logger: logging.NewComponentLogger(logger, "consumer"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Handle dispatches one message on its routing key. It never fails: problems
// are logged and counted, and the message is considered consumed.
func (c *Consumer) Handle(ctx context.Context, routingKey string, body []byte) {
	ctx = logging.WithRoutingKey(ctx, routingKey)
	switch {
	case strings.HasPrefix(routingKey, HarvestStatusPrefix):
		c.metrics.message(kindHarvestStatus)
		c.applyHarvestStatus(ctx, body)
	case routingKey == WarcCreatedKey:
		c.metrics.message(kindWarcCreated)
		c.applyWarcCreated(ctx, body)
	default:
		c.metrics.message(kindUnexpected)
		logging.WithContext(ctx, c.logger).Warn("unexpected message",
			logging.String("body", string(body)),
		)
	}
}

func (c *Consumer) applyHarvestStatus(ctx context.Context, body []byte) {
	logger := logging.WithContext(ctx, c.logger)

	var msg harvestStatusMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		c.malformed(logger, kindHarvestStatus, body, err)
		return
	}
	if err := msg.validate(); err != nil {
		c.malformed(logger, kindHarvestStatus, body, err)
		return
	}
	started, err := parseISO8601(msg.DateStarted)
	if err != nil {
		c.malformed(logger, kindHarvestStatus, body, err)
		return
	}
	var ended *time.Time
	if msg.DateEnded != nil {
		t, err := parseISO8601(*msg.DateEnded)
		if err != nil {
			c.malformed(logger, kindHarvestStatus, body, err)
			return
		}
		ended = &t
	}

	ctx = logging.WithHarvestID(ctx, msg.ID)
	logger = logging.WithContext(ctx, c.logger)
	logger.Debug("updating harvest")

	harvest, err := c.store.GetHarvest(ctx, msg.ID)
	if err != nil {
		c.metrics.failure(kindHarvestStatus, reasonStore)
		logger.Error("harvest lookup failed", logging.Error(err))
		return
	}
	if harvest == nil {
		c.metrics.failure(kindHarvestStatus, reasonHarvestNotFound)
		logger.Error("harvest not found for status message", logging.String("body", string(body)))
		return
	}

	summary, daily := c.decodeStats(logger, &msg)

	harvest.Status = *msg.Status
	harvest.Stats = summary
	harvest.Infos = nonNil(msg.Infos)
	harvest.Warnings = nonNil(msg.Warnings)
	harvest.Errors = nonNil(msg.Errors)
	harvest.TokenUpdates = msg.TokenUpdates
	harvest.UIDs = msg.UIDs
	harvest.WarcsCount, harvest.WarcsBytes = 0, 0
	if msg.Warcs != nil {
		harvest.WarcsCount = msg.Warcs.Count
		harvest.WarcsBytes = msg.Warcs.Bytes
	}
	harvest.DateStarted = &started
	if ended != nil {
		harvest.DateEnded = ended
	}
	if err := c.store.UpdateHarvest(ctx, harvest); err != nil {
		c.metrics.failure(kindHarvestStatus, reasonStore)
		logger.Error("harvest update failed", logging.Error(err))
		return
	}

	ctx = logging.WithCollectionID(ctx, harvest.CollectionID)
	logger = logging.WithContext(ctx, c.logger)

	for _, uid := range sortedKeys(msg.TokenUpdates) {
		token := msg.TokenUpdates[uid]
		seed, err := c.store.FindSeedByUID(ctx, harvest.CollectionID, uid)
		if !c.seedFound(logger, seed, err, "uid", uid, "token", token) {
			continue
		}
		seed.Token = token
		c.saveSeed(ctx, logger, seed)
	}

	for _, token := range sortedKeys(msg.UIDs) {
		uid := msg.UIDs[token]
		seed, err := c.store.FindSeedByToken(ctx, harvest.CollectionID, token)
		if !c.seedFound(logger, seed, err, "token", token, "uid", uid) {
			continue
		}
		seed.UID = uid
		c.saveSeed(ctx, logger, seed)
	}

	if ended != nil {
		c.appendDailyStats(ctx, logger, harvest.HarvestID, daily)
	}
}

// seedFound logs and counts a failed seed lookup. lookupKey/lookupValue name
// the field searched; field/value name the update that will not be applied.
func (c *Consumer) seedFound(logger *slog.Logger, seed *records.Seed, err error, lookupKey, lookupValue, field, value string) bool {
	if err != nil {
		c.metrics.failure(kindHarvestStatus, reasonStore)
		logger.Error("seed lookup failed",
			logging.String(lookupKey, lookupValue),
			logging.Error(err),
		)
		return false
	}
	if seed == nil {
		c.metrics.failure(kindHarvestStatus, reasonSeedNotFound)
		logger.Error("seed not found",
			logging.String(lookupKey, lookupValue),
			logging.String("update_"+field, value),
		)
		return false
	}
	return true
}

func (c *Consumer) saveSeed(ctx context.Context, logger *slog.Logger, seed *records.Seed) {
	if err := c.store.SaveSeed(ctx, seed); err != nil {
		c.metrics.failure(kindHarvestStatus, reasonStore)
		logger.Error("seed update failed", logging.String("seed_id", seed.SeedID), logging.Error(err))
		return
	}
	logger.Debug("seed reconciled",
		logging.String("seed_id", seed.SeedID),
		logging.String("uid", seed.UID),
		logging.String("token", seed.Token),
	)
}

// decodeStats returns the harvest's item totals and its per-day counts.
// Totals come from "summary", or from the flat entries of "stats" when no
// summary is sent. Unreadable entries are logged and left out.
func (c *Consumer) decodeStats(logger *slog.Logger, msg *harvestStatusMessage) (map[string]int64, map[string]map[string]int64) {
	var flat map[string]int64
	var daily map[string]map[string]int64
	if present(msg.Stats) {
		var skipped []string
		var err error
		flat, daily, skipped, err = splitStats(msg.Stats)
		c.invalidField(logger, "stats", skipped, err)
	}

	summary := flat
	if present(msg.Summary) {
		counts, skipped, err := decodeCounts(msg.Summary)
		c.invalidField(logger, "summary", skipped, err)
		summary = counts
	}
	if summary == nil {
		summary = map[string]int64{}
	}
	return summary, daily
}

func (c *Consumer) invalidField(logger *slog.Logger, field string, skipped []string, err error) {
	switch {
	case err != nil:
		logger.Warn("ignoring unreadable field", logging.String("field", field), logging.Error(err))
	case len(skipped) > 0:
		logger.Warn("ignoring non-integer counts",
			logging.String("field", field),
			logging.String("keys", strings.Join(skipped, ",")),
		)
	default:
		return
	}
	c.metrics.failure(kindHarvestStatus, reasonInvalidField)
}

// appendDailyStats writes the per-day item counts of a finished harvest.
// Existing rows are never rewritten.
func (c *Consumer) appendDailyStats(ctx context.Context, logger *slog.Logger, harvestID string, stats map[string]map[string]int64) {
	for _, day := range sortedKeys(stats) {
		if _, err := time.Parse(records.HarvestStatsDateLayout, day); err != nil {
			c.metrics.failure(kindHarvestStatus, reasonMalformed)
			logger.Error("invalid harvest stat date", logging.String("harvest_date", day))
			continue
		}
		items := stats[day]
		for _, item := range sortedKeys(items) {
			found, err := c.store.HarvestStatExists(ctx, harvestID, item, day)
			if err != nil {
				c.metrics.failure(kindHarvestStatus, reasonStore)
				logger.Error("harvest stat lookup failed", logging.String("item", item), logging.Error(err))
				continue
			}
			if found {
				continue
			}
			stat := &records.HarvestStat{HarvestID: harvestID, Item: item, HarvestDate: day, Count: items[item]}
			if err := c.store.InsertHarvestStat(ctx, stat); err != nil {
				c.metrics.failure(kindHarvestStatus, reasonStore)
				logger.Error("harvest stat insert failed", logging.String("item", item), logging.Error(err))
			}
		}
	}
}

func (c *Consumer) applyWarcCreated(ctx context.Context, body []byte) {
	logger := logging.WithContext(ctx, c.logger)

	var msg warcCreatedMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		c.malformed(logger, kindWarcCreated, body, err)
		return
	}
	if err := msg.validate(); err != nil {
		c.malformed(logger, kindWarcCreated, body, err)
		return
	}
	created, err := parseISO8601(msg.Warc.DateCreated)
	if err != nil {
		c.malformed(logger, kindWarcCreated, body, err)
		return
	}

	ctx = logging.WithHarvestID(ctx, msg.Harvest.ID)
	logger = logging.WithContext(ctx, c.logger).With(logging.String(logging.FieldWarcID, msg.Warc.ID))
	logger.Debug("recording warc")

	harvest, err := c.store.GetHarvest(ctx, msg.Harvest.ID)
	if err != nil {
		c.metrics.failure(kindWarcCreated, reasonStore)
		logger.Error("harvest lookup failed", logging.Error(err))
		return
	}
	if harvest == nil {
		c.metrics.failure(kindWarcCreated, reasonHarvestNotFound)
		logger.Error("harvest not found for warc created message", logging.String("body", string(body)))
		return
	}

	found, err := c.store.WarcExists(ctx, msg.Warc.ID)
	if err != nil {
		c.metrics.failure(kindWarcCreated, reasonStore)
		logger.Error("warc lookup failed", logging.Error(err))
		return
	}
	if found {
		c.metrics.skipped(kindWarcCreated, reasonDuplicate)
		logger.Debug("warc already recorded")
		return
	}

	warc := &records.Warc{
		WarcID:      msg.Warc.ID,
		HarvestID:   harvest.HarvestID,
		Path:        msg.Warc.Path,
		SHA1:        msg.Warc.SHA1,
		Bytes:       *msg.Warc.Bytes,
		DateCreated: created,
	}
	if err := c.store.InsertWarc(ctx, warc); err != nil {
		c.metrics.failure(kindWarcCreated, reasonStore)
		logger.Error("warc insert failed", logging.Error(err))
	}
}

func (c *Consumer) malformed(logger *slog.Logger, kind string, body []byte, err error) {
	c.metrics.failure(kind, reasonMalformed)
	logger.Error("malformed message", logging.Error(err), logging.String("body", string(body)))
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
