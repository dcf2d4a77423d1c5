package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"sfm/internal/fileutil"
	"sfm/internal/records"
)

// ErrMalformedSnapshot reports a snapshot file that is missing or cannot be
// decoded. A malformed snapshot is never partially applied.
var ErrMalformedSnapshot = errors.New("malformed snapshot")

type record[F any] struct {
	Model  string `json:"model"`
	Fields F      `json:"fields"`
}

type historyFields struct {
	HistoryDate string `json:"history_date"`
	HistoryType string `json:"history_type"`
}

type groupFields struct {
	Name string `json:"name"`
}

type userFields struct {
	Username   string `json:"username"`
	Email      string `json:"email"`
	DateJoined string `json:"date_joined"`
}

type collectionSetFields struct {
	CollectionSetID string     `json:"collection_set_id"`
	Group           naturalKey `json:"group"`
	Name            string     `json:"name"`
	Description     string     `json:"description"`
	IsVisible       bool       `json:"is_visible"`
	HistoryNote     string     `json:"history_note"`
	DateAdded       string     `json:"date_added"`
	DateUpdated     string     `json:"date_updated"`
}

type historicalCollectionSetFields struct {
	collectionSetFields
	historyFields
}

type credentialFields struct {
	CredentialID string     `json:"credential_id"`
	User         naturalKey `json:"user"`
	Platform     string     `json:"platform"`
	Name         string     `json:"name"`
	Token        string     `json:"token"`
	IsActive     bool       `json:"is_active"`
	HistoryNote  string     `json:"history_note"`
	DateAdded    string     `json:"date_added"`
	DateUpdated  string     `json:"date_updated"`
}

type historicalCredentialFields struct {
	credentialFields
	historyFields
}

type collectionFields struct {
	CollectionID    string     `json:"collection_id"`
	CollectionSet   naturalKey `json:"collection_set"`
	Credential      naturalKey `json:"credential"`
	HarvestType     string     `json:"harvest_type"`
	Name            string     `json:"name"`
	Description     string     `json:"description"`
	IsActive        bool       `json:"is_active"`
	IsVisible       bool       `json:"is_visible"`
	ScheduleMinutes int        `json:"schedule_minutes"`
	HarvestOptions  string     `json:"harvest_options"`
	EndDate         *string    `json:"end_date"`
	HistoryNote     string     `json:"history_note"`
	DateAdded       string     `json:"date_added"`
	DateUpdated     string     `json:"date_updated"`
}

type historicalCollectionFields struct {
	collectionFields
	historyFields
}

type seedFields struct {
	SeedID      string     `json:"seed_id"`
	Collection  naturalKey `json:"collection"`
	UID         string     `json:"uid"`
	Token       string     `json:"token"`
	IsActive    bool       `json:"is_active"`
	IsValid     bool       `json:"is_valid"`
	HistoryNote string     `json:"history_note"`
	DateAdded   string     `json:"date_added"`
	DateUpdated string     `json:"date_updated"`
}

type historicalSeedFields struct {
	seedFields
	historyFields
}

type harvestFields struct {
	HarvestID            string            `json:"harvest_id"`
	HarvestType          string            `json:"harvest_type"`
	Collection           naturalKey        `json:"collection"`
	HistoricalCollection naturalKey        `json:"historical_collection"`
	HistoricalCredential naturalKey        `json:"historical_credential"`
	Status               string            `json:"status"`
	DateRequested        string            `json:"date_requested"`
	DateStarted          *string           `json:"date_started"`
	DateEnded            *string           `json:"date_ended"`
	DateUpdated          string            `json:"date_updated"`
	Stats                map[string]int64  `json:"stats"`
	Infos                []string          `json:"infos"`
	Warnings             []string          `json:"warnings"`
	Errors               []string          `json:"errors"`
	TokenUpdates         map[string]string `json:"token_updates"`
	UIDs                 map[string]string `json:"uids"`
	WarcsCount           int64             `json:"warcs_count"`
	WarcsBytes           int64             `json:"warcs_bytes"`
}

type harvestStatFields struct {
	Harvest     naturalKey `json:"harvest"`
	Item        string     `json:"item"`
	HarvestDate string     `json:"harvest_date"`
	Count       int64      `json:"count"`
}

type warcFields struct {
	WarcID      string     `json:"warc_id"`
	Harvest     naturalKey `json:"harvest"`
	Path        string     `json:"path"`
	SHA1        string     `json:"sha1"`
	Bytes       int64      `json:"bytes"`
	DateCreated string     `json:"date_created"`
}

// writeRecords writes fields as one indented JSON array of model records.
func writeRecords[F any](path, model string, fields []F) error {
	out := make([]record[F], 0, len(fields))
	for _, f := range fields {
		out = append(out, record[F]{Model: model, Fields: f})
	}
	data, err := json.MarshalIndent(out, "", "    ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	data = append(data, '\n')
	if err := fileutil.WriteFileAtomic(path, data, recordFilePerm); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// readRecords decodes a snapshot file, rejecting records of another model.
func readRecords[F any](path, model string) ([]F, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrMalformedSnapshot, path, err)
	}
	var in []record[F]
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrMalformedSnapshot, path, err)
	}
	fields := make([]F, 0, len(in))
	for i, r := range in {
		if r.Model != model {
			return nil, fmt.Errorf("%w: %s record %d has model %q, want %q", ErrMalformedSnapshot, path, i, r.Model, model)
		}
		fields = append(fields, r.Fields)
	}
	return fields, nil
}

func formatOptionalTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	value := records.FormatTime(*t)
	return &value
}

func encodeHistory(at time.Time, kind records.HistoryType) historyFields {
	return historyFields{HistoryDate: records.FormatTime(at), HistoryType: string(kind)}
}

func encodeGroup(g *records.Group) groupFields {
	return groupFields{Name: g.Name}
}

func encodeUser(u *records.User) userFields {
	return userFields{Username: u.Username, Email: u.Email, DateJoined: records.FormatTime(u.DateJoined)}
}

func encodeCollectionSet(cs *records.CollectionSet) collectionSetFields {
	return collectionSetFields{
		CollectionSetID: cs.CollectionSetID,
		Group:           groupKey(cs.GroupName),
		Name:            cs.Name,
		Description:     cs.Description,
		IsVisible:       cs.IsVisible,
		HistoryNote:     cs.HistoryNote,
		DateAdded:       records.FormatTime(cs.DateAdded),
		DateUpdated:     records.FormatTime(cs.DateUpdated),
	}
}

func encodeCredential(c *records.Credential) credentialFields {
	return credentialFields{
		CredentialID: c.CredentialID,
		User:         userKey(c.Username),
		Platform:     c.Platform,
		Name:         c.Name,
		Token:        c.Token,
		IsActive:     c.IsActive,
		HistoryNote:  c.HistoryNote,
		DateAdded:    records.FormatTime(c.DateAdded),
		DateUpdated:  records.FormatTime(c.DateUpdated),
	}
}

func encodeCollection(c *records.Collection) collectionFields {
	return collectionFields{
		CollectionID:    c.CollectionID,
		CollectionSet:   collectionSetKey(c.CollectionSetID),
		Credential:      credentialKey(c.CredentialID),
		HarvestType:     c.HarvestType,
		Name:            c.Name,
		Description:     c.Description,
		IsActive:        c.IsActive,
		IsVisible:       c.IsVisible,
		ScheduleMinutes: c.ScheduleMinutes,
		HarvestOptions:  c.HarvestOptions,
		EndDate:         formatOptionalTime(c.EndDate),
		HistoryNote:     c.HistoryNote,
		DateAdded:       records.FormatTime(c.DateAdded),
		DateUpdated:     records.FormatTime(c.DateUpdated),
	}
}

func encodeSeed(s *records.Seed) seedFields {
	return seedFields{
		SeedID:      s.SeedID,
		Collection:  collectionKey(s.CollectionID),
		UID:         s.UID,
		Token:       s.Token,
		IsActive:    s.IsActive,
		IsValid:     s.IsValid,
		HistoryNote: s.HistoryNote,
		DateAdded:   records.FormatTime(s.DateAdded),
		DateUpdated: records.FormatTime(s.DateUpdated),
	}
}

func encodeHarvest(h *records.Harvest) harvestFields {
	return harvestFields{
		HarvestID:            h.HarvestID,
		HarvestType:          h.HarvestType,
		Collection:           collectionKey(h.CollectionID),
		HistoricalCollection: versionKey(h.CollectionVersion),
		HistoricalCredential: versionKey(h.CredentialVersion),
		Status:               h.Status,
		DateRequested:        records.FormatTime(h.DateRequested),
		DateStarted:          formatOptionalTime(h.DateStarted),
		DateEnded:            formatOptionalTime(h.DateEnded),
		DateUpdated:          records.FormatTime(h.DateUpdated),
		Stats:                h.Stats,
		Infos:                h.Infos,
		Warnings:             h.Warnings,
		Errors:               h.Errors,
		TokenUpdates:         h.TokenUpdates,
		UIDs:                 h.UIDs,
		WarcsCount:           h.WarcsCount,
		WarcsBytes:           h.WarcsBytes,
	}
}

func encodeHarvestStat(s *records.HarvestStat) harvestStatFields {
	return harvestStatFields{Harvest: harvestKey(s.HarvestID), Item: s.Item, HarvestDate: s.HarvestDate, Count: s.Count}
}

func encodeWarc(w *records.Warc) warcFields {
	return warcFields{
		WarcID:      w.WarcID,
		Harvest:     harvestKey(w.HarvestID),
		Path:        w.Path,
		SHA1:        w.SHA1,
		Bytes:       w.Bytes,
		DateCreated: records.FormatTime(w.DateCreated),
	}
}

// fieldDecoder converts snapshot fields back into records, keeping the first
// error so a record can be decoded without checking every field.
type fieldDecoder struct {
	file string
	err  error
}

func (d *fieldDecoder) fail(format string, args ...any) {
	if d.err == nil {
		d.err = fmt.Errorf("%w: %s: %s", ErrMalformedSnapshot, d.file, fmt.Sprintf(format, args...))
	}
}

func (d *fieldDecoder) time(field, value string) time.Time {
	t, err := records.ParseTime(value)
	if err != nil {
		d.fail("%s: %v", field, err)
	}
	return t
}

func (d *fieldDecoder) optionalTime(field string, value *string) *time.Time {
	if value == nil || *value == "" {
		return nil
	}
	t := d.time(field, *value)
	return &t
}

// ref checks that k is a well-formed reference to a record of model.
func (d *fieldDecoder) ref(field, model string, k naturalKey) naturalKey {
	if want := len(naturalKeyFields[model]); len(k) != want {
		d.fail("%s must reference %s by %v, got %v", field, model, naturalKeyFields[model], []string(k))
		return make(naturalKey, want)
	}
	return k
}

func (d *fieldDecoder) single(field, model string, k naturalKey) string {
	return d.ref(field, model, k)[0]
}

func (d *fieldDecoder) version(field, model string, k naturalKey) records.VersionRef {
	k = d.ref(field, model, k)
	return records.VersionRef{ID: k[0], HistoryDate: d.time(field, k[1])}
}

func (d *fieldDecoder) historyType(value string) records.HistoryType {
	switch kind := records.HistoryType(value); kind {
	case records.HistoryCreated, records.HistoryChanged, records.HistoryDeleted:
		return kind
	}
	d.fail("history_type %q is not one of +, ~, -", value)
	return ""
}

func (d *fieldDecoder) group(f groupFields) *records.Group {
	if f.Name == "" {
		d.fail("group name is empty")
	}
	return &records.Group{Name: f.Name}
}

func (d *fieldDecoder) user(f userFields) *records.User {
	if f.Username == "" {
		d.fail("username is empty")
	}
	return &records.User{Username: f.Username, Email: f.Email, DateJoined: d.time("date_joined", f.DateJoined)}
}

func (d *fieldDecoder) collectionSet(f collectionSetFields) *records.CollectionSet {
	return &records.CollectionSet{
		CollectionSetID: f.CollectionSetID,
		GroupName:       d.single("group", modelGroup, f.Group),
		Name:            f.Name,
		Description:     f.Description,
		IsVisible:       f.IsVisible,
		HistoryNote:     f.HistoryNote,
		DateAdded:       d.time("date_added", f.DateAdded),
		DateUpdated:     d.time("date_updated", f.DateUpdated),
	}
}

func (d *fieldDecoder) historicalCollectionSet(f historicalCollectionSetFields) *records.HistoricalCollectionSet {
	return &records.HistoricalCollectionSet{
		HistoryDate:   d.time("history_date", f.HistoryDate),
		HistoryType:   d.historyType(f.HistoryType),
		CollectionSet: *d.collectionSet(f.collectionSetFields),
	}
}

func (d *fieldDecoder) credential(f credentialFields) *records.Credential {
	return &records.Credential{
		CredentialID: f.CredentialID,
		Username:     d.single("user", modelUser, f.User),
		Platform:     f.Platform,
		Name:         f.Name,
		Token:        f.Token,
		IsActive:     f.IsActive,
		HistoryNote:  f.HistoryNote,
		DateAdded:    d.time("date_added", f.DateAdded),
		DateUpdated:  d.time("date_updated", f.DateUpdated),
	}
}

func (d *fieldDecoder) historicalCredential(f historicalCredentialFields) *records.HistoricalCredential {
	return &records.HistoricalCredential{
		HistoryDate: d.time("history_date", f.HistoryDate),
		HistoryType: d.historyType(f.HistoryType),
		Credential:  *d.credential(f.credentialFields),
	}
}

func (d *fieldDecoder) collection(f collectionFields) *records.Collection {
	return &records.Collection{
		CollectionID:    f.CollectionID,
		CollectionSetID: d.single("collection_set", modelCollectionSet, f.CollectionSet),
		CredentialID:    d.single("credential", modelCredential, f.Credential),
		HarvestType:     f.HarvestType,
		Name:            f.Name,
		Description:     f.Description,
		IsActive:        f.IsActive,
		IsVisible:       f.IsVisible,
		ScheduleMinutes: f.ScheduleMinutes,
		HarvestOptions:  f.HarvestOptions,
		EndDate:         d.optionalTime("end_date", f.EndDate),
		HistoryNote:     f.HistoryNote,
		DateAdded:       d.time("date_added", f.DateAdded),
		DateUpdated:     d.time("date_updated", f.DateUpdated),
	}
}

func (d *fieldDecoder) historicalCollection(f historicalCollectionFields) *records.HistoricalCollection {
	return &records.HistoricalCollection{
		HistoryDate: d.time("history_date", f.HistoryDate),
		HistoryType: d.historyType(f.HistoryType),
		Collection:  *d.collection(f.collectionFields),
	}
}

func (d *fieldDecoder) seed(f seedFields) *records.Seed {
	return &records.Seed{
		SeedID:       f.SeedID,
		CollectionID: d.single("collection", modelCollection, f.Collection),
		UID:          f.UID,
		Token:        f.Token,
		IsActive:     f.IsActive,
		IsValid:      f.IsValid,
		HistoryNote:  f.HistoryNote,
		DateAdded:    d.time("date_added", f.DateAdded),
		DateUpdated:  d.time("date_updated", f.DateUpdated),
	}
}

func (d *fieldDecoder) historicalSeed(f historicalSeedFields) *records.HistoricalSeed {
	return &records.HistoricalSeed{
		HistoryDate: d.time("history_date", f.HistoryDate),
		HistoryType: d.historyType(f.HistoryType),
		Seed:        *d.seed(f.seedFields),
	}
}

func (d *fieldDecoder) harvest(f harvestFields) *records.Harvest {
	h := &records.Harvest{
		HarvestID:         f.HarvestID,
		HarvestType:       f.HarvestType,
		CollectionID:      d.single("collection", modelCollection, f.Collection),
		CollectionVersion: d.version("historical_collection", modelHistoricalCollection, f.HistoricalCollection),
		Status:            f.Status,
		DateRequested:     d.time("date_requested", f.DateRequested),
		DateStarted:       d.optionalTime("date_started", f.DateStarted),
		DateEnded:         d.optionalTime("date_ended", f.DateEnded),
		DateUpdated:       d.time("date_updated", f.DateUpdated),
		Stats:             f.Stats,
		Infos:             f.Infos,
		Warnings:          f.Warnings,
		Errors:            f.Errors,
		TokenUpdates:      f.TokenUpdates,
		UIDs:              f.UIDs,
		WarcsCount:        f.WarcsCount,
		WarcsBytes:        f.WarcsBytes,
	}
	if f.HistoricalCredential != nil {
		h.CredentialVersion = d.version("historical_credential", modelHistoricalCredential, f.HistoricalCredential)
	}
	return h
}

func (d *fieldDecoder) harvestStat(f harvestStatFields) *records.HarvestStat {
	return &records.HarvestStat{
		HarvestID:   d.single("harvest", modelHarvest, f.Harvest),
		Item:        f.Item,
		HarvestDate: f.HarvestDate,
		Count:       f.Count,
	}
}

func (d *fieldDecoder) warc(f warcFields) *records.Warc {
	return &records.Warc{
		WarcID:      f.WarcID,
		HarvestID:   d.single("harvest", modelHarvest, f.Harvest),
		Path:        f.Path,
		SHA1:        f.SHA1,
		Bytes:       f.Bytes,
		DateCreated: d.time("date_created", f.DateCreated),
	}
}
