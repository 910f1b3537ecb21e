package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)

	"github.com/epiwatch/epiwatch/internal/models"
)

// dateLayout is how aggregate and result dates are keyed. A date is a
// UTC calendar day, never a point in time.
const dateLayout = "2006-01-02"

// migrations define the epiwatch schema. Version is tracked in the
// schema_versions table.
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_versions (
    version     INTEGER PRIMARY KEY,
    applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS hospital_events (
    id            TEXT PRIMARY KEY,
    ward          TEXT NOT NULL,
    lat           REAL,
    lon           REAL,
    hospital_id   TEXT NOT NULL DEFAULT '',
    symptoms      TEXT NOT NULL DEFAULT '[]',
    patient_count INTEGER NOT NULL DEFAULT 0,
    severity      TEXT NOT NULL DEFAULT '',
    timestamp     DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_hospital_events_ward_ts ON hospital_events(ward, timestamp);
CREATE INDEX IF NOT EXISTS idx_hospital_events_ts ON hospital_events(timestamp);

CREATE TABLE IF NOT EXISTS social_posts (
    id         TEXT PRIMARY KEY,
    ward       TEXT NOT NULL,
    lat        REAL,
    lon        REAL,
    keywords   TEXT NOT NULL DEFAULT '[]',
    sentiment  REAL NOT NULL DEFAULT 0.0,
    timestamp  DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_social_posts_ward_ts ON social_posts(ward, timestamp);
CREATE INDEX IF NOT EXISTS idx_social_posts_ts ON social_posts(timestamp);

CREATE TABLE IF NOT EXISTS environment_readings (
    id             TEXT PRIMARY KEY,
    ward           TEXT NOT NULL,
    lat            REAL,
    lon            REAL,
    mosquito_index REAL NOT NULL DEFAULT 0.0,
    rainfall_mm    REAL NOT NULL DEFAULT 0.0,
    humidity_pct   REAL NOT NULL DEFAULT 0.0,
    temperature_c  REAL NOT NULL DEFAULT 0.0,
    timestamp      DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_environment_readings_ward_ts ON environment_readings(ward, timestamp);
CREATE INDEX IF NOT EXISTS idx_environment_readings_ts ON environment_readings(timestamp);

CREATE TABLE IF NOT EXISTS daily_aggregates (
    ward                     TEXT NOT NULL,
    date                     TEXT NOT NULL,
    lat                      REAL,
    lon                      REAL,
    symptom_counts           TEXT NOT NULL DEFAULT '{}',
    social_keyword_counts    TEXT NOT NULL DEFAULT '{}',
    total_hospital_events    INTEGER NOT NULL DEFAULT 0,
    total_social_mentions    INTEGER NOT NULL DEFAULT 0,
    total_patients           INTEGER NOT NULL DEFAULT 0,
    environmental_risk_score REAL NOT NULL DEFAULT 0.0,
    rolling_mean_7d          REAL,
    rolling_std_7d           REAL,
    z_score                  REAL,
    changepoint_detected     INTEGER NOT NULL DEFAULT 0,
    updated_at               DATETIME NOT NULL,
    PRIMARY KEY (ward, date)
);
CREATE INDEX IF NOT EXISTS idx_daily_aggregates_date ON daily_aggregates(date);

CREATE TABLE IF NOT EXISTS anomaly_results (
    id             TEXT PRIMARY KEY,
    ward           TEXT NOT NULL,
    date           TEXT NOT NULL,
    lat            REAL,
    lon            REAL,
    score_z        REAL,
    score_cusum    REAL,
    score_ewma     REAL,
    score_recon    REAL,
    score_forest   REAL,
    score_residual REAL,
    anomaly_score  REAL NOT NULL DEFAULT 0.0,
    confidence     REAL NOT NULL DEFAULT 0.0,
    is_anomaly     INTEGER NOT NULL DEFAULT 0,
    severity       TEXT NOT NULL DEFAULT 'low',
    detected_at    DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_anomaly_results_detected_at ON anomaly_results(detected_at DESC);
CREATE INDEX IF NOT EXISTS idx_anomaly_results_ward_date ON anomaly_results(ward, date);

CREATE TABLE IF NOT EXISTS alerts (
    alert_id            TEXT PRIMARY KEY,
    anomaly_id          TEXT NOT NULL DEFAULT '',
    ward                TEXT NOT NULL,
    date                TEXT NOT NULL,
    lat                 REAL,
    lon                 REAL,
    severity            TEXT NOT NULL DEFAULT 'low',
    anomaly_score       REAL NOT NULL DEFAULT 0.0,
    base_confidence     REAL NOT NULL DEFAULT 0.0,
    confidence          REAL NOT NULL DEFAULT 0.0,
    evidence            TEXT NOT NULL DEFAULT '{}',
    recommended_actions TEXT NOT NULL DEFAULT '[]',
    status              TEXT NOT NULL DEFAULT 'active',
    notified            INTEGER NOT NULL DEFAULT 0,
    created_at          DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alerts_ward_created ON alerts(ward, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status, created_at DESC);
`,
	},
}

// sqliteStore is the SQLite-backed implementation of Store.
type sqliteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path and
// runs all pending schema migrations. Pass ":memory:" for an in-memory store.
func NewSQLiteStore(path string) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	// A single connection keeps SQLite writes serialized and makes
	// ":memory:" behave as one database instead of one per connection.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrency and performance.
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &sqliteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// migrate applies any unapplied migrations in order.
func (s *sqliteStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue // already applied
		}

		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}

		if _, err := s.db.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// ─── Raw events ──────────────────────────────────────────────────────────────

func (s *sqliteStore) InsertHospitalEvent(ctx context.Context, ev *models.HospitalEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	symptoms, err := json.Marshal(ev.Symptoms)
	if err != nil {
		return fmt.Errorf("marshal symptoms: %w", err)
	}
	lat, lon := geoCols(ev.Location)
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO hospital_events(id, ward, lat, lon, hospital_id, symptoms, patient_count, severity, timestamp)
        VALUES(?,?,?,?,?,?,?,?,?)
    `,
		ev.ID, ev.Ward, lat, lon, ev.HospitalID, string(symptoms),
		ev.PatientCount, ev.Severity, ev.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert hospital event: %w", err)
	}
	return nil
}

func (s *sqliteStore) InsertSocialPost(ctx context.Context, post *models.SocialPost) error {
	if post.ID == "" {
		post.ID = uuid.NewString()
	}
	keywords, err := json.Marshal(post.Keywords)
	if err != nil {
		return fmt.Errorf("marshal keywords: %w", err)
	}
	lat, lon := geoCols(post.Location)
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO social_posts(id, ward, lat, lon, keywords, sentiment, timestamp)
        VALUES(?,?,?,?,?,?,?)
    `,
		post.ID, post.Ward, lat, lon, string(keywords), post.Sentiment, post.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert social post: %w", err)
	}
	return nil
}

func (s *sqliteStore) InsertEnvironmentReading(ctx context.Context, r *models.EnvironmentReading) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	lat, lon := geoCols(r.Location)
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO environment_readings(id, ward, lat, lon, mosquito_index, rainfall_mm, humidity_pct, temperature_c, timestamp)
        VALUES(?,?,?,?,?,?,?,?,?)
    `,
		r.ID, r.Ward, lat, lon, r.MosquitoIndex, r.RainfallMM, r.HumidityPct,
		r.TemperatureC, r.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert environment reading: %w", err)
	}
	return nil
}

func (s *sqliteStore) DistinctWards(ctx context.Context, from, to time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT ward FROM hospital_events WHERE timestamp >= ? AND timestamp < ?
        UNION
        SELECT ward FROM social_posts WHERE timestamp >= ? AND timestamp < ?
        UNION
        SELECT ward FROM environment_readings WHERE timestamp >= ? AND timestamp < ?
        ORDER BY 1
    `, from.UTC(), to.UTC(), from.UTC(), to.UTC(), from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var wards []string
	for rows.Next() {
		var w string
		if err := rows.Scan(&w); err != nil {
			return nil, err
		}
		wards = append(wards, w)
	}
	return wards, rows.Err()
}

func (s *sqliteStore) HospitalEvents(ctx context.Context, ward string, from, to time.Time) ([]*models.HospitalEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id,ward,lat,lon,hospital_id,symptoms,patient_count,severity,timestamp
        FROM hospital_events
        WHERE ward = ? AND timestamp >= ? AND timestamp < ?
        ORDER BY timestamp ASC
    `, ward, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*models.HospitalEvent
	for rows.Next() {
		ev := &models.HospitalEvent{}
		var lat, lon sql.NullFloat64
		var symptoms, ts string
		if err := rows.Scan(&ev.ID, &ev.Ward, &lat, &lon, &ev.HospitalID,
			&symptoms, &ev.PatientCount, &ev.Severity, &ts); err != nil {
			return nil, err
		}
		ev.Location = geoFromCols(lat, lon)
		if err := json.Unmarshal([]byte(symptoms), &ev.Symptoms); err != nil {
			return nil, fmt.Errorf("unmarshal symptoms for %s: %w", ev.ID, err)
		}
		if ev.Timestamp, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("parse timestamp for %s: %w", ev.ID, err)
		}
		result = append(result, ev)
	}
	return result, rows.Err()
}

func (s *sqliteStore) SocialPosts(ctx context.Context, ward string, from, to time.Time) ([]*models.SocialPost, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id,ward,lat,lon,keywords,sentiment,timestamp
        FROM social_posts
        WHERE ward = ? AND timestamp >= ? AND timestamp < ?
        ORDER BY timestamp ASC
    `, ward, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*models.SocialPost
	for rows.Next() {
		post := &models.SocialPost{}
		var lat, lon sql.NullFloat64
		var keywords, ts string
		if err := rows.Scan(&post.ID, &post.Ward, &lat, &lon, &keywords, &post.Sentiment, &ts); err != nil {
			return nil, err
		}
		post.Location = geoFromCols(lat, lon)
		if err := json.Unmarshal([]byte(keywords), &post.Keywords); err != nil {
			return nil, fmt.Errorf("unmarshal keywords for %s: %w", post.ID, err)
		}
		if post.Timestamp, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("parse timestamp for %s: %w", post.ID, err)
		}
		result = append(result, post)
	}
	return result, rows.Err()
}

func (s *sqliteStore) EnvironmentReadings(ctx context.Context, ward string, from, to time.Time) ([]*models.EnvironmentReading, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id,ward,lat,lon,mosquito_index,rainfall_mm,humidity_pct,temperature_c,timestamp
        FROM environment_readings
        WHERE ward = ? AND timestamp >= ? AND timestamp < ?
        ORDER BY timestamp ASC
    `, ward, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*models.EnvironmentReading
	for rows.Next() {
		r := &models.EnvironmentReading{}
		var lat, lon sql.NullFloat64
		var ts string
		if err := rows.Scan(&r.ID, &r.Ward, &lat, &lon, &r.MosquitoIndex,
			&r.RainfallMM, &r.HumidityPct, &r.TemperatureC, &ts); err != nil {
			return nil, err
		}
		r.Location = geoFromCols(lat, lon)
		if r.Timestamp, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("parse timestamp for %s: %w", r.ID, err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (s *sqliteStore) SourceCounts(ctx context.Context, ward string, from, to time.Time) (hospital, social, environment int, err error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT
            (SELECT COUNT(*) FROM hospital_events WHERE ward = ? AND timestamp >= ? AND timestamp < ?),
            (SELECT COUNT(*) FROM social_posts WHERE ward = ? AND timestamp >= ? AND timestamp < ?),
            (SELECT COUNT(*) FROM environment_readings WHERE ward = ? AND timestamp >= ? AND timestamp < ?)
    `,
		ward, from.UTC(), to.UTC(),
		ward, from.UTC(), to.UTC(),
		ward, from.UTC(), to.UTC(),
	)
	if err := row.Scan(&hospital, &social, &environment); err != nil {
		return 0, 0, 0, err
	}
	return hospital, social, environment, nil
}

func (s *sqliteStore) MaxEventsPerHospital(ctx context.Context, ward string, from, to time.Time) (int, error) {
	var max sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
        SELECT MAX(n) FROM (
            SELECT COUNT(*) AS n FROM hospital_events
            WHERE ward = ? AND timestamp >= ? AND timestamp < ?
            GROUP BY hospital_id
        )
    `, ward, from.UTC(), to.UTC()).Scan(&max)
	if err != nil {
		return 0, err
	}
	return int(max.Int64), nil
}

// ─── Daily aggregates ────────────────────────────────────────────────────────

func (s *sqliteStore) UpsertAggregate(ctx context.Context, agg *models.DailyAggregate) error {
	symptoms, err := json.Marshal(agg.SymptomCounts)
	if err != nil {
		return fmt.Errorf("marshal symptom counts: %w", err)
	}
	keywords, err := json.Marshal(agg.SocialKeywordCounts)
	if err != nil {
		return fmt.Errorf("marshal keyword counts: %w", err)
	}
	lat, lon := geoCols(agg.Location)

	_, err = s.db.ExecContext(ctx, `
        INSERT INTO daily_aggregates(
            ward, date, lat, lon, symptom_counts, social_keyword_counts,
            total_hospital_events, total_social_mentions, total_patients,
            environmental_risk_score, rolling_mean_7d, rolling_std_7d, z_score,
            changepoint_detected, updated_at)
        VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
        ON CONFLICT(ward, date) DO UPDATE SET
            lat                      = excluded.lat,
            lon                      = excluded.lon,
            symptom_counts           = excluded.symptom_counts,
            social_keyword_counts    = excluded.social_keyword_counts,
            total_hospital_events    = excluded.total_hospital_events,
            total_social_mentions    = excluded.total_social_mentions,
            total_patients           = excluded.total_patients,
            environmental_risk_score = excluded.environmental_risk_score,
            rolling_mean_7d          = excluded.rolling_mean_7d,
            rolling_std_7d           = excluded.rolling_std_7d,
            z_score                  = excluded.z_score,
            changepoint_detected     = excluded.changepoint_detected,
            updated_at               = excluded.updated_at
    `,
		agg.Ward, agg.Date.UTC().Format(dateLayout), lat, lon,
		string(symptoms), string(keywords),
		agg.TotalHospitalEvents, agg.TotalSocialMentions, agg.TotalPatients,
		agg.EnvironmentalRiskScore,
		nullFloat(agg.RollingMean7d), nullFloat(agg.RollingStd7d), nullFloat(agg.ZScore),
		boolInt(agg.ChangepointDetected), agg.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert aggregate: %w", err)
	}
	return nil
}

const aggregateColumns = `ward,date,lat,lon,symptom_counts,social_keyword_counts,
    total_hospital_events,total_social_mentions,total_patients,
    environmental_risk_score,rolling_mean_7d,rolling_std_7d,z_score,
    changepoint_detected,updated_at`

func (s *sqliteStore) GetAggregate(ctx context.Context, ward string, date time.Time) (*models.DailyAggregate, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+aggregateColumns+` FROM daily_aggregates WHERE ward = ? AND date = ?`,
		ward, date.UTC().Format(dateLayout),
	)
	agg, err := scanAggregate(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return agg, err
}

func (s *sqliteStore) AggregateRange(ctx context.Context, ward string, from, to time.Time) ([]*models.DailyAggregate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+aggregateColumns+` FROM daily_aggregates
         WHERE ward = ? AND date >= ? AND date < ?
         ORDER BY date ASC`,
		ward, from.UTC().Format(dateLayout), to.UTC().Format(dateLayout),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAggregates(rows)
}

func (s *sqliteStore) AggregatesInWindow(ctx context.Context, from, to time.Time) ([]*models.DailyAggregate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+aggregateColumns+` FROM daily_aggregates
         WHERE date >= ? AND date < ?
         ORDER BY ward ASC, date ASC`,
		from.UTC().Format(dateLayout), to.UTC().Format(dateLayout),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAggregates(rows)
}

func collectAggregates(rows *sql.Rows) ([]*models.DailyAggregate, error) {
	var result []*models.DailyAggregate
	for rows.Next() {
		agg, err := scanAggregate(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, agg)
	}
	return result, rows.Err()
}

func scanAggregate(row rowScanner) (*models.DailyAggregate, error) {
	agg := &models.DailyAggregate{}
	var date, symptoms, keywords, updatedAt string
	var lat, lon, mean, std, z sql.NullFloat64
	var changepoint int
	err := row.Scan(&agg.Ward, &date, &lat, &lon, &symptoms, &keywords,
		&agg.TotalHospitalEvents, &agg.TotalSocialMentions, &agg.TotalPatients,
		&agg.EnvironmentalRiskScore, &mean, &std, &z, &changepoint, &updatedAt)
	if err != nil {
		return nil, err
	}
	agg.Date, err = time.ParseInLocation(dateLayout, date, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("parse aggregate date %q: %w", date, err)
	}
	agg.Location = geoFromCols(lat, lon)
	if err := json.Unmarshal([]byte(symptoms), &agg.SymptomCounts); err != nil {
		return nil, fmt.Errorf("unmarshal symptom counts: %w", err)
	}
	if err := json.Unmarshal([]byte(keywords), &agg.SocialKeywordCounts); err != nil {
		return nil, fmt.Errorf("unmarshal keyword counts: %w", err)
	}
	agg.RollingMean7d = floatPtr(mean)
	agg.RollingStd7d = floatPtr(std)
	agg.ZScore = floatPtr(z)
	agg.ChangepointDetected = changepoint != 0
	if agg.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at %q: %w", updatedAt, err)
	}
	return agg, nil
}

// ─── Anomaly results ─────────────────────────────────────────────────────────

func (s *sqliteStore) AppendAnomaly(ctx context.Context, rec *models.AnomalyResult) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	lat, lon := geoCols(rec.Location)
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO anomaly_results(
            id, ward, date, lat, lon,
            score_z, score_cusum, score_ewma, score_recon, score_forest, score_residual,
            anomaly_score, confidence, is_anomaly, severity, detected_at)
        VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
    `,
		rec.ID, rec.Ward, rec.Date.UTC().Format(dateLayout), lat, lon,
		nullFloat(rec.Scores.ZScore), nullFloat(rec.Scores.CUSUM), nullFloat(rec.Scores.EWMA),
		nullFloat(rec.Scores.Reconstruction), nullFloat(rec.Scores.OutlierForest), nullFloat(rec.Scores.ForecastResid),
		rec.AnomalyScore, rec.Confidence, boolInt(rec.IsAnomaly),
		string(rec.Severity), rec.DetectedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert anomaly result: %w", err)
	}
	return nil
}

const anomalyColumns = `id,ward,date,lat,lon,
    score_z,score_cusum,score_ewma,score_recon,score_forest,score_residual,
    anomaly_score,confidence,is_anomaly,severity,detected_at`

func (s *sqliteStore) GetAnomaly(ctx context.Context, id string) (*models.AnomalyResult, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+anomalyColumns+` FROM anomaly_results WHERE id = ?`, id)
	rec, err := scanAnomaly(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return rec, err
}

func (s *sqliteStore) RecentAnomalies(ctx context.Context, since time.Time, flaggedOnly bool) ([]*models.AnomalyResult, error) {
	query := `SELECT ` + anomalyColumns + ` FROM anomaly_results WHERE detected_at >= ?`
	args := []any{since.UTC()}
	if flaggedOnly {
		query += ` AND is_anomaly = 1`
	}
	query += ` ORDER BY detected_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*models.AnomalyResult
	for rows.Next() {
		rec, err := scanAnomaly(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

func scanAnomaly(row rowScanner) (*models.AnomalyResult, error) {
	rec := &models.AnomalyResult{}
	var date, severity, detectedAt string
	var lat, lon, z, cusum, ewma, recon, forest, resid sql.NullFloat64
	var flagged int
	err := row.Scan(&rec.ID, &rec.Ward, &date, &lat, &lon,
		&z, &cusum, &ewma, &recon, &forest, &resid,
		&rec.AnomalyScore, &rec.Confidence, &flagged, &severity, &detectedAt)
	if err != nil {
		return nil, err
	}
	rec.Date, err = time.ParseInLocation(dateLayout, date, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("parse anomaly date %q: %w", date, err)
	}
	rec.Location = geoFromCols(lat, lon)
	rec.Scores = models.ComponentScores{
		ZScore:         floatPtr(z),
		CUSUM:          floatPtr(cusum),
		EWMA:           floatPtr(ewma),
		Reconstruction: floatPtr(recon),
		OutlierForest:  floatPtr(forest),
		ForecastResid:  floatPtr(resid),
	}
	rec.IsAnomaly = flagged != 0
	rec.Severity = models.Severity(severity)
	if rec.DetectedAt, err = parseTime(detectedAt); err != nil {
		return nil, fmt.Errorf("parse detected_at %q: %w", detectedAt, err)
	}
	return rec, nil
}

// ─── Alerts ──────────────────────────────────────────────────────────────────

func (s *sqliteStore) InsertAlert(ctx context.Context, alert *models.Alert) error {
	evidence, err := json.Marshal(alert.Evidence)
	if err != nil {
		return fmt.Errorf("marshal evidence: %w", err)
	}
	actions, err := json.Marshal(alert.RecommendedActions)
	if err != nil {
		return fmt.Errorf("marshal actions: %w", err)
	}
	lat, lon := geoCols(alert.Location)

	_, err = s.db.ExecContext(ctx, `
        INSERT INTO alerts(
            alert_id, anomaly_id, ward, date, lat, lon, severity,
            anomaly_score, base_confidence, confidence,
            evidence, recommended_actions, status, notified, created_at)
        VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
    `,
		alert.AlertID, alert.AnomalyID, alert.Ward, alert.Date.UTC().Format(dateLayout),
		lat, lon, string(alert.Severity),
		alert.AnomalyScore, alert.BaseConfidence, alert.Confidence,
		string(evidence), string(actions), string(alert.Status),
		boolInt(alert.Notified), alert.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

const alertColumns = `alert_id,anomaly_id,ward,date,lat,lon,severity,
    anomaly_score,base_confidence,confidence,
    evidence,recommended_actions,status,notified,created_at`

func (s *sqliteStore) GetAlert(ctx context.Context, alertID string) (*models.Alert, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE alert_id = ?`, alertID)
	alert, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return alert, err
}

func (s *sqliteStore) LatestAlertForWard(ctx context.Context, ward string, since time.Time) (*models.Alert, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+alertColumns+` FROM alerts
         WHERE ward = ? AND created_at >= ?
         ORDER BY created_at DESC LIMIT 1`,
		ward, since.UTC(),
	)
	alert, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return alert, err
}

func (s *sqliteStore) ListAlerts(ctx context.Context, f AlertFilter) ([]*models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE 1=1`
	args := []any{}
	if f.Ward != "" {
		query += ` AND ward = ?`
		args = append(args, f.Ward)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	query += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*models.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, alert)
	}
	return result, rows.Err()
}

func (s *sqliteStore) UpdateAlertStatus(ctx context.Context, alertID string, status models.AlertStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET status = ? WHERE alert_id = ?`, string(status), alertID)
	if err != nil {
		return fmt.Errorf("update alert status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) MarkAlertNotified(ctx context.Context, alertID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET notified = 1 WHERE alert_id = ?`, alertID)
	if err != nil {
		return fmt.Errorf("mark alert notified: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAlert(row rowScanner) (*models.Alert, error) {
	alert := &models.Alert{}
	var date, severity, evidence, actions, status, createdAt string
	var lat, lon sql.NullFloat64
	var notified int
	err := row.Scan(&alert.AlertID, &alert.AnomalyID, &alert.Ward, &date, &lat, &lon,
		&severity, &alert.AnomalyScore, &alert.BaseConfidence, &alert.Confidence,
		&evidence, &actions, &status, &notified, &createdAt)
	if err != nil {
		return nil, err
	}
	alert.Date, err = time.ParseInLocation(dateLayout, date, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("parse alert date %q: %w", date, err)
	}
	alert.Location = geoFromCols(lat, lon)
	alert.Severity = models.Severity(severity)
	if err := json.Unmarshal([]byte(evidence), &alert.Evidence); err != nil {
		return nil, fmt.Errorf("unmarshal evidence for %s: %w", alert.AlertID, err)
	}
	if err := json.Unmarshal([]byte(actions), &alert.RecommendedActions); err != nil {
		return nil, fmt.Errorf("unmarshal actions for %s: %w", alert.AlertID, err)
	}
	alert.Status = models.AlertStatus(status)
	alert.Notified = notified != 0
	if alert.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at %q: %w", createdAt, err)
	}
	return alert, nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func geoCols(p *models.GeoPoint) (lat, lon any) {
	if p == nil {
		return nil, nil
	}
	return p.Lat, p.Lon
}

func geoFromCols(lat, lon sql.NullFloat64) *models.GeoPoint {
	if !lat.Valid || !lon.Valid {
		return nil
	}
	return &models.GeoPoint{Lat: lat.Float64, Lon: lon.Float64}
}

func nullFloat(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// parseTime handles multiple SQLite datetime formats.
func parseTime(s string) (time.Time, error) {
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
	}
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse time %q", s)
}
