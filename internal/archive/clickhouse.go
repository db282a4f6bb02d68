package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"security-intel/internal/metrics"
	"security-intel/internal/model"
)

const columns = `id, event_id, timestamp, source_ip, destination_ip, source_port, destination_port,
	protocol, event_type, severity, severity_score, description, threat_category, action_taken,
	user_agent, geo_country, raw_log, created_at`

const createTable = `CREATE TABLE IF NOT EXISTS %s (
	id               Int64,
	event_id         UUID,
	timestamp        DateTime64(9, 'UTC'),
	source_ip        String,
	destination_ip   String,
	source_port      Nullable(Int32),
	destination_port Nullable(Int32),
	protocol         LowCardinality(String),
	event_type       LowCardinality(String),
	severity         LowCardinality(String),
	severity_score   UInt8,
	description      String,
	threat_category Nullable(String),
	action_taken     LowCardinality(String),
	user_agent       String,
	geo_country      Nullable(String),
	raw_log          String,
	created_at       DateTime64(9, 'UTC')
) ENGINE = MergeTree
ORDER BY (created_at, id)`

// Warehouse is the part of client.ClickHouseClient the archive uses.
type Warehouse interface {
	Exec(ctx context.Context, query string, args ...interface{}) error
	QueryRows(ctx context.Context, query string, args ...interface{}) (driver.Rows, error)
	BatchInsert(ctx context.Context, query string, data [][]interface{}) error
	Table() string
}

// Restorer replays archived records into the event store.
type Restorer interface {
	Restore(ev *model.SecurityEvent) (*model.SecurityEvent, error)
}

// ClickHouseSink batches accepted events into the events table.
type ClickHouseSink struct {
	*batcher
	wh Warehouse
}

func NewClickHouseSink(wh Warehouse, batchSize int, interval time.Duration,
	breaker *gobreaker.CircuitBreaker, m *metrics.Metrics, logger *zap.Logger) *ClickHouseSink {
	s := &ClickHouseSink{wh: wh}
	s.batcher = newBatcher("clickhouse", batchSize, interval, s.insert, breaker, m, logger)
	return s
}

// EnsureSchema creates the events table when missing.
func (s *ClickHouseSink) EnsureSchema(ctx context.Context) error {
	if err := s.wh.Exec(ctx, fmt.Sprintf(createTable, s.wh.Table())); err != nil {
		return fmt.Errorf("create %s: %w", s.wh.Table(), err)
	}
	return nil
}

func (s *ClickHouseSink) insert(ctx context.Context, batch []*model.SecurityEvent) error {
	rows := make([][]interface{}, len(batch))
	for i, ev := range batch {
		rows[i] = toRow(ev)
	}
	return s.wh.BatchInsert(ctx, "INSERT INTO "+s.wh.Table()+" ("+columns+")", rows)
}

func toRow(ev *model.SecurityEvent) []interface{} {
	return []interface{}{
		ev.ID,
		ev.EventID,
		ev.Timestamp,
		ev.SourceIP,
		ev.DestinationIP,
		toInt32(ev.SourcePort),
		toInt32(ev.DestinationPort),
		ev.Protocol,
		ev.EventType,
		string(ev.Severity),
		uint8(ev.SeverityScore),
		ev.Description,
		nullable(ev.ThreatCategory),
		ev.ActionTaken,
		ev.UserAgent,
		nullable(ev.GeoCountry),
		string(ev.RawLog),
		ev.CreatedAt,
	}
}

// Hydrate replays the archived history into r in (created_at, id) order and
// returns the number of restored events. Rows the store rejects are logged
// and skipped.
func Hydrate(ctx context.Context, wh Warehouse, r Restorer, logger *zap.Logger) (int, error) {
	start := time.Now()
	rows, err := wh.QueryRows(ctx, "SELECT "+columns+" FROM "+wh.Table()+" ORDER BY created_at, id")
	if err != nil {
		return 0, fmt.Errorf("query archive: %w", err)
	}
	defer rows.Close()

	restored, skipped := 0, 0
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return restored, err
		}
		ev, err := scanEvent(rows)
		if err != nil {
			return restored, fmt.Errorf("scan archive row: %w", err)
		}
		if _, err := r.Restore(ev); err != nil {
			skipped++
			logger.Warn("Skipping archived event", zap.String("event_id", ev.EventID.String()), zap.Error(err))
			continue
		}
		restored++
	}
	if err := rows.Err(); err != nil {
		return restored, fmt.Errorf("read archive: %w", err)
	}

	logger.Info("Event store hydrated from archive",
		zap.Int("restored", restored),
		zap.Int("skipped", skipped),
		zap.Duration("elapsed", time.Since(start)))
	return restored, nil
}

func scanEvent(rows driver.Rows) (*model.SecurityEvent, error) {
	var (
		id                    int64
		eventID               uuid.UUID
		ts, created           time.Time
		srcIP, dstIP          string
		srcPort, dstPort      *int32
		protocol, eventType   string
		severity, description string
		score                 uint8
		category, country     *string
		action, userAgent     string
		rawLog                string
	)
	if err := rows.Scan(&id, &eventID, &ts, &srcIP, &dstIP, &srcPort, &dstPort,
		&protocol, &eventType, &severity, &score, &description, &category, &action,
		&userAgent, &country, &rawLog, &created); err != nil {
		return nil, err
	}

	ev := &model.SecurityEvent{
		ID:              id,
		EventID:         eventID,
		Timestamp:       ts,
		SourceIP:        srcIP,
		DestinationIP:   dstIP,
		SourcePort:      fromInt32(srcPort),
		DestinationPort: fromInt32(dstPort),
		Protocol:        protocol,
		EventType:       eventType,
		Severity:        model.Severity(severity),
		SeverityScore:   int(score),
		Description:     description,
		ActionTaken:     action,
		UserAgent:       userAgent,
		CreatedAt:       created,
	}
	if category != nil {
		ev.ThreatCategory = *category
	}
	if country != nil {
		ev.GeoCountry = *country
	}
	if rawLog != "" && json.Valid([]byte(rawLog)) {
		ev.RawLog = json.RawMessage(rawLog)
	}
	return ev, nil
}

func toInt32(p *int) *int32 {
	if p == nil {
		return nil
	}
	v := int32(*p)
	return &v
}

func fromInt32(p *int32) *int {
	if p == nil {
		return nil
	}
	v := int(*p)
	return &v
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
