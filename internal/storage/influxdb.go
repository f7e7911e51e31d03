// internal/storage/influxdb.go
package storage

import (
	"context"
	"fmt"
	"math"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/skalibog/fgiagent/internal/config"
	"github.com/skalibog/fgiagent/pkg/models"
)

// InfluxDBRecorder пишет историю циклов и сделок в InfluxDB
type InfluxDBRecorder struct {
	client   influxdb2.Client
	queryAPI api.QueryAPI
	writeAPI api.WriteAPIBlocking
	bucket   string
	agentID  string
}

// NewInfluxDBRecorder создает журнал истории и проверяет соединение
func NewInfluxDBRecorder(ctx context.Context, cfg config.StorageConfig) (*InfluxDBRecorder, error) {
	client := influxdb2.NewClient(cfg.Influx.URL, cfg.Influx.Token)

	// Проверка соединения
	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ошибка соединения с InfluxDB: %w", err)
	}
	if health == nil || health.Status != "pass" {
		client.Close()
		return nil, fmt.Errorf("InfluxDB не в состоянии 'pass': %+v", health)
	}

	return &InfluxDBRecorder{
		client:   client,
		queryAPI: client.QueryAPI(cfg.Influx.Organization),
		writeAPI: client.WriteAPIBlocking(cfg.Influx.Organization, cfg.Influx.Bucket),
		bucket:   cfg.Influx.Bucket,
		agentID:  cfg.AgentID,
	}, nil
}

// Close закрывает соединение с базой данных
func (r *InfluxDBRecorder) Close() {
	r.client.Close()
}

// RecordCycle сохраняет итог цикла
func (r *InfluxDBRecorder) RecordCycle(ctx context.Context, rec models.CycleRecord) error {
	point := influxdb2.NewPoint(
		"cycles",
		map[string]string{
			"agent":     r.agentID,
			"result":    rec.Result,
			"sentiment": string(rec.Sentiment),
		},
		finite(map[string]interface{}{
			"cycle_id":        rec.CycleID,
			"value":           rec.Value,
			"price":           rec.Price,
			"portfolio_value": rec.PortfolioValue,
			"open_lots":       rec.OpenLots,
		}),
		rec.Timestamp,
	)
	if err := r.writeAPI.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("ошибка записи цикла: %w", err)
	}
	return nil
}

// RecordTrade сохраняет подтвержденную сделку
func (r *InfluxDBRecorder) RecordTrade(ctx context.Context, ev models.TradeEvent) error {
	point := influxdb2.NewPoint(
		"trades",
		map[string]string{
			"agent":     r.agentID,
			"type":      string(ev.Type),
			"direction": string(ev.Direction),
			"sentiment": string(ev.Sentiment),
		},
		finite(map[string]interface{}{
			"cycle_id":     ev.CycleID,
			"bundle_id":    ev.BundleID,
			"lot_id":       ev.LotID,
			"base_amount":  ev.BaseAmount,
			"quote_amount": ev.QuoteAmount,
			"price":        ev.Price,
			"realized_pnl": ev.RealizedPnL,
		}),
		ev.Timestamp,
	)
	if err := r.writeAPI.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("ошибка записи сделки: %w", err)
	}
	return nil
}

// RecentTrades получает последние сделки агента
func (r *InfluxDBRecorder) RecentTrades(ctx context.Context, since time.Duration, limit int) ([]models.TradeEvent, error) {
	// Формируем Flux-запрос
	query := fmt.Sprintf(`
		from(bucket: "%s")
			|> range(start: -%ds)
			|> filter(fn: (r) => r._measurement == "trades")
			|> filter(fn: (r) => r.agent == "%s")
			|> pivot(rowKey:["_time"], columnKey: ["_field"], valueColumn: "_value")
			|> group()
			|> sort(columns: ["_time"], desc: true)
			|> limit(n: %d)
	`, r.bucket, int64(since.Seconds()), r.agentID, limit)

	result, err := r.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса истории сделок: %w", err)
	}

	var trades []models.TradeEvent
	for result.Next() {
		record := result.Record()

		ev := models.TradeEvent{Timestamp: record.Time()}
		if v, ok := record.ValueByKey("type").(string); ok {
			ev.Type = models.EventType(v)
		}
		if v, ok := record.ValueByKey("direction").(string); ok {
			ev.Direction = models.Direction(v)
		}
		if v, ok := record.ValueByKey("sentiment").(string); ok {
			ev.Sentiment = models.Sentiment(v)
		}
		ev.CycleID, _ = record.ValueByKey("cycle_id").(string)
		ev.BundleID, _ = record.ValueByKey("bundle_id").(string)
		ev.LotID, _ = record.ValueByKey("lot_id").(string)
		ev.BaseAmount, _ = record.ValueByKey("base_amount").(float64)
		ev.QuoteAmount, _ = record.ValueByKey("quote_amount").(float64)
		ev.Price, _ = record.ValueByKey("price").(float64)
		ev.RealizedPnL, _ = record.ValueByKey("realized_pnl").(float64)

		trades = append(trades, ev)
	}

	// Проверяем на ошибки при обработке результатов
	if result.Err() != nil {
		return nil, fmt.Errorf("ошибка при обработке результатов: %w", result.Err())
	}

	return trades, nil
}

// finite убирает NaN и бесконечности, line protocol их не принимает
func finite(fields map[string]interface{}) map[string]interface{} {
	for k, v := range fields {
		if f, ok := v.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
			delete(fields, k)
		}
	}
	return fields
}
