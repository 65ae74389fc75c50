package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"casecore/internal/blob"
	"casecore/pkg/domain"

	"go.uber.org/zap"
)

const (
	exportContentType = "application/x-ndjson"
	exportKeyLayout   = "20060102T150405Z"
)

// ExportAuditTrail writes every committed audit row as JSON Lines to
// exports/audit/<timestamp>.jsonl on sink.
func (s *Service) ExportAuditTrail(ctx context.Context, sink blob.Store) (blob.Info, error) {
	return s.export(ctx, "export_audit", sink, "audit", func(v domain.TransactionView) []any {
		entries := v.ListAuditEntries()
		rows := make([]any, len(entries))
		for i, e := range entries {
			rows[i] = e
		}
		return rows
	})
}

// ExportProgressionEvents writes every age progression event as JSON Lines to
// exports/progressions/<timestamp>.jsonl on sink.
func (s *Service) ExportProgressionEvents(ctx context.Context, sink blob.Store) (blob.Info, error) {
	return s.export(ctx, "export_progressions", sink, "progressions", func(v domain.TransactionView) []any {
		events := v.ListProgressionEvents()
		rows := make([]any, len(events))
		for i, e := range events {
			rows[i] = e
		}
		return rows
	})
}

func (s *Service) export(ctx context.Context, op string, sink blob.Store, kind string, collect func(domain.TransactionView) []any) (blob.Info, error) {
	key := fmt.Sprintf("exports/%s/%s.jsonl", kind, s.now().UTC().Format(exportKeyLayout))
	var info blob.Info
	_, err := s.run(ctx, op, domain.SystemActor(), func(ctx context.Context) (domain.Result, error) {
		var rows []any
		if err := s.store.View(ctx, func(v domain.TransactionView) error {
			rows = collect(v)
			return nil
		}); err != nil {
			return domain.Result{}, err
		}
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		for _, row := range rows {
			if err := enc.Encode(row); err != nil {
				return domain.Result{}, fmt.Errorf("encode %s row: %w", kind, err)
			}
		}
		var err error
		info, err = sink.Put(ctx, key, &buf, blob.PutOptions{
			ContentType: exportContentType,
			Metadata:    map[string]string{"rows": strconv.Itoa(len(rows))},
		})
		if err != nil {
			return domain.Result{}, fmt.Errorf("write %s: %w", key, err)
		}
		return domain.Result{}, nil
	}, zap.String("key", key), zap.String("driver", string(sink.Driver())))
	return info, err
}
