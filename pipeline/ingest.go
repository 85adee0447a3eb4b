package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sloppyjobs/jobulator/dbopen"
	"github.com/sloppyjobs/jobulator/internal/store"
	"github.com/sloppyjobs/jobulator/urlnorm"
)

// DiscoveryInput is the ingest payload from a connector.
type DiscoveryInput struct {
	OriginModuleID string
	ExternalID     string
	DiscoveredAt   time.Time
	URL            string
	TitleHint      string
	TextHint       string
	Metadata       map[string]any
}

// DiscoveryReceipt is the ingest response.
type DiscoveryReceipt struct {
	DiscoveryID   string `json:"discovery_id"`
	NormalizedURL string `json:"normalized_url,omitempty"`
	CanonicalHash string `json:"canonical_hash,omitempty"`
	Created       bool   `json:"created"`
}

// IngestDiscovery inserts a discovery idempotently and, on first insert,
// seeds the extract job (and optionally a redirect-resolution job). The
// dedupe key is (origin module, external id) when an external id is
// present, else (origin module, normalized url). Re-ingests return the
// existing id and enqueue nothing.
func (s *Service) IngestDiscovery(ctx context.Context, in DiscoveryInput, actor Actor) (*DiscoveryReceipt, error) {
	if in.OriginModuleID == "" {
		return nil, fmt.Errorf("%w: origin_module_id is required", ErrValidation)
	}
	if in.ExternalID == "" && in.URL == "" {
		return nil, fmt.Errorf("%w: one of external_id or url is required", ErrValidation)
	}

	var receipt *DiscoveryReceipt
	err := dbopen.InTx(s.db, func(tx *sql.Tx) error {
		now := s.now()

		module, err := store.ModuleByModuleID(ctx, tx, in.OriginModuleID)
		if err != nil {
			return err
		}
		if module == nil || !module.Enabled {
			return fmt.Errorf("%w: unknown or disabled module %q", ErrValidation, in.OriginModuleID)
		}

		rules, err := loadURLRules(ctx, tx)
		if err != nil {
			return err
		}

		normalized, hash := "", ""
		if in.URL != "" {
			normalized, err = urlnorm.Normalize(in.URL, rules)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrValidation, err)
			}
			hash = urlnorm.Hash(normalized)
		}

		discoveredAt := in.DiscoveredAt.UnixMilli()
		if in.DiscoveredAt.IsZero() {
			discoveredAt = now
		}

		id := uuid.NewString()
		res, err := tx.ExecContext(ctx, `
			INSERT INTO discoveries
				(id, origin_module_id, external_id, discovered_at, url,
				 normalized_url, canonical_hash, title_hint, text_hint,
				 metadata, created_at, updated_at)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT DO NOTHING`,
			id, module.ID, store.NullIfEmpty(in.ExternalID), discoveredAt,
			store.NullIfEmpty(in.URL), store.NullIfEmpty(normalized),
			store.NullIfEmpty(hash), store.NullIfEmpty(in.TitleHint),
			store.NullIfEmpty(in.TextHint), store.MarshalJSON(in.Metadata), now, now)
		if err != nil {
			return fmt.Errorf("insert discovery: %w", err)
		}
		inserted, err := res.RowsAffected()
		if err != nil {
			return err
		}

		if inserted == 0 {
			existing, err := findDiscoveryByKey(ctx, tx, module.ID, in.ExternalID, normalized)
			if err != nil {
				return err
			}
			if existing == nil {
				return fmt.Errorf("%w: discovery insert elided but no row matches its key", ErrConflict)
			}
			receipt = &DiscoveryReceipt{
				DiscoveryID:   existing.ID,
				NormalizedURL: existing.NormalizedURL,
				CanonicalHash: existing.CanonicalHash,
			}
			return nil
		}

		if err := s.enqueueJob(ctx, tx, now, "extract", "discovery", id,
			map[string]any{"discovery_id": id}); err != nil {
			return err
		}

		if in.URL != "" && resolveRedirectsRequested(in.Metadata, s.cfg.ResolveRedirects) {
			inputs := map[string]any{
				"discovery_id":   id,
				"url":            in.URL,
				"normalized_url": normalized,
				"canonical_hash": hash,
				"url_rules":      rules,
			}
			if err := s.enqueueJob(ctx, tx, now, "resolve_url_redirects", "discovery", id, inputs); err != nil {
				return err
			}
		}

		err = appendEvent(ctx, tx, now, "discovery", id, "ingested", actor, map[string]any{
			"origin_module_id": in.OriginModuleID,
			"external_id":      in.ExternalID,
			"normalized_url":   normalized,
			"canonical_hash":   hash,
		})
		if err != nil {
			return err
		}

		receipt = &DiscoveryReceipt{
			DiscoveryID:   id,
			NormalizedURL: normalized,
			CanonicalHash: hash,
			Created:       true,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// EvidenceInput is a captured artifact reported by a connector.
type EvidenceInput struct {
	DiscoveryID string
	Kind        string
	URI         string
	ContentHash string
	CapturedAt  time.Time
	ContentType string
	ByteSize    int64
	Metadata    map[string]any
}

// RecordEvidence attaches a captured artifact to a discovery.
func (s *Service) RecordEvidence(ctx context.Context, in EvidenceInput, actor Actor) (string, error) {
	if in.Kind == "" || in.URI == "" || in.ContentHash == "" {
		return "", fmt.Errorf("%w: kind, uri and content_hash are required", ErrValidation)
	}

	var id string
	err := dbopen.InTx(s.db, func(tx *sql.Tx) error {
		now := s.now()

		if in.DiscoveryID != "" {
			var exists int
			err := tx.QueryRowContext(ctx,
				"SELECT COUNT(*) FROM discoveries WHERE id = ?", in.DiscoveryID).Scan(&exists)
			if err != nil {
				return err
			}
			if exists == 0 {
				return fmt.Errorf("%w: discovery %s", ErrNotFound, in.DiscoveryID)
			}
		}

		capturedAt := in.CapturedAt.UnixMilli()
		if in.CapturedAt.IsZero() {
			capturedAt = now
		}

		id = uuid.NewString()
		_, err := tx.ExecContext(ctx, `
			INSERT INTO evidence
				(id, discovery_id, kind, uri, content_hash, captured_at,
				 content_type, byte_size, metadata, created_at)
			VALUES (?,?,?,?,?,?,?,?,?,?)`,
			id, store.NullIfEmpty(in.DiscoveryID), in.Kind, in.URI, in.ContentHash,
			capturedAt, store.NullIfEmpty(in.ContentType), store.NullIfZero(in.ByteSize),
			store.MarshalJSON(in.Metadata), now)
		if err != nil {
			return fmt.Errorf("insert evidence: %w", err)
		}

		return appendEvent(ctx, tx, now, "evidence", id, "recorded", actor, map[string]any{
			"discovery_id": in.DiscoveryID,
			"kind":         in.Kind,
			"content_hash": in.ContentHash,
		})
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *Service) enqueueJob(ctx context.Context, tx *sql.Tx, now int64, kind, targetType, targetID string, inputs map[string]any) error {
	id := uuid.NewString()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO jobs (id, kind, target_type, target_id, inputs_json, status, attempt, next_run_at, created_at, updated_at)
		VALUES (?,?,?,?,?,'queued',0,?,?,?)`,
		id, kind, targetType, store.NullIfEmpty(targetID),
		store.MarshalJSON(inputs), now, now, now)
	if err != nil {
		return fmt.Errorf("enqueue %s job: %w", kind, err)
	}
	return appendEvent(ctx, tx, now, "job", id, "enqueued", SystemActor(), map[string]any{
		"kind":        kind,
		"target_type": targetType,
		"target_id":   targetID,
	})
}

func findDiscoveryByKey(ctx context.Context, tx *sql.Tx, moduleDBID, externalID, normalizedURL string) (*store.Discovery, error) {
	var row *sql.Row
	switch {
	case externalID != "":
		row = tx.QueryRowContext(ctx, fmt.Sprintf(
			"SELECT %s FROM discoveries WHERE origin_module_id = ? AND external_id = ?",
			store.DiscoveryColumns), moduleDBID, externalID)
	case normalizedURL != "":
		row = tx.QueryRowContext(ctx, fmt.Sprintf(
			"SELECT %s FROM discoveries WHERE origin_module_id = ? AND external_id IS NULL AND normalized_url = ?",
			store.DiscoveryColumns), moduleDBID, normalizedURL)
	default:
		return nil, nil
	}
	d, err := store.ScanDiscovery(row)
	if store.IsNoRows(err) {
		return nil, nil
	}
	return d, err
}

func loadURLRules(ctx context.Context, tx *sql.Tx) ([]urlnorm.Rule, error) {
	rows, err := store.EnabledURLRules(ctx, tx)
	if err != nil {
		return nil, err
	}
	rules := make([]urlnorm.Rule, 0, len(rows))
	for _, r := range rows {
		rules = append(rules, urlnorm.Rule{
			HostSuffix:         r.HostSuffix,
			StripWWW:           r.StripWWW,
			ForceHTTPS:         r.ForceHTTPS,
			StripQueryParams:   r.StripQueryParams,
			StripQueryPrefixes: r.StripQueryPrefixes,
		})
	}
	return rules, nil
}

// resolveRedirectsRequested reads metadata.resolve_redirects, which
// connectors may send as bool, number, or string.
func resolveRedirectsRequested(metadata map[string]any, fallback bool) bool {
	if metadata == nil {
		return fallback
	}
	value, ok := metadata["resolve_redirects"]
	if !ok {
		return fallback
	}
	return coerceBool(value)
}
