package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// ModuleByID fetches a module row by its opaque id. Transactional callers
// pass their open tx.
func ModuleByID(ctx context.Context, q DBTX, id string) (*Module, error) {
	row := q.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM modules WHERE id = ?", ModuleColumns), id)
	m, err := ScanModule(row)
	if IsNoRows(err) {
		return nil, nil
	}
	return m, err
}

// ModuleByModuleID fetches a module row by its external module_id.
func ModuleByModuleID(ctx context.Context, q DBTX, moduleID string) (*Module, error) {
	row := q.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM modules WHERE module_id = ?", ModuleColumns), moduleID)
	m, err := ScanModule(row)
	if IsNoRows(err) {
		return nil, nil
	}
	return m, err
}

// EnabledPolicyByKeys returns the first enabled trust policy matching the
// lookup keys, honoring key order.
func EnabledPolicyByKeys(ctx context.Context, q DBTX, keys []string) (*TrustPolicy, error) {
	for _, key := range keys {
		row := q.QueryRowContext(ctx, fmt.Sprintf(
			"SELECT %s FROM source_trust_policies WHERE source_key = ? AND enabled = 1",
			TrustPolicyColumns), key)
		p, err := ScanTrustPolicy(row)
		if IsNoRows(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	return nil, nil
}

// EnabledURLRules returns all enabled URL normalization overrides.
func EnabledURLRules(ctx context.Context, q DBTX) ([]*URLRule, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf(
		"SELECT %s FROM url_rules WHERE enabled = 1 ORDER BY host_suffix", URLRuleColumns))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*URLRule
	for rows.Next() {
		r, err := ScanURLRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// MachineCredential is the verification view for machine auth.
type MachineCredential struct {
	ModuleDBID string
	ModuleID   string
	Scopes     []string
	KeyHash    string
}

// MachineCredentials returns the active, unexpired credentials for an
// enabled module.
func (s *Store) MachineCredentials(ctx context.Context, moduleID string) ([]MachineCredential, error) {
	now := NowMillis()
	rows, err := s.DB.QueryContext(ctx, `
		SELECT m.id, m.module_id, m.scopes, mc.key_hash
		FROM modules m
		JOIN module_credentials mc ON mc.module_id = m.id
		WHERE m.module_id = ?
		  AND m.enabled = 1
		  AND mc.is_active = 1
		  AND mc.revoked_at IS NULL
		  AND (mc.expires_at IS NULL OR mc.expires_at > ?)`,
		moduleID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var creds []MachineCredential
	for rows.Next() {
		var c MachineCredential
		var scopes string
		if err := rows.Scan(&c.ModuleDBID, &c.ModuleID, &scopes, &c.KeyHash); err != nil {
			return nil, err
		}
		c.Scopes = UnmarshalList(scopes)
		creds = append(creds, c)
	}
	return creds, rows.Err()
}

// ListModules returns all registered modules.
func (s *Store) ListModules(ctx context.Context) ([]*Module, error) {
	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(
		"SELECT %s FROM modules ORDER BY module_id", ModuleColumns))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var modules []*Module
	for rows.Next() {
		m, err := ScanModule(rows)
		if err != nil {
			return nil, err
		}
		modules = append(modules, m)
	}
	return modules, rows.Err()
}

// UpsertModule inserts or updates a module keyed by module_id and returns
// its row.
func (s *Store) UpsertModule(ctx context.Context, m *Module) (*Module, error) {
	now := NowMillis()
	id := m.ID
	if id == "" {
		id = uuid.NewString()
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO modules (id, module_id, name, kind, enabled, scopes, trust_level, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?)
		ON CONFLICT (module_id) DO UPDATE SET
			name = excluded.name,
			kind = excluded.kind,
			enabled = excluded.enabled,
			scopes = excluded.scopes,
			trust_level = excluded.trust_level,
			updated_at = excluded.updated_at`,
		id, m.ModuleID, m.Name, m.Kind, boolInt(m.Enabled),
		MarshalList(m.Scopes), m.TrustLevel, now, now)
	if err != nil {
		return nil, err
	}
	return ModuleByModuleID(ctx, s.DB, m.ModuleID)
}

// CreateCredential stores a key hash for a module. expiresAt of zero
// means no expiry.
func (s *Store) CreateCredential(ctx context.Context, moduleDBID, keyHash string, expiresAt int64) (string, error) {
	id := uuid.NewString()
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO module_credentials (id, module_id, key_hash, is_active, expires_at, created_at)
		VALUES (?,?,?,1,?,?)`,
		id, moduleDBID, keyHash, NullIfZero(expiresAt), NowMillis())
	return id, err
}

// RevokeCredential deactivates a credential.
func (s *Store) RevokeCredential(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE module_credentials SET is_active = 0, revoked_at = ? WHERE id = ?`,
		NowMillis(), id)
	return err
}

// ListTrustPolicies returns all stored trust policies.
func (s *Store) ListTrustPolicies(ctx context.Context) ([]*TrustPolicy, error) {
	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(
		"SELECT %s FROM source_trust_policies ORDER BY source_key", TrustPolicyColumns))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []*TrustPolicy
	for rows.Next() {
		p, err := ScanTrustPolicy(rows)
		if err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// UpsertTrustPolicy inserts or updates a policy keyed by source_key.
func (s *Store) UpsertTrustPolicy(ctx context.Context, p *TrustPolicy) (*TrustPolicy, error) {
	now := NowMillis()
	id := p.ID
	if id == "" {
		id = uuid.NewString()
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO source_trust_policies
			(id, source_key, trust_level, auto_publish, requires_moderation, rules_json, enabled, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?)
		ON CONFLICT (source_key) DO UPDATE SET
			trust_level = excluded.trust_level,
			auto_publish = excluded.auto_publish,
			requires_moderation = excluded.requires_moderation,
			rules_json = excluded.rules_json,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at`,
		id, p.SourceKey, p.TrustLevel, boolInt(p.AutoPublish),
		boolInt(p.RequiresModeration), MarshalJSON(p.RulesJSON), boolInt(p.Enabled), now, now)
	if err != nil {
		return nil, err
	}
	row := s.DB.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT %s FROM source_trust_policies WHERE source_key = ?", TrustPolicyColumns), p.SourceKey)
	return ScanTrustPolicy(row)
}

// ListURLRules returns all stored URL normalization overrides.
func (s *Store) ListURLRules(ctx context.Context) ([]*URLRule, error) {
	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(
		"SELECT %s FROM url_rules ORDER BY host_suffix", URLRuleColumns))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*URLRule
	for rows.Next() {
		r, err := ScanURLRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// UpsertURLRule inserts or updates an override keyed by host_suffix.
func (s *Store) UpsertURLRule(ctx context.Context, r *URLRule) (*URLRule, error) {
	now := NowMillis()
	id := r.ID
	if id == "" {
		id = uuid.NewString()
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO url_rules
			(id, host_suffix, strip_www, force_https, strip_query_params, strip_query_prefixes, enabled, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?)
		ON CONFLICT (host_suffix) DO UPDATE SET
			strip_www = excluded.strip_www,
			force_https = excluded.force_https,
			strip_query_params = excluded.strip_query_params,
			strip_query_prefixes = excluded.strip_query_prefixes,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at`,
		id, r.HostSuffix, boolInt(r.StripWWW), boolInt(r.ForceHTTPS),
		MarshalList(r.StripQueryParams), MarshalList(r.StripQueryPrefixes),
		boolInt(r.Enabled), now, now)
	if err != nil {
		return nil, err
	}
	row := s.DB.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT %s FROM url_rules WHERE host_suffix = ?", URLRuleColumns), r.HostSuffix)
	return ScanURLRule(row)
}

// GetJob returns a job by id, or nil when absent.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.DB.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM jobs WHERE id = ?", JobColumns), id)
	j, err := ScanJob(row)
	if IsNoRows(err) {
		return nil, nil
	}
	return j, err
}

// ListJobsByStatus returns jobs in one status for admin maintenance,
// oldest first.
func (s *Store) ListJobsByStatus(ctx context.Context, status string, limit int) ([]*Job, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(
		"SELECT %s FROM jobs WHERE status = ? ORDER BY created_at ASC LIMIT ?", JobColumns),
		status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := ScanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
