package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/sloppyjobs/jobulator/dedupe"
	"github.com/sloppyjobs/jobulator/internal/store"
	"github.com/sloppyjobs/jobulator/lifecycle"
	"github.com/sloppyjobs/jobulator/trust"
)

// projectExtract is the projection engine. It runs inside the
// submit_result transaction for every successful extract job: it
// materializes a posting candidate from the result, scores it against
// existing candidates for dedupe, applies the source-trust policy, and
// (when everything lines up) upserts the public posting keyed by
// canonical_hash.
func (s *Service) projectExtract(ctx context.Context, tx *sql.Tx, now int64, job *store.Job, result map[string]any, actor Actor) error {
	row := tx.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM discoveries WHERE id = ?", store.DiscoveryColumns), job.TargetID)
	d, err := store.ScanDiscovery(row)
	if store.IsNoRows(err) {
		return fmt.Errorf("%w: extract job %s targets missing discovery %s", ErrConflict, job.ID, job.TargetID)
	}
	if err != nil {
		return err
	}

	module, err := store.ModuleByID(ctx, tx, d.OriginModuleID)
	if err != nil {
		return err
	}
	if module == nil {
		return fmt.Errorf("%w: discovery %s references missing module", ErrConflict, d.ID)
	}

	norm := normalizeExtractResult(result, d)

	policy, err := s.resolvePolicy(ctx, tx, norm.SourceKey, module)
	if err != nil {
		return err
	}
	decision := trust.Decide(norm.CanProject, policy, norm.DedupeConfidence, norm.RiskFlags)

	state := initialCandidateState(norm, decision)

	candidateID := uuid.NewString()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO posting_candidates
			(id, state, dedupe_bucket_key, dedupe_confidence, extracted_fields, risk_flags, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		candidateID, string(state), store.NullIfEmpty(norm.CanonicalHash),
		norm.DedupeConfidence, store.MarshalJSON(result), store.MarshalList(norm.RiskFlags),
		now, now)
	if err != nil {
		return fmt.Errorf("insert candidate: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO candidate_discoveries (candidate_id, discovery_id)
		VALUES (?,?) ON CONFLICT DO NOTHING`, candidateID, d.ID)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO candidate_evidence (candidate_id, evidence_id)
		SELECT ?, id FROM evidence WHERE discovery_id = ?
		ON CONFLICT DO NOTHING`, candidateID, d.ID)
	if err != nil {
		return err
	}

	if err := appendEvent(ctx, tx, now, "candidate", candidateID, "materialized", actor, map[string]any{
		"discovery_id": d.ID,
		"job_id":       job.ID,
		"state":        string(state),
	}); err != nil {
		return err
	}

	incoming := dedupe.Snapshot{
		CandidateID:      candidateID,
		CanonicalHash:    norm.CanonicalHash,
		NormalizedURL:    norm.NormalizedURL,
		CanonicalURL:     norm.CanonicalURL,
		ApplicationURL:   norm.ApplicationURL,
		Title:            norm.Title,
		OrganizationName: norm.OrganizationName,
		DescriptionText:  norm.DescriptionText,
		Tags:             norm.Tags,
		Areas:            norm.Areas,
		Country:          norm.Country,
		Region:           norm.Region,
		City:             norm.City,
		Entities:         dedupe.ExtractNamedEntities(norm.Payload),
		ContactDomains:   dedupe.ExtractContactDomains(norm.Payload),
	}
	existing, err := matchSnapshots(ctx, tx, candidateID, norm)
	if err != nil {
		return err
	}
	merge := dedupe.EvaluateMergePolicy(incoming, existing, dedupe.DefaultPolicy())

	allFlags := unionFlags(norm.RiskFlags, merge.RiskFlags)
	decision = trust.Decide(norm.CanProject, policy, norm.DedupeConfidence, allFlags)

	mergedAway := false
	mergeBlocked := false
	switch merge.Decision {
	case dedupe.DecisionAutoMerged:
		spec := mergeSpec{
			decision:   "auto_merged",
			decidedBy:  "machine_dedupe_v1",
			confidence: merge.Confidence,
			rationale:  "automatic merge above confidence threshold",
			metadata:   merge.Metadata,
		}
		err := applyCandidateMerge(ctx, tx, now, merge.PrimaryCandidateID, candidateID, spec, actor)
		switch {
		case errors.Is(err, ErrConflict):
			mergeBlocked = true
			allFlags = unionFlags(allFlags, []string{"conflict_auto_merge_blocked"})
			if err := recordMergeDecision(ctx, tx, now, merge.PrimaryCandidateID, candidateID,
				"needs_review", merge.Confidence, "machine_dedupe_v1",
				"auto merge blocked: both candidates own postings", merge.Metadata, actor); err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			mergedAway = true
		}
	case dedupe.DecisionNeedsReview, dedupe.DecisionRejected:
		if err := recordMergeDecision(ctx, tx, now, merge.PrimaryCandidateID, candidateID,
			string(merge.Decision), merge.Confidence, "machine_dedupe_v1",
			"", merge.Metadata, actor); err != nil {
			return err
		}
	}

	state = finalCandidateState(norm, decision, merge.Decision, mergedAway, mergeBlocked, state)

	_, err = tx.ExecContext(ctx, `
		UPDATE posting_candidates SET state = ?, risk_flags = ?, updated_at = ? WHERE id = ?`,
		string(state), store.MarshalList(allFlags), now, candidateID)
	if err != nil {
		return err
	}

	postingProjected := false
	if norm.CanProject && !mergedAway && !mergeBlocked {
		postingStatus := lifecycle.PostingArchived
		if state == lifecycle.CandidatePublished {
			postingStatus = lifecycle.PostingActive
		}
		postingID, err := upsertPosting(ctx, tx, now, candidateID, norm, postingStatus)
		if err != nil {
			return err
		}
		postingProjected = true
		if err := appendEvent(ctx, tx, now, "posting", postingID, "projected", actor, map[string]any{
			"candidate_id":   candidateID,
			"canonical_hash": norm.CanonicalHash,
			"status":         string(postingStatus),
		}); err != nil {
			return err
		}
	}

	return appendEvent(ctx, tx, now, "candidate", candidateID, "trust_policy_applied", actor, map[string]any{
		"source_key":          policy.SourceKey,
		"trust_level":         string(policy.TrustLevel),
		"synthesized":         policy.Synthesized,
		"reason":              decision.Reason,
		"min_confidence":      decision.MinConfidence,
		"meets_confidence":    decision.MeetsConfidence,
		"dedupe_confidence":   norm.DedupeConfidence,
		"risk_flags":          allFlags,
		"merge_decision":      string(merge.Decision),
		"merge_confidence":    merge.Confidence,
		"candidate_state":     string(state),
		"posting_projected":   postingProjected,
		"can_project_posting": norm.CanProject,
	})
}

// resolvePolicy walks the lookup chain: extraction source-key hint, the
// origin module, then the module's trust-level default. Falls back to a
// synthesized policy when no stored row matches.
func (s *Service) resolvePolicy(ctx context.Context, tx *sql.Tx, sourceKeyHint string, module *store.Module) (trust.Policy, error) {
	level := trust.Level(module.TrustLevel)
	keys := trust.LookupKeys(sourceKeyHint, module.ModuleID, level)
	row, err := store.EnabledPolicyByKeys(ctx, tx, keys)
	if err != nil {
		return trust.Policy{}, err
	}
	if row == nil {
		return trust.Synthesize(level), nil
	}
	// Rules are validated strictly at write time; a row that predates the
	// validator just loses its override here.
	minConfidence, err := trust.ValidateRules(row.RulesJSON)
	if err != nil {
		minConfidence = nil
	}
	return trust.Policy{
		SourceKey:          row.SourceKey,
		TrustLevel:         trust.Level(row.TrustLevel),
		AutoPublish:        row.AutoPublish,
		RequiresModeration: row.RequiresModeration,
		MinConfidence:      minConfidence,
	}, nil
}

// initialCandidateState applies the policy routing plus the
// caller-supplied state, which may lower but never raise the route.
func initialCandidateState(norm ExtractResult, decision trust.Decision) lifecycle.CandidateState {
	state := decision.CandidateState
	if caller := lifecycle.CandidateState(norm.CandidateState); norm.CandidateState != "" && lifecycle.ValidCandidateState(caller) {
		state = caller
	}
	if !norm.CanProject {
		return lifecycle.CandidateProcessed
	}
	if !decision.Publish && state == lifecycle.CandidatePublished {
		return lifecycle.CandidateNeedsReview
	}
	return state
}

// finalCandidateState combines policy routing with merge routing: review
// and reject outcomes override publish, an applied merge archives the
// incoming candidate.
func finalCandidateState(norm ExtractResult, decision trust.Decision, merge dedupe.Decision, mergedAway, mergeBlocked bool, initial lifecycle.CandidateState) lifecycle.CandidateState {
	if mergedAway {
		return lifecycle.CandidateArchived
	}
	if !norm.CanProject {
		return lifecycle.CandidateProcessed
	}
	if mergeBlocked || merge == dedupe.DecisionNeedsReview || merge == dedupe.DecisionRejected {
		return lifecycle.CandidateNeedsReview
	}
	if !decision.Publish && initial == lifecycle.CandidatePublished {
		return lifecycle.CandidateNeedsReview
	}
	return initial
}

// matchSnapshots loads scoring snapshots for every non-archived candidate
// whose posting shares a URL identity with the incoming projection.
func matchSnapshots(ctx context.Context, tx *sql.Tx, excludeCandidateID string, norm ExtractResult) ([]dedupe.Snapshot, error) {
	var conditions []string
	var args []any
	addMatch := func(column, value string) {
		if value != "" {
			conditions = append(conditions, column+" = ?")
			args = append(args, value)
		}
	}
	addMatch("p.canonical_hash", norm.CanonicalHash)
	addMatch("p.normalized_url", norm.NormalizedURL)
	addMatch("p.canonical_url", norm.CanonicalURL)
	addMatch("p.application_url", norm.ApplicationURL)
	if len(conditions) == 0 {
		return nil, nil
	}
	args = append([]any{excludeCandidateID}, args...)

	query := fmt.Sprintf(`
		SELECT c.id, c.extracted_fields,
			p.canonical_hash, p.normalized_url, p.canonical_url,
			COALESCE(p.application_url,''), p.title, p.organization_name,
			COALESCE(p.description_text,''), p.tags, p.areas,
			COALESCE(p.country,''), COALESCE(p.region,''), COALESCE(p.city,'')
		FROM postings p
		JOIN posting_candidates c ON c.id = p.candidate_id
		WHERE c.state != 'archived' AND c.id != ? AND (%s)
		LIMIT 25`, strings.Join(conditions, " OR "))

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snapshots []dedupe.Snapshot
	for rows.Next() {
		var snap dedupe.Snapshot
		var fields, tags, areas string
		err := rows.Scan(
			&snap.CandidateID, &fields,
			&snap.CanonicalHash, &snap.NormalizedURL, &snap.CanonicalURL,
			&snap.ApplicationURL, &snap.Title, &snap.OrganizationName,
			&snap.DescriptionText, &tags, &areas,
			&snap.Country, &snap.Region, &snap.City,
		)
		if err != nil {
			return nil, err
		}
		snap.Tags = store.UnmarshalList(tags)
		snap.Areas = store.UnmarshalList(areas)
		payload := store.UnmarshalJSON(fields)
		if nested, ok := payload["posting"].(map[string]any); ok {
			payload = nested
		}
		snap.Entities = dedupe.ExtractNamedEntities(payload)
		snap.ContactDomains = dedupe.ExtractContactDomains(payload)
		snap.HasPosting = true
		snapshots = append(snapshots, snap)
	}
	return snapshots, rows.Err()
}

// upsertPosting writes the public posting keyed by canonical_hash.
// published_at is set on first activation only.
func upsertPosting(ctx context.Context, tx *sql.Tx, now int64, candidateID string, norm ExtractResult, status lifecycle.PostingStatus) (string, error) {
	var publishedAt any
	if status == lifecycle.PostingActive {
		publishedAt = now
	}

	id := uuid.NewString()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO postings
			(id, candidate_id, title, canonical_url, normalized_url, canonical_hash,
			 organization_name, sector, degree_level, opportunity_kind,
			 country, region, city, remote, tags, areas,
			 description_text, application_url, deadline, source_refs,
			 status, published_at, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (canonical_hash) DO UPDATE SET
			candidate_id = excluded.candidate_id,
			title = excluded.title,
			canonical_url = excluded.canonical_url,
			normalized_url = excluded.normalized_url,
			organization_name = excluded.organization_name,
			sector = excluded.sector,
			degree_level = excluded.degree_level,
			opportunity_kind = excluded.opportunity_kind,
			country = excluded.country,
			region = excluded.region,
			city = excluded.city,
			remote = excluded.remote,
			tags = excluded.tags,
			areas = excluded.areas,
			description_text = excluded.description_text,
			application_url = excluded.application_url,
			deadline = excluded.deadline,
			source_refs = excluded.source_refs,
			status = excluded.status,
			published_at = COALESCE(postings.published_at, excluded.published_at),
			updated_at = excluded.updated_at`,
		id, candidateID, norm.Title, norm.CanonicalURL, norm.NormalizedURL, norm.CanonicalHash,
		norm.OrganizationName, store.NullIfEmpty(norm.Sector), store.NullIfEmpty(norm.DegreeLevel),
		store.NullIfEmpty(norm.OpportunityKind), store.NullIfEmpty(norm.Country),
		store.NullIfEmpty(norm.Region), store.NullIfEmpty(norm.City), boolArg(norm.Remote),
		store.MarshalList(norm.Tags), store.MarshalList(norm.Areas),
		store.NullIfEmpty(norm.DescriptionText), store.NullIfEmpty(norm.ApplicationURL),
		store.NullIfEmpty(norm.Deadline), marshalRefs(norm.SourceRefs),
		string(status), publishedAt, now, now)
	if err != nil {
		return "", fmt.Errorf("upsert posting: %w", err)
	}

	var postingID string
	err = tx.QueryRowContext(ctx,
		"SELECT id FROM postings WHERE canonical_hash = ?", norm.CanonicalHash).Scan(&postingID)
	if err != nil {
		return "", err
	}
	return postingID, nil
}

// recordMergeDecision upserts the decision row for a candidate pair and
// appends its audit event.
func recordMergeDecision(ctx context.Context, tx *sql.Tx, now int64, primaryID, secondaryID, decision string, confidence float64, decidedBy, rationale string, metadata map[string]any, actor Actor) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO candidate_merge_decisions
			(id, primary_candidate_id, secondary_candidate_id, decision,
			 confidence, decided_by, rationale, metadata, created_at)
		VALUES (?,?,?,?,?,?,?,?,?)
		ON CONFLICT (primary_candidate_id, secondary_candidate_id) DO UPDATE SET
			decision = excluded.decision,
			confidence = excluded.confidence,
			decided_by = excluded.decided_by,
			rationale = excluded.rationale,
			metadata = excluded.metadata`,
		uuid.NewString(), primaryID, secondaryID, decision, confidence,
		decidedBy, store.NullIfEmpty(rationale), store.MarshalJSON(metadata), now)
	if err != nil {
		return fmt.Errorf("record merge decision: %w", err)
	}
	return appendEvent(ctx, tx, now, "candidate", primaryID, "merge_decision_recorded", actor, map[string]any{
		"secondary_candidate_id": secondaryID,
		"decision":               decision,
		"confidence":             confidence,
		"decided_by":             decidedBy,
	})
}

func unionFlags(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, list := range [][]string{a, b} {
		for _, flag := range list {
			if flag == "" || seen[flag] {
				continue
			}
			seen[flag] = true
			out = append(out, flag)
		}
	}
	return out
}

func boolArg(b bool) int {
	if b {
		return 1
	}
	return 0
}

func marshalRefs(refs []map[string]any) string {
	if len(refs) == 0 {
		return "[]"
	}
	data, err := json.Marshal(refs)
	if err != nil {
		return "[]"
	}
	return string(data)
}
