// Command bootstrap emits idempotent SQL that seeds a module, its API
// credential, and the default trust policies. The output is meant to be
// reviewed and piped into sqlite3; the tool itself never touches the
// database.
//
// Usage:
//
//	bootstrap -module-id local-connector -name "Local Connector" -api-key <key> | sqlite3 jobulator.db
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sloppyjobs/jobulator/auth"
)

func main() {
	moduleID := flag.String("module-id", "", "module id (required)")
	name := flag.String("name", "", "module display name (defaults to module id)")
	kind := flag.String("kind", "connector", "module kind: connector or processor")
	trustLevel := flag.String("trust-level", "untrusted", "trust level: trusted, semi_trusted, untrusted")
	scopes := flag.String("scopes", "discoveries:write,evidence:write,jobs:read,jobs:write", "comma-separated scopes")
	apiKey := flag.String("api-key", "", "API key to hash into the credential (required)")
	withDefaults := flag.Bool("default-policies", true, "emit the default trust policy rows")
	flag.Parse()

	if *moduleID == "" || *apiKey == "" {
		fmt.Fprintln(os.Stderr, "usage: bootstrap -module-id <id> -api-key <key> [flags]")
		os.Exit(1)
	}
	displayName := *name
	if displayName == "" {
		displayName = *moduleID
	}

	now := time.Now().UnixMilli()
	moduleRowID := uuid.NewString()
	credentialID := uuid.NewString()

	scopeList := strings.Split(*scopes, ",")
	for i := range scopeList {
		scopeList[i] = fmt.Sprintf("%q", strings.TrimSpace(scopeList[i]))
	}
	scopesJSON := "[" + strings.Join(scopeList, ",") + "]"

	fmt.Printf(`-- module %s
INSERT INTO modules (id, module_id, name, kind, enabled, scopes, trust_level, created_at, updated_at)
VALUES ('%s', '%s', '%s', '%s', 1, '%s', '%s', %d, %d)
ON CONFLICT (module_id) DO UPDATE SET
	name = excluded.name,
	kind = excluded.kind,
	scopes = excluded.scopes,
	trust_level = excluded.trust_level,
	updated_at = excluded.updated_at;

INSERT INTO module_credentials (id, module_id, key_hash, is_active, created_at)
SELECT '%s', m.id, '%s', 1, %d
FROM modules m
WHERE m.module_id = '%s'
  AND NOT EXISTS (
	SELECT 1 FROM module_credentials mc
	WHERE mc.module_id = m.id AND mc.key_hash = '%s');
`,
		*moduleID,
		moduleRowID, *moduleID, sqlEscape(displayName), *kind, scopesJSON, *trustLevel, now, now,
		credentialID, auth.HashKey(*apiKey), now, *moduleID, auth.HashKey(*apiKey))

	if *withDefaults {
		for _, p := range []struct {
			key                string
			level              string
			autoPublish        int
			requiresModeration int
		}{
			{"default:trusted", "trusted", 1, 0},
			{"default:semi_trusted", "semi_trusted", 1, 0},
			{"default:untrusted", "untrusted", 0, 1},
		} {
			fmt.Printf(`
INSERT INTO source_trust_policies (id, source_key, trust_level, auto_publish, requires_moderation, rules_json, enabled, created_at, updated_at)
VALUES ('%s', '%s', '%s', %d, %d, '{}', 1, %d, %d)
ON CONFLICT (source_key) DO NOTHING;
`, uuid.NewString(), p.key, p.level, p.autoPublish, p.requiresModeration, now, now)
		}
	}
}

func sqlEscape(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
