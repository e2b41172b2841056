package introspect

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/rowguard/rowguard"
	"github.com/rowguard/rowguard/pkg/ctxmap"
	rowguardsql "github.com/rowguard/rowguard/sql"
)

var settingCall = regexp.MustCompile(`current_setting\(\s*'([^']+)'`)

// FetchSettingProviders scans zero-argument user functions for
// current_setting reads and maps each provider function to the actor field
// its setting key names. A function reading current_setting('app.tenant_id')
// becomes a mapping from its name to the actor field tenant_id.
func FetchSettingProviders(ctx context.Context, q rowguard.Querier) ([]ctxmap.Entry, error) {
	rows, err := q.QueryContext(ctx, rowguardsql.SettingProvidersSQL)
	if err != nil {
		return nil, fmt.Errorf("querying setting providers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ctxmap.Entry
	for rows.Next() {
		var name, src string
		if err := rows.Scan(&name, &src); err != nil {
			return nil, fmt.Errorf("scanning setting provider row: %w", err)
		}
		if e, ok := settingEntry(name, src); ok {
			out = append(out, e)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading setting providers: %w", err)
	}
	return out, nil
}

// settingEntry derives a mapping entry from one function body. The first
// current_setting call wins; functions that merely mention the name in a
// comment produce nothing.
func settingEntry(name, src string) (ctxmap.Entry, bool) {
	m := settingCall.FindStringSubmatch(src)
	if m == nil {
		return ctxmap.Entry{}, false
	}
	field := settingField(m[1])
	if field == "" {
		return ctxmap.Entry{}, false
	}
	return ctxmap.Entry{Provider: name, Path: []string{field}}, true
}

// settingField strips the setting key's namespace: app.tenant_id names the
// actor field tenant_id. Namespaces qualify settings, not actor fields.
func settingField(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	if i := strings.LastIndexByte(key, '.'); i >= 0 {
		key = key[i+1:]
	}
	return key
}
