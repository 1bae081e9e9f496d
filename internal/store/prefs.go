package store

// Preferences is the user's stored notification preference document. It is
// persisted as JSONB and updated by partial deep merge, so it is kept as a
// nested map rather than a rigid struct.
type Preferences map[string]any

// DefaultPreferences returns the preference document assigned to new accounts.
func DefaultPreferences() Preferences {
	return Preferences{
		"email": map[string]any{
			"enabled":   true,
			"frequency": "instant",
			"categories": map[string]any{
				"marketing": false,
				"updates":   true,
				"security":  true,
				"social":    true,
			},
		},
		"push": map[string]any{
			"enabled":   true,
			"sound":     true,
			"vibration": true,
		},
		"inApp": map[string]any{
			"enabled":   true,
			"showBadge": true,
		},
		"quietHours": map[string]any{
			"enabled": false,
			"start":   "22:00",
			"end":     "08:00",
		},
	}
}

// Merge deep-merges a partial update into p and returns the result. For each
// key in incoming: if both sides hold nested maps, merge recursively;
// otherwise the incoming value replaces the existing one. Keys absent from
// incoming are preserved untouched. Neither input map is mutated.
func (p Preferences) Merge(incoming map[string]any) Preferences {
	return Preferences(mergeMaps(map[string]any(p), incoming))
}

func mergeMaps(target, source map[string]any) map[string]any {
	out := make(map[string]any, len(target)+len(source))
	for k, v := range target {
		out[k] = v
	}
	for k, sv := range source {
		tm, tok := out[k].(map[string]any)
		sm, sok := sv.(map[string]any)
		if tok && sok {
			out[k] = mergeMaps(tm, sm)
			continue
		}
		out[k] = sv
	}
	return out
}

// CategoryOptIns lists the category topics the user has opted into, derived
// from email.categories. These become the default category:<name> topics
// joined on connect.
func (p Preferences) CategoryOptIns() []string {
	email, ok := p["email"].(map[string]any)
	if !ok {
		return nil
	}
	categories, ok := email["categories"].(map[string]any)
	if !ok {
		return nil
	}
	var opted []string
	for _, name := range []string{CategoryMarketing, CategoryUpdates, CategorySecurity, CategorySocial} {
		if on, ok := categories[name].(bool); ok && on {
			opted = append(opted, name)
		}
	}
	return opted
}
