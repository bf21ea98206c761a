package logging

func logParamsToZapParams(keys map[ExtraKey]any) []any {
	params := make([]any, 0, len(keys)*2)

	for k, v := range keys {
		params = append(params, string(k))
		params = append(params, v)
	}

	return params
}

func logParamsToZeroParams(keys map[ExtraKey]any) map[string]any {
	params := map[string]any{}

	for k, v := range keys {
		params[string(k)] = v
	}

	return params
}

// withCategories copies extra so callers can reuse their maps.
func withCategories(cat Category, sub SubCategory, extra map[ExtraKey]any) map[ExtraKey]any {
	out := make(map[ExtraKey]any, len(extra)+2)
	for k, v := range extra {
		out[k] = v
	}
	out["Category"] = cat
	out["SubCategory"] = sub
	return out
}
