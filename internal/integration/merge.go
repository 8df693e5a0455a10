package integration

// DeepMerge applies PATCH semantics: nested objects are merged recursively,
// arrays and primitives in the patch overwrite the existing value. Neither
// input is mutated.
func DeepMerge(existing, patch map[string]any) map[string]any {
	merged := make(map[string]any, len(existing)+len(patch))
	for key, val := range existing {
		merged[key] = val
	}
	for key, patchVal := range patch {
		existingMap, existingIsMap := merged[key].(map[string]any)
		patchMap, patchIsMap := patchVal.(map[string]any)
		if existingIsMap && patchIsMap {
			merged[key] = DeepMerge(existingMap, patchMap)
			continue
		}
		merged[key] = patchVal
	}
	return merged
}
