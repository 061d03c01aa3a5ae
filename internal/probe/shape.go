package probe

import "encoding/json"

// ValidateShape checks a successful response body against the minimal
// expected shape for the named probe. Warnings are advisory and never change
// the pass/fail outcome.
func ValidateShape(name string, body []byte) []string {
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return []string{"response body is not valid JSON"}
	}
	object, ok := decoded.(map[string]any)
	if !ok {
		return []string{"response body is not a JSON object"}
	}
	switch name {
	case ProbeModels, ProbeEmbeddings:
		return checkDataArray(object)
	case ProbeChat:
		return checkChatCompletion(object)
	default:
		return nil
	}
}

func checkDataArray(object map[string]any) []string {
	value, present := object["data"]
	if !present {
		return []string{`missing "data" field`}
	}
	if _, ok := value.([]any); !ok {
		return []string{`"data" is not an array`}
	}
	return nil
}

func checkChatCompletion(object map[string]any) []string {
	var warnings []string
	if _, present := object["id"]; !present {
		warnings = append(warnings, `missing "id" field`)
	}
	if objectField, _ := object["object"].(string); objectField != "chat.completion" {
		warnings = append(warnings, `"object" is not "chat.completion"`)
	}
	if value, present := object["choices"]; !present {
		warnings = append(warnings, `missing "choices" field`)
	} else if _, ok := value.([]any); !ok {
		warnings = append(warnings, `"choices" is not an array`)
	}
	if value, present := object["usage"]; !present {
		warnings = append(warnings, `missing "usage" field`)
	} else if _, ok := value.(map[string]any); !ok {
		warnings = append(warnings, `"usage" is not an object`)
	}
	return warnings
}
