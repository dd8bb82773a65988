package utils

import (
	"encoding/json"
	"fmt"
	"os"
)

type cookieEntry struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// LoadCookies reads a cookie export. Accepted shapes are a list of
// {name, value} objects, a plain name to value map, and an object with
// a "cookies" key holding the list (browser extension exports).
func LoadCookies(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading cookie file: %w", err)
	}
	return ParseCookies(data)
}

func ParseCookies(data []byte) (map[string]string, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid cookie JSON: %w", err)
	}
	if obj, ok := raw.(map[string]any); ok {
		if nested, ok := obj["cookies"]; ok {
			raw = nested
		}
	}
	cookies := make(map[string]string)
	switch v := raw.(type) {
	case []any:
		var entries []cookieEntry
		buf, _ := json.Marshal(v)
		if err := json.Unmarshal(buf, &entries); err != nil {
			return nil, fmt.Errorf("invalid cookie list: %w", err)
		}
		for _, e := range entries {
			if e.Name != "" {
				cookies[e.Name] = e.Value
			}
		}
	case map[string]any:
		for name, value := range v {
			s, ok := value.(string)
			if !ok {
				return nil, fmt.Errorf("cookie %q is not a string", name)
			}
			cookies[name] = s
		}
	default:
		return nil, fmt.Errorf("unsupported cookie file layout")
	}
	return cookies, nil
}
