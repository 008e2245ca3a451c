package extract

import (
	"regexp"
	"sort"
	"strconv"
)

// RawReading is a temperature candidate found by the heuristic scan,
// before numeric parsing and coordinate enrichment.
type RawReading struct {
	Location    string
	ElementType string
	Value       string
}

// tempNamePattern matches element names that look like a temperature,
// including the Chinese label used by CWA datasets.
var tempNamePattern = regexp.MustCompile(`(?i)temp|temperature|t\b|溫度`)

// IsTemperatureElement reports whether an element name looks like a temperature.
func IsTemperatureElement(name string) bool {
	return tempNamePattern.MatchString(name)
}

// locationKeys are the aliases under which CWA payloads carry a station or
// region name, in lookup priority order.
var locationKeys = []string{
	"locationName", "locationname", "location", "siteName", "stationName", "name",
}

// FindReadings walks an arbitrary decoded JSON document and collects every
// temperature-looking element it can attribute to a location. A location
// name found on an object is inherited by everything nested below it, so
// element lists that sit a few levels under the station object still pick
// up the right name. A top-level "cwaopendata" envelope is unwrapped first.
//
// The result is sorted by (location, element type) so repeated runs over the
// same document produce identical CSV and table output.
func FindReadings(doc any) []RawReading {
	if m, ok := doc.(map[string]any); ok {
		if inner, ok := m["cwaopendata"]; ok {
			doc = inner
		}
	}
	var found []RawReading
	scan(doc, "", &found)
	sort.SliceStable(found, func(i, j int) bool {
		if found[i].Location != found[j].Location {
			return found[i].Location < found[j].Location
		}
		return found[i].ElementType < found[j].ElementType
	})
	return found
}

func scan(node any, inherited string, found *[]RawReading) {
	switch v := node.(type) {
	case map[string]any:
		loc := inherited
		for _, k := range locationKeys {
			if s, ok := v[k].(string); ok {
				loc = s
				break
			}
		}

		if elems, ok := v["weatherElement"].([]any); ok {
			for _, e := range elems {
				em, ok := e.(map[string]any)
				if !ok {
					continue
				}
				name, _ := em["elementName"].(string)
				if name == "" {
					name, _ = em["name"].(string)
				}
				if name == "" || !IsTemperatureElement(name) {
					continue
				}
				val := elementValue(em)
				if loc != "" && val != "" {
					*found = append(*found, RawReading{Location: loc, ElementType: name, Value: val})
				}
			}
		}

		for _, child := range v {
			scan(child, loc, found)
		}
	case []any:
		for _, it := range v {
			scan(it, inherited, found)
		}
	}
}

// elementValue pulls the measured value out of a weather element. The value
// container is either a scalar or an object holding "value" or "measure".
func elementValue(em map[string]any) string {
	container, ok := em["elementValue"]
	if !ok || container == nil {
		container = em["value"]
	}
	switch c := container.(type) {
	case map[string]any:
		if s := scalarString(c["value"]); s != "" {
			return s
		}
		return scalarString(c["measure"])
	default:
		return scalarString(c)
	}
}

func scalarString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	default:
		return ""
	}
}

// TopLevelKeys returns the sorted top-level keys of a decoded JSON document.
// Logged when the heuristic finds nothing, so the dataset shape can be
// inspected without re-fetching.
func TopLevelKeys(doc any) []string {
	m, ok := doc.(map[string]any)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
