package extract

import (
	"encoding/json"
	"reflect"
	"testing"
)

// decode unmarshals a JSON literal the same way the client does, so the
// heuristic sees identical types (map[string]any, []any, float64).
func decode(t *testing.T, raw string) any {
	t.Helper()
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		t.Fatalf("unmarshal test document: %v", err)
	}
	return doc
}

func TestIsTemperatureElement(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{name: "max temperature", in: "MaxT", want: true},
		{name: "min temperature", in: "MinT", want: true},
		{name: "plain temperature", in: "temperature", want: true},
		{name: "uppercase temp", in: "TEMP", want: true},
		{name: "chinese label", in: "平均溫度", want: true},
		{name: "weather condition", in: "Wx", want: false},
		{name: "humidity", in: "RH", want: false},
		{name: "empty", in: "", want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsTemperatureElement(tc.in); got != tc.want {
				t.Fatalf("IsTemperatureElement(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestFindReadings_CWAShape(t *testing.T) {
	doc := decode(t, `{
		"cwaopendata": {
			"dataset": {
				"location": [
					{
						"locationName": "臺北",
						"weatherElement": [
							{"elementName": "MaxT", "elementValue": {"value": "33.5"}},
							{"elementName": "MinT", "elementValue": {"value": "26.1"}},
							{"elementName": "Wx", "elementValue": {"value": "Cloudy"}}
						]
					},
					{
						"locationName": "高雄",
						"weatherElement": [
							{"elementName": "MaxT", "elementValue": {"value": "31.2"}}
						]
					}
				]
			}
		}
	}`)

	got := FindReadings(doc)
	want := []RawReading{
		{Location: "臺北", ElementType: "MaxT", Value: "33.5"},
		{Location: "臺北", ElementType: "MinT", Value: "26.1"},
		{Location: "高雄", ElementType: "MaxT", Value: "31.2"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("FindReadings() = %+v, want %+v", got, want)
	}
}

func TestFindReadings_LocationNameInheritance(t *testing.T) {
	// The location name sits two levels above the element list and must be
	// inherited downward.
	doc := decode(t, `{
		"stationName": "恆春",
		"observations": [
			{"daily": {"weatherElement": [
				{"elementName": "Temp", "elementValue": {"value": "24.9"}}
			]}}
		]
	}`)

	got := FindReadings(doc)
	want := []RawReading{{Location: "恆春", ElementType: "Temp", Value: "24.9"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("FindReadings() = %+v, want %+v", got, want)
	}
}

func TestFindReadings_KeyAliases(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		loc  string
	}{
		{
			name: "locationname lowercase",
			doc:  `{"locationname": "嘉義", "weatherElement": [{"elementName": "Temp", "elementValue": {"value": "28"}}]}`,
			loc:  "嘉義",
		},
		{
			name: "siteName",
			doc:  `{"siteName": "新竹", "weatherElement": [{"elementName": "Temp", "elementValue": {"value": "28"}}]}`,
			loc:  "新竹",
		},
		{
			name: "name",
			doc:  `{"name": "花蓮", "weatherElement": [{"elementName": "Temp", "elementValue": {"value": "28"}}]}`,
			loc:  "花蓮",
		},
		{
			name: "element name alias",
			doc:  `{"location": "臺中", "weatherElement": [{"name": "Temp", "value": "28"}]}`,
			loc:  "臺中",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := FindReadings(decode(t, tc.doc))
			if len(got) != 1 {
				t.Fatalf("FindReadings() returned %d readings, want 1", len(got))
			}
			if got[0].Location != tc.loc {
				t.Errorf("location = %q, want %q", got[0].Location, tc.loc)
			}
			if got[0].Value != "28" {
				t.Errorf("value = %q, want %q", got[0].Value, "28")
			}
		})
	}
}

func TestFindReadings_ValueShapes(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "object with value",
			doc:  `{"location": "臺北", "weatherElement": [{"elementName": "Temp", "elementValue": {"value": "31.4"}}]}`,
			want: "31.4",
		},
		{
			name: "object with measure",
			doc:  `{"location": "臺北", "weatherElement": [{"elementName": "Temp", "elementValue": {"measure": "30.2"}}]}`,
			want: "30.2",
		},
		{
			name: "scalar string",
			doc:  `{"location": "臺北", "weatherElement": [{"elementName": "Temp", "elementValue": "29"}]}`,
			want: "29",
		},
		{
			name: "scalar number",
			doc:  `{"location": "臺北", "weatherElement": [{"elementName": "Temp", "elementValue": 27.5}]}`,
			want: "27.5",
		},
		{
			name: "numeric value in object",
			doc:  `{"location": "臺北", "weatherElement": [{"elementName": "Temp", "elementValue": {"value": 25}}]}`,
			want: "25",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := FindReadings(decode(t, tc.doc))
			if len(got) != 1 {
				t.Fatalf("FindReadings() returned %d readings, want 1", len(got))
			}
			if got[0].Value != tc.want {
				t.Errorf("value = %q, want %q", got[0].Value, tc.want)
			}
		})
	}
}

func TestFindReadings_SkipsIncomplete(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{
			name: "no location anywhere",
			doc:  `{"weatherElement": [{"elementName": "Temp", "elementValue": {"value": "28"}}]}`,
		},
		{
			name: "missing value",
			doc:  `{"location": "臺北", "weatherElement": [{"elementName": "Temp"}]}`,
		},
		{
			name: "element list is not a list",
			doc:  `{"location": "臺北", "weatherElement": {"elementName": "Temp", "elementValue": {"value": "28"}}}`,
		},
		{
			name: "non-object element entries",
			doc:  `{"location": "臺北", "weatherElement": ["Temp", 28]}`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := FindReadings(decode(t, tc.doc)); len(got) != 0 {
				t.Fatalf("FindReadings() = %+v, want none", got)
			}
		})
	}
}

func TestFindReadings_EmptyDocument(t *testing.T) {
	if got := FindReadings(decode(t, `{"records": {}, "success": "true"}`)); len(got) != 0 {
		t.Fatalf("FindReadings() = %+v, want none", got)
	}
	if got := FindReadings(nil); len(got) != 0 {
		t.Fatalf("FindReadings(nil) = %+v, want none", got)
	}
}

func TestTopLevelKeys(t *testing.T) {
	doc := decode(t, `{"records": {}, "success": "true", "result": []}`)
	got := TopLevelKeys(doc)
	want := []string{"records", "result", "success"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("TopLevelKeys() = %v, want %v", got, want)
	}

	if got := TopLevelKeys([]any{"not", "an", "object"}); got != nil {
		t.Fatalf("TopLevelKeys(array) = %v, want nil", got)
	}
}
