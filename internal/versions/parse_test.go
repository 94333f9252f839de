package versions

import (
	"slices"
	"testing"
)

func TestParseItemsJSON(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []int
	}{
		{"items numbers", `{"items":[{"version":7},{"version":9},{"version":8}]}`, []int{9, 8, 7}},
		{"items strings", `{"items":[{"version":"12"},{"version":"x"},{"version":12}]}`, []int{12}},
		{"falls back to flat", `{"versions":[3,"4"]}`, []int{4, 3}},
		{"bare array", `[1,2,2]`, []int{2, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseItemsJSON([]byte(tt.body))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseFlatJSONRejectsUnknownShapes(t *testing.T) {
	for _, body := range []string{`<html></html>`, `{"other":[1]}`, ``, `{"versions":`} {
		if _, err := parseFlatJSON([]byte(body)); err == nil {
			t.Errorf("parseFlatJSON(%q) succeeded, want error", body)
		}
	}
	got, err := parseFlatJSON([]byte(`{"targets":[5,6]}`))
	if err != nil || !slices.Equal(got, []int{6, 5}) {
		t.Errorf("targets: got %v, %v", got, err)
	}
}

func TestParseAutoindex(t *testing.T) {
	html := `<html><head><title>Index of /patches/linux/amd64/release/0/</title></head>
<body><h1>Index of /patches/linux/amd64/release/0/</h1><hr><pre><a href="../">../</a>
<a href="21.pwr">21.pwr</a>                                             10-Feb-2026 11:02          1629314000
<a href="22.pwr">22.pwr</a>                                             14-Feb-2026 00:39          1629314978
<a href="23.pwr">23.pwr</a>                                             15-Feb-2026 09:12               512
<a href="notes.txt">notes.txt</a>                                       15-Feb-2026 09:12              2048
</pre><hr></body></html>`
	rows, err := parseAutoindex(html, 1<<20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d: %+v", len(rows), rows)
	}
	if rows[0].Version != 22 || rows[0].Size != 1629314978 || rows[1].Version != 21 {
		t.Errorf("unexpected rows: %+v", rows)
	}
	if _, err := parseAutoindex("plain text", 0); err == nil {
		t.Error("expected error for non-html body")
	}
}

func TestParseLatestJSON(t *testing.T) {
	tests := map[string]int{
		`17`:                17,
		`{"version":"18"}`:  18,
		`{"latest":19}`:     19,
		`{"target":20}`:     20,
	}
	for body, want := range tests {
		got, err := parseLatestJSON([]byte(body))
		if err != nil || got != want {
			t.Errorf("parseLatestJSON(%s) = %d, %v; want %d", body, got, err, want)
		}
	}
	if _, err := parseLatestJSON([]byte(`{"nope":1}`)); err == nil {
		t.Error("expected error for unknown shape")
	}
}

func TestNormalize(t *testing.T) {
	got := normalize([]Entry{{Version: 3}, {Version: 5}, {Version: 3}, {Version: 0}, {Version: 4}})
	var versions []int
	for _, e := range got {
		versions = append(versions, e.Version)
	}
	if !slices.Equal(versions, []int{5, 4, 3}) {
		t.Errorf("got %v", versions)
	}
}
