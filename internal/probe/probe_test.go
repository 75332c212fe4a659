package probe

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/jwindhaber/async-csv/internal/compression"
	"github.com/jwindhaber/async-csv/internal/config"
)

const registry = "ID;Obec;Datum registrace;Cena;Aktivní\n" +
	"1;Brno;01.02.2024;120,50;ano\n" +
	"2;\"Praha; centrum\";15.03.2024;99;ne\n" +
	"3;Ostrava;;15.5;ano\n" +
	"4;Plzeň;20.04.2024;;ne\n"

func TestSniff(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"semicolon":         registry,
		"tab":               "a\tb\tc\n1\t2\t3\n",
		"pipe":              "a|b\n1|2\n",
		"comma quoted semi": "a,b\n\"x;y;z\",2\n\"p;q\",3\n",
	}
	want := map[string]byte{"semicolon": ';', "tab": '\t', "pipe": '|', "comma quoted semi": ','}
	for name, in := range cases {
		if got := Sniff([]byte(in)); got != want[name] {
			t.Errorf("%s: Sniff = %q, want %q", name, got, want[name])
		}
	}
	if got := Sniff([]byte("single\ncolumn\n")); got != ',' {
		t.Errorf("single column: Sniff = %q, want default ','", got)
	}
}

func TestAnalyze_NamesAndFill(t *testing.T) {
	t.Parallel()

	res, err := Analyze(context.Background(), []byte(registry), 0)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Dialect.Delimiter != ';' || res.Rows != 4 || res.Skipped != 0 {
		t.Fatalf("result = %+v", res)
	}
	wantNames := []string{"id", "obec", "datum_registrace", "cena", "aktivni"}
	if !reflect.DeepEqual(res.Names(), wantNames) {
		t.Fatalf("names = %v, want %v", res.Names(), wantNames)
	}
	if res.Headers()[4] != "Aktivní" {
		t.Fatalf("headers = %v", res.Headers())
	}
	obec := res.Columns[1]
	if !obec.Complete || obec.Empty != 0 || obec.MaxLen != len("Praha; centrum") {
		t.Errorf("obec = %+v", obec)
	}
	if d := res.Columns[2]; d.Complete || d.Empty != 1 {
		t.Errorf("datum = %+v", d)
	}
	if c := res.Columns[3]; c.Empty != 1 || c.MaxLen != 6 {
		t.Errorf("cena = %+v", c)
	}
}

func TestAnalyze_TruncatedSample(t *testing.T) {
	t.Parallel()

	sample := "a,b\n1,2\n3,\"open\nquoted"
	res, err := Analyze(context.Background(), []byte(sample), ',')
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Rows != 1 {
		t.Fatalf("rows = %d, want 1 (partial record dropped)", res.Rows)
	}

	res, err = Analyze(context.Background(), []byte("a,b\n1,2\n1,2,3\n"), ',')
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Rows != 1 || res.Skipped != 1 {
		t.Fatalf("rows/skipped = %d/%d, want 1/1", res.Rows, res.Skipped)
	}

	res, err = Analyze(context.Background(), []byte("only,header"), 0)
	if err != nil || len(res.Columns) != 2 || res.Rows != 0 {
		t.Fatalf("header without separator: %+v, %v", res, err)
	}
	if res.Columns[0].Complete {
		t.Fatal("a column without rows is not complete")
	}

	if _, err := Analyze(context.Background(), nil, 0); err == nil {
		t.Fatal("expected error for empty sample")
	}
	if _, err := Analyze(context.Background(), []byte("a\"b\n"), '"'); err == nil {
		t.Fatal("expected dialect error for quote delimiter")
	}
}

func TestDraft_BuildsAValidPipeline(t *testing.T) {
	t.Parallel()

	res, err := Analyze(context.Background(), []byte(registry), 0)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	p := Draft(res, Options{Source: "https://data.example/exports/registr-vozidel.csv.gz?sig=1", Backend: "sqlite"})

	if p.Job != "registr_vozidel" || p.Source.Kind != "http" {
		t.Fatalf("job/source = %q/%q", p.Job, p.Source.Kind)
	}
	if p.Parser.Options.String("delimiter", "") != ";" || p.Parser.Options.Int("expected_fields", 0) != 5 {
		t.Fatalf("parser options = %v", p.Parser.Options)
	}
	if p.Storage.Kind != "sqlite" || p.Storage.DB.Table != "registr_vozidel" || !p.Storage.DB.AutoCreateTable {
		t.Fatalf("storage = %+v", p.Storage)
	}
	if !reflect.DeepEqual(p.Storage.DB.Columns, res.Names()) {
		t.Fatalf("columns = %v", p.Storage.DB.Columns)
	}

	if len(p.Aggregate.Rules) != 1 {
		t.Fatalf("rules = %+v", p.Aggregate.Rules)
	}
	if r := p.Aggregate.Rules[0]; r.Column != "ID" || !r.Required {
		t.Fatalf("key rule = %+v", r)
	}
	if len(p.Aggregate.Reducers) != 5 || p.Aggregate.Reducers[3].Column != "Cena" {
		t.Fatalf("reducers = %+v", p.Aggregate.Reducers)
	}

	if issues := config.ValidatePipeline(p); config.HasErrors(issues) {
		t.Fatalf("draft does not validate: %v", issues)
	}
}

func TestDraft_Backends(t *testing.T) {
	t.Parallel()

	res := Result{Columns: []Column{{Header: "A b", Name: "a_b"}}}
	cases := []struct {
		backend, kind, table, path string
	}{
		{"", "postgres", "public.x", ""},
		{"SQLServer", "mssql", "dbo.x", ""},
		{"mysql", "mysql", "x", ""},
		{"csv", "csv", "", "x.out.csv.gz"},
		{"parquet", "parquet", "", "x.parquet"},
		{"xlsx", "xlsx", "", "x.xlsx"},
		{"none", "none", "", ""},
	}
	for _, tc := range cases {
		p := Draft(res, Options{Source: "/data/x.csv", Backend: tc.backend})
		if p.Storage.Kind != tc.kind || p.Storage.DB.Table != tc.table || p.Storage.File.Path != tc.path {
			t.Errorf("backend %q: storage = %+v", tc.backend, p.Storage)
		}
		if p.Source.Kind != "file" || p.Source.File.Path != "/data/x.csv" {
			t.Errorf("backend %q: source = %+v", tc.backend, p.Source)
		}
		if issues := config.ValidatePipeline(p); config.HasErrors(issues) {
			t.Errorf("backend %q: %v", tc.backend, issues)
		}
	}
}

func TestProbe_UsesPeekSeam(t *testing.T) {
	old := peekFn
	t.Cleanup(func() { peekFn = old })

	var gotN int
	peekFn = func(_ context.Context, src string, n int, _ bool) ([]byte, error) {
		gotN = n
		return []byte("x\tY\n1\t2\n"), nil
	}
	p, res, err := Probe(context.Background(), Options{Source: "file:///tmp/tsv/data.tsv", Backend: "none"})
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if gotN != DefaultMaxBytes || res.Dialect.Delimiter != '\t' {
		t.Fatalf("n=%d delimiter=%q", gotN, res.Dialect.Delimiter)
	}
	if p.Parser.Options.String("delimiter", "") != "tab" || p.Job != "data" || p.Source.File.Path != "/tmp/tsv/data.tsv" {
		t.Fatalf("pipeline = %+v", p)
	}

	if _, _, err := Probe(context.Background(), Options{}); err == nil {
		t.Fatal("expected error for empty source")
	}
}

func TestPeek_LocalCompressed(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "reg.csv.gz")

	var buf bytes.Buffer
	w, closeFn, err := compression.NewWriter(&buf, compression.GZ)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte(registry)); err != nil {
		t.Fatal(err)
	}
	if err := closeFn(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := peek(context.Background(), path, 10, false)
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if string(got) != registry[:10] {
		t.Fatalf("peek = %q", got)
	}

	got, err = peek(context.Background(), "file://"+path, 1<<20, false)
	if err != nil || string(got) != registry {
		t.Fatalf("peek full = %q, %v", got, err)
	}

	if _, err := peek(context.Background(), filepath.Join(dir, "missing.csv"), 10, false); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestNormalizeName(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"Datum první registrace": "datum_prvni_registrace",
		"  VIN  ":                "vin",
		"a--b..c":                "a_b_c",
		"%%%":                    "col",
		"Obec (kraj)":            "obec_kraj",
	}
	for in, want := range cases {
		if got := NormalizeName(in); got != want {
			t.Errorf("NormalizeName(%q) = %q, want %q", in, got, want)
		}
	}
	long := NormalizeName(string(bytes.Repeat([]byte("a"), 40)) + "_" + string(bytes.Repeat([]byte("b"), 40)))
	if len(long) != 63 {
		t.Errorf("long name length = %d", len(long))
	}
	if got := uniqueNames([]string{"A", "a", "a "}); !reflect.DeepEqual(got, []string{"a", "a_2", "a_3"}) {
		t.Errorf("uniqueNames = %v", got)
	}
}
