package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwindhaber/async-csv/internal/config"
)

const towns = "Obec|Počet obyvatel|Založeno\nBrno|400000|1243-01-01\nKyjov|11000|1284-06-30\n"

func writeSample(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "obce.csv")
	require.NoError(t, os.WriteFile(p, []byte(towns), 0o600))
	return p
}

func TestRun_YAMLRoundTripsThroughConfig(t *testing.T) {
	t.Parallel()

	src := writeSample(t)
	var out bytes.Buffer
	require.NoError(t, run([]string{"-source", src, "-backend", "sqlite"}, &out))

	p, err := config.Decode(&out, "yaml")
	require.NoError(t, err)
	assert.Equal(t, "obce", p.Job)
	assert.Equal(t, src, p.Source.File.Path)
	assert.Equal(t, "|", p.Parser.Options.String("delimiter", ""))
	assert.Equal(t, []string{"obec", "pocet_obyvatel", "zalozeno"}, p.Storage.DB.Columns)
	assert.False(t, config.HasErrors(config.ValidatePipeline(p)))
}

func TestRun_JSONAndColumns(t *testing.T) {
	t.Parallel()

	src := writeSample(t)

	var js bytes.Buffer
	require.NoError(t, run([]string{"-source", src, "-format", "json", "-backend", "none", "-name", "Towns CZ"}, &js))
	var p config.Pipeline
	require.NoError(t, json.Unmarshal(js.Bytes(), &p))
	assert.Equal(t, "towns_cz", p.Job)
	assert.Equal(t, "none", p.Storage.Kind)

	var cols bytes.Buffer
	require.NoError(t, run([]string{"-source", src, "-format", "columns"}, &cols))
	lines := strings.Split(strings.TrimSpace(cols.String()), "\n")
	require.Len(t, lines, 5)
	assert.Contains(t, lines[0], `delimiter '|'`)
	assert.Contains(t, lines[3], "pocet_obyvatel")
	assert.Contains(t, lines[4], "zalozeno")
	assert.Contains(t, lines[4], "true")
}

func TestRun_Errors(t *testing.T) {
	t.Parallel()

	src := writeSample(t)
	var out bytes.Buffer
	assert.Error(t, run(nil, &out))
	assert.Error(t, run([]string{"-source", src, "-delimiter", ";;"}, &out))
	assert.Error(t, run([]string{"-source", src, "-format", "toml"}, &out))
	assert.Error(t, run([]string{"-source", filepath.Join(t.TempDir(), "missing.csv")}, &out))
}
