package parsers

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/felixgeelhaar/prcover/internal/application"
	"github.com/felixgeelhaar/prcover/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Load_DetectsFormats(t *testing.T) {
	cases := []struct {
		name    string
		file    string
		content string
		path    string
	}{
		{
			name:    "clover",
			file:    "clover.xml",
			content: `<coverage><project><file name="src/a.php"><line num="3" type="stmt" count="1"/></file></project></coverage>`,
			path:    "src/a.php",
		},
		{
			name: "cobertura",
			file: "coverage.xml",
			content: `<?xml version="1.0"?>
<coverage version="1.0"><packages><package name="p"><classes>
<class name="A" filename="src/a.py"><lines><line number="3" hits="1"/></lines></class>
</classes></package></packages></coverage>`,
			path: "src/a.py",
		},
		{
			name:    "lcov",
			file:    "lcov.info",
			content: "SF:src/a.js\nDA:3,1\nend_of_record\n",
			path:    "src/a.js",
		},
		{
			name:    "go",
			file:    "coverage.out",
			content: "mode: set\nexample.com/m/a.go:3.1,3.20 1 1\n",
			path:    "example.com/m/a.go",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := createTempFile(t, tc.file, tc.content)

			report, err := NewRegistry().Load(path, application.FormatAuto)

			require.NoError(t, err)
			hits, ok := report[tc.path].Hits(3)
			require.True(t, ok, "expected line 3 of %s", tc.path)
			assert.Equal(t, 1, hits)
		})
	}
}

func TestRegistry_Load_ExplicitFormat(t *testing.T) {
	path := createTempFile(t, "report.txt", "SF:a.rb\nDA:1,0\nend_of_record\n")

	report, err := NewRegistry().Load(path, application.FormatLCOV)

	require.NoError(t, err)
	assert.Equal(t, domain.CoverageStat{Covered: 0, Total: 1}, report["a.rb"].Stat())
}

func TestRegistry_Load_WrongExplicitFormatIsMalformed(t *testing.T) {
	path := createTempFile(t, "report.txt", "SF:a.rb\nDA:1,0\n")

	_, err := NewRegistry().Load(path, application.FormatClover)

	var malformed *domain.MalformedCoverageReportError
	require.True(t, errors.As(err, &malformed))
}

func TestRegistry_Load_UndetectableDefaultsToClover(t *testing.T) {
	path := createTempFile(t, "report", "garbage")

	_, err := NewRegistry().Load(path, application.FormatAuto)

	var malformed *domain.MalformedCoverageReportError
	require.True(t, errors.As(err, &malformed))
	assert.Equal(t, "clover", malformed.Format)
}

func TestRegistry_Load_MissingFile(t *testing.T) {
	_, err := NewRegistry().Load(filepath.Join(t.TempDir(), "missing.xml"), application.FormatAuto)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "open coverage report")
}

func TestRegistry_Load_UnsupportedFormat(t *testing.T) {
	path := createTempFile(t, "report.json", "{}")

	_, err := NewRegistry().Load(path, application.Format("jacoco"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported format")
}

func TestRegistry_SupportedFormats(t *testing.T) {
	formats := NewRegistry().SupportedFormats()

	assert.Equal(t, []application.Format{
		application.FormatClover,
		application.FormatCobertura,
		application.FormatGo,
		application.FormatLCOV,
	}, formats)
}

func createTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
