package clover

import (
	"errors"
	"strings"
	"testing"

	"github.com/felixgeelhaar/prcover/internal/application"
	"github.com/felixgeelhaar/prcover/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParser_Format(t *testing.T) {
	assert.Equal(t, application.FormatClover, New().Format())
}

func TestParser_Parse_PHPUnit(t *testing.T) {
	content := `<?xml version="1.0" encoding="UTF-8"?>
<coverage generated="1700000000">
  <project timestamp="1700000000">
    <package name="App">
      <file name="src/Service.php">
        <class name="Service" namespace="App">
          <metrics methods="1" coveredmethods="1" statements="3" coveredstatements="2"/>
        </class>
        <line num="10" type="method" name="handle" visibility="public" complexity="1" crap="1" count="1"/>
        <line num="11" type="stmt" count="1"/>
        <line num="12" type="stmt" count="0"/>
        <line num="13" type="stmt" count="4"/>
        <metrics loc="20" ncloc="15" statements="3" coveredstatements="2"/>
      </file>
    </package>
    <file name="src/helpers.php">
      <line num="3" type="stmt" count="0"/>
    </file>
    <metrics files="2"/>
  </project>
</coverage>`

	report, err := New().Parse(strings.NewReader(content))

	require.NoError(t, err)
	require.Len(t, report, 2)

	service := report["src/Service.php"]
	assert.Equal(t, []int{11, 12, 13}, service.Lines())
	hits, ok := service.Hits(12)
	assert.True(t, ok)
	assert.Equal(t, 0, hits)
	assert.Equal(t, domain.CoverageStat{Covered: 2, Total: 3}, service.Stat())

	helpers := report["src/helpers.php"]
	assert.Equal(t, domain.CoverageStat{Covered: 0, Total: 1}, helpers.Stat())
}

func TestParser_Parse_IstanbulUsesPathAttribute(t *testing.T) {
	content := `<coverage generated="1" clover="3.2.0">
  <project timestamp="1" name="All files">
    <file name="index.js" path="/ci/build/src/index.js">
      <line num="1" count="2" type="stmt"/>
      <line num="2" count="0" type="cond" truecount="0" falsecount="1"/>
    </file>
  </project>
</coverage>`

	report, err := New().Parse(strings.NewReader(content))

	require.NoError(t, err)
	fc, ok := report["/ci/build/src/index.js"]
	require.True(t, ok)
	assert.Equal(t, domain.CoverageStat{Covered: 1, Total: 2}, fc.Stat())
}

func TestParser_Parse_MethodLineDoesNotOverrideStatement(t *testing.T) {
	content := `<coverage><project>
  <file name="a.php">
    <line num="5" type="method" count="3"/>
    <line num="5" type="stmt" count="0"/>
  </file>
</project></coverage>`

	report, err := New().Parse(strings.NewReader(content))

	require.NoError(t, err)
	hits, ok := report["a.php"].Hits(5)
	require.True(t, ok)
	assert.Equal(t, 0, hits)
}

func TestParser_Parse_MethodDeclarationIsNotCountable(t *testing.T) {
	content := `<coverage><project>
  <file name="src/A.php">
    <line num="5" type="method" count="0"/>
    <line num="6" type="stmt" count="1"/>
  </file>
</project></coverage>`

	report, err := New().Parse(strings.NewReader(content))

	require.NoError(t, err)
	fc := report["src/A.php"]
	_, ok := fc.Hits(5)
	assert.False(t, ok)
	assert.Equal(t, []int{6}, fc.Lines())
	assert.Equal(t, domain.CoverageStat{Covered: 1, Total: 1}, fc.Stat())
}

func TestParser_Parse_UninstrumentedLinesAreAbsent(t *testing.T) {
	content := `<coverage><project>
  <file name="a.php">
    <line num="7" type="stmt" count="1"/>
  </file>
</project></coverage>`

	report, err := New().Parse(strings.NewReader(content))

	require.NoError(t, err)
	_, ok := report["a.php"].Hits(6)
	assert.False(t, ok)
}

func TestParser_Parse_Malformed(t *testing.T) {
	cases := map[string]string{
		"not xml":           "this is not xml",
		"wrong root":        `<report><project/></report>`,
		"missing project":   `<coverage generated="1"></coverage>`,
		"file without name": `<coverage><project><file><line num="1" type="stmt" count="1"/></file></project></coverage>`,
		"bad line number":   `<coverage><project><file name="a"><line num="x" type="stmt" count="1"/></file></project></coverage>`,
		"zero line number":  `<coverage><project><file name="a"><line num="0" type="stmt" count="1"/></file></project></coverage>`,
	}

	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := New().Parse(strings.NewReader(content))

			var malformed *domain.MalformedCoverageReportError
			require.True(t, errors.As(err, &malformed), "expected MalformedCoverageReportError, got %v", err)
			assert.Equal(t, "clover", malformed.Format)
		})
	}
}
