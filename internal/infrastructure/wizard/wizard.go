// Package wizard implements the interactive `prcover init` flow.
package wizard

import (
	"fmt"
	"io"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/felixgeelhaar/prcover/internal/application"
)

type (
	wizardState int
	fieldKind   int

	initWizardModel struct {
		state     wizardState
		cfg       application.Config
		fields    []wizardField
		cursor    int
		confirmed bool
		aborted   bool
	}

	wizardField struct {
		label   string
		kind    fieldKind
		number  float64
		text    string
		choices []string
		choice  int
	}
)

const (
	stateIntro wizardState = iota
	stateEdit
	stateConfirm
)

const (
	kindNumber fieldKind = iota
	kindChoice
	kindText
)

// Field order in the edit view.
const (
	fieldThreshold = iota
	fieldReportCutoff
	fieldCoverage
	fieldFormat
	fieldBase
	fieldPlatform
)

var (
	formatChoices   = []string{"auto", "clover", "cobertura", "lcov", "go"}
	platformChoices = []string{"", "bitbucket", "github", "gitlab"}
)

// Run shows the wizard seeded with cfg. It reports false when the user
// cancelled.
func Run(cfg application.Config, stdout io.Writer, stdin io.Reader) (application.Config, bool, error) {
	return runInitWizard(cfg, stdout, stdin)
}

func runInitWizard(cfg application.Config, stdout io.Writer, stdin io.Reader) (application.Config, bool, error) {
	model := newInitWizardModel(cfg)
	program := tea.NewProgram(model, tea.WithInput(stdin), tea.WithOutput(stdout))
	res, err := program.Run()
	if err != nil {
		return cfg, false, err
	}
	finalModel, ok := res.(*initWizardModel)
	if !ok {
		return cfg, false, fmt.Errorf("unexpected wizard state")
	}
	if finalModel.aborted || !finalModel.confirmed {
		return cfg, false, nil
	}
	return finalModel.toConfig(), true, nil
}

func newInitWizardModel(cfg application.Config) *initWizardModel {
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = 80
	}
	cutoff := cfg.Report.FailAtOrBelow
	if cutoff <= 0 {
		cutoff = threshold
	}
	return &initWizardModel{
		state: stateIntro,
		cfg:   cfg,
		fields: []wizardField{
			fieldThreshold:    {label: "Gate threshold", kind: kindNumber, number: threshold},
			fieldReportCutoff: {label: "Report fails at or below", kind: kindNumber, number: cutoff},
			fieldCoverage:     {label: "Coverage report", kind: kindText, text: cfg.Coverage},
			fieldFormat:       {label: "Coverage format", kind: kindChoice, choices: formatChoices, choice: indexOf(formatChoices, string(cfg.Format))},
			fieldBase:         {label: "Base ref", kind: kindText, text: cfg.Base},
			fieldPlatform:     {label: "Platform", kind: kindChoice, choices: platformChoices, choice: indexOf(platformChoices, string(cfg.Platform))},
		},
	}
}

func (m *initWizardModel) Init() tea.Cmd {
	return nil
}

func (m *initWizardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	if m.state == stateEdit && m.fields[m.cursor].kind == kindText && m.editText(key) {
		return m, nil
	}
	switch key.String() {
	case "ctrl+c", "q":
		m.aborted = true
		return m, tea.Quit
	case "enter":
		switch m.state {
		case stateIntro:
			m.state = stateEdit
		case stateEdit:
			m.state = stateConfirm
		case stateConfirm:
			m.confirmed = true
			return m, tea.Quit
		}
	case "esc":
		if m.state == stateConfirm {
			m.state = stateEdit
		}
	case "up":
		if m.state == stateEdit {
			m.moveCursor(-1)
		}
	case "down", "tab":
		if m.state == stateEdit {
			m.moveCursor(1)
		}
	case "left", "-":
		if m.state == stateEdit {
			m.adjustSelection(-1)
		}
	case "right", "+":
		if m.state == stateEdit {
			m.adjustSelection(1)
		}
	}
	return m, nil
}

// editText applies typing to the selected text field. It reports whether
// the key was consumed.
func (m *initWizardModel) editText(key tea.KeyMsg) bool {
	f := &m.fields[m.cursor]
	switch key.Type {
	case tea.KeyRunes:
		f.text += string(key.Runes)
		return true
	case tea.KeyBackspace:
		if f.text != "" {
			runes := []rune(f.text)
			f.text = string(runes[:len(runes)-1])
		}
		return true
	}
	return false
}

func (m *initWizardModel) View() string {
	switch m.state {
	case stateIntro:
		return m.viewIntro()
	case stateEdit:
		return m.viewEdit()
	case stateConfirm:
		return m.viewConfirm()
	default:
		return ""
	}
}

func (m *initWizardModel) moveCursor(delta int) {
	m.cursor += delta
	if m.cursor < 0 {
		m.cursor = 0
	}
	if m.cursor >= len(m.fields) {
		m.cursor = len(m.fields) - 1
	}
}

// adjustSelection moves numbers in steps of 5 and cycles choices.
func (m *initWizardModel) adjustSelection(direction int) {
	f := &m.fields[m.cursor]
	switch f.kind {
	case kindNumber:
		f.number = clamp(f.number+float64(5*direction), 0, 100)
	case kindChoice:
		n := len(f.choices)
		f.choice = ((f.choice+direction)%n + n) % n
	}
}

func (f wizardField) display() string {
	switch f.kind {
	case kindNumber:
		return fmt.Sprintf("%.0f%%", f.number)
	case kindChoice:
		if f.choices[f.choice] == "" {
			return "(none)"
		}
		return f.choices[f.choice]
	default:
		if f.text == "" {
			return "(unset)"
		}
		return f.text
	}
}

func (m *initWizardModel) viewIntro() string {
	var b strings.Builder
	fmt.Fprintf(&b, "\nprcover init wizard\n\n")
	fmt.Fprintf(&b, "prcover gates pull requests on the coverage of their changed lines.\n")
	if m.cfg.Platform != "" {
		fmt.Fprintf(&b, "Detected platform: %s.\n", m.cfg.Platform)
	}
	fmt.Fprintf(&b, "\nPress Enter to continue, or Ctrl+C to cancel.\n")
	return b.String()
}

func (m *initWizardModel) viewEdit() string {
	var b strings.Builder
	fmt.Fprintf(&b, "\nReview settings\n\n")
	fmt.Fprintf(&b, "Use ↑/↓ to move, ←/→ to change values, type to edit paths.\n\n")
	for idx, f := range m.fields {
		prefix := "  "
		if m.cursor == idx {
			prefix = "> "
		}
		fmt.Fprintf(&b, "%s%s: %s\n", prefix, f.label, f.display())
	}
	fmt.Fprintf(&b, "\nEnter to continue, Ctrl+C to cancel.\n")
	return b.String()
}

func (m *initWizardModel) viewConfirm() string {
	var b strings.Builder
	fmt.Fprintf(&b, "\nReady to write configuration\n\n")
	for _, f := range m.fields {
		fmt.Fprintf(&b, "  %s: %s\n", f.label, f.display())
	}
	if len(m.cfg.Exclude) > 0 {
		fmt.Fprintf(&b, "\nConfigured exclusions:\n")
		for _, pattern := range m.cfg.Exclude {
			fmt.Fprintf(&b, "  - %s\n", pattern)
		}
	} else {
		fmt.Fprintf(&b, "\nNo exclusions configured.\n")
	}
	fmt.Fprintf(&b, "\nPress Enter to save, Esc to go back, q to cancel.\n")
	return b.String()
}

func (m *initWizardModel) toConfig() application.Config {
	cfg := m.cfg
	cfg.Threshold = m.fields[fieldThreshold].number
	cfg.Report.FailAtOrBelow = m.fields[fieldReportCutoff].number
	cfg.Coverage = strings.TrimSpace(m.fields[fieldCoverage].text)
	cfg.Format = application.Format(formatChoices[m.fields[fieldFormat].choice])
	cfg.Base = strings.TrimSpace(m.fields[fieldBase].text)
	cfg.Platform = application.PlatformName(platformChoices[m.fields[fieldPlatform].choice])
	cfg.Exclude = append([]string(nil), m.cfg.Exclude...)
	return cfg
}

func indexOf(values []string, v string) int {
	for i, candidate := range values {
		if candidate == v {
			return i
		}
	}
	return 0
}

func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
