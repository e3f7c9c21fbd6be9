package operator

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Iron-Ham/handoff/internal/errors"
)

// option is one choice offered by the picker.
type option struct {
	value string
	desc  string

	// note makes the picker ask for a free-text note after selection.
	note bool
}

// Picker is a bubbletea model that lets the operator pick one option with
// the arrow keys or its number.
type Picker struct {
	header  string
	options []option
	cursor  int

	note    textinput.Model
	editing bool

	chosen  bool
	aborted bool
}

func newPicker(header string, options []option, initial int) Picker {
	ti := textinput.New()
	ti.Placeholder = "describe the new approach"
	ti.CharLimit = 500
	ti.Width = 60
	ti.Prompt = "› "

	if initial < 0 || initial >= len(options) {
		initial = 0
	}
	return Picker{
		header:  header,
		options: options,
		cursor:  initial,
		note:    ti,
	}
}

// Init implements tea.Model.
func (m Picker) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m Picker) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		if m.editing {
			var cmd tea.Cmd
			m.note, cmd = m.note.Update(msg)
			return m, cmd
		}
		return m, nil
	}

	if m.editing {
		switch key.Type {
		case tea.KeyCtrlC:
			m.aborted = true
			return m, tea.Quit
		case tea.KeyEnter:
			m.chosen = true
			return m, tea.Quit
		case tea.KeyEsc:
			m.editing = false
			m.note.Blur()
			return m, nil
		}
		var cmd tea.Cmd
		m.note, cmd = m.note.Update(msg)
		return m, cmd
	}

	switch key.String() {
	case "ctrl+c", "q", "esc":
		m.aborted = true
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.options)-1 {
			m.cursor++
		}
	case "enter", " ":
		return m.selectCurrent()
	default:
		s := key.String()
		if len(s) == 1 && s[0] >= '1' && s[0] <= '9' {
			if idx := int(s[0] - '1'); idx < len(m.options) {
				m.cursor = idx
				return m.selectCurrent()
			}
		}
	}
	return m, nil
}

func (m Picker) selectCurrent() (tea.Model, tea.Cmd) {
	if m.options[m.cursor].note {
		m.editing = true
		return m, m.note.Focus()
	}
	m.chosen = true
	return m, tea.Quit
}

// View implements tea.Model.
func (m Picker) View() string {
	var b strings.Builder
	b.WriteString(m.header)
	b.WriteString("\n\n")

	for i, opt := range m.options {
		line := fmt.Sprintf("%d. %-26s %s", i+1, opt.value, mutedStyle.Render(opt.desc))
		if i == m.cursor {
			b.WriteString(selectedStyle.Render("› ") + selectedStyle.Render(fmt.Sprintf("%d. %-26s", i+1, opt.value)) + " " + mutedStyle.Render(opt.desc))
		} else {
			b.WriteString("  " + line)
		}
		b.WriteByte('\n')
	}

	if m.editing {
		b.WriteString("\n")
		b.WriteString(m.note.View())
		b.WriteString("\n")
		b.WriteString(mutedStyle.Render("enter confirm • esc back"))
	} else {
		b.WriteString("\n")
		b.WriteString(mutedStyle.Render("↑/↓ move • enter select • 1-9 quick pick • q cancel"))
	}
	b.WriteString("\n")
	return b.String()
}

// Selected returns the chosen value and note. ok is false if the operator
// cancelled.
func (m Picker) Selected() (value, note string, ok bool) {
	if !m.chosen || m.aborted {
		return "", "", false
	}
	return m.options[m.cursor].value, strings.TrimSpace(m.note.Value()), true
}

// runPicker runs the picker inline (no alt screen) so the rendered context
// stays in the scrollback.
func runPicker(ctx context.Context, in io.Reader, out io.Writer, m Picker) (value, note string, err error) {
	p := tea.NewProgram(m,
		tea.WithInput(in),
		tea.WithOutput(out),
		tea.WithContext(ctx),
	)
	final, err := p.Run()
	if ctx.Err() != nil {
		return "", "", ctx.Err()
	}
	if err != nil {
		return "", "", err
	}
	fm, ok := final.(Picker)
	if !ok {
		return "", "", fmt.Errorf("unexpected picker model %T", final)
	}
	value, note, ok = fm.Selected()
	if !ok {
		return "", "", errors.ErrCancelled
	}
	return value, note, nil
}
