package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/wasm-embed/abi"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	funcStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#98FB98"))
	typeStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#87CEEB"))
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FAFAFA")).Background(lipgloss.Color("#7D56F4"))
	resultStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#90EE90"))
	outputStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#CCCCCC"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
)

type screen int

const (
	screenFuncs screen = iota
	screenArgs
	screenResult
)

// picker lets the user choose an export, fill in its arguments and see the
// result. Calls run on the session's runtime one at a time.
type picker struct {
	ctx      context.Context
	s        *session
	inputs   []textinput.Model
	result   callDone
	selected int
	focus    int
	screen   screen
	running  bool
}

type callDone struct {
	err    error
	value  any
	stdout string
	stderr string
}

func newPicker(ctx context.Context, s *session) *picker {
	return &picker{ctx: ctx, s: s}
}

func (p *picker) Init() tea.Cmd {
	return nil
}

func (p *picker) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if cmd, handled := p.key(msg); handled {
			return p, cmd
		}
	case callDone:
		p.running = false
		p.result = msg
		p.screen = screenResult
		return p, nil
	}

	if p.screen != screenArgs {
		return p, nil
	}
	cmds := make([]tea.Cmd, len(p.inputs))
	for i := range p.inputs {
		p.inputs[i], cmds[i] = p.inputs[i].Update(msg)
	}
	return p, tea.Batch(cmds...)
}

func (p *picker) key(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch msg.String() {
	case "ctrl+c":
		return tea.Quit, true
	case "q":
		if p.screen != screenArgs {
			return tea.Quit, true
		}
	case "up", "k":
		if p.screen == screenFuncs && p.selected > 0 {
			p.selected--
			return nil, true
		}
	case "down", "j":
		if p.screen == screenFuncs && p.selected < len(p.s.funcs)-1 {
			p.selected++
			return nil, true
		}
	case "tab":
		if p.screen == screenArgs && len(p.inputs) > 1 {
			p.inputs[p.focus].Blur()
			p.focus = (p.focus + 1) % len(p.inputs)
			return p.inputs[p.focus].Focus(), true
		}
	case "esc":
		if p.screen != screenFuncs {
			p.screen = screenFuncs
			p.inputs = nil
			return nil, true
		}
	case "enter":
		return p.enter(), true
	}
	return nil, false
}

func (p *picker) enter() tea.Cmd {
	switch p.screen {
	case screenFuncs:
		if len(p.s.funcs) == 0 {
			return nil
		}
		p.inputs = p.argInputs(p.s.funcs[p.selected])
		p.focus = 0
		if len(p.inputs) == 0 {
			return p.call()
		}
		p.screen = screenArgs
		return textinput.Blink
	case screenArgs:
		return p.call()
	default:
		p.screen = screenFuncs
		p.inputs = nil
		return nil
	}
}

func (p *picker) argInputs(f funcInfo) []textinput.Model {
	inputs := make([]textinput.Model, len(f.params))
	for i, param := range f.params {
		ti := textinput.New()
		ti.Prompt = param.name + ": "
		ti.Placeholder = abi.TypeName(param.typ)
		ti.Width = 40
		if i == 0 {
			ti.Focus()
		}
		inputs[i] = ti
	}
	return inputs
}

func (p *picker) call() tea.Cmd {
	if p.running {
		return nil
	}
	p.running = true
	f := p.s.funcs[p.selected]
	raw := make([]string, len(p.inputs))
	for i, in := range p.inputs {
		raw[i] = in.Value()
	}
	return func() tea.Msg {
		value, err := p.s.call(p.ctx, f, raw)
		stdout, stderr := p.s.takeOutput()
		return callDone{value: value, err: err, stdout: stdout, stderr: stderr}
	}
}

func (p *picker) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("wasm-embed"))
	b.WriteString(" ")
	b.WriteString(p.s.file)
	b.WriteString("\n\n")

	switch p.screen {
	case screenFuncs:
		if len(p.s.funcs) == 0 {
			b.WriteString(errorStyle.Render("The guest exports nothing callable."))
			b.WriteString("\n\n")
			b.WriteString(helpStyle.Render("q quit"))
			return b.String()
		}
		b.WriteString("Select an export:\n\n")
		for i, f := range p.s.funcs {
			if i == p.selected {
				b.WriteString(selectedStyle.Render("> " + f.String()))
			} else {
				b.WriteString("  " + renderFunc(f))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter call • q quit"))

	case screenArgs:
		f := p.s.funcs[p.selected]
		fmt.Fprintf(&b, "Calling %s\n\n", funcStyle.Render(f.name))
		for i, in := range p.inputs {
			b.WriteString(in.View())
			b.WriteString(" ")
			b.WriteString(typeStyle.Render(abi.TypeName(f.params[i].typ)))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		if p.running {
			b.WriteString(helpStyle.Render("running..."))
		} else {
			b.WriteString(helpStyle.Render("tab next field • enter call • esc back"))
		}

	case screenResult:
		f := p.s.funcs[p.selected]
		fmt.Fprintf(&b, "Result of %s:\n\n", funcStyle.Render(f.name))
		switch {
		case p.result.err != nil:
			b.WriteString(errorStyle.Render("Error: " + p.result.err.Error()))
		case p.result.value == nil:
			b.WriteString(resultStyle.Render("ok"))
		default:
			b.WriteString(resultStyle.Render(fmt.Sprintf("%v", p.result.value)))
		}
		b.WriteString("\n")
		if p.result.stdout != "" {
			b.WriteString("\n" + outputStyle.Render(p.result.stdout))
		}
		if p.result.stderr != "" {
			b.WriteString("\n" + errorStyle.Render(p.result.stderr))
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}
	return b.String()
}

func renderFunc(f funcInfo) string {
	params := make([]string, len(f.params))
	for i, p := range f.params {
		params[i] = p.name + ": " + typeStyle.Render(abi.TypeName(p.typ))
	}
	s := funcStyle.Render(f.name) + "(" + strings.Join(params, ", ") + ")"
	if len(f.results) == 1 {
		s += " -> " + typeStyle.Render(abi.TypeName(f.results[0]))
	}
	return s
}

func runInteractive(ctx context.Context, s *session) error {
	_, err := tea.NewProgram(newPicker(ctx, s), tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}
