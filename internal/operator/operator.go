// Package operator is the human-facing surface of handoff: the resume
// prompt shown when a session starts with an unfinished task, and the
// escalation prompt shown when every executor in a fallback chain failed.
//
// On a terminal the choice is made with a bubbletea picker. Otherwise a
// numbered line prompt is read from the input stream. In non-interactive
// mode configured defaults are returned without reading anything.
package operator

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"

	"github.com/Iron-Ham/handoff/internal/errors"
	"github.com/Iron-Ham/handoff/internal/logging"
	"github.com/Iron-Ham/handoff/internal/reassign"
	"github.com/Iron-Ham/handoff/internal/session"
)

// Mode selects how the operator is asked.
type Mode string

const (
	// ModeAuto uses the picker when both streams are terminals and the line
	// prompt otherwise.
	ModeAuto           Mode = "auto"
	ModePicker         Mode = "picker"
	ModeLine           Mode = "line"
	ModeNonInteractive Mode = "none"
)

// ParseMode parses a mode name. The empty string is ModeAuto.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModePicker:
		return ModePicker, nil
	case ModeLine:
		return ModeLine, nil
	case ModeNonInteractive:
		return ModeNonInteractive, nil
	default:
		return "", fmt.Errorf("unknown operator mode %q", s)
	}
}

// Operator asks a human for resume and escalation decisions. It implements
// session.Chooser and reassign.Escalator.
type Operator struct {
	in     io.Reader
	out    io.Writer
	mode   Mode
	logger *logging.Logger

	resumeDefault     session.Decision
	escalationDefault reassign.Choice

	reader *bufio.Reader
}

// Option configures an Operator.
type Option func(*Operator)

// WithMode sets the prompt mode.
func WithMode(m Mode) Option {
	return func(o *Operator) { o.mode = m }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Operator) { o.logger = l }
}

// WithResumeDefault sets the decision used without a human, and on empty input.
func WithResumeDefault(d session.Decision) Option {
	return func(o *Operator) { o.resumeDefault = d }
}

// WithEscalationDefault sets the choice used without a human, and on empty input.
func WithEscalationDefault(c reassign.Choice) Option {
	return func(o *Operator) { o.escalationDefault = c }
}

// New creates an Operator reading from in and writing to out.
func New(in io.Reader, out io.Writer, opts ...Option) *Operator {
	o := &Operator{
		in:                in,
		out:               out,
		mode:              ModeAuto,
		logger:            logging.NopLogger(),
		resumeDefault:     session.DecisionResume,
		escalationDefault: reassign.ChoiceSkip,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.mode == ModeAuto {
		o.mode = ModeLine
		if IsTerminal(in) && IsTerminal(out) {
			o.mode = ModePicker
		}
	}
	return o
}

// Mode returns the effective prompt mode.
func (o *Operator) Mode() Mode { return o.mode }

// IsTerminal reports whether v is an *os.File attached to a terminal.
func IsTerminal(v any) bool {
	f, ok := v.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// ChooseResume implements session.Chooser.
func (o *Operator) ChooseResume(ctx context.Context, p session.ResumePrompt) (session.Decision, error) {
	decisions := session.Decisions()
	options := make([]option, len(decisions))
	initial := 0
	for i, d := range decisions {
		options[i] = option{value: string(d), desc: d.Describe()}
		if d == o.resumeDefault {
			initial = i
		}
	}

	value, _, err := o.ask(ctx, RenderResumePrompt(p), options, initial)
	if err != nil {
		return "", err
	}
	return session.ParseDecision(value)
}

// Escalate implements reassign.Escalator.
func (o *Operator) Escalate(ctx context.Context, e reassign.Escalation) (reassign.Response, error) {
	choices := reassign.Choices()
	options := make([]option, len(choices))
	initial := 0
	for i, c := range choices {
		options[i] = option{
			value: string(c),
			desc:  c.Describe(),
			note:  c == reassign.ChoiceRetryDifferentApproach,
		}
		if c == o.escalationDefault {
			initial = i
		}
	}

	value, note, err := o.ask(ctx, RenderEscalation(e), options, initial)
	if err != nil {
		return reassign.Response{}, err
	}
	choice, err := reassign.ParseChoice(value)
	if err != nil {
		return reassign.Response{}, err
	}
	if choice == reassign.ChoiceTakeOver {
		fmt.Fprintln(o.out, titleStyle.Render("Resume context"))
		fmt.Fprintln(o.out, RenderResumeContext(e.Resume))
	}
	return reassign.Response{Choice: choice, Approach: note}, nil
}

func (o *Operator) ask(ctx context.Context, header string, options []option, initial int) (value, note string, err error) {
	switch o.mode {
	case ModeNonInteractive:
		fmt.Fprintln(o.out, header)
		value = options[initial].value
		fmt.Fprintf(o.out, "non-interactive: choosing %s\n", value)
		o.logger.Info("operator prompt answered by default", "choice", value)
		return value, "", nil
	case ModePicker:
		return runPicker(ctx, o.in, o.out, newPicker(header, options, initial))
	default:
		return o.askLine(ctx, header, options, initial)
	}
}

// askLine prints a numbered prompt and reads answers until one is valid.
// Empty input and end of input select the default.
func (o *Operator) askLine(ctx context.Context, header string, options []option, initial int) (value, note string, err error) {
	if o.reader == nil {
		o.reader = bufio.NewReader(o.in)
	}

	fmt.Fprintln(o.out, header)
	fmt.Fprintln(o.out)
	for i, opt := range options {
		fmt.Fprintf(o.out, "  [%d] %-26s %s\n", i+1, opt.value, opt.desc)
	}
	fmt.Fprintln(o.out)

	for {
		fmt.Fprintf(o.out, "Choose [1-%d] (default %s): ", len(options), options[initial].value)
		line, eof, err := o.readLine(ctx)
		if err != nil {
			return "", "", err
		}
		idx, ok := matchOption(line, options, initial)
		if !ok {
			if eof {
				return "", "", fmt.Errorf("%w: %q", errors.ErrInvalidDecision, line)
			}
			fmt.Fprintf(o.out, "Unknown option %q\n", line)
			continue
		}

		opt := options[idx]
		if opt.note && !eof {
			fmt.Fprint(o.out, "Approach: ")
			note, _, err = o.readLine(ctx)
			if err != nil {
				return "", "", err
			}
		}
		return opt.value, strings.TrimSpace(note), nil
	}
}

// readLine reads one line, giving up when ctx is cancelled.
func (o *Operator) readLine(ctx context.Context) (line string, eof bool, err error) {
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		s, err := o.reader.ReadString('\n')
		ch <- result{s, err}
	}()

	select {
	case <-ctx.Done():
		return "", false, ctx.Err()
	case r := <-ch:
		if r.err != nil && r.err != io.EOF {
			return "", false, fmt.Errorf("failed to read input: %w", r.err)
		}
		return strings.TrimSpace(r.line), r.err == io.EOF, nil
	}
}

func matchOption(input string, options []option, initial int) (int, bool) {
	input = strings.ToLower(input)
	if input == "" {
		return initial, true
	}
	if n, err := strconv.Atoi(input); err == nil {
		if n >= 1 && n <= len(options) {
			return n - 1, true
		}
		return 0, false
	}
	for i, opt := range options {
		if opt.value == input {
			return i, true
		}
	}
	found := -1
	for i, opt := range options {
		if strings.HasPrefix(opt.value, input) {
			if found >= 0 {
				return 0, false
			}
			found = i
		}
	}
	return found, found >= 0
}
