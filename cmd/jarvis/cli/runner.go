package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/felixgeelhaar/jarvis/internal/assistant"
	"github.com/felixgeelhaar/jarvis/internal/memory"
	"github.com/felixgeelhaar/jarvis/internal/persona"
	"github.com/felixgeelhaar/jarvis/internal/ui"
	"github.com/felixgeelhaar/jarvis/internal/ui/tui"
)

func runChat() {
	// The TUI owns the terminal, so logs go to a file in that mode.
	var out io.Writer = os.Stdout
	var logFile *os.File
	if interactive {
		lf, err := openLogFile()
		if err != nil {
			out = io.Discard
		} else {
			logFile = lf
			out = lf
		}
	}

	app, err := newApp(out, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "jarvis: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()
	if logFile != nil {
		defer logFile.Close()
	}

	p := persona.Default()
	if personaPath != "" {
		p, err = persona.Load(personaPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "jarvis: %v\n", err)
			os.Exit(1)
		}
		res := p.Validate()
		for _, w := range res.Warnings {
			fmt.Fprintln(os.Stderr, "persona: "+w)
		}
		if !res.Valid {
			fmt.Fprintln(os.Stderr, "jarvis: invalid persona: "+strings.Join(res.Errors, "; "))
			os.Exit(1)
		}
	}

	a, err := app.newAssistant(app.cfg.SelfID, p)
	if err != nil {
		fmt.Fprintf(os.Stderr, "jarvis: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	if interactive {
		runTUI(app, a, p)
	} else {
		runREPL(app, a, p)
	}
}

func runREPL(app *app, a *assistant.Assistant, p *persona.Persona) {
	ui.Attach(app.bus, ui.ConsoleUI{})

	if g := a.Greeting(); g != "" {
		fmt.Printf("%s> %s\n", p.Name, g)
	}
	fmt.Println(`Type "exit" to quit.`)

	scanner := bufio.NewScanner(os.Stdin)
	// Pasted chat imports blow past the default line limit.
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for {
		fmt.Print("you> ")
		if !scanner.Scan() {
			fmt.Println()
			return
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			return
		}

		reply, err := a.Respond(context.Background(), input)
		if err != nil {
			fmt.Printf("error: %v\n", err)
			continue
		}
		fmt.Printf("%s> %s\n", p.Name, reply)
	}
}

func runTUI(app *app, a *assistant.Assistant, p *persona.Persona) {
	respond := func(ctx context.Context, input string) (string, error) {
		return a.Respond(ctx, input)
	}
	refresh := func() string {
		counts := app.engine.Counts(context.Background())
		return fmt.Sprintf("memory %d/%d/%d",
			counts[memory.TierWorking], counts[memory.TierShortTerm], counts[memory.TierLongTerm])
	}

	model := tui.NewModel(p.Name, app.roles.Chat.Name(), a.Greeting(), respond, refresh)
	program := tea.NewProgram(model, tea.WithAltScreen())
	ui.Attach(app.bus, tui.NewTUI(program))

	if _, err := program.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "jarvis: %v\n", err)
		os.Exit(1)
	}
}

func openLogFile() (*os.File, error) {
	dir := configDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(filepath.Join(dir, "jarvis.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600) // #nosec G304
}
