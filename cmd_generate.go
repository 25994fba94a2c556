package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/sealor/storyteller/pkg/config"
	"github.com/sealor/storyteller/pkg/persistence"
	"github.com/sealor/storyteller/pkg/story"
	"github.com/sealor/storyteller/pkg/studio"
)

var (
	promptID      int
	storyID       int
	userMessage   string
	systemMessage string
	outline       bool
	streaming     bool
	temperature   float64
	maxTokens     int
	model         string
	fallbacks     []string
	showHistory   bool
	outputPath    string
	historyFile   string
	interactive   bool
)

var (
	heading = color.New(color.FgCyan, color.Bold)
	warning = color.New(color.FgYellow)
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a story from an archetype or a free prompt",
	Long: `Generates a story. With --prompt-id and --story-id the catalog's system
prompt and archetype are used, otherwise --system and --message (or the
defaults) are sent as is.

With --interactive, "key: value" lines are collected after the first draft
and a blank line sends them as an update of the story.`,
	Args: cobra.NoArgs,
	RunE: runGenerate,
}

func addGenerateFlags(fs *pflag.FlagSet) {
	fs.IntVar(&promptID, "prompt-id", 0, "Catalog system prompt id")
	fs.IntVar(&storyID, "story-id", 0, "Catalog story archetype id")
	fs.StringVar(&userMessage, "message", "", "User message instead of an archetype")
	fs.StringVar(&systemMessage, "system", "", "System message")
	fs.BoolVar(&outline, "outline", false, "Ask for an outline instead of the full story")
	fs.BoolVar(&streaming, "stream", false, "Print the story while it is generated")
	fs.Float64Var(&temperature, "temp", 0, "Sampling temperature (default from config)")
	fs.IntVar(&maxTokens, "max-tokens", 0, "Maximum tokens of a reply (default from config)")
	fs.StringVar(&model, "model", "", "Primary model (default from config)")
	fs.StringSliceVar(&fallbacks, "fallback", nil, "Fallback models in order (default from config)")
	fs.BoolVar(&showHistory, "history", false, "Print the conversation history after the story")
	fs.StringVar(&outputPath, "output", "", "Write the story to this file instead of stdout")
	fs.StringVar(&historyFile, "history-file", "", "Save the conversation history (.json or .yaml)")
	fs.BoolVarP(&interactive, "interactive", "i", false, "Revise the story interactively")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyGenerateFlags(cmd.Flags(), &cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	systemPrompt, prompt, err := resolvePrompts(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	session := story.New(dialer(cfg), systemPrompt,
		story.WithConfig(cfg.Session()),
		story.WithStreaming(streaming),
		story.WithLogger(logger.Named("story")),
	)
	defer session.Close()

	out := cmd.OutOrStdout()
	if outputPath != "" {
		f, err := os.Create(outputPath)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	if err := generate(ctx, out, session, prompt); err != nil {
		return err
	}

	if interactive {
		heading.Fprintln(cmd.ErrOrStderr(), "Revise with key: value lines, a blank line sends them, Ctrl-D ends")
		if err := revise(ctx, out, cmd.ErrOrStderr(), session, revisionInput(cmd)); err != nil {
			return err
		}
	}

	if showHistory {
		heading.Fprintln(cmd.OutOrStdout(), "History")
		fmt.Fprint(cmd.OutOrStdout(), session.PrettyHistory())
	}
	if historyFile != "" {
		if err := persistence.SaveTranscript(historyFile, persistence.NewTranscriptFromSession(session)); err != nil {
			return err
		}
	}
	return nil
}

func applyGenerateFlags(fs *pflag.FlagSet, cfg *config.Config) {
	if fs.Changed("temp") {
		cfg.Temperature = temperature
	}
	if fs.Changed("max-tokens") {
		cfg.MaxTokens = maxTokens
	}
	if fs.Changed("model") {
		cfg.Model = model
	}
	if fs.Changed("fallback") {
		cfg.FallbackModels = fallbacks
	}
}

// resolvePrompts returns the system and user prompt of the first turn.
func resolvePrompts(cfg config.Config) (string, string, error) {
	if promptID == 0 && storyID == 0 {
		systemPrompt := systemMessage
		if systemPrompt == "" {
			systemPrompt = story.DefaultSystemPrompt
		}
		return systemPrompt, userMessage, nil
	}
	if promptID == 0 || storyID == 0 {
		return "", "", errors.New("--prompt-id and --story-id must be given together")
	}

	cat, err := openCatalog(cfg)
	if err != nil {
		return "", "", err
	}
	defer cat.Close()

	p, err := cat.Prompt(promptID)
	if err != nil {
		return "", "", err
	}
	s, err := cat.Story(storyID)
	if err != nil {
		return "", "", err
	}

	systemPrompt := p.SystemPrompt
	if systemMessage != "" {
		systemPrompt = systemMessage
	}
	mode := studio.ModeStory
	if outline {
		mode = studio.ModeOutline
	}
	prompt := studio.Brief(s, mode)
	if userMessage != "" {
		prompt += "\n" + userMessage
	}
	return systemPrompt, prompt, nil
}

func generate(ctx context.Context, w io.Writer, session *story.Session, prompt string) error {
	if !session.Config().Streaming {
		text, err := session.Generate(ctx, prompt)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, text)
		return nil
	}

	st, err := session.StreamGenerate(ctx, prompt)
	if err != nil {
		return err
	}
	return printStream(w, st)
}

func update(ctx context.Context, w io.Writer, session *story.Session, revisions []story.Revision) error {
	if !session.Config().Streaming {
		text, err := session.Update(ctx, revisions...)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, text)
		return nil
	}

	st, err := session.StreamUpdate(ctx, revisions...)
	if err != nil {
		return err
	}
	return printStream(w, st)
}

func printStream(w io.Writer, st *story.Stream) error {
	defer st.Close()
	for chunk := range st.Chunks() {
		fmt.Fprint(w, chunk)
	}
	fmt.Fprintln(w)
	return st.Err()
}

type lineReader interface {
	ReadLine() (string, error)
}

// revise reads "key: value" lines until EOF. A blank line sends the
// collected revisions as one update.
func revise(ctx context.Context, w, errw io.Writer, session *story.Session, lines lineReader) error {
	var revisions []story.Revision
	for {
		line, err := lines.ReadLine()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		if line != "" {
			r, ok := story.ParseRevision(line)
			if !ok {
				warning.Fprintln(errw, "expected key: value, got", line)
				continue
			}
			revisions = append(revisions, r)
			continue
		}
		if len(revisions) == 0 {
			continue
		}

		if err := update(ctx, w, session, revisions); err != nil {
			return err
		}
		revisions = nil
	}
}

// revisionInput reads from a raw terminal when stdin is one and from plain
// lines otherwise.
func revisionInput(cmd *cobra.Command) lineReader {
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return &rawTerminal{fd: int(f.Fd()), t: term.NewTerminal(f, "> ")}
	}
	return &scannerReader{scanner: bufio.NewScanner(in)}
}

type rawTerminal struct {
	fd int
	t  *term.Terminal
}

func (r *rawTerminal) ReadLine() (string, error) {
	oldState, err := term.MakeRaw(r.fd)
	if err != nil {
		return "", err
	}
	width, height, err := term.GetSize(r.fd)
	if err == nil {
		r.t.SetSize(width, height)
	}

	line, err := r.t.ReadLine()
	restoreErr := term.Restore(r.fd, oldState)
	if err != nil {
		return "", err
	}
	return line, restoreErr
}

type scannerReader struct {
	scanner *bufio.Scanner
}

func (s *scannerReader) ReadLine() (string, error) {
	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return s.scanner.Text(), nil
}
