package cmds

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-go-golems/threadkeeper/pkg/config"
	"github.com/go-go-golems/threadkeeper/pkg/conversation"
	"github.com/go-go-golems/threadkeeper/pkg/events"
	"github.com/go-go-golems/threadkeeper/pkg/eviction"
	"github.com/go-go-golems/threadkeeper/pkg/inference/engine/openai"
	"github.com/go-go-golems/threadkeeper/pkg/inference/toolloop"
	"github.com/go-go-golems/threadkeeper/pkg/inference/tools"
	"github.com/go-go-golems/threadkeeper/pkg/persistence"
	"github.com/go-go-golems/threadkeeper/pkg/threads"
	"github.com/go-go-golems/threadkeeper/pkg/toolbox"
	"github.com/go-go-golems/threadkeeper/pkg/ui"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tcnksm/go-input"
)

const defaultStorageDir = "threads"

func NewChatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the model in a thread, letting it call tools",
		Args:  cobra.NoArgs,
		RunE:  runChat,
	}
	cmd.Flags().String("thread", "", "Resume a stored thread by id")
	cmd.Flags().Bool("ephemeral", false, "Never save the new thread")
	return cmd
}

type chatSession struct {
	settings    *config.Settings
	in          *bufio.Reader
	out         io.Writer
	interactive bool

	store    persistence.Store
	registry *threads.Registry
	loop     *toolloop.Loop
	renderer *ui.Renderer
	progress sync.WaitGroup
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	threadID, err := cmd.Flags().GetString("thread")
	if err != nil {
		return err
	}
	ephemeral, err := cmd.Flags().GetBool("ephemeral")
	if err != nil {
		return err
	}

	settings, err := loadSettings()
	if err != nil {
		return err
	}

	s := &chatSession{
		settings:    settings,
		in:          bufio.NewReader(os.Stdin),
		out:         cmd.OutOrStdout(),
		interactive: isTerminal(os.Stdin),
	}
	prompts := &input.UI{Writer: s.out, Reader: s.in}

	if err := s.ensureAPIKey(prompts); err != nil {
		return err
	}
	if threadID == "" && !ephemeral {
		if err := s.ensureBackend(prompts); err != nil {
			return err
		}
	}

	if settings.HasBackend() {
		s.store, err = persistence.Open(settings.PersistenceConfig())
		if err != nil {
			return errors.Wrap(err, "open thread store")
		}
		defer closeStore(s.store)
	}
	s.registry = threads.NewRegistry(
		threads.WithStore(s.store),
		threads.WithTemporary(settings.Temporary),
	)

	router, err := events.NewEventRouter(events.WithVerbose(viper.GetBool("verbose")))
	if err != nil {
		return err
	}
	router.AddToolCallHandler("log-tool-calls", events.LogToolCalls)

	routerCtx, cancelRouter := context.WithCancel(ctx)
	routerDone := make(chan error, 1)
	go func() {
		routerDone <- router.Run(routerCtx)
	}()
	defer func() {
		cancelRouter()
		_ = router.Close()
		if err := <-routerDone; err != nil {
			log.Warn().Err(err).Msg("event router stopped with an error")
		}
	}()
	select {
	case <-router.Running():
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := s.buildLoop(router); err != nil {
		return err
	}

	if s.store != nil && !settings.Temporary {
		evictor := eviction.NewEvictor(s.registry, s.evictionConfig())
		if err := evictor.Start(ctx); err != nil {
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := evictor.Stop(stopCtx); err != nil {
				log.Warn().Err(err).Msg("could not stop eviction loop")
			}
		}()
	}

	if threadID != "" {
		if err := s.registry.Load(ctx, threadID); err != nil {
			return errors.Wrapf(err, "resume thread %s", threadID)
		}
	} else {
		threadID = s.registry.Create(ephemeral || s.store == nil)
	}

	return s.repl(ctx, threadID)
}

func (s *chatSession) ensureAPIKey(prompts *input.UI) error {
	if s.settings.OpenAIAPIKey != "" {
		return nil
	}
	if !s.interactive {
		return errors.Wrap(config.ErrInvalidSettings, "no OpenAI API key, set OPENAI_API_KEY or --openai-api-key")
	}
	key, err := prompts.Ask("Please provide your OpenAI API key", &input.Options{
		Required:  true,
		Mask:      true,
		HideOrder: true,
		Loop:      true,
	})
	if err != nil {
		return err
	}
	s.settings.OpenAIAPIKey = strings.TrimSpace(key)
	return nil
}

// ensureBackend offers file storage when no backend is configured and a user
// is there to answer.
func (s *chatSession) ensureBackend(prompts *input.UI) error {
	if s.settings.HasBackend() || s.settings.Temporary || !s.interactive {
		return nil
	}
	answer, err := prompts.Ask("Do you want to save threads to files? [y/n]", &input.Options{
		Default:   "n",
		Required:  true,
		Loop:      true,
		HideOrder: true,
		ValidateFunc: func(answer string) error {
			switch answer {
			case "y", "Y", "n", "N":
				return nil
			default:
				return fmt.Errorf("please enter 'y' or 'n'")
			}
		},
	})
	if err != nil {
		return err
	}
	if answer != "y" && answer != "Y" {
		return nil
	}

	dir, err := prompts.Ask("Directory to store threads in", &input.Options{
		Default:   defaultStorageDir,
		Required:  true,
		HideOrder: true,
	})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create storage directory %s", dir)
	}
	s.settings.StorageDir = dir
	return nil
}

func (s *chatSession) buildLoop(router *events.EventRouter) error {
	client := openai.MakeClient(s.settings.OpenAIAPIKey, s.settings.OpenAIBaseURL)
	completer := openai.NewCompleter(client, openai.WithModel(s.settings.Model))

	toolRegistry := tools.NewInMemoryToolRegistry()
	box := toolbox.New(
		toolbox.WithWorkspace(s.settings.WorkspaceDir),
		toolbox.WithOpenAIClient(client),
		toolbox.WithWeatherAPI(s.settings.WeatherAPIKey, ""),
		toolbox.WithCryptoAPI(s.settings.CryptoAPIKey, ""),
	)
	if err := box.Register(toolRegistry); err != nil {
		return err
	}

	outInteractive := isTerminal(os.Stdout)
	table := ui.NewProgressTable(s.out, outInteractive)
	s.renderer = ui.NewRenderer(outInteractive, 0)

	s.loop = toolloop.New(completer, s.registry,
		toolloop.WithToolRegistry(toolRegistry),
		toolloop.WithLoopConfig(s.settings.LoopConfig()),
		toolloop.WithToolConfig(s.settings.ToolConfig()),
		toolloop.WithDispatcherOptions(
			tools.WithStatusPublisher(router.StatusPublisher()),
			tools.WithProgress(func(b *tools.Batch) {
				s.progress.Add(1)
				go func() {
					defer s.progress.Done()
					table.Watch(context.Background(), b)
				}()
			}),
		),
	)
	return nil
}

func (s *chatSession) evictionConfig() *eviction.Config {
	c := s.settings.EvictionConfig()
	c.OnEvict = func(threadID string, reason eviction.Reason) {
		log.Info().Str("thread_id", threadID).Str("reason", string(reason)).Msg("flushed thread")
	}
	c.OnError = func(err error) {
		log.Warn().Err(err).Msg("eviction failed")
	}
	return c
}

func (s *chatSession) repl(ctx context.Context, threadID string) error {
	info, err := s.registry.Info(threadID)
	if err != nil {
		return err
	}
	switch {
	case info.Ephemeral:
		fmt.Fprintf(s.out, "Thread %s (not saved)\n", threadID)
	case info.Length > 0:
		fmt.Fprintf(s.out, "Resumed thread %s with %d messages\n", threadID, info.Length)
	default:
		fmt.Fprintf(s.out, "Thread %s\n", threadID)
	}
	fmt.Fprintln(s.out, "Type 'exit' or 'quit' to leave.")

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		for {
			line, err := s.in.ReadString('\n')
			if line != "" {
				lines <- line
			}
			if err != nil {
				readErr <- err
				return
			}
		}
	}()

	for {
		fmt.Fprint(s.out, "\n> ")
		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(s.out)
			return s.saveOnExit(threadID)
		case err := <-readErr:
			if err != io.EOF {
				return err
			}
			return s.saveOnExit(threadID)
		case line = <-lines:
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return s.saveOnExit(threadID)
		}

		if err := s.turn(ctx, threadID, line); err != nil {
			if ctx.Err() != nil {
				return s.saveOnExit(threadID)
			}
			var mismatch *toolloop.ToolCallMismatchError
			if errors.As(err, &mismatch) {
				fmt.Fprintf(s.out, "Tool call mismatch: no result for %s\n", strings.Join(mismatch.Missing, ", "))
				continue
			}
			log.Error().Err(err).Str("thread_id", threadID).Msg("turn failed")
			fmt.Fprintf(s.out, "Error: %v\n", err)
		}
	}
}

func (s *chatSession) turn(ctx context.Context, threadID string, text string) error {
	reply, err := s.loop.Run(ctx, threadID, conversation.NewUserMessage(text))
	s.progress.Wait()
	if err != nil {
		return err
	}

	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, s.renderer.Render(reply.Content))
	s.save(ctx, threadID)
	return nil
}

// save writes a durable thread after a turn and reports where it went.
func (s *chatSession) save(ctx context.Context, threadID string) {
	if s.store == nil {
		return
	}
	err := s.registry.Save(ctx, threadID)
	switch {
	case err == nil:
		fmt.Fprintf(s.out, "\n(saved to %s)\n", persistence.Describe(s.store, threadID))
	case errors.Is(err, threads.ErrEphemeral):
	default:
		log.Warn().Err(err).Str("thread_id", threadID).Msg("could not save thread")
		fmt.Fprintf(s.out, "Could not save thread: %v\n", err)
	}
}

func (s *chatSession) saveOnExit(threadID string) error {
	if s.store == nil {
		return nil
	}
	saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := s.registry.Save(saveCtx, threadID)
	if err == nil || errors.Is(err, threads.ErrEphemeral) || errors.Is(err, threads.ErrUnknownThread) {
		return nil
	}
	return err
}
