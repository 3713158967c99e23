package cmds

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/go-go-golems/threadkeeper/pkg/conversation"
	"github.com/go-go-golems/threadkeeper/pkg/persistence"
	"github.com/go-go-golems/threadkeeper/pkg/threads"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func NewThreadsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threads",
		Short: "Inspect and delete stored threads",
	}
	cmd.AddCommand(newThreadsListCommand(), newThreadsShowCommand(), newThreadsDeleteCommand())
	return cmd
}

func newThreadsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the ids of stored threads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings()
			if err != nil {
				return err
			}
			_, store, err := openRegistry(s)
			if err != nil {
				return err
			}
			defer closeStore(store)

			lister, ok := store.(persistence.Lister)
			if !ok {
				return errors.New("the configured backend cannot list threads")
			}
			ids, err := lister.List(cmd.Context())
			if err != nil {
				return err
			}
			sort.Strings(ids)
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
}

type threadDump struct {
	Thread   threads.ThreadInfo      `json:"thread" yaml:"thread"`
	Messages []conversation.Envelope `json:"messages" yaml:"messages"`
}

func newThreadsShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <thread-id>",
		Short: "Print the messages of a stored thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output, err := cmd.Flags().GetString("output")
			if err != nil {
				return err
			}
			s, err := loadSettings()
			if err != nil {
				return err
			}
			reg, store, err := openRegistry(s)
			if err != nil {
				return err
			}
			defer closeStore(store)

			id := args[0]
			if err := reg.Load(cmd.Context(), id); err != nil {
				return err
			}
			info, err := reg.Info(id)
			if err != nil {
				return err
			}
			envs, err := reg.Messages(id)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			dump := threadDump{Thread: info, Messages: envs}
			switch output {
			case "yaml":
				enc := yaml.NewEncoder(w)
				enc.SetIndent(2)
				if err := enc.Encode(dump); err != nil {
					return err
				}
				return enc.Close()
			case "json":
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(dump)
			case "text":
				fmt.Fprintf(w, "thread %s: %d messages, %d characters\n\n", info.ID, info.Length, info.Chars)
				for _, e := range envs {
					fmt.Fprintln(w, e.Message.String())
				}
				return nil
			default:
				return errors.Errorf("unknown output format %q", output)
			}
		},
	}
	cmd.Flags().StringP("output", "o", "text", "Output format (text, yaml, json)")
	return cmd
}

func newThreadsDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <thread-id>...",
		Short: "Delete stored threads",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings()
			if err != nil {
				return err
			}
			reg, store, err := openRegistry(s)
			if err != nil {
				return err
			}
			defer closeStore(store)

			for _, id := range args {
				if _, err := store.Load(cmd.Context(), id); err != nil {
					return errors.Wrapf(err, "thread %s", id)
				}
				if err := reg.DeleteStored(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
			}
			return nil
		},
	}
}

func closeStore(store persistence.Store) {
	if err := store.Close(); err != nil {
		log.Warn().Err(err).Msg("could not close thread store")
	}
}
