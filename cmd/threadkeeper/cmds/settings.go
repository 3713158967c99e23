package cmds

import (
	"os"

	"github.com/go-go-golems/threadkeeper/pkg/config"
	"github.com/go-go-golems/threadkeeper/pkg/persistence"
	"github.com/go-go-golems/threadkeeper/pkg/threads"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

func loadSettings() (*config.Settings, error) {
	return config.Load(viper.GetViper())
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// openRegistry opens the configured backend and a registry writing through
// it. The returned store must be closed by the caller.
func openRegistry(s *config.Settings) (*threads.Registry, persistence.Store, error) {
	if !s.HasBackend() {
		return nil, nil, errors.Wrap(persistence.ErrNoBackend, "set --storage-dir or --database-url")
	}
	store, err := persistence.Open(s.PersistenceConfig())
	if err != nil {
		return nil, nil, errors.Wrap(err, "open thread store")
	}
	return threads.NewRegistry(threads.WithStore(store)), store, nil
}
