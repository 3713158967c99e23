// Package toolbox holds the tools the chat loop offers to the model: running
// python snippets, weather and crypto lookups, image generation and file
// operations confined to a workspace directory.
package toolbox

import (
	"net/http"
	"time"

	"github.com/go-go-golems/threadkeeper/pkg/inference/tools"
	"github.com/pkg/errors"
	go_openai "github.com/sashabaranov/go-openai"
	"github.com/spf13/afero"
)

const (
	DefaultWeatherBaseURL = "https://api.openweathermap.org/data/2.5"
	DefaultCryptoBaseURL  = "https://api.coingecko.com/api/v3"
	DefaultPython         = "python3"
)

type Toolbox struct {
	workspace      afero.Fs
	workspaceDir   string
	httpClient     *http.Client
	openai         *go_openai.Client
	python         string
	weatherAPIKey  string
	weatherBaseURL string
	cryptoAPIKey   string
	cryptoBaseURL  string
}

type Option func(*Toolbox)

// WithWorkspace confines the file tools to dir. Without it they are not
// registered.
func WithWorkspace(dir string) Option {
	return func(t *Toolbox) {
		if dir == "" {
			return
		}
		t.workspaceDir = dir
		t.workspace = afero.NewBasePathFs(afero.NewOsFs(), dir)
	}
}

// WithWorkspaceFs uses fs as the workspace, mostly for tests.
func WithWorkspaceFs(fs afero.Fs) Option {
	return func(t *Toolbox) { t.workspace = fs }
}

func WithHTTPClient(c *http.Client) Option {
	return func(t *Toolbox) { t.httpClient = c }
}

// WithOpenAIClient enables generate_image.
func WithOpenAIClient(c *go_openai.Client) Option {
	return func(t *Toolbox) { t.openai = c }
}

func WithPython(binary string) Option {
	return func(t *Toolbox) {
		if binary != "" {
			t.python = binary
		}
	}
}

func WithWeatherAPI(apiKey, baseURL string) Option {
	return func(t *Toolbox) {
		t.weatherAPIKey = apiKey
		if baseURL != "" {
			t.weatherBaseURL = baseURL
		}
	}
}

func WithCryptoAPI(apiKey, baseURL string) Option {
	return func(t *Toolbox) {
		t.cryptoAPIKey = apiKey
		if baseURL != "" {
			t.cryptoBaseURL = baseURL
		}
	}
}

func New(opts ...Option) *Toolbox {
	t := &Toolbox{
		httpClient:     &http.Client{Timeout: 20 * time.Second},
		python:         DefaultPython,
		weatherBaseURL: DefaultWeatherBaseURL,
		cryptoBaseURL:  DefaultCryptoBaseURL,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

type toolSpec struct {
	name        string
	description string
	fn          interface{}
}

func (t *Toolbox) specs() []toolSpec {
	ret := []toolSpec{
		{"exec_python", "Execute a python snippet and return what it printed.", t.ExecPython},
		{"get_current_weather", "Get the current weather in a given location.", t.GetCurrentWeather},
		{"get_crypto_price", "Get the current price of a cryptocurrency.", t.GetCryptoPrice},
	}
	if t.openai != nil {
		ret = append(ret, toolSpec{"generate_image", "Generate an image from a prompt and return its URL.", t.GenerateImage})
	}
	if t.workspace != nil {
		ret = append(ret,
			toolSpec{"write_file", "Write content to a file in the workspace.", t.WriteFile},
			toolSpec{"read_file", "Read a file from the workspace.", t.ReadFile},
			toolSpec{"list_files", "List the files of a workspace directory.", t.ListFiles},
			toolSpec{"delete_file", "Delete a file from the workspace.", t.DeleteFile},
		)
	}
	return ret
}

// Register adds every available tool to reg.
func (t *Toolbox) Register(reg *tools.InMemoryToolRegistry) error {
	for _, s := range t.specs() {
		def, err := tools.NewToolFromFunc(s.name, s.description, s.fn)
		if err != nil {
			return errors.Wrapf(err, "create tool %s", s.name)
		}
		if err := reg.Register(def); err != nil {
			return errors.Wrapf(err, "register tool %s", s.name)
		}
	}
	return nil
}
