package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hupe1980/convoflow"
	"github.com/hupe1980/convoflow/core"
	"github.com/hupe1980/convoflow/domain"
	"github.com/hupe1980/convoflow/interpreter"
	anthropicinterp "github.com/hupe1980/convoflow/interpreter/anthropic"
	openaiinterp "github.com/hupe1980/convoflow/interpreter/openai"
	"github.com/hupe1980/convoflow/logging"
	"github.com/hupe1980/convoflow/metrics"
	"github.com/hupe1980/convoflow/policy"
	"github.com/hupe1980/convoflow/trackerstore/postgres"
	"github.com/hupe1980/convoflow/trackerstore/sqlite"
)

// CLI holds the configuration shared by all subcommands.
type CLI struct {
	v *viper.Viper

	logger  *logging.ConversationLogger
	metrics *http.Server
}

// NewRootCommand creates the root cobra command
func NewRootCommand() *cobra.Command {
	cli := &CLI{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:   "convoflow",
		Short: "Run a conversational agent from a domain file",
		Long: `convoflow loads a domain (intents, entities, slots and responses), keeps one
event-sourced tracker per conversation and answers messages with the actions
its policy predicts.

EXAMPLES:
  convoflow shell --domain domain.yml             # Chat on the terminal
  convoflow shell --store sqlite --dsn bot.db     # Keep conversations on disk
  convoflow parse '/greet{"name":"Ada"}'          # Show the parse result
  convoflow parse "hi there" --llm openai         # Classify with an LLM`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return cli.initialize(cmd)
		},
	}

	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "Config file (default convoflow.yaml in $HOME or .)")
	flags.StringP("domain", "d", "", "Domain file")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-format", "text", "Log format (text, json)")
	flags.String("store", "memory", "Tracker store (memory, sqlite, postgres)")
	flags.String("dsn", "", "Tracker store DSN or SQLite file path")
	flags.String("table", "", "Tracker table name")
	flags.String("nlu-url", "", "URL of a remote NLU server")
	flags.String("nlu-token", "", "Token sent to the NLU server")
	flags.String("llm", "", "Classify messages with an LLM (openai, anthropic)")
	flags.StringP("model", "m", "", "LLM model")
	flags.Float64("session-minutes", -1, "Session length in minutes, overrides the domain (0 disables expiry)")
	flags.Int("max-predictions", 0, "Actions predicted per message before the circuit breaks")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	flags.StringToString("intent-actions", nil, "Intent to action mapping, e.g. greet=utter_greet")

	// Add subcommands
	rootCmd.AddCommand(newShellCommand(cli))
	rootCmd.AddCommand(newParseCommand(cli))
	rootCmd.AddCommand(newVersionCommand())

	// Configure viper
	cli.v.SetConfigName("convoflow")
	cli.v.SetConfigType("yaml")
	cli.v.AddConfigPath("$HOME")
	cli.v.AddConfigPath(".")
	cli.v.SetEnvPrefix("CONVOFLOW")
	cli.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	cli.v.AutomaticEnv()

	return rootCmd
}

func (cli *CLI) initialize(cmd *cobra.Command) error {
	if err := cli.v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	if path := cli.v.GetString("config"); path != "" {
		cli.v.SetConfigFile(path)
	}
	if err := cli.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}

	cli.logger = logging.NewLogger(&logging.LoggerConfig{
		Level:     logging.ParseLevel(cli.v.GetString("log-level")),
		Format:    cli.v.GetString("log-format"),
		Output:    cmd.ErrOrStderr(),
		Component: "convoflow",
	})
	return nil
}

// newAgent wires the configured collaborators into an Agent.
func (cli *CLI) newAgent(ctx context.Context) (*convoflow.Agent, error) {
	d := domain.Empty()
	if path := cli.v.GetString("domain"); path != "" {
		loaded, err := domain.Load(path)
		if err != nil {
			return nil, err
		}
		d = loaded
	}

	store, err := cli.trackerStore(ctx, d)
	if err != nil {
		return nil, err
	}

	interp, err := cli.interpreter(d)
	if err != nil {
		return nil, err
	}

	var m *metrics.Metrics
	if addr := cli.v.GetString("metrics-addr"); addr != "" {
		reg := prometheus.NewRegistry()
		m = metrics.MustNew(reg)
		cli.serveMetrics(addr, reg)
	}

	optFns := []func(o *convoflow.Options){func(o *convoflow.Options) {
		o.Logger = cli.logger
		o.TrackerStore = store
		o.Interpreter = interp
		o.Policy = policy.NewEnsemble(
			policy.NewMapping(cli.v.GetStringMapString("intent-actions")),
			policy.NewFallback(),
		)
		o.MaxNumberOfPredictions = cli.v.GetInt("max-predictions")
		o.Metrics = m
		o.Diagnostics = core.LoggingSink{Logger: cli.logger.WithComponent("diagnostics")}
		o.OnCircuitBreak = func(tracker *core.Tracker) {
			cli.logger.WithSender(tracker.SenderID, tracker.LatestMessageID()).Warn("Circuit breaker tripped")
		}
	}}
	if minutes := cli.v.GetFloat64("session-minutes"); minutes >= 0 {
		optFns = append(optFns, func(o *convoflow.Options) { o.SessionExpirationMinutes = &minutes })
	}
	return convoflow.New(d, optFns...), nil
}

func (cli *CLI) trackerStore(ctx context.Context, d *domain.Domain) (core.TrackerStore, error) {
	dsn := cli.v.GetString("dsn")
	table := cli.v.GetString("table")
	logger := cli.logger.WithComponent("trackerstore")

	switch kind := cli.v.GetString("store"); kind {
	case "", "memory":
		return nil, nil
	case "sqlite":
		if dsn == "" {
			dsn = "convoflow.db"
		}
		store, err := sqlite.New(dsn, func(o *sqlite.Options) {
			o.Slots = d.Slots()
			o.Logger = logger
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	case "postgres":
		if dsn == "" {
			return nil, fmt.Errorf("%w: postgres store needs --dsn", core.ErrConfiguration)
		}
		store, err := postgres.Connect(ctx, dsn, func(o *postgres.Options) {
			o.Slots = d.Slots()
			o.Logger = logger
			if table != "" {
				o.Table = table
			}
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("%w: unknown tracker store %q", core.ErrConfiguration, kind)
	}
}

func (cli *CLI) interpreter(d *domain.Domain) (core.Interpreter, error) {
	vocab := interpreter.Vocabulary{Intents: d.Intents(), Entities: d.Entities()}
	model := cli.v.GetString("model")

	if url := cli.v.GetString("nlu-url"); url != "" {
		return interpreter.NewHTTP(url, func(o *interpreter.HTTPOptions) {
			o.Token = cli.v.GetString("nlu-token")
			o.Logger = cli.logger.WithComponent("interpreter")
		}), nil
	}

	switch llm := cli.v.GetString("llm"); llm {
	case "":
		return interpreter.NewRegex(), nil
	case "openai":
		return openaiinterp.New(vocab, func(o *openaiinterp.Options) {
			if model != "" {
				o.Model = model
			}
		}), nil
	case "anthropic":
		return anthropicinterp.New(vocab, func(o *anthropicinterp.Options) {
			if model != "" {
				o.Model = anthropic.Model(model)
			}
		}), nil
	default:
		return nil, fmt.Errorf("%w: unknown llm %q", core.ErrConfiguration, llm)
	}
}

func (cli *CLI) serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	cli.metrics = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := cli.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			cli.logger.Error("Metrics server failed", "error", err)
		}
	}()
	cli.logger.Info("Serving metrics", "addr", addr)
}

// shutdown stops the agent and the metrics server.
func (cli *CLI) shutdown(agent *convoflow.Agent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if cli.metrics != nil {
		_ = cli.metrics.Shutdown(ctx)
	}
	return agent.Stop(ctx)
}
