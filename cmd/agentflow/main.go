package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mohitkumar/agentflow/analytics"
	"github.com/mohitkumar/agentflow/app"
	"github.com/mohitkumar/agentflow/config"
	"github.com/mohitkumar/agentflow/logger"
	"github.com/mohitkumar/agentflow/metadata"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type cli struct {
	cfg config.Config
}

func setupFlags(cmd *cobra.Command) error {
	defaults := config.Default()
	cmd.PersistentFlags().String("config-file", "", "Path to config file.")
	cmd.PersistentFlags().String("storage-impl", string(defaults.StorageType), "implementation of underline storage, redis or memory")
	cmd.PersistentFlags().String("redis-addr", strings.Join(defaults.RedisConfig.Addrs, ","), "comma separated list of redis host:port")
	cmd.PersistentFlags().String("namespace", defaults.RedisConfig.Namespace, "namespace used in storage")
	cmd.PersistentFlags().String("memory-db", defaults.MemoryDBPath, "sqlite file backing memory channels")
	cmd.PersistentFlags().Int("http-port", defaults.HttpPort, "http port for rest endpoints")
	cmd.PersistentFlags().Int("worker-count", defaults.WorkerCount, "number of job workers")
	cmd.PersistentFlags().Duration("poll-interval", defaults.PollInterval, "how long an idle worker waits before polling again")
	cmd.PersistentFlags().Duration("expiry-interval", defaults.ExpiryInterval, "how often overdue interaction requests are resolved")
	cmd.PersistentFlags().Duration("step-retry-delay", defaults.StepRetryDelay, "delay before a failed step is attempted again")
	cmd.PersistentFlags().String("openai-api-key", "", "api key of the OpenAI compatible endpoint")
	cmd.PersistentFlags().String("openai-base-url", "", "base url of the OpenAI compatible endpoint")
	cmd.PersistentFlags().String("analytics-collector", string(defaults.AnalyticsConfig.CollectorType), "analytics collector type")
	cmd.PersistentFlags().String("analytics-file", "", "output file of the log file analytics collector")
	cmd.PersistentFlags().String("log-level", defaults.LogLevel, "log level")
	cmd.PersistentFlags().Bool("development", false, "human readable logs")
	return viper.BindPFlags(cmd.PersistentFlags())
}

func (c *cli) setupConfig(cmd *cobra.Command, args []string) error {
	var err error

	viper.SetEnvPrefix("AGENTFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	configFile := viper.GetString("config-file")
	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err = viper.ReadInConfig(); err != nil {
			return err
		}
	}

	c.cfg = config.Default()
	// nested sections such as retry-policy and provider-policies only come from the file
	if err = viper.Unmarshal(&c.cfg); err != nil {
		return err
	}
	c.cfg.StorageType = config.StorageType(viper.GetString("storage-impl"))
	c.cfg.RedisConfig.Addrs = strings.Split(viper.GetString("redis-addr"), ",")
	c.cfg.RedisConfig.Namespace = viper.GetString("namespace")
	c.cfg.MemoryDBPath = viper.GetString("memory-db")
	c.cfg.HttpPort = viper.GetInt("http-port")
	c.cfg.WorkerCount = viper.GetInt("worker-count")
	c.cfg.PollInterval = viper.GetDuration("poll-interval")
	c.cfg.ExpiryInterval = viper.GetDuration("expiry-interval")
	c.cfg.StepRetryDelay = viper.GetDuration("step-retry-delay")
	if key := viper.GetString("openai-api-key"); key != "" {
		c.cfg.OpenAIConfig.APIKey = key
	}
	if url := viper.GetString("openai-base-url"); url != "" {
		c.cfg.OpenAIConfig.BaseURL = url
	}
	c.cfg.AnalyticsConfig.CollectorType = analytics.DataCollectorType(viper.GetString("analytics-collector"))
	if file := viper.GetString("analytics-file"); file != "" {
		c.cfg.AnalyticsConfig.FileName = file
	}
	c.cfg.LogLevel = viper.GetString("log-level")
	c.cfg.Development = viper.GetBool("development")

	if err = logger.Init(c.cfg.LogLevel, c.cfg.Development); err != nil {
		return err
	}
	return c.cfg.Validate()
}

func (c *cli) serve(cmd *cobra.Command, args []string) error {
	a, err := app.New(c.cfg)
	if err != nil {
		return err
	}
	if catalogFile, _ := cmd.Flags().GetString("catalog-file"); catalogFile != "" {
		if err := loadCatalog(cmd.Context(), a, catalogFile); err != nil {
			_ = a.Shutdown()
			return err
		}
	}
	if err := a.Start(true); err != nil {
		return err
	}
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	return a.Shutdown()
}

func (c *cli) loadCatalog(cmd *cobra.Command, args []string) error {
	a, err := app.New(c.cfg)
	if err != nil {
		return err
	}
	defer a.Shutdown()
	for _, file := range args {
		if err := loadCatalog(cmd.Context(), a, file); err != nil {
			return err
		}
	}
	return nil
}

func loadCatalog(ctx context.Context, a *app.App, file string) error {
	catalog, err := metadata.ReadCatalogFile(file)
	if err != nil {
		return err
	}
	if err := metadata.Import(ctx, a.MetadataService(), catalog); err != nil {
		return err
	}
	logger.Info("catalog loaded", zap.String("file", file), zap.Int("agents", len(catalog.Agents)), zap.Int("flows", len(catalog.Flows)))
	return nil
}

func main() {
	cli := &cli{}

	root := &cobra.Command{
		Use:               "agentflow",
		Short:             "Runs multi step LLM agent flows",
		PersistentPreRunE: cli.setupConfig,
		SilenceUsage:      true,
	}
	if err := setupFlags(root); err != nil {
		log.Fatal(err)
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start the http api and the job workers",
		RunE:  cli.serve,
	}
	serve.Flags().String("catalog-file", "", "catalog of agents and flows loaded before serving")

	catalog := &cobra.Command{
		Use:   "catalog",
		Short: "Manage agent and flow definitions",
	}
	catalog.AddCommand(&cobra.Command{
		Use:   "load [file...]",
		Short: "Load agent versions and flow definitions from yaml or json files",
		Args:  cobra.MinimumNArgs(1),
		RunE:  cli.loadCatalog,
	})

	root.AddCommand(serve, catalog)
	if err := root.ExecuteContext(context.Background()); err != nil {
		log.Fatal(err)
	}
}
