// Package config loads the configuration of a payout node from command line
// flags, QFNODE_ environment variables and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.vocdoni.io/dvote/db"
)

// EnvPrefix is prepended to the environment variable of every setting.
const EnvPrefix = "QFNODE"

// Config is the full node configuration.
type Config struct {
	Datadir   string
	DBType    string
	LogLevel  string
	LogOutput string
	API       API
	Metrics   Metrics
	Web3      Web3
	Round     Round
}

// API configures the HTTP server.
type API struct {
	Host string
	Port int
}

// Metrics configures the prometheus endpoint of the API.
type Metrics struct {
	Enabled bool
}

// Web3 configures the ERC20 payout token. With an empty RPC the node keeps
// balances in memory.
type Web3 struct {
	RPC     string
	PrivKey string
	Token   string
}

// Round describes the poll and distribution served by the node.
type Round struct {
	PollID              uint64
	Owner               string
	Duration            time.Duration
	IntStateTreeDepth   uint8
	MessageTreeSubDepth uint8
	MessageTreeDepth    uint8
	VoteOptionTreeDepth uint8
	CoordinatorPubKey   []string
	Recipients          []string
	Cooldown            time.Duration
	MaxContribution     string
	MaxCap              string
	VerifyingKey        string
	MergeInterval       time.Duration
	MergeBatch          int
}

// NewFlagSet returns the flag set of the node with its defaults.
func NewFlagSet() *flag.FlagSet {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	fs := flag.NewFlagSet("qfnode", flag.ContinueOnError)
	fs.String("config", "", "path to a YAML configuration file")
	fs.String("datadir", filepath.Join(home, ".qfnode"), "data directory")
	fs.String("dbType", db.TypePebble, "database backend")
	fs.String("logLevel", "info", "log level (debug, info, warn, error)")
	fs.String("logOutput", "stdout", "log output (stdout, stderr or filepath)")

	fs.String("api.host", "0.0.0.0", "API host")
	fs.Int("api.port", 9090, "API port")
	fs.Bool("metrics.enabled", true, "expose prometheus metrics on the API")

	fs.String("web3.rpc", "", "web3 RPC endpoint of the payout token chain, empty for an in-memory token")
	fs.String("web3.privKey", "", "hex private key of the custody account")
	fs.String("web3.token", "", "payout token address")

	fs.Uint64("round.pollId", 0, "poll identifier")
	fs.String("round.owner", "", "address of the round owner")
	fs.Duration("round.duration", 24*time.Hour, "voting period")
	fs.Uint8("round.intStateTreeDepth", 1, "intermediate state tree depth")
	fs.Uint8("round.messageTreeSubDepth", 2, "message tree subdepth")
	fs.Uint8("round.messageTreeDepth", 4, "message tree depth")
	fs.Uint8("round.voteOptionTreeDepth", 2, "vote option tree depth")
	fs.StringSlice("round.coordinatorPubKey", nil, "coordinator public key as x,y")
	fs.StringSlice("round.recipients", nil, "project recipient addresses in index order")
	fs.Duration("round.cooldown", 7*24*time.Hour, "time after the deadline before extra funds can be withdrawn")
	fs.String("round.maxContribution", "", "maximum voice credit contribution in token units")
	fs.String("round.maxCap", "0", "maximum funds held by the round, 0 for no cap")
	fs.String("round.verifyingKey", "", "path to the groth16 verifying key of the tally circuit")
	fs.Duration("round.mergeInterval", 10*time.Second, "interval between queue merge steps")
	fs.Int("round.mergeBatch", 0, "subroots merged per step, 0 for all")
	return fs
}

// Load parses args with fs and resolves every setting. Flags take precedence
// over environment variables, which take precedence over the config file.
func Load(fs *flag.FlagSet, args []string) (*Config, error) {
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}
	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	cfg := &Config{
		Datadir:   v.GetString("datadir"),
		DBType:    v.GetString("dbType"),
		LogLevel:  v.GetString("logLevel"),
		LogOutput: v.GetString("logOutput"),
		API: API{
			Host: v.GetString("api.host"),
			Port: v.GetInt("api.port"),
		},
		Metrics: Metrics{Enabled: v.GetBool("metrics.enabled")},
		Web3: Web3{
			RPC:     v.GetString("web3.rpc"),
			PrivKey: v.GetString("web3.privKey"),
			Token:   v.GetString("web3.token"),
		},
		Round: Round{
			PollID:              v.GetUint64("round.pollId"),
			Owner:               v.GetString("round.owner"),
			Duration:            v.GetDuration("round.duration"),
			IntStateTreeDepth:   uint8(v.GetUint("round.intStateTreeDepth")),
			MessageTreeSubDepth: uint8(v.GetUint("round.messageTreeSubDepth")),
			MessageTreeDepth:    uint8(v.GetUint("round.messageTreeDepth")),
			VoteOptionTreeDepth: uint8(v.GetUint("round.voteOptionTreeDepth")),
			CoordinatorPubKey:   v.GetStringSlice("round.coordinatorPubKey"),
			Recipients:          v.GetStringSlice("round.recipients"),
			Cooldown:            v.GetDuration("round.cooldown"),
			MaxContribution:     v.GetString("round.maxContribution"),
			MaxCap:              v.GetString("round.maxCap"),
			VerifyingKey:        v.GetString("round.verifyingKey"),
			MergeInterval:       v.GetDuration("round.mergeInterval"),
			MergeBatch:          v.GetInt("round.mergeBatch"),
		},
	}
	return cfg, cfg.Validate()
}

// Validate checks the settings that cannot be defaulted.
func (c *Config) Validate() error {
	var errs []error
	if c.Datadir == "" {
		errs = append(errs, errors.New("missing datadir"))
	}
	if c.API.Port < 0 || c.API.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid API port %d", c.API.Port))
	}
	if !common.IsHexAddress(c.Round.Owner) {
		errs = append(errs, fmt.Errorf("invalid round owner %q", c.Round.Owner))
	}
	if !common.IsHexAddress(c.Web3.Token) {
		errs = append(errs, fmt.Errorf("invalid payout token %q", c.Web3.Token))
	}
	for i, r := range c.Round.Recipients {
		if !common.IsHexAddress(r) {
			errs = append(errs, fmt.Errorf("invalid recipient %d %q", i, r))
		}
	}
	if len(c.Round.CoordinatorPubKey) != 2 {
		errs = append(errs, errors.New("coordinator public key needs two coordinates"))
	}
	if c.Round.Duration <= 0 {
		errs = append(errs, errors.New("round duration must be positive"))
	}
	if c.Round.MergeInterval <= 0 {
		errs = append(errs, errors.New("merge interval must be positive"))
	}
	if c.Web3.RPC != "" && c.Web3.PrivKey == "" {
		errs = append(errs, errors.New("web3 RPC requires a private key"))
	}
	return errors.Join(errs...)
}
