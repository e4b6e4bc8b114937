package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcutil"
	"github.com/jessevdk/go-flags"
	"github.com/kaspanet/go-secp256k1"
	"github.com/orbisnet/orbisd/chain"
	"github.com/orbisnet/orbisd/infrastructure/logger"
	"github.com/orbisnet/orbisd/version"
	"github.com/pkg/errors"
	"github.com/tyler-smith/go-bip39"
)

const (
	defaultConfigFilename = "orbisd.conf"
	defaultDataDirname    = "data"
	defaultLogLevel       = "info"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "orbisd.log"
	defaultErrLogFilename = "orbisd_err.log"
)

var (
	// DefaultHomeDir is the default home directory for orbisd.
	DefaultHomeDir = btcutil.AppDataDir("orbisd", false)

	defaultConfigFile = filepath.Join(DefaultHomeDir, defaultConfigFilename)
	defaultDataDir    = filepath.Join(DefaultHomeDir, defaultDataDirname)
	defaultLogDir     = filepath.Join(DefaultHomeDir, defaultLogDirname)
)

var activeConfig *Config

// Flags defines the configuration options for orbisd.
//
// See loadConfig for details on the configuration load process.
type Flags struct {
	ShowVersion bool   `short:"V" long:"version" description:"Display version information and exit"`
	ConfigFile  string `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir     string `short:"b" long:"datadir" description:"Directory to store data"`
	LogDir      string `long:"logdir" description:"Directory to log output"`
	DebugLevel  string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`

	Produce         bool   `long:"produce" description:"Produce blocks for the configured witness"`
	Witness         uint64 `long:"witness" description:"The witness id to produce blocks for"`
	WitnessMnemonic string `long:"witness-mnemonic" default-mask:"-" description:"BIP39 mnemonic the witness block signing key is derived from"`

	OpMaxsizeProportionPercent uint32 `long:"op-maxsize-proportion-percent" description:"Maximum share of the block size a single transaction may occupy, in percent"`
	MessageCacheSizeLimit      uint16 `long:"message-cache-size-limit" description:"Cap on the pending transaction queue for locally submitted transactions. 0 disables the cap; other values must be at least 3000"`
	DeduceInVerificationMode   bool   `long:"deduce-in-verification-mode" description:"Re-verify transaction authority while producing blocks"`

	NetworkFlags
}

// Config defines the configuration options for orbisd.
//
// See loadConfig for details on the configuration load process.
type Config struct {
	*Flags

	// WitnessSigningKey is derived from the witness mnemonic when block
	// production is enabled, nil otherwise.
	WitnessSigningKey *secp256k1.SchnorrKeyPair
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir := filepath.Dir(DefaultHomeDir)
		path = strings.Replace(path, "~", homeDir, 1)
	}
	return filepath.Clean(os.ExpandEnv(path))
}

// LoadAndSetActiveConfig loads the config that can afterward be accessed
// through ActiveConfig().
func LoadAndSetActiveConfig() error {
	tcfg, err := loadConfig()
	if err != nil {
		return err
	}
	activeConfig = tcfg
	return nil
}

// ActiveConfig is a getter to the main config.
func ActiveConfig() *Config {
	return activeConfig
}

// loadConfig initializes and parses the config using a config file and
// command line options.
//
// The configuration proceeds as follows:
//	1) Start with a default config with sane settings
//	2) Pre-parse the command line to check for an alternative config file
//	3) Load configuration file overwriting defaults with any specified options
//	4) Parse CLI options and overwrite/add any specified options
func loadConfig() (*Config, error) {
	cfgFlags := Flags{
		ConfigFile:                 defaultConfigFile,
		DataDir:                    defaultDataDir,
		LogDir:                     defaultLogDir,
		DebugLevel:                 defaultLogLevel,
		OpMaxsizeProportionPercent: chain.DefaultOpMaxsizeProportionPercent,
	}

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified. Any errors aside from the
	// help message error can be ignored here since they will be caught by
	// the final parse below.
	preCfg := cfgFlags
	preParser := flags.NewParser(&preCfg, flags.HelpFlag)
	_, err := preParser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stderr, err)
			return nil, err
		}
	}

	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	usageMessage := fmt.Sprintf("Use %s -h to show usage", appName)
	if preCfg.ShowVersion {
		fmt.Println(appName, "version", version.Version())
		os.Exit(0)
	}

	// Load additional config from file.
	var configFileError error
	parser := flags.NewParser(&cfgFlags, flags.Default)
	cfg := &Config{Flags: &cfgFlags}
	if !preCfg.SimNet || preCfg.ConfigFile != defaultConfigFile {
		err := flags.NewIniParser(parser).ParseFile(preCfg.ConfigFile)
		if err != nil {
			if _, ok := err.(*os.PathError); !ok {
				fmt.Fprintf(os.Stderr, "Error parsing config file: %s\n", err)
				fmt.Fprintln(os.Stderr, usageMessage)
				return nil, err
			}
			configFileError = err
		}
	}

	// Parse command line options again to ensure they take precedence.
	_, err = parser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			fmt.Fprintln(os.Stderr, usageMessage)
		}
		return nil, err
	}

	funcName := "loadConfig"
	err = os.MkdirAll(DefaultHomeDir, 0700)
	if err != nil {
		str := "%s: Failed to create home directory: %s"
		err := errors.Errorf(str, funcName, err)
		fmt.Fprintln(os.Stderr, err)
		return nil, err
	}

	err = cfg.ResolveNetwork(parser)
	if err != nil {
		return nil, err
	}

	// Append the network name to the data and log directories so they are
	// namespaced per network.
	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)
	cfg.DataDir = filepath.Join(cfg.DataDir, cfg.NetParams().Name)
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)
	cfg.LogDir = filepath.Join(cfg.LogDir, cfg.NetParams().Name)

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", logger.SupportedSubsystems())
		os.Exit(0)
	}

	// Initialize log rotation. After log rotation has been initialized,
	// the logger variables may be used.
	err = logger.InitLog(filepath.Join(cfg.LogDir, defaultLogFilename),
		filepath.Join(cfg.LogDir, defaultErrLogFilename))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing the log: %s\n", err)
		return nil, err
	}

	// Parse, validate, and set debug log level(s).
	err = logger.ParseAndSetDebugLevels(cfg.DebugLevel)
	if err != nil {
		err := errors.Errorf("%s: %s", funcName, err.Error())
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, err
	}

	if cfg.OpMaxsizeProportionPercent == 0 || cfg.OpMaxsizeProportionPercent > 100 {
		str := "%s: The op-maxsize-proportion-percent option must be " +
			"between 1 and 100 -- parsed [%d]"
		err := errors.Errorf(str, funcName, cfg.OpMaxsizeProportionPercent)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, err
	}

	if cfg.MessageCacheSizeLimit != 0 && cfg.MessageCacheSizeLimit < 3000 {
		str := "%s: The message-cache-size-limit option must be 0 or at " +
			"least 3000 -- parsed [%d]"
		err := errors.Errorf(str, funcName, cfg.MessageCacheSizeLimit)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, err
	}

	if cfg.Produce {
		cfg.WitnessSigningKey, err = deriveSigningKey(cfg.WitnessMnemonic)
		if err != nil {
			err := errors.Errorf("%s: %s", funcName, err.Error())
			fmt.Fprintln(os.Stderr, err)
			fmt.Fprintln(os.Stderr, usageMessage)
			return nil, err
		}
		if cfg.Witness == 0 {
			str := "%s: the produce flag is set, but no witness id was " +
				"specified"
			err := errors.Errorf(str, funcName)
			fmt.Fprintln(os.Stderr, err)
			fmt.Fprintln(os.Stderr, usageMessage)
			return nil, err
		}
	}

	// Warn about missing config file only after all other configuration is
	// done. This prevents the warning on help messages and invalid
	// options. Note this should go directly before the return.
	if configFileError != nil {
		log.Warnf("%s", configFileError)
	}

	return cfg, nil
}

// deriveSigningKey turns the witness mnemonic into a schnorr key pair. The
// first 32 bytes of the BIP39 seed are the private key.
func deriveSigningKey(mnemonic string) (*secp256k1.SchnorrKeyPair, error) {
	if mnemonic == "" {
		return nil, errors.New("the produce flag is set, but no witness " +
			"mnemonic was specified")
	}
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, errors.New("the witness mnemonic is not a valid BIP39 " +
			"mnemonic")
	}
	seed := bip39.NewSeed(mnemonic, "")
	var serialized secp256k1.SerializedPrivateKey
	copy(serialized[:], seed[:len(serialized)])
	keyPair, err := secp256k1.DeserializeSchnorrPrivateKey(&serialized)
	if err != nil {
		return nil, errors.Wrap(err, "deriving the witness signing key")
	}
	return keyPair, nil
}
