package main

import (
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/MonteCarloClub/plutonium/chaincfg"
	"github.com/MonteCarloClub/plutonium/chaincfg/chainhash"
	"github.com/MonteCarloClub/plutonium/log"
	"github.com/MonteCarloClub/plutonium/miner"
	"github.com/MonteCarloClub/plutonium/pool"
	"github.com/MonteCarloClub/plutonium/pooljson"
	"github.com/btcsuite/btcd/btcutil"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename = "plutonium.conf"
	defaultLogLevel       = "info"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "plutonium.log"
	defaultMode           = string(pooljson.ModeNano)
	defaultHashrate       = 100
)

var (
	defaultHomeDir    = btcutil.AppDataDir("plutonium", false)
	defaultConfigFile = filepath.Join(defaultHomeDir, defaultConfigFilename)
	defaultLogDir     = filepath.Join(defaultHomeDir, defaultLogDirname)
)

// config defines the configuration options for plutonium.
//
// See loadConfig for details on the configuration load process.
type config struct {
	ShowVersion bool   `short:"V" long:"version" description:"Display version information and exit"`
	ConfigFile  string `short:"C" long:"configfile" description:"Path to configuration file"`
	LogDir      string `long:"logdir" description:"Directory to log output"`
	DebugLevel  string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`

	Address    string `short:"a" long:"address" description:"Address rewarded for the mined shares"`
	Pool       string `short:"p" long:"pool" description:"Pool to connect to as host:port"`
	NoTLS      bool   `long:"notls" description:"Connect to the pool without TLS"`
	PoolCert   string `long:"poolcert" description:"File containing the certificate chain of the pool"`
	Proxy      string `long:"proxy" description:"Connect via SOCKS5 proxy (eg. 127.0.0.1:9050)"`
	ProxyUser  string `long:"proxyuser" description:"Username for proxy server"`
	ProxyPass  string `long:"proxypass" default-mask:"-" description:"Password for proxy server"`
	Mode       string `long:"mode" choice:"nano" choice:"smart" description:"Mining mode to register with"`
	DeviceID   uint32 `long:"deviceid" description:"Device identifier reported to the pool; derived from the host name and address when 0"`
	DeviceName string `long:"devicename" description:"Device name shown in the pool dashboard; defaults to the host name"`
	Hashrate   uint32 `long:"hashrate" description:"Expected hash rate in kH/s, used to pick the start difficulty"`
	Genesis    string `long:"genesis" description:"Genesis hash in hex of a network other than mainnet"`

	Devices   []uint32 `long:"devices" description:"Index of a GPU to mine on, counted across all platforms -- may be repeated; all GPUs when unset"`
	Memory    []uint32 `long:"memory" description:"Memory in MB to use on a GPU, in --devices order -- may be repeated; a single value applies to every GPU"`
	KernelDir string   `long:"kerneldir" description:"Directory holding replacement OpenCL kernels blake2b.cl and argon2d.cl; the built-in kernels are used when unset"`

	chainParams *chaincfg.Params
	poolConn    *pool.ConnConfig
	deviceData  *pooljson.DeviceData
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		homeDir := filepath.Dir(defaultHomeDir)
		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but they variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

// newConfigParser returns a new command line flags parser.
func newConfigParser(cfg *config, options flags.Options) *flags.Parser {
	return flags.NewParser(cfg, options)
}

// loadConfig initializes and parses the config using a config file and command
// line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
//
// The above results in plutonium functioning properly without any config
// settings while still allowing the user to override settings with config
// files and command line options.  Command line options always take
// precedence.
func loadConfig() (*config, []string, error) {
	// Default config.
	cfg := config{
		ConfigFile: defaultConfigFile,
		DebugLevel: defaultLogLevel,
		LogDir:     defaultLogDir,
		Mode:       defaultMode,
		Hashrate:   defaultHashrate,
	}

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified.  Any errors aside from the
	// help message error can be ignored here since they will be caught by
	// the final parse below.
	preCfg := cfg
	preParser := newConfigParser(&preCfg, flags.HelpFlag)
	_, err := preParser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stderr, err)
			return nil, nil, err
		}
	}

	// Show the version and exit if the version flag was specified.
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	usageMessage := fmt.Sprintf("Use %s -h to show usage", appName)
	if preCfg.ShowVersion {
		fmt.Println(appName, "version", version())
		os.Exit(0)
	}

	// Load additional config from file.
	var configFileError error
	parser := newConfigParser(&cfg, flags.Default)
	err = flags.NewIniParser(parser).ParseFile(preCfg.ConfigFile)
	if err != nil {
		if _, ok := err.(*os.PathError); !ok {
			fmt.Fprintf(os.Stderr, "Error parsing config "+
				"file: %v\n", err)
			fmt.Fprintln(os.Stderr, usageMessage)
			return nil, nil, err
		}
		if preCfg.ConfigFile != defaultConfigFile {
			return nil, nil, err
		}
		configFileError = err
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			fmt.Fprintln(os.Stderr, usageMessage)
		}
		return nil, nil, err
	}

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", log.SupportedSubsystems())
		os.Exit(0)
	}

	// Initialize log rotation.  After log rotation has been initialized,
	// the logger variables may be used.
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)
	if err := log.InitLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err
	}

	// Parse, validate, and set debug log level(s).
	if err := log.ParseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		err := fmt.Errorf("%s: %v", "loadConfig", err.Error())
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	if err := cfg.validate(); err != nil {
		err := fmt.Errorf("loadConfig: %v", err)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	// Warn about missing config file only after all other configuration is
	// done.  This prevents the warning on help messages and invalid
	// options.  Note this should go directly before the return.
	if configFileError != nil {
		log.PlmnLog.Debugf("%v", configFileError)
	}

	return &cfg, remainingArgs, nil
}

// validate checks the parsed options and derives the network, pool and device
// settings from them.
func (cfg *config) validate() error {
	cfg.Address = strings.TrimSpace(cfg.Address)
	if cfg.Address == "" {
		return errors.New("the --address option is required")
	}

	// The network defaults to mainnet.
	cfg.chainParams = &chaincfg.MainNetParams
	if cfg.Genesis != "" {
		genesis, err := chainhash.NewHashFromStr(cfg.Genesis)
		if err != nil {
			return fmt.Errorf("invalid --genesis: %v", err)
		}
		cfg.chainParams = chaincfg.CustomNetParams(*genesis)
	}

	if cfg.Pool == "" {
		cfg.Pool = cfg.chainParams.DefaultPoolHost
	}
	if cfg.Pool == "" {
		return errors.New("the --pool option is required with --genesis")
	}
	cfg.poolConn = &pool.ConnConfig{
		Host:       cfg.Pool,
		DisableTLS: cfg.NoTLS,
		Proxy:      cfg.Proxy,
		ProxyUser:  cfg.ProxyUser,
		ProxyPass:  cfg.ProxyPass,
	}
	if cfg.PoolCert != "" {
		if cfg.NoTLS {
			return errors.New("the --poolcert and --notls options " +
				"can't be used together")
		}
		certs, err := ioutil.ReadFile(cleanAndExpandPath(cfg.PoolCert))
		if err != nil {
			return err
		}
		cfg.poolConn.Certificates = certs
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "plutonium"
	}
	if cfg.DeviceName == "" {
		cfg.DeviceName = hostname
	}
	if cfg.DeviceID == 0 {
		cfg.DeviceID = pool.DeviceID(hostname, cfg.Address)
	}
	cfg.deviceData = &pooljson.DeviceData{
		DeviceName:      cfg.DeviceName,
		StartDifficulty: pool.StartDifficulty(cfg.Hashrate),
		MinerVersion:    "plutonium " + version(),
	}

	if cfg.KernelDir != "" {
		cfg.KernelDir = cleanAndExpandPath(cfg.KernelDir)
	}
	return nil
}

// loadKernels reads the OpenCL kernel sources from dir.  No sources are
// returned for an empty dir so the miner uses its built-in kernels.
func loadKernels(dir string) ([]string, error) {
	if dir == "" {
		return nil, nil
	}
	sources := make([]string, 0, len(miner.KernelFiles))
	for _, name := range miner.KernelFiles {
		source, err := ioutil.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to load kernel: %w", err)
		}
		sources = append(sources, string(source))
	}
	return sources, nil
}
