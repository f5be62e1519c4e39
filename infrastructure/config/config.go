package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcutil"
	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	"github.com/ringchain/ringd/app/protocol/blockdownloader"
	"github.com/ringchain/ringd/app/syncmanager"
	"github.com/ringchain/ringd/domain/chain/model"
	"github.com/ringchain/ringd/infrastructure/logger"
	"github.com/ringchain/ringd/infrastructure/network/grpcpeer"
	"github.com/ringchain/ringd/version"
)

const (
	defaultConfigFilename   = "ringd.conf"
	defaultDataDirname      = "data"
	defaultLogLevel         = "info"
	defaultLogDirname       = "logs"
	defaultLogFilename      = "ringd.log"
	defaultErrLogFilename   = "ringd_err.log"
	defaultBanDuration      = time.Hour * 24
	defaultFixedDifficulty  = 1
	defaultSyncRestartDelay = time.Second * 10
	defaultPeerRefresh      = time.Minute
	defaultPeerInfoTimeout  = time.Second * 10
)

var (
	// DefaultAppDir is the default home directory for ringd.
	DefaultAppDir = btcutil.AppDataDir("ringd", false)

	defaultConfigFile = filepath.Join(DefaultAppDir, defaultConfigFilename)
)

// Flags defines the configuration options for ringd.
//
// See loadConfig for details on the configuration load process.
type Flags struct {
	ShowVersion   bool          `short:"V" long:"version" description:"Display version information and exit"`
	ConfigFile    string        `short:"C" long:"configfile" description:"Path to configuration file"`
	AppDir        string        `short:"b" long:"appdir" description:"Directory to store data"`
	LogDir        string        `long:"logdir" description:"Directory to log output."`
	DebugLevel    string        `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`
	Listeners     []string      `long:"listen" description:"Add an interface/port to serve our chain to peers on (default all interfaces port: 18080, testnet: 28080, stagenet: 38080)"`
	DisableListen bool          `long:"nolisten" description:"Do not serve our chain to peers"`
	ConnectPeers  []string      `long:"connect" description:"Sync from the specified peers"`
	Proxy         string        `long:"proxy" description:"Connect via SOCKS5 proxy (eg. 127.0.0.1:9050)"`
	ProxyUser     string        `long:"proxyuser" description:"Username for proxy server"`
	ProxyPass     string        `long:"proxypass" default-mask:"-" description:"Password for proxy server"`
	MetricsListen string        `long:"metricslisten" description:"Serve prometheus metrics on this interface/port (eg. 127.0.0.1:9090)"`
	BanDuration   time.Duration `long:"banduration" description:"How long to ban misbehaving peers. Valid time units are {s, m, h}. Minimum 1 second"`
	Profile       string        `long:"profile" description:"Enable HTTP profiling on given port -- NOTE port must be between 1024 and 65536"`

	FixedDifficulty uint64        `long:"fixeddifficulty" description:"Difficulty credited to every downloaded block"`
	PeerRefresh     time.Duration `long:"peerrefresh" description:"How often the chain info of idle peers is refreshed"`
	PeerInfoTimeout time.Duration `long:"peerinfotimeout" description:"How long to wait for a peer's chain info"`
	SyncRestart     time.Duration `long:"syncrestartdelay" description:"How long to wait between two syncs"`

	DownloaderFlags `group:"Block download options"`
	NetworkFlags
}

// DownloaderFlags holds the block downloader's policy options.
type DownloaderFlags struct {
	BufferBytes                int           `long:"bufferbytes" description:"Bytes of downloaded blocks buffered before the chain store takes them"`
	InProgressQueueBytes       int           `long:"inprogressqueuebytes" description:"Bytes of out of order blocks held before requests for new batches stop"`
	CheckClientPoolInterval    time.Duration `long:"checkclientpoolinterval" description:"How often the peer pool is polled for peers to sync from"`
	TargetBatchBytes           int           `long:"targetbatchbytes" description:"Size batches of blocks are adjusted towards"`
	InitialBatchLen            int           `long:"initialbatchlen" description:"Number of blocks in the first batch"`
	MaxDownloadFailures        int           `long:"maxdownloadfailures" description:"Number of times one batch may fail before the download is aborted"`
	EmptyChainEntriesBeforeTop int           `long:"emptychainentriesbeforetop" description:"Number of chain entries without new blocks after which the top of the chain is assumed"`
	MaxBatchRequests           int           `long:"maxbatchrequests" description:"Number of peers one batch may be requested from at the same time"`
	RequestTimeout             time.Duration `long:"requesttimeout" description:"How long to wait for a batch of blocks"`
	ChainEntryTimeout          time.Duration `long:"chainentrytimeout" description:"How long to wait for a chain entry"`
}

// Config defines the configuration options for ringd.
//
// See loadConfig for details on the configuration load process.
type Config struct {
	*Flags
	DataDir string
	Dial    grpcpeer.DialFunc
}

func defaultFlags() *Flags {
	downloaderDefaults := blockdownloader.DefaultConfig()
	return &Flags{
		ConfigFile:      defaultConfigFile,
		AppDir:          DefaultAppDir,
		DebugLevel:      defaultLogLevel,
		BanDuration:     defaultBanDuration,
		FixedDifficulty: defaultFixedDifficulty,
		PeerRefresh:     defaultPeerRefresh,
		PeerInfoTimeout: defaultPeerInfoTimeout,
		SyncRestart:     defaultSyncRestartDelay,
		DownloaderFlags: DownloaderFlags{
			BufferBytes:                downloaderDefaults.BufferBytes,
			InProgressQueueBytes:       downloaderDefaults.InProgressQueueBytes,
			CheckClientPoolInterval:    downloaderDefaults.CheckClientPoolInterval,
			TargetBatchBytes:           downloaderDefaults.TargetBatchBytes,
			InitialBatchLen:            downloaderDefaults.InitialBatchLen,
			MaxDownloadFailures:        downloaderDefaults.MaxDownloadFailures,
			EmptyChainEntriesBeforeTop: downloaderDefaults.EmptyChainEntriesBeforeTopAssumed,
			MaxBatchRequests:           downloaderDefaults.MaxBatchRequests,
			RequestTimeout:             downloaderDefaults.RequestTimeout,
			ChainEntryTimeout:          downloaderDefaults.ChainEntryTimeout,
		},
	}
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		homeDir := filepath.Dir(DefaultAppDir)
		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but they variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

// LoadConfig initializes and parses the config using a config file and
// command line options.
func LoadConfig() (*Config, error) {
	return loadConfig(os.Args[1:])
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
// The above results in ringd functioning properly without any config settings
// while still allowing the user to override settings with config files and
// command line options. Command line options always take precedence.
func loadConfig(args []string) (*Config, error) {
	cfgFlags := defaultFlags()

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified. Any errors aside from the
	// help message error can be ignored here since they will be caught by
	// the final parse below.
	preCfg := *cfgFlags
	preParser := flags.NewParser(&preCfg, flags.HelpFlag)
	_, err := preParser.ParseArgs(args)
	if err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
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

	// A custom app dir moves the default config file with it.
	configFile := preCfg.ConfigFile
	if configFile == defaultConfigFile && preCfg.AppDir != DefaultAppDir {
		configFile = filepath.Join(cleanAndExpandPath(preCfg.AppDir), defaultConfigFilename)
	}

	parser := flags.NewParser(cfgFlags, flags.Default)
	err = flags.NewIniParser(parser).ParseFile(configFile)
	if err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			fmt.Fprintf(os.Stderr, "Error parsing config file: %s\n", err)
			fmt.Fprintln(os.Stderr, usageMessage)
			return nil, err
		}
		log.Debugf("No config file at %s", configFile)
	}

	// Parse command line options again to ensure they take precedence.
	_, err = parser.ParseArgs(args)
	if err != nil {
		var flagsErr *flags.Error
		if !errors.As(err, &flagsErr) || flagsErr.Type != flags.ErrHelp {
			fmt.Fprintln(os.Stderr, usageMessage)
		}
		return nil, err
	}

	cfg := &Config{Flags: cfgFlags}
	err = cfg.ResolveNetwork(parser)
	if err != nil {
		return nil, err
	}

	err = cfg.validate()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, err
	}

	// Namespace the data and log directories per network.
	cfg.AppDir = cleanAndExpandPath(cfg.AppDir)
	cfg.DataDir = filepath.Join(cfg.AppDir, cfg.NetParams().Name, defaultDataDirname)
	if cfg.LogDir == "" {
		cfg.LogDir = filepath.Join(cfg.AppDir, defaultLogDirname)
	}
	cfg.LogDir = filepath.Join(cleanAndExpandPath(cfg.LogDir), cfg.NetParams().Name)

	if !cfg.DisableListen && len(cfg.Listeners) == 0 {
		cfg.Listeners = []string{net.JoinHostPort("", cfg.NetParams().DefaultPort)}
	}
	if cfg.Proxy != "" {
		cfg.Dial = grpcpeer.ProxyDialer(cfg.Proxy, cfg.ProxyUser, cfg.ProxyPass)
	}
	return cfg, nil
}

func (cfg *Config) validate() error {
	funcName := "loadConfig"
	if cfg.BanDuration < time.Second {
		return errors.Errorf("%s: The banduration option may not be less than 1s -- parsed [%s]",
			funcName, cfg.BanDuration)
	}
	if cfg.FixedDifficulty == 0 {
		return errors.Errorf("%s: The fixeddifficulty option must be positive", funcName)
	}
	if cfg.InitialBatchLen < 1 || cfg.InitialBatchLen > blockdownloader.MaxBlockBatchLen {
		return errors.Errorf("%s: The initialbatchlen option must be between 1 and %d -- parsed [%d]",
			funcName, blockdownloader.MaxBlockBatchLen, cfg.InitialBatchLen)
	}
	positive := []struct {
		name  string
		value int64
	}{
		{"bufferbytes", int64(cfg.BufferBytes)},
		{"inprogressqueuebytes", int64(cfg.InProgressQueueBytes)},
		{"targetbatchbytes", int64(cfg.TargetBatchBytes)},
		{"maxdownloadfailures", int64(cfg.MaxDownloadFailures)},
		{"emptychainentriesbeforetop", int64(cfg.EmptyChainEntriesBeforeTop)},
		{"maxbatchrequests", int64(cfg.MaxBatchRequests)},
		{"checkclientpoolinterval", int64(cfg.CheckClientPoolInterval)},
		{"requesttimeout", int64(cfg.RequestTimeout)},
		{"chainentrytimeout", int64(cfg.ChainEntryTimeout)},
		{"peerrefresh", int64(cfg.PeerRefresh)},
		{"peerinfotimeout", int64(cfg.PeerInfoTimeout)},
	}
	for _, option := range positive {
		if option.value <= 0 {
			return errors.Errorf("%s: The %s option must be positive -- parsed [%d]",
				funcName, option.name, option.value)
		}
	}
	// Validate profile port number
	if cfg.Profile != "" {
		profilePort, err := strconv.Atoi(cfg.Profile)
		if err != nil || profilePort < 1024 || profilePort > 65535 {
			return errors.Errorf("%s: The profile port must be between 1024 and 65535", funcName)
		}
	}

	for _, peer := range cfg.ConnectPeers {
		_, _, err := net.SplitHostPort(peer)
		if err != nil {
			return errors.Errorf("%s: The connect address %s is invalid: %s", funcName, peer, err)
		}
	}

	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", logger.SupportedSubsystems())
		os.Exit(0)
	}
	return nil
}

// LogFile returns the path of the main log file.
func (cfg *Config) LogFile() string {
	return filepath.Join(cfg.LogDir, defaultLogFilename)
}

// ErrLogFile returns the path of the error log file.
func (cfg *Config) ErrLogFile() string {
	return filepath.Join(cfg.LogDir, defaultErrLogFilename)
}

// DownloaderConfig returns the block downloader's configuration.
func (cfg *Config) DownloaderConfig() *blockdownloader.Config {
	return &blockdownloader.Config{
		BufferBytes:                       cfg.BufferBytes,
		InProgressQueueBytes:              cfg.InProgressQueueBytes,
		CheckClientPoolInterval:           cfg.CheckClientPoolInterval,
		TargetBatchBytes:                  cfg.TargetBatchBytes,
		InitialBatchLen:                   cfg.InitialBatchLen,
		MaxDownloadFailures:               cfg.MaxDownloadFailures,
		EmptyChainEntriesBeforeTopAssumed: cfg.EmptyChainEntriesBeforeTop,
		MaxBatchRequests:                  cfg.MaxBatchRequests,
		RequestTimeout:                    cfg.RequestTimeout,
		ChainEntryTimeout:                 cfg.ChainEntryTimeout,
	}
}

// SyncManagerConfig returns the sync manager's configuration.
func (cfg *Config) SyncManagerConfig() *syncmanager.Config {
	return &syncmanager.Config{
		Downloader:   cfg.DownloaderConfig(),
		RestartDelay: cfg.SyncRestart,
	}
}

// Difficulty returns the difficulty credited to every block.
func (cfg *Config) Difficulty() model.Difficulty {
	return model.DifficultyFromUint64(cfg.FixedDifficulty)
}
