package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ringchain/ringd/app/protocol/blockdownloader"
	"github.com/ringchain/ringd/domain/chain/params"
)

func TestLoadConfigDefaults(t *testing.T) {
	appDir := t.TempDir()
	cfg, err := loadConfig([]string{"--appdir", appDir})
	if err != nil {
		t.Fatalf("loadConfig: %s", err)
	}

	if cfg.NetParams() != &params.MainnetParams {
		t.Errorf("expected mainnet but got %s", cfg.NetParams().Name)
	}
	if cfg.DataDir != filepath.Join(appDir, "mainnet", "data") {
		t.Errorf("unexpected data dir %s", cfg.DataDir)
	}
	if cfg.LogFile() != filepath.Join(appDir, "logs", "mainnet", "ringd.log") {
		t.Errorf("unexpected log file %s", cfg.LogFile())
	}
	if len(cfg.Listeners) != 1 || cfg.Listeners[0] != ":18080" {
		t.Errorf("unexpected listeners %v", cfg.Listeners)
	}
	if cfg.Dial != nil {
		t.Errorf("no dialer is expected without a proxy")
	}
	if cfg.BanDuration != defaultBanDuration {
		t.Errorf("expected ban duration %s but got %s", defaultBanDuration, cfg.BanDuration)
	}

	expected := blockdownloader.DefaultConfig()
	downloaderConfig := cfg.DownloaderConfig()
	if *downloaderConfig != *expected {
		t.Errorf("expected the default downloader config %+v but got %+v", expected, downloaderConfig)
	}
	syncManagerConfig := cfg.SyncManagerConfig()
	if syncManagerConfig.RestartDelay != defaultSyncRestartDelay {
		t.Errorf("unexpected restart delay %s", syncManagerConfig.RestartDelay)
	}
}

func TestLoadConfigOptions(t *testing.T) {
	appDir := t.TempDir()
	cfg, err := loadConfig([]string{
		"--appdir", appDir,
		"--testnet",
		"--connect", "10.0.0.1:28080",
		"--connect", "10.0.0.2:28080",
		"--listen", "127.0.0.1:7000",
		"--proxy", "127.0.0.1:9050",
		"--banduration", "30m",
		"--initialbatchlen", "20",
		"--maxdownloadfailures", "3",
		"--requesttimeout", "1m",
	})
	if err != nil {
		t.Fatalf("loadConfig: %s", err)
	}

	if cfg.NetParams() != &params.TestnetParams {
		t.Errorf("expected testnet but got %s", cfg.NetParams().Name)
	}
	if cfg.DataDir != filepath.Join(appDir, "testnet", "data") {
		t.Errorf("unexpected data dir %s", cfg.DataDir)
	}
	if strings.Join(cfg.ConnectPeers, ",") != "10.0.0.1:28080,10.0.0.2:28080" {
		t.Errorf("unexpected peers %v", cfg.ConnectPeers)
	}
	if strings.Join(cfg.Listeners, ",") != "127.0.0.1:7000" {
		t.Errorf("unexpected listeners %v", cfg.Listeners)
	}
	if cfg.Dial == nil {
		t.Errorf("a proxy dialer is expected")
	}
	if cfg.BanDuration != 30*time.Minute {
		t.Errorf("unexpected ban duration %s", cfg.BanDuration)
	}

	downloaderConfig := cfg.DownloaderConfig()
	if downloaderConfig.InitialBatchLen != 20 {
		t.Errorf("unexpected initial batch length %d", downloaderConfig.InitialBatchLen)
	}
	if downloaderConfig.MaxDownloadFailures != 3 {
		t.Errorf("unexpected max download failures %d", downloaderConfig.MaxDownloadFailures)
	}
	if downloaderConfig.RequestTimeout != time.Minute {
		t.Errorf("unexpected request timeout %s", downloaderConfig.RequestTimeout)
	}
}

func TestLoadConfigFile(t *testing.T) {
	appDir := t.TempDir()
	configFile := "[Application Options]\nstagenet=1\nconnect=10.0.0.3:38080\nnolisten=1\nbanduration=2h\n"
	err := os.WriteFile(filepath.Join(appDir, defaultConfigFilename), []byte(configFile), 0600)
	if err != nil {
		t.Fatalf("WriteFile: %s", err)
	}

	// Command line options take precedence over the config file.
	cfg, err := loadConfig([]string{"--appdir", appDir, "--banduration", "3h"})
	if err != nil {
		t.Fatalf("loadConfig: %s", err)
	}
	if cfg.NetParams() != &params.StagenetParams {
		t.Errorf("expected stagenet but got %s", cfg.NetParams().Name)
	}
	if len(cfg.ConnectPeers) != 1 || cfg.ConnectPeers[0] != "10.0.0.3:38080" {
		t.Errorf("unexpected peers %v", cfg.ConnectPeers)
	}
	if len(cfg.Listeners) != 0 {
		t.Errorf("no listeners are expected with nolisten, got %v", cfg.Listeners)
	}
	if cfg.BanDuration != 3*time.Hour {
		t.Errorf("unexpected ban duration %s", cfg.BanDuration)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "two networks", args: []string{"--testnet", "--stagenet"}},
		{name: "short ban", args: []string{"--banduration", "10ms"}},
		{name: "zero difficulty", args: []string{"--fixeddifficulty", "0"}},
		{name: "batch too long", args: []string{"--initialbatchlen", "101"}},
		{name: "no failures allowed", args: []string{"--maxdownloadfailures", "0"}},
		{name: "zero timeout", args: []string{"--chainentrytimeout", "0s"}},
		{name: "peer without port", args: []string{"--connect", "10.0.0.1"}},
		{name: "privileged profile port", args: []string{"--profile", "80"}},
		{name: "profile port not a number", args: []string{"--profile", "pprof"}},
		{name: "unknown flag", args: []string{"--nosuchflag"}},
	}
	for _, test := range tests {
		args := append([]string{"--appdir", t.TempDir()}, test.args...)
		_, err := loadConfig(args)
		if err == nil {
			t.Errorf("%s: expected an error", test.name)
		}
	}
}
