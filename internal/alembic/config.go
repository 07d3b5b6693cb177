package alembic

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/knadh/koanf/v2"
	"primamateria.systems/alembic/internal/dist"
	"primamateria.systems/alembic/internal/download"
	"primamateria.systems/alembic/internal/manifestation"
)

type AlembicConfig struct {
	Debug       bool
	UseStdout   bool
	Quiet       bool
	Prefix      string
	Target      string
	DistRoot    string
	TempDir     string
	OutputDir   string
	RootPackage string
	MetricsFile string
	Download    download.Config
	User        *user.User
}

func NewConfig(k *koanf.Koanf) (*AlembicConfig, error) {
	var c AlembicConfig
	c.Debug = k.Bool("debug")
	c.UseStdout = k.Bool("stdout")
	c.Quiet = k.Bool("quiet")
	c.Prefix = k.String("prefix")
	c.Target = k.String("target")
	c.DistRoot = k.String("dist_root")
	c.TempDir = k.String("temp_dir")
	c.OutputDir = k.String("output_dir")
	c.RootPackage = k.String("root_package")
	c.MetricsFile = k.String("metrics_file")
	if k.Exists("download") {
		d := k.Cut("download")
		c.Download.Retries = d.Int("retries")
		c.Download.RetryDelay = d.Duration("retry_delay")
		c.Download.Timeout = d.Duration("timeout")
	}
	currentUser, err := user.Current()
	if err != nil {
		return nil, err
	}
	c.User = currentUser

	// calculate defaults
	dataPath := "/opt"
	if c.User.Username != "root" {
		datadir, found := os.LookupEnv("XDG_DATA_HOME")
		if !found {
			dataPath = filepath.Join(c.User.HomeDir, ".local", "share")
		} else {
			dataPath = datadir
		}
	}
	if c.Prefix == "" {
		c.Prefix = filepath.Join(dataPath, "alembic", "toolchain")
	}
	if c.OutputDir == "" {
		c.OutputDir = filepath.Join(dataPath, "alembic", "output")
	}
	if c.TempDir == "" {
		c.TempDir = filepath.Join(os.TempDir(), "alembic")
	}
	if c.Target == "" {
		c.Target = dist.HostTriple()
	}
	if c.DistRoot == "" {
		c.DistRoot = dist.DefaultDistRoot
	}
	if c.RootPackage == "" {
		c.RootPackage = manifestation.DefaultRootPackage
	}
	if c.Download.Retries == 0 {
		c.Download.Retries = download.DefaultRetries
	}
	if c.Download.RetryDelay == 0 {
		c.Download.RetryDelay = download.DefaultRetryDelay
	}
	if c.Download.Timeout == 0 {
		c.Download.Timeout = download.DefaultTimeout
	}

	return &c, nil
}

func (c *AlembicConfig) Validate() error {
	if c.Prefix == "" {
		return errors.New("need install prefix")
	}
	if !filepath.IsAbs(c.Prefix) {
		return fmt.Errorf("install prefix must be absolute: %v", c.Prefix)
	}
	if c.Target == "" {
		return errors.New("need target triple")
	}
	if c.DistRoot == "" {
		return errors.New("need dist server root")
	}
	if c.Download.Retries < 0 {
		return errors.New("download retries can't be negative")
	}
	if c.Download.Timeout < time.Second {
		return fmt.Errorf("download timeout %v is too short", c.Download.Timeout)
	}
	return nil
}

func (c *AlembicConfig) String() string {
	var result string
	result += fmt.Sprintf("Debug mode: %v\n", c.Debug)
	result += fmt.Sprintf("STDOUT: %v\n", c.UseStdout)
	result += fmt.Sprintf("Install prefix: %v\n", c.Prefix)
	result += fmt.Sprintf("Target: %v\n", c.Target)
	result += fmt.Sprintf("Dist root: %v\n", c.DistRoot)
	result += fmt.Sprintf("Root package: %v\n", c.RootPackage)
	result += fmt.Sprintf("Temp dir: %v\n", c.TempDir)
	result += fmt.Sprintf("Output dir: %v\n", c.OutputDir)
	result += fmt.Sprintf("Metrics file: %v\n", c.MetricsFile)
	result += fmt.Sprintf("Download retries: %v\n", c.Download.Retries)
	result += fmt.Sprintf("Download timeout: %v\n", c.Download.Timeout)
	result += fmt.Sprintf("User: %v\n", c.User.Username)
	return result
}
