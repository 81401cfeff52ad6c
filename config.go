package main

import (
	"errors"
	"os"
	"strings"

	"github.com/Zelak312/frameup/rife"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type Config struct {
	BindAddress                string         `yaml:"bindAddress"`
	Port                       int32          `yaml:"port"`
	DatabasePath               string         `yaml:"databasePath"`
	LogPath                    string         `yaml:"logPath"`
	Workers                    int            `yaml:"workers"`
	WindowSize                 int            `yaml:"windowSize"`
	Model                      ModelOptions   `yaml:"model"`
	FFmpegOptions              FFmpegOptions  `yaml:"ffmpegOptions"`
	Storage                    StorageOptions `yaml:"storage"`
	DeleteOutputIfAlreadyExist *bool          `yaml:"deleteOutputIfAlreadyExist"`
}

type ModelOptions struct {
	Backend        string `yaml:"backend"`
	Path           string `yaml:"path"`
	Binary         string `yaml:"binary"`
	GPUID          int    `yaml:"gpuID" envconfig:"GPU_ID"`
	ExtraArguments string `yaml:"extraArguments"`
}

type FFmpegOptions struct {
	VideoCodec        string `yaml:"videoCodec"`
	CRF               int    `yaml:"crf"`
	KeepAudio         *bool  `yaml:"keepAudio"`
	HWAccelDecodeFlag string `yaml:"HWAccelDecodeFlag" envconfig:"HWACCEL_DECODE_FLAG"`
	HWAccelEncodeFlag string `yaml:"HWAccelEncodeFlag" envconfig:"HWACCEL_ENCODE_FLAG"`
}

type StorageOptions struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	UseSSL    bool   `yaml:"useSSL" envconfig:"USE_SSL"`
	Bucket    string `yaml:"bucket"`
}

const minWindowSize = 2

// Verify config and set defaults
func verifyConfig(config *Config) error {
	if config == nil {
		return errors.New("cannot verify config, config is nil")
	}

	if config.BindAddress == "" {
		config.BindAddress = "127.0.0.1"
	}

	if config.Port == 0 {
		config.Port = 8080
	}

	if config.LogPath == "" {
		config.LogPath = "./logs"
	}

	if config.Workers == 0 {
		config.Workers = 1
	}

	if config.Workers < 0 {
		return errors.New("workers must be positive")
	}

	if config.WindowSize == 0 {
		config.WindowSize = 5
	}

	if config.WindowSize < minWindowSize {
		return errors.New("windowSize must hold at least two frames")
	}

	defaults := rife.DefaultOptions()
	if config.Model.Backend == "" {
		config.Model.Backend = defaults.Backend
	}

	switch config.Model.Backend {
	case rife.BackendProcess, rife.BackendONNX, rife.BackendLinear:
	default:
		return rife.ErrUnknownBackend
	}

	if config.Model.Path == "" {
		config.Model.Path = defaults.ModelDir
	}

	if config.Model.Binary == "" {
		config.Model.Binary = defaults.Binary
	}

	if config.FFmpegOptions.VideoCodec == "" {
		config.FFmpegOptions.VideoCodec = "libx264"
	}

	if config.FFmpegOptions.CRF == 0 {
		config.FFmpegOptions.CRF = 20
	}

	if config.FFmpegOptions.KeepAudio == nil {
		defaultVal := false
		config.FFmpegOptions.KeepAudio = &defaultVal
	}

	if config.DeleteOutputIfAlreadyExist == nil {
		defaultVal := true
		config.DeleteOutputIfAlreadyExist = &defaultVal
	}

	if config.Storage.Endpoint != "" && config.Storage.Bucket == "" {
		return errors.New("missing storage bucket in config")
	}

	return nil
}

// LoadConfig reads the yml file at path, when there is one, then
// overrides it with the environment
func LoadConfig(path string) (Config, error) {
	config := Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}

		err = yaml.Unmarshal(data, &config)
		if err != nil {
			return Config{}, err
		}
	}

	// Override with env variables if they are passed in
	err := envconfig.ProcessWithOptions("frameup", &config, envconfig.Options{SplitWords: true})
	if err != nil {
		return Config{}, err
	}

	err = verifyConfig(&config)
	if err != nil {
		return Config{}, err
	}

	return config, nil
}

func (c *Config) RifeOptions() rife.Options {
	opts := rife.DefaultOptions()
	opts.Backend = c.Model.Backend
	opts.ModelDir = c.Model.Path
	opts.Binary = c.Model.Binary
	opts.GPUID = c.Model.GPUID
	if c.Model.ExtraArguments != "" {
		opts.ExtraArgs = strings.Fields(c.Model.ExtraArguments)
	}
	return opts
}
