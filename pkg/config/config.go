// Package config loads the daemon configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	DriverV4L     = "v4l"
	DriverVirtual = "virtual"
)

type ServerConfig struct {
	Port       int    `yaml:"port"`
	WebdavPort int    `yaml:"webdav_port"`
	Statics    string `yaml:"statics"` // optional web UI directory
}

type StorageConfig struct {
	Dir string `yaml:"dir"`
}

type CameraConfig struct {
	Driver string `yaml:"driver"` // v4l or virtual
	Device string `yaml:"device"` // empty picks the first device
	FPS    int    `yaml:"fps"`
}

type SizeConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

type VideoConfig struct {
	Width       int    `yaml:"width"`
	Height      int    `yaml:"height"`
	FrameRate   int    `yaml:"frame_rate"`
	BitRate     int    `yaml:"bit_rate"`
	Container   string `yaml:"container"`
	VideoCodec  string `yaml:"video_codec"`
	AudioCodec  string `yaml:"audio_codec"`
	AudioSource string `yaml:"audio_source"`
}

type PermissionsConfig struct {
	File      string `yaml:"file"`
	AutoGrant bool   `yaml:"auto_grant"`
}

type ClockConfig struct {
	NTPServer string `yaml:"ntp_server"` // empty uses the system clock
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	Camera      CameraConfig      `yaml:"camera"`
	Photo       SizeConfig        `yaml:"photo"`
	Video       VideoConfig       `yaml:"video"`
	Display     SizeConfig        `yaml:"display"`
	Permissions PermissionsConfig `yaml:"permissions"`
	Clock       ClockConfig       `yaml:"clock"`
	Log         LogConfig         `yaml:"log"`
}

// Load reads a YAML file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal yaml: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate fills defaults and rejects values the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port == 0 {
		c.Server.Port = 9999
	}
	if c.Server.WebdavPort == 0 {
		c.Server.WebdavPort = 9998
	}
	if c.Storage.Dir == "" {
		c.Storage.Dir = "./pocket-shutter"
	}

	switch c.Camera.Driver {
	case "":
		c.Camera.Driver = DriverV4L
	case DriverV4L, DriverVirtual:
	default:
		return fmt.Errorf("camera.driver must be %s or %s, got %q", DriverV4L, DriverVirtual, c.Camera.Driver)
	}
	if c.Camera.FPS <= 0 {
		c.Camera.FPS = 15
	}

	if c.Photo.Width <= 0 || c.Photo.Height <= 0 {
		c.Photo = SizeConfig{Width: 1920, Height: 1080}
	}
	if c.Display.Width <= 0 || c.Display.Height <= 0 {
		c.Display = SizeConfig{Width: 1280, Height: 720}
	}

	if c.Video.Width <= 0 || c.Video.Height <= 0 {
		c.Video.Width, c.Video.Height = 1920, 1080
	}
	if c.Video.FrameRate <= 0 {
		c.Video.FrameRate = 30
	}
	if c.Video.BitRate <= 0 {
		c.Video.BitRate = 10000000
	}
	if c.Video.Container == "" {
		c.Video.Container = "avi"
	}
	if c.Video.VideoCodec == "" {
		c.Video.VideoCodec = "mjpeg"
	}
	if c.Video.AudioCodec == "" {
		c.Video.AudioCodec = "aac"
	}
	if c.Video.AudioSource == "" {
		c.Video.AudioSource = "mic"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	return nil
}
