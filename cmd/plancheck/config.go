package main

import (
	"github.com/metalagman/plancheck/internal/config"
	"github.com/spf13/viper"
)

func loadConfig() (config.Config, error) {
	path := viper.GetString("config")
	if path == "" {
		path = config.DefaultPath
	}
	return config.Load(viper.New(), path)
}
