package main

import (
	"context"
	"github.com/rs/zerolog/log"
	"live-broadcast/cmd"
	"live-broadcast/config"
	"os"
)

func main() {
	path, err := os.Getwd()
	if err != nil {
		log.Fatal().Err(err).Send()
	}
	cfg, err := config.Load(path)
	if err != nil {
		panic(err)
	}

	root := cmd.Root(cfg)
	if err := root.ExecuteContext(context.Background()); err != nil {
		log.Fatal().Err(err).Send()
	}
}
