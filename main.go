package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/saiset-co/sai-docstore/service"
)

func main() {
	configPath := flag.String("config", "config.yml", "path to service configuration")
	flag.Parse()

	svc, err := service.NewService(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize service: %v\n", err)
		os.Exit(1)
	}

	if err := svc.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "service terminated with error: %v\n", err)
		os.Exit(1)
	}
}
