package main

import (
	"chatline/internal/config"
	"chatline/internal/remote"
	"context"
	"fmt"
	"os"
	"time"
)

func main() {
	if len(os.Args) != 3 {
		fmt.Println("Usage: token <client-id> <secret>")
		os.Exit(1)
	}

	cfg, err := config.Load(config.ModeCLI)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	token, err := remote.New(cfg.APIURL, "").IssueToken(ctx, os.Args[1], os.Args[2])
	if err != nil {
		fmt.Printf("Error issuing token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token.AccessToken)
}
