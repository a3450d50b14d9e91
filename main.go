package main

import (
	"fmt"
	"os"

	cmd "github.com/eddieafk/ormql/cmd/ormql"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "init":
		err = cmd.RunInit(os.Args[2:], os.Stdout)
	case "schema":
		err = cmd.RunSchema(os.Args[2:], os.Stdout)
	case "serve":
		err = cmd.RunServe(os.Args[2:])
	case "version", "-v", "--version":
		fmt.Printf("ormql version %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`ormql - GraphQL API generated from ORM models

Usage:
  ormql <command> [options]

Commands:
  init        Write a starter ormql.yaml (--force to overwrite)
  schema      Print the generated GraphQL schema
  serve       Serve the API, the playground and /metrics (--watch to reload)
  version     Print version information
  help        Show this help message

Examples:
  ormql init
  ormql schema --config blog.yaml
  ormql serve --watch

Configuration:
  By default, ormql reads 'ormql.yaml' in the current directory.
  ORMQL_ADDR, ORMQL_DB_DRIVER, ORMQL_DB_DSN, ORMQL_JWT_SECRET and APP_ENV
  override the file, and are also read from a .env file.`)
}
