// Package cmd implements the foxel command
//
// It is in a sub package so its internals can be re-used elsewhere
package cmd

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/qihaolou/Foxel/fs"
)

// Exit codes
const (
	exitCodeSuccess = iota
	exitCodeUsageError
)

// Globals filled in by the flags
var (
	version  bool
	logLevel = "info"
	jsonLog  = false

	// DataDir is the root for everything foxel persists: the database,
	// the thumbnail cache and the vector store.
	DataDir = "data"
	// DBPath overrides the sqlite file location. Empty means
	// <data>/db/foxel.db.
	DBPath = ""
	// Addr is the address the serve command listens on.
	Addr = ":8000"
)

// Root is the main foxel command
var Root = &cobra.Command{
	Use:   "foxel",
	Short: "Serve many storage backends as one filesystem - " + fs.Version,
	Long: `Foxel aggregates local disks, S3 buckets, WebDAV shares, OneDrive,
Quark drives and Telegram chats behind a single virtual filesystem and
serves it over a JSON API and WebDAV.

Storage adapters, automation rules and users live in a sqlite database
under the data directory; manage them through the API once the server
is running.
`,
	PersistentPreRun: func(command *cobra.Command, args []string) {
		fs.InitLogging(logLevel, jsonLog)
		fs.Debugf("foxel", "version %q starting with parameters %q", fs.Version, os.Args)
	},
	Run: func(command *cobra.Command, args []string) {
		if version {
			ShowVersion()
			os.Exit(exitCodeSuccess)
		}
		_ = command.Usage()
		if len(args) > 0 {
			fmt.Fprintf(os.Stderr, "Command not found.\n")
		}
		os.Exit(exitCodeUsageError)
	},
}

func init() {
	Root.Flags().BoolVarP(&version, "version", "V", false, "Print the version number")
	persistent := Root.PersistentFlags()
	persistent.StringVarP(&DataDir, "data", "", DataDir, "Directory for the database, caches and local state")
	persistent.StringVarP(&DBPath, "db", "", DBPath, "Path of the sqlite database (default <data>/db/foxel.db)")
	persistent.StringVarP(&Addr, "addr", "", Addr, "IPaddress:Port to bind the server to")
	persistent.StringVarP(&logLevel, "log-level", "", logLevel, "Log level: debug|info|warning|error")
	persistent.BoolVarP(&jsonLog, "json-log", "", jsonLog, "Log in JSON format")
}

// DatabasePath returns the sqlite file to open, honouring --db.
func DatabasePath() string {
	if DBPath != "" {
		return DBPath
	}
	return filepath.Join(DataDir, "db", "foxel.db")
}

// ShowVersion prints the version to stdout
func ShowVersion() {
	fmt.Printf("foxel %s\n", fs.Version)
	fmt.Printf("- os/type: %s\n", runtime.GOOS)
	fmt.Printf("- os/arch: %s\n", runtime.GOARCH)
	fmt.Printf("- go/version: %s\n", runtime.Version())
}

// CheckArgs checks there are enough arguments and prints a message if not
func CheckArgs(minArgs, maxArgs int, cmd *cobra.Command, args []string) {
	if len(args) < minArgs {
		_ = cmd.Usage()
		fmt.Fprintf(os.Stderr, "Command %s needs %d arguments minimum: you provided %d non flag arguments: %q\n", cmd.Name(), minArgs, len(args), args)
		os.Exit(exitCodeUsageError)
	} else if len(args) > maxArgs {
		_ = cmd.Usage()
		fmt.Fprintf(os.Stderr, "Command %s needs %d arguments maximum: you provided %d non flag arguments: %q\n", cmd.Name(), maxArgs, len(args), args)
		os.Exit(exitCodeUsageError)
	}
}

// Main runs foxel interpreting flags and commands out of os.Args
func Main() {
	if err := Root.Execute(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}
