package main

import (
	"fmt"
	"os"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

func formatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

func formatBuildInfo() string {
	build := "unknown"
	if buildTime != "" {
		build = buildTime
	}
	goVer := "unknown"
	if goVersion != "" {
		goVer = goVersion
	}
	return fmt.Sprintf("build: %s, go: %s", build, goVer)
}

func printVersion() {
	fmt.Printf("relaycore %s\n", formatVersion())
	fmt.Println(formatBuildInfo())
}

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
