//go:build mage

// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

// Package main provides build targets for labelkit using Mage.
//
// Usage:
//
//	mage build          Compile labelkit to bin/
//	mage test:all       Run all tests
//	mage test:unit      Run tests without the race detector
//	mage test:race      Run all tests with the race detector
//	mage lint           Run golangci-lint
//	mage clean          Remove build artifacts
//	mage install        Install labelkit to GOPATH/bin
//	mage stats          Print Go LOC per top-level directory
package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	binGo       = "go"
	binaryName  = "labelkit"
	binaryDir   = "bin"
	cmdDir      = "./cmd/labelkit"
	versionVar  = "github.com/mesh-intelligence/labelkit/internal/cli.Version"
	versionFile = "VERSION"
)

// ldflags stamps the version from VERSION, when present, into the binary.
func ldflags() string {
	data, err := os.ReadFile(versionFile)
	if err != nil {
		return "-s -w"
	}
	return "-s -w -X " + versionVar + "=" + strings.TrimSpace(string(data))
}

// Build compiles the labelkit binary to bin/.
func Build() error {
	if err := os.MkdirAll(binaryDir, 0o755); err != nil {
		return err
	}
	return sh.RunV(binGo, "build", "-v", "-ldflags", ldflags(), "-o", filepath.Join(binaryDir, binaryName), cmdDir)
}

// Clean removes build artifacts.
func Clean() error {
	if err := os.RemoveAll(binaryDir); err != nil {
		return err
	}
	return sh.RunV(binGo, "clean")
}

// Install builds and copies the binary to GOPATH/bin.
func Install() error {
	mg.Deps(Build)
	gopath, err := sh.Output(binGo, "env", "GOPATH")
	if err != nil {
		return err
	}
	src := filepath.Join(binaryDir, binaryName)
	dst := filepath.Join(gopath, "bin", binaryName)
	return sh.Copy(dst, src)
}
