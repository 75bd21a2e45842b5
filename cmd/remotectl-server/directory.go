// Copyright 2026 The Remotectl Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// TargetDirectory maps target names to agent addresses and back.
//
// Resolve answers "where do I send work for this target". A target
// with no address is a per-target dispatch failure, never a job-level
// one. ReverseResolve answers "which target is calling me" and
// authenticates the agent callback route: a caller whose IP is not in
// the directory is rejected.
type TargetDirectory interface {
	Resolve(target string) (addr string, ok bool)
	ReverseResolve(addr string) (target string, ok bool)
}

// fileDirectory is a TargetDirectory loaded from a YAML file at
// startup. The file maps target names to IP addresses:
//
//	targets:
//	  team01: 10.1.0.11
//	  team02: 10.1.0.12
type fileDirectory struct {
	byTarget map[string]string
	byAddr   map[string]string
}

type directoryFile struct {
	Targets map[string]string `yaml:"targets"`
}

// LoadDirectory reads a targets file. Duplicate addresses are
// rejected: ReverseResolve must be unambiguous because it
// authenticates callbacks.
func LoadDirectory(path string) (TargetDirectory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("directory: %w", err)
	}

	var file directoryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("directory: parsing %s: %w", path, err)
	}
	if len(file.Targets) == 0 {
		return nil, fmt.Errorf("directory: %s defines no targets", path)
	}

	dir := &fileDirectory{
		byTarget: make(map[string]string, len(file.Targets)),
		byAddr:   make(map[string]string, len(file.Targets)),
	}
	for target, addr := range file.Targets {
		if target == "" || addr == "" {
			return nil, fmt.Errorf("directory: %s: empty target or address", path)
		}
		if existing, ok := dir.byAddr[addr]; ok {
			return nil, fmt.Errorf("directory: %s: address %s assigned to both %s and %s",
				path, addr, existing, target)
		}
		dir.byTarget[target] = addr
		dir.byAddr[addr] = target
	}
	return dir, nil
}

func (d *fileDirectory) Resolve(target string) (string, bool) {
	addr, ok := d.byTarget[target]
	return addr, ok
}

func (d *fileDirectory) ReverseResolve(addr string) (string, bool) {
	target, ok := d.byAddr[addr]
	return target, ok
}
